package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

const (
	yolo5InputSize = 640
	nmsThreshold   = 0.45
)

// Yolo5 runs a YOLOv5 ONNX model through the OpenCV DNN module.
type Yolo5 struct {
	params  config.DetectorParameters
	labels  []string
	allowed map[string]bool
	// WARNING: a net is not thread-safe, so every concurrent Detect borrows its own
	nets       chan *gocv.Net
	all        []*gocv.Net
	detections io.WriteCloser
}

// NewYolo5 loads one net per worker so that workers never share a net.
func NewYolo5(params config.DetectorParameters, workers int) (*Yolo5, error) {
	if _, err := os.Stat(params.ModelPath); err != nil {
		return nil, fmt.Errorf("no yolo5 model at %s: %w", params.ModelPath, err)
	}

	labels, err := loadLabels(params.NamesPath)
	if err != nil {
		return nil, err
	}

	if workers <= 0 {
		workers = 1
	}

	y := &Yolo5{
		params:  params,
		labels:  labels,
		allowed: map[string]bool{},
		nets:    make(chan *gocv.Net, workers),
	}
	for _, c := range params.Classes {
		y.allowed[strings.ToLower(c)] = true
	}

	for i := 0; i < workers; i++ {
		net := gocv.ReadNet(params.ModelPath, "")
		if net.Empty() {
			y.Close()
			return nil, fmt.Errorf("worker %d: error reading yolo5 model", i)
		}
		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			y.Close()
			return nil, fmt.Errorf("error setting backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			y.Close()
			return nil, fmt.Errorf("error setting target: %w", err)
		}
		y.all = append(y.all, &net)
		y.nets <- &net
	}

	if params.Logging {
		y.detections = &lumberjack.Logger{
			Filename:   params.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		}
	}

	lgr.Logger.Info("yolo5 detector ready",
		slog.String("model", params.ModelPath),
		slog.Int("labels", len(labels)),
		slog.Int("nets", workers),
		slog.String("openCV", gocv.Version()),
	)
	return y, nil
}

func (y *Yolo5) Name() string {
	return "yolo5"
}

func (y *Yolo5) Detect(ctx context.Context, task model.Task) ([]model.Detection, error) {
	m, ok := asMat(task.Pixels)
	if !ok {
		return nil, errNotMat
	}

	var net *gocv.Net
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case net = <-y.nets:
	}
	defer func() { y.nets <- net }()

	blob := gocv.BlobFromImage(m.Mat, 1.0/255.0, image.Pt(yolo5InputSize, yolo5InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	net.SetInput(blob, "")
	output := net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected DNN output dims: %v", dims)
	}

	reshaped := output.Reshape(1, dims[1])
	defer reshaped.Close()
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		return nil, errors.New("reshape failed or invalid dimensions")
	}

	sx := float64(m.Mat.Cols()) / yolo5InputSize
	sy := float64(m.Mat.Rows()) / yolo5InputSize

	var dets []model.Detection
	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, err := row.DataPtrFloat32()
		if err == nil {
			if d, ok := y.decodeRow(data, sx, sy); ok {
				dets = append(dets, d)
			}
		}
		row.Close()
	}

	dets = suppress(dets, nmsThreshold)
	y.logDetections(task, dets)
	return dets, nil
}

// decodeRow turns one output row (cx, cy, w, h, objectness, class scores...) into a detection
// in frame pixels.
func (y *Yolo5) decodeRow(data []float32, sx, sy float64) (model.Detection, bool) {
	if len(data) < 5 || data[4] < y.params.ObjectConfidenceThreshold {
		return model.Detection{}, false
	}

	objectConfidence := data[4]
	classScores := data[5:]
	if len(classScores) != len(y.labels) {
		return model.Detection{}, false
	}

	classID := -1
	classConfidence := float32(0)
	for j, score := range classScores {
		if len(y.allowed) > 0 && !y.allowed[strings.ToLower(y.labels[j])] {
			continue
		}
		if score > classConfidence {
			classConfidence = score
			classID = j
		}
	}

	finalConf := objectConfidence * classConfidence
	if classID == -1 || finalConf < y.params.ConfidenceThreshold {
		return model.Detection{}, false
	}

	cx, cy := float64(data[0])*sx, float64(data[1])*sy
	w, h := float64(data[2])*sx, float64(data[3])*sy
	return model.Detection{
		BBox:       model.BBox{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
		ClassID:    classID,
		ClassName:  y.labels[classID],
		Confidence: finalConf,
	}, true
}

// suppress keeps the most confident of every group of same-class boxes overlapping more than
// threshold.
func suppress(dets []model.Detection, threshold float64) []model.Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	kept := make([]model.Detection, 0, len(dets))
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && k.BBox.IoU(d.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func (y *Yolo5) logDetections(task model.Task, dets []model.Detection) {
	if y.detections == nil || len(dets) == 0 {
		return
	}

	entry := map[string]interface{}{
		"time":       time.Now().Format(time.RFC3339),
		"stream":     task.StreamID,
		"frame":      task.FrameSeq,
		"detections": dets,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		lgr.Logger.Error("error marshaling detections", lgr.Err(err))
		return
	}
	if _, err := y.detections.Write(append(jsonData, '\n')); err != nil {
		lgr.Logger.Error("error writing to detection log file", lgr.Err(err))
	}
}

// Close releases the nets. It must not race with Detect.
func (y *Yolo5) Close() error {
	for _, net := range y.all {
		net.Close()
	}
	y.all = nil
	if y.detections != nil {
		return y.detections.Close()
	}
	return nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading labels: %w", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n"), nil
}
