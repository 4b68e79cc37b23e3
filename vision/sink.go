package vision

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
)

// MP4Sink records the paced output of one session. The writer is opened on the first frame
// because the video size is only known then.
type MP4Sink struct {
	camera   model.Camera
	filename string
	fps      int
	writer   *gocv.VideoWriter
	width    int
	height   int
	frames   int
}

func NewMP4Sink(folder string, camera model.Camera, session string, fps int) (*MP4Sink, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("error creating recordings folder: %w", err)
	}
	if fps <= 0 {
		fps = 25
	}
	return &MP4Sink{
		camera:   camera,
		filename: filepath.Join(folder, fmt.Sprintf("%s_%s.mp4", camera.Name, session)),
		fps:      fps,
	}, nil
}

func (s *MP4Sink) Filename() string {
	return s.filename
}

func (s *MP4Sink) Write(frame *model.Frame) error {
	m, ok := asMat(frame.Pixels)
	if !ok {
		return errNotMat
	}

	if s.writer == nil {
		writer, err := gocv.VideoWriterFile(s.filename, "avc1", float64(s.fps), m.Mat.Cols(), m.Mat.Rows(), true)
		if err != nil {
			return fmt.Errorf("error creating video writer: %w", err)
		}
		s.writer = writer
		s.width, s.height = m.Mat.Cols(), m.Mat.Rows()

		lgr.Logger.Info("mp4 recording started",
			slog.String("camera", s.camera.Name),
			slog.String("filename", s.filename),
			slog.Int("cols", s.width),
			slog.Int("rows", s.height),
		)
	}

	s.frames++
	if m.Mat.Cols() == s.width && m.Mat.Rows() == s.height {
		return s.writer.Write(m.Mat)
	}

	// the stream changed resolution mid-session
	resized := gocv.NewMat()
	defer resized.Close()
	if err := gocv.Resize(m.Mat, &resized, image.Pt(s.width, s.height), 0, 0, gocv.InterpolationLinear); err != nil {
		return fmt.Errorf("error resizing frame %d: %w", frame.Seq, err)
	}
	return s.writer.Write(resized)
}

func (s *MP4Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	lgr.Logger.Info("mp4 recording closed",
		slog.String("camera", s.camera.Name),
		slog.String("filename", s.filename),
		slog.Int("frames", s.frames),
	)
	return s.writer.Close()
}
