package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
)

type filesDBService struct {
	CfgSvc config.IService
}

// NewFilesDB stores everything as JSON arrays under the input folder. Writes take a file lock
// so that several agent pods can share the folder.
func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) RetrieveCameras() ([]model.Camera, error) {
	data, err := os.ReadFile(svc.CfgSvc.GetCamerasInputFile())
	if err != nil {
		return nil, err
	}

	cameras := []model.Camera{}
	if err := json.Unmarshal(data, &cameras); err != nil {
		return nil, err
	}
	return cameras, nil
}

func (svc *filesDBService) RetrieveCamerasByID(id string) (model.Camera, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return model.Camera{}, err
	}

	for _, camera := range cameras {
		if camera.ID == id {
			return camera, nil
		}
	}

	return model.Camera{}, fmt.Errorf("camera %s not found", id)
}

func (svc *filesDBService) RetrieveCamerasByIDs(ids []string) ([]model.Camera, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var result []model.Camera
	for _, camera := range cameras {
		if wanted[camera.ID] {
			result = append(result, camera)
		}
	}
	return result, nil
}

// RetrieveOrphanedCameras returns non-excluded cameras without an agent or whose agent stopped
// sending heartbeats.
func (svc *filesDBService) RetrieveOrphanedCameras(max int) ([]model.Camera, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return nil, err
	}

	stale := int64(3 * svc.CfgSvc.GetAgentPeriodicTimeout())
	now := time.Now().Unix()

	var result []model.Camera
	for _, camera := range cameras {
		if camera.Excluded {
			continue
		}
		if camera.AgentID == "" || now-camera.LastHeartBeat > stale {
			result = append(result, camera)
			if len(result) >= max {
				break
			}
		}
	}
	return result, nil
}

func (svc *filesDBService) UpdateCameraExcluded(id string, excluded bool) error {
	return svc.updateCamera(id, func(camera *model.Camera) {
		camera.Excluded = excluded
	})
}

func (svc *filesDBService) UpdateCameraAgentID(cameraID, agentID string) error {
	return svc.updateCamera(cameraID, func(camera *model.Camera) {
		now := time.Now().Unix()
		camera.AgentID = agentID
		camera.StartupTime = now
		camera.LastHeartBeat = now
		camera.Uptime = 0
	})
}

func (svc *filesDBService) UpdateCameraAgentHeartbeat(id string) error {
	return svc.updateCamera(id, func(camera *model.Camera) {
		camera.LastHeartBeat = time.Now().Unix()
		camera.Uptime = camera.LastHeartBeat - camera.StartupTime
	})
}

func (svc *filesDBService) updateCamera(id string, fn func(camera *model.Camera)) error {
	output := svc.CfgSvc.GetCamerasInputFile()
	return withLock(output, func() error {
		cameras, err := svc.RetrieveCameras()
		if err != nil {
			return err
		}

		found := false
		for i := range cameras {
			if cameras[i].ID == id {
				fn(&cameras[i])
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("camera %s not found", id)
		}

		data, err := json.MarshalIndent(cameras, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(output, data, 0644)
	})
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr = model.CustomError{
			Processor:  "N/A",
			Inner:      e,
			Message:    e.Error(),
			StackTrace: "N/A",
		}
	default:
		customErr = model.CustomError{
			Processor:  "N/A",
			Message:    fmt.Sprintf("%v", e),
			StackTrace: "N/A",
		}
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return newEntity(errorData, "errors", svc.CfgSvc)
}

func (svc *filesDBService) NewDeparture(departure model.Departure) error {
	return newEntity(departure, "departures", svc.CfgSvc)
}

func (svc *filesDBService) NewAgentsManagerStats(stats model.AgentsManagerStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "agents-manager-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewAgentStats(stats model.AgentStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "agent-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewFramerStats(stats model.FramerStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "framer-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewSamplerStats(stats model.SamplerStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "sampler-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewAnalyzerStats(stats model.AnalyzerStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "analyzer-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewSequencerStats(stats model.SequencerStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "sequencer-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewOutputStats(stats model.OutputStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "output-stats", svc.CfgSvc)
}

func (svc *filesDBService) NewDepartureStats(stats model.DepartureStats) error {
	stats.Timestamp = time.Now().Unix()
	return newEntity(stats, "departure-stats", svc.CfgSvc)
}

func entityFile(filename string, cfgsvc config.IService) string {
	return filepath.Join(cfgsvc.GetInputFolder(), filename+".json")
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	output := entityFile(filename, cfgsvc)
	return withLock(output, func() error {
		entities, err := retrieveEntities[T](filename, cfgsvc)
		if err != nil {
			return err
		}

		entities = append(entities, entity)

		data, err := json.MarshalIndent(entities, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(output, data, 0644)
	})
}

func retrieveEntities[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityFile(filename, cfgsvc))
	if errors.Is(err, os.ErrNotExist) {
		return entities, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func withLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	return fn()
}
