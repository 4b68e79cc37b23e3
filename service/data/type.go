package data

import "github.com/khaledhikmat/vs-overlay/model"

type IService interface {
	RetrieveCameras() ([]model.Camera, error)
	RetrieveCamerasByID(id string) (model.Camera, error)
	RetrieveCamerasByIDs(ids []string) ([]model.Camera, error)
	RetrieveOrphanedCameras(max int) ([]model.Camera, error)
	UpdateCameraExcluded(id string, excluded bool) error
	UpdateCameraAgentID(cameraID, agentID string) error
	UpdateCameraAgentHeartbeat(id string) error

	NewError(err interface{}) error
	NewDeparture(departure model.Departure) error
	NewAgentsManagerStats(stats model.AgentsManagerStats) error
	NewAgentStats(stats model.AgentStats) error
	NewFramerStats(stats model.FramerStats) error
	NewSamplerStats(stats model.SamplerStats) error
	NewAnalyzerStats(stats model.AnalyzerStats) error
	NewSequencerStats(stats model.SequencerStats) error
	NewOutputStats(stats model.OutputStats) error
	NewDepartureStats(stats model.DepartureStats) error
}
