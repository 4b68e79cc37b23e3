package model

type Camera struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RtspURL       string `json:"rtspUrl"`
	FramerType    string `json:"framerType"` // rtsp, file or synthetic
	FPS           int    `json:"fps"`        // nominal source rate; 0 means the configured default
	Loop          bool   `json:"loop"`       // replay file sources when they reach the end
	Excluded      bool   `json:"excluded"`
	AgentID       string `json:"agentId"`       // The agent id that is currently controlling this camera
	StartupTime   int64  `json:"startupTime"`   // The startup time of the agent
	LastHeartBeat int64  `json:"lastHeartbeat"` // The last heartbeat time of the agent
	Uptime        int64  `json:"uptime"`        // The uptime of the agent
}

type FramerStats struct {
	Name      string `json:"name"`
	Camera    string `json:"camera"`
	Session   string `json:"session"`
	FPS       int    `json:"fps"`
	Frames    int    `json:"frames"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type SamplerStats struct {
	Camera       string `json:"camera"`
	Session      string `json:"session"`
	Sampled      int    `json:"sampled"`
	Dispatched   int    `json:"dispatched"`
	Retries      int    `json:"retries"`
	DispatchFull int    `json:"dispatchFull"`
	Timestamp    int64  `json:"timestamp"`
}

type AnalyzerStats struct {
	Name        string  `json:"name"`
	Worker      int     `json:"worker"`
	Producer    string  `json:"producer"`
	Camera      string  `json:"camera"`
	Frames      int     `json:"frames"`
	Errors      int     `json:"errors"`
	Uptime      int64   `json:"uptime"`
	AvgProcTime float64 `json:"avgProcTime"`
	Timestamp   int64   `json:"timestamp"`
}

type SequencerStats struct {
	Camera           string `json:"camera"`
	Session          string `json:"session"`
	Accepted         int    `json:"accepted"`
	Delivered        int    `json:"delivered"`
	Late             int    `json:"late"`
	Duplicates       int    `json:"duplicates"`
	Overflows        int    `json:"overflows"`
	ForcedSkips      int    `json:"forcedSkips"`
	SkippedSeqs      int    `json:"skippedSequences"`
	Discarded        int    `json:"discarded"`
	Abandoned        int    `json:"abandoned"`
	ProducerRestarts int    `json:"producerRestarts"`
	Timestamp        int64  `json:"timestamp"`
}

type OutputStats struct {
	Camera       string `json:"camera"`
	Session      string `json:"session"`
	Emitted      int    `json:"emitted"`
	Annotated    int    `json:"annotated"`
	Interpolated int    `json:"interpolated"`
	Raw          int    `json:"raw"`
	Evicted      int    `json:"evicted"`
	BufferSkips  int    `json:"bufferSkips"`
	LateResults  int    `json:"lateResults"`
	Waits        int    `json:"waits"`
	WaitTimeouts int    `json:"waitTimeouts"`
	SinkErrors   int    `json:"sinkErrors"`
	DrawErrors   int    `json:"drawErrors"`
	Stalled      bool   `json:"stalled"`
	Timestamp    int64  `json:"timestamp"`
}

type DepartureStats struct {
	Camera     string `json:"camera"`
	Departures int    `json:"departures"`
	Errors     int    `json:"errors"`
	Uptime     int64  `json:"uptime"`
	Timestamp  int64  `json:"timestamp"`
}

type AgentStats struct {
	ID        string `json:"id"`     // Agent ID
	Camera    string `json:"camera"` // Camera name
	Sessions  int    `json:"sessions"`
	Uptime    int64  `json:"uptime"` // Uptime of the agent
	Timestamp int64  `json:"timestamp"`
}

type AgentsManagerStats struct {
	TotalOrphanedRequests               int64   `json:"orphanedRequests"`
	TotalOrphanedRequestSubscriptions   int64   `json:"orphanedRequestSubscriptions"`
	TotalOrphanedRequestUnsubscriptions int64   `json:"orphanedRequestUnsubscriptions"`
	TotalRunningAgents                  int64   `json:"runningAgents"`
	TotalRunningAgentsUptime            int64   `json:"runningAgentsUptime"`
	AvgRunningAgentsPerMin              float64 `json:"avgRunningAgentsPerMin"`
	Timestamp                           int64   `json:"timestamp"`
}
