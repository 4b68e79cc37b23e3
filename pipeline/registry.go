package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-overlay/model"
)

// AgentFunc runs the agent of one camera until ctx is cancelled.
type AgentFunc func(ctx context.Context, camera model.Camera) error

type runningAgent struct {
	camera    model.Camera
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// Registry keeps the agents running in this pod. It is created by the mode that owns the pod
// and passed around explicitly.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*runningAgent
	onExit func(camera model.Camera, err error)
}

// NewRegistry calls onExit, when set, after an agent returned for whatever reason.
func NewRegistry(onExit func(camera model.Camera, err error)) *Registry {
	return &Registry{
		agents: map[string]*runningAgent{},
		onExit: onExit,
	}
}

// Start runs the camera's agent in its own goroutine under a child context of parent.
func (r *Registry) Start(parent context.Context, camera model.Camera, run AgentFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[camera.ID]; ok {
		return fmt.Errorf("agent for camera %s already running", camera.ID)
	}

	ctx, cancel := context.WithCancel(parent)
	agent := &runningAgent{
		camera:    camera,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	r.agents[camera.ID] = agent

	go func() {
		defer close(agent.done)
		defer cancel()

		err := run(ctx, camera)

		r.mu.Lock()
		if r.agents[camera.ID] == agent {
			delete(r.agents, camera.ID)
		}
		r.mu.Unlock()

		if r.onExit != nil {
			r.onExit(camera, err)
		}
	}()
	return nil
}

// Stop cancels the camera's agent and waits up to timeout for it to return.
func (r *Registry) Stop(cameraID string, timeout time.Duration) bool {
	r.mu.Lock()
	agent, ok := r.agents[cameraID]
	if ok {
		delete(r.agents, cameraID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	agent.cancel()
	return wait(agent.done, timeout)
}

// StopAll cancels every agent and waits up to timeout for all of them. It reports whether
// they all returned in time.
func (r *Registry) StopAll(timeout time.Duration) bool {
	r.mu.Lock()
	agents := make([]*runningAgent, 0, len(r.agents))
	for id, agent := range r.agents {
		agents = append(agents, agent)
		delete(r.agents, id)
	}
	r.mu.Unlock()

	for _, agent := range agents {
		agent.cancel()
	}

	deadline := time.Now().Add(timeout)
	all := true
	for _, agent := range agents {
		if !wait(agent.done, time.Until(deadline)) {
			all = false
		}
	}
	return all
}

// Running returns the cameras whose agents are running.
func (r *Registry) Running() []model.Camera {
	r.mu.Lock()
	defer r.mu.Unlock()

	cameras := make([]model.Camera, 0, len(r.agents))
	for _, agent := range r.agents {
		cameras = append(cameras, agent.camera)
	}
	return cameras
}

func (r *Registry) IsRunning(cameraID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[cameraID]
	return ok
}

// Uptime sums how long the running agents have been up.
func (r *Registry) Uptime(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total time.Duration
	for _, agent := range r.agents {
		total += now.Sub(agent.startedAt)
	}
	return total
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

func wait(done <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
