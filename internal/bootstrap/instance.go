package bootstrap

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a service instance.
type State int

const (
	StateSpawned State = iota
	StateStarting
	StateReady
	StateFailedToStart
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "Spawned"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateFailedToStart:
		return "FailedToStart"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Logs holds the captured output of an instance.
type Logs struct {
	Stdout   string
	Stderr   string
	Combined string
}

// Process is the handle to whatever backs an instance.
type Process interface {
	// PID returns the operating system process id, or 0 if there is none
	PID() int
	// Terminate asks the process to stop, escalating after grace
	Terminate(ctx context.Context, grace time.Duration) error
	// Logs returns the output captured so far
	Logs() Logs
}

// Instance is one service instance owned by the Coordinator.
type Instance struct {
	Index   int
	Port    int
	Process Process

	mu        sync.RWMutex
	state     State
	ready     chan error
	readyOnce sync.Once
}

// NewInstance creates an instance in the Spawned state. Launchers call
// SignalReady exactly once when the readiness outcome is known.
func NewInstance(index, port int, process Process) *Instance {
	return &Instance{
		Index:   index,
		Port:    port,
		Process: process,
		state:   StateSpawned,
		ready:   make(chan error, 1),
	}
}

// Ready delivers the readiness outcome: nil once the instance accepts work,
// or the reason it never will.
func (i *Instance) Ready() <-chan error {
	return i.ready
}

// SignalReady publishes the readiness outcome. Only the first call has effect.
func (i *Instance) SignalReady(err error) {
	i.readyOnce.Do(func() {
		i.ready <- err
	})
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// Logs returns the captured output, empty without a process.
func (i *Instance) Logs() Logs {
	if i.Process == nil {
		return Logs{}
	}
	return i.Process.Logs()
}
