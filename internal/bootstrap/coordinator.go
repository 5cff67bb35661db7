package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clustertest/pkg/logging"
)

const (
	// DefaultReadyTimeout bounds how long each instance may take to become ready
	DefaultReadyTimeout = 10 * time.Second
	// DefaultShutdownGrace is the wait between SIGTERM and SIGKILL
	DefaultShutdownGrace = 5 * time.Second
)

// ErrReadyTimeout is matched by errors.Is for instances that missed their
// readiness deadline.
var ErrReadyTimeout = errors.New("instance failed to start within the timeout")

// ReadyTimeoutError reports an instance that did not become ready in time.
type ReadyTimeoutError struct {
	Index   int
	Port    int
	Timeout time.Duration
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("service on port %d failed to start within the timeout", e.Port)
}

func (e *ReadyTimeoutError) Unwrap() error {
	return ErrReadyTimeout
}

// Launcher spawns a single instance.
type Launcher interface {
	// Launch starts the instance and returns without waiting for readiness.
	// The instance's Ready channel delivers the readiness outcome.
	Launch(ctx context.Context, index, port int) (*Instance, error)
}

// Coordinator starts N instances concurrently and owns them until Shutdown.
type Coordinator struct {
	launcher      Launcher
	readyTimeout  time.Duration
	shutdownGrace time.Duration

	mu        sync.Mutex
	instances []*Instance
	closed    bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReadyTimeout sets the per-instance readiness timeout.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.readyTimeout = d
		}
	}
}

// WithShutdownGrace sets the wait between SIGTERM and SIGKILL.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.shutdownGrace = d
		}
	}
}

// NewCoordinator creates a coordinator using launcher.
func NewCoordinator(launcher Launcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		launcher:      launcher,
		readyTimeout:  DefaultReadyTimeout,
		shutdownGrace: DefaultShutdownGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bootstrap launches n instances on ports basePort..basePort+n-1 and blocks
// until every one of them is ready or has failed. It succeeds only if all are
// ready; the returned instances are ordered by index.
func (c *Coordinator) Bootstrap(ctx context.Context, n, basePort int) ([]*Instance, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of instances must be at least 1, got %d", n)
	}

	logging.Info("Bootstrap", "Starting %d instance(s) on ports %d-%d", n, basePort, basePort+n-1)
	start := time.Now()

	ready := make([]*Instance, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		index, port := i, basePort+i
		g.Go(func() error {
			instance, err := c.launcher.Launch(ctx, index, port)
			if err != nil {
				return err
			}
			if err := c.register(instance); err != nil {
				return err
			}
			if err := c.await(ctx, instance); err != nil {
				return err
			}
			ready[index] = instance
			return nil
		})
	}

	// errgroup.Group without a context waits for every goroutine; the first
	// error is kept.
	if err := g.Wait(); err != nil {
		c.dumpFailed()
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	logging.Info("Bootstrap", "All %d instance(s) ready after %v", n, time.Since(start).Round(time.Millisecond))
	return ready, nil
}

// register records instance so Shutdown can reach it, or terminates it at
// once if Shutdown already ran.
func (c *Coordinator) register(instance *Instance) error {
	c.mu.Lock()
	if !c.closed {
		c.instances = append(c.instances, instance)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.terminate(context.Background(), instance)
	return fmt.Errorf("instance %d started after shutdown", instance.Index)
}

// await races the instance's readiness signal against the timeout.
func (c *Coordinator) await(ctx context.Context, instance *Instance) error {
	instance.setState(StateStarting)

	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()

	select {
	case err := <-instance.Ready():
		if err != nil {
			instance.setState(StateFailedToStart)
			return fmt.Errorf("instance %d on port %d: %w", instance.Index, instance.Port, err)
		}
		instance.setState(StateReady)
		logging.Debug("Bootstrap", "Instance %d on port %d is ready", instance.Index, instance.Port)
		return nil
	case <-timer.C:
		instance.setState(StateFailedToStart)
		return &ReadyTimeoutError{Index: instance.Index, Port: instance.Port, Timeout: c.readyTimeout}
	case <-ctx.Done():
		instance.setState(StateFailedToStart)
		return fmt.Errorf("instance %d on port %d: %w", instance.Index, instance.Port, ctx.Err())
	}
}

func (c *Coordinator) dumpFailed() {
	for _, instance := range c.Instances() {
		if instance.State() != StateFailedToStart {
			continue
		}
		logs := instance.Logs()
		if logs.Combined == "" {
			logging.Error("Bootstrap", nil, "Instance %d on port %d failed to start and produced no output", instance.Index, instance.Port)
			continue
		}
		logging.Error("Bootstrap", nil, "Instance %d on port %d failed to start. Output:\n%s", instance.Index, instance.Port, logs.Combined)
	}
}

// Instances returns the instances registered so far.
func (c *Coordinator) Instances() []*Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Instance(nil), c.instances...)
}

// Shutdown terminates every instance concurrently. It is safe to call more
// than once and before Bootstrap returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		instances := append([]*Instance(nil), c.instances...)
		c.mu.Unlock()

		if len(instances) == 0 {
			return
		}
		logging.Debug("Bootstrap", "Shutting down %d instance(s)", len(instances))

		errs := make([]error, len(instances))
		var wg sync.WaitGroup
		for i, instance := range instances {
			wg.Add(1)
			go func(i int, instance *Instance) {
				defer wg.Done()
				errs[i] = c.terminate(ctx, instance)
			}(i, instance)
		}
		wg.Wait()
		c.shutdownErr = errors.Join(errs...)
	})
	return c.shutdownErr
}

func (c *Coordinator) terminate(ctx context.Context, instance *Instance) error {
	defer instance.setState(StateTerminated)
	if instance.Process == nil {
		return nil
	}
	if err := instance.Process.Terminate(ctx, c.shutdownGrace); err != nil {
		return fmt.Errorf("instance %d: %w", instance.Index, err)
	}
	return nil
}
