package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"clustertest/internal/template"
	"clustertest/pkg/logging"
)

// ErrExitedBeforeReady is returned when a process terminates before its
// readiness probe succeeded.
var ErrExitedBeforeReady = errors.New("process exited before becoming ready")

// ProcessLauncher starts each instance as an operating system process.
type ProcessLauncher struct {
	// Command is the command line. Each argument may use the {{ index }},
	// {{ port }}, {{ host }} and {{ peers }} placeholders.
	Command []string
	// Host is the address instances listen on and are probed at
	Host string
	// Peers lists host:port of every instance, indexed by instance. The
	// {{ peers }} placeholder expands to all entries except the instance's own.
	Peers []string
	// Env holds extra environment variables for the process
	Env map[string]string
	// Dir is the working directory, the current one when empty
	Dir string
	// Probe selects the readiness detection
	Probe Probe
	// ServerLog streams process output to the server-<index> log subsystem
	ServerLog bool
}

// PeerAddresses returns host:port for n instances starting at basePort.
func PeerAddresses(host string, basePort, n int) []string {
	peers := make([]string, n)
	for i := range peers {
		peers[i] = fmt.Sprintf("%s:%d", host, basePort+i)
	}
	return peers
}

// Launch spawns the process for instance index on port and starts its
// readiness probe.
func (l *ProcessLauncher) Launch(ctx context.Context, index, port int) (*Instance, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("no server command configured")
	}
	if err := l.Probe.Validate(); err != nil {
		return nil, err
	}

	args, err := l.expandCommand(index, port)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = l.Dir
	cmd.Env = os.Environ()
	for k, v := range l.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	subsystem := fmt.Sprintf("server-%d", index)
	capture := newLogCapture(subsystem, l.ServerLog)
	cmd.Stdout = capture.stdoutWriter
	cmd.Stderr = capture.stderrWriter
	cmd.WaitDelay = time.Second

	// A log probe must see lines from the very first one.
	var matched <-chan struct{}
	if l.Probe.Type == ProbeLog {
		matched = capture.watch(regexp.MustCompile(l.Probe.Pattern))
	}

	logging.Debug("Bootstrap", "Starting instance %d on port %d: %s", index, port, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		capture.close()
		return nil, fmt.Errorf("failed to start instance %d (%s): %w", index, args[0], err)
	}

	proc := &osProcess{
		cmd:     cmd,
		capture: capture,
		done:    make(chan struct{}),
	}
	go proc.wait()

	instance := NewInstance(index, port, proc)
	logging.Debug("Bootstrap", "Instance %d started (PID: %d)", index, proc.PID())

	host := l.host()
	go func() {
		var err error
		if l.Probe.Type == ProbeLog {
			err = waitLog(ctx, matched, proc.done, proc.exitError)
		} else {
			err = waitTCP(ctx, host, port, proc.done, proc.exitError)
		}
		instance.SignalReady(err)
	}()

	return instance, nil
}

func (l *ProcessLauncher) host() string {
	if l.Host == "" {
		return "localhost"
	}
	return l.Host
}

// expandCommand fills in the placeholders of the command line.
func (l *ProcessLauncher) expandCommand(index, port int) ([]string, error) {
	var peers []string
	for i, p := range l.Peers {
		if i != index {
			peers = append(peers, p)
		}
	}

	values := map[string]interface{}{
		"index": index,
		"port":  port,
		"host":  l.host(),
		"peers": strings.Join(peers, ","),
	}

	engine := template.New()
	args := make([]string, 0, len(l.Command))
	for _, arg := range l.Command {
		expanded, err := engine.ReplaceString(arg, values)
		if err != nil {
			return nil, fmt.Errorf("failed to expand server command argument %q: %w", arg, err)
		}
		args = append(args, expanded)
	}
	return args, nil
}

// osProcess is an instance backed by a spawned process group.
type osProcess struct {
	cmd     *exec.Cmd
	capture *logCapture

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
}

func (p *osProcess) wait() {
	err := p.cmd.Wait()
	p.capture.close()

	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

func (p *osProcess) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr != nil {
		return fmt.Errorf("%w: %v", ErrExitedBeforeReady, p.waitErr)
	}
	return ErrExitedBeforeReady
}

func (p *osProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *osProcess) Logs() Logs {
	return p.capture.logs()
}

// Terminate sends SIGTERM to the process group and SIGKILL after grace.
func (p *osProcess) Terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pid := p.PID()
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		logging.Debug("Bootstrap", "SIGTERM failed for process group %d, using SIGKILL: %v", pid, err)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to kill process group %d: %w", pid, err)
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		logging.Debug("Bootstrap", "Graceful shutdown timeout for process group %d, forcing kill", pid)
	case <-ctx.Done():
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process group %d: %w", pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
