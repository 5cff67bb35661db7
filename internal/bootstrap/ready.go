package bootstrap

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// ProbeTCP waits until the instance port accepts connections
	ProbeTCP = "tcp"
	// ProbeLog waits until the instance prints a line matching a pattern
	ProbeLog = "log"
)

// Probe describes how readiness is detected.
type Probe struct {
	// Type is ProbeTCP or ProbeLog, ProbeTCP when empty
	Type string
	// Pattern is the regular expression used by ProbeLog
	Pattern string
}

// Validate checks the probe definition.
func (p Probe) Validate() error {
	switch p.Type {
	case "", ProbeTCP:
		return nil
	case ProbeLog:
		if p.Pattern == "" {
			return fmt.Errorf("log readiness probe requires a pattern")
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("invalid log readiness pattern %q: %w", p.Pattern, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown readiness probe type %q (expected %q or %q)", p.Type, ProbeTCP, ProbeLog)
	}
}

// waitTCP polls host:port with exponential backoff until a connection
// succeeds, exited is closed or ctx is done.
func waitTCP(ctx context.Context, host string, port int, exited <-chan struct{}, exitErr func() error) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	dialer := net.Dialer{Timeout: time.Second}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		select {
		case <-exited:
			return struct{}{}, backoff.Permanent(exitErr())
		default:
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return struct{}{}, err
		}
		conn.Close()
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
	return err
}

// waitLog blocks until matched is closed, exited is closed or ctx is done.
func waitLog(ctx context.Context, matched, exited <-chan struct{}, exitErr func() error) error {
	select {
	case <-matched:
		return nil
	case <-exited:
		return exitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}
