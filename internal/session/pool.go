package session

import (
	"context"
	"errors"
	"fmt"

	"clustertest/pkg/logging"
)

// Connector opens a session to one instance. *Dialer implements it.
type Connector interface {
	Connect(ctx context.Context, index int, host string, port int) (Session, error)
}

// Target identifies a ready instance to connect to.
type Target struct {
	Index int
	Host  string
	Port  int
}

// Pool owns one session per instance for the lifetime of a run.
type Pool struct {
	sessions []Session
}

// Connect opens one session per target, in target order. If any connection
// fails the sessions opened so far are closed and the error is returned.
func Connect(ctx context.Context, connector Connector, targets []Target) (*Pool, error) {
	pool := &Pool{sessions: make([]Session, 0, len(targets))}

	for _, target := range targets {
		s, err := connector.Connect(ctx, target.Index, target.Host, target.Port)
		if err != nil {
			if closeErr := pool.Close(); closeErr != nil {
				logging.Debug("Session", "Error closing sessions after failed connect: %v", closeErr)
			}
			return nil, fmt.Errorf("failed to connect to instance %d on port %d: %w", target.Index, target.Port, err)
		}
		pool.sessions = append(pool.sessions, s)
	}

	logging.Info("Session", "Connected %d client session(s)", len(pool.sessions))
	return pool, nil
}

// Sessions returns the sessions index-aligned with the targets they were
// opened for.
func (p *Pool) Sessions() []Session {
	return append([]Session(nil), p.sessions...)
}

// Len returns the number of open sessions.
func (p *Pool) Len() int {
	return len(p.sessions)
}

// Close closes every session. It may be called more than once.
func (p *Pool) Close() error {
	var errs []error
	for _, s := range p.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session %d: %w", s.Index(), err))
		}
	}
	p.sessions = nil
	return errors.Join(errs...)
}
