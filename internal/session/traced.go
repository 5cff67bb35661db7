package session

import (
	"context"
	"encoding/json"
	"time"

	"clustertest/pkg/logging"
)

// tracedSession logs every request and response of the wrapped session.
type tracedSession struct {
	Session
	log string
}

// Traced wraps s so that each call and its outcome are logged under the
// client-<index> subsystem.
func Traced(s Session) Session {
	if _, ok := s.(*tracedSession); ok {
		return s
	}
	return &tracedSession{Session: s, log: subsystem(s.Index())}
}

func (t *tracedSession) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*Result, error) {
	request, _ := json.Marshal(args)
	logging.Info(t.log, "-> %s %s", tool, request)

	start := time.Now()
	result, err := t.Session.CallTool(ctx, tool, args)
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err != nil && result == nil:
		logging.Info(t.log, "<- %s failed after %v: %v", tool, elapsed, err)
	case err != nil:
		logging.Info(t.log, "<- %s error after %v: %s", tool, elapsed, result.Text)
	default:
		logging.Info(t.log, "<- %s ok after %v: %s", tool, elapsed, result.Text)
	}
	return result, err
}

func (t *tracedSession) ListTools(ctx context.Context) ([]string, error) {
	logging.Info(t.log, "-> tools/list")
	names, err := t.Session.ListTools(ctx)
	if err != nil {
		logging.Info(t.log, "<- tools/list failed: %v", err)
		return nil, err
	}
	logging.Info(t.log, "<- tools/list %v", names)
	return names, nil
}

func (t *tracedSession) Close() error {
	logging.Debug(t.log, "Closing session to %s", t.Endpoint())
	return t.Session.Close()
}
