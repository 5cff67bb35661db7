package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustertest/internal/environment"
	"clustertest/pkg/logging"
)

// captureLogs routes logging into a buffer for the duration of the test.
func captureLogs(t *testing.T, level logging.LogLevel) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.InitForCLI(level, &buf)
	t.Cleanup(func() { logging.InitForCLI(logging.LevelInfo, &bytes.Buffer{}) })
	return &buf
}

// sleepRecorder counts sleeps without waiting.
type sleepRecorder struct {
	calls int
	err   error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls++
	return s.err
}

// recordingReporter remembers every event it received.
type recordingReporter struct {
	events  []string
	summary *Summary
}

func (r *recordingReporter) ReportStart(total int) {
	r.events = append(r.events, "start")
}

func (r *recordingReporter) ReportUnitStart(unit Unit) {
	r.events = append(r.events, "test:"+unit.Name)
}

func (r *recordingReporter) ReportUnitSkipped(unit Unit, missing string) {
	r.events = append(r.events, "skip:"+unit.Name+":"+missing)
}

func (r *recordingReporter) ReportUnitResult(result Result) {
	r.events = append(r.events, strings.ToLower(string(result.Status))+":"+result.Unit)
}

func (r *recordingReporter) ReportSummary(summary Summary) {
	r.summary = &summary
	r.events = append(r.events, "summary")
}

func newTestRunner(reg *environment.Registry, rep Reporter, sleeper *sleepRecorder) *Runner {
	return New(reg, rep, WithRetryInterval(time.Millisecond), WithSleep(sleeper.sleep))
}

// checkAfter returns a check that becomes true on call n and counts calls.
func checkAfter(n int, calls *int) CheckFunc {
	return func(ctx context.Context, scope *Scope) (bool, error) {
		*calls++
		return *calls >= n, nil
	}
}

func TestRunUnit_SkipsOnMissingRequirement(t *testing.T) {
	reg := environment.NewRegistry()
	rep := &recordingReporter{}
	sleeper := &sleepRecorder{}
	r := newTestRunner(reg, rep, sleeper)

	called := false
	unit := Unit{
		Name:     "needs-x",
		Requires: []string{"x"},
		Do: func(ctx context.Context, scope *Scope) error {
			called = true
			return nil
		},
		Check: func(ctx context.Context, scope *Scope) (bool, error) {
			called = true
			return true, nil
		},
	}

	result := r.RunUnit(context.Background(), unit)

	assert.Equal(t, StatusSkip, result.Status)
	assert.Equal(t, "x", result.Missing)
	assert.False(t, called, "neither check nor action may run for a skipped unit")
	assert.Equal(t, []string{"skip:needs-x:x"}, rep.events)
	assert.Zero(t, reg.Len())
}

func TestRunUnit_CheckOnlyPassesWithOneCall(t *testing.T) {
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})

	calls := 0
	result := r.RunUnit(context.Background(), Unit{
		Name:  "check-only",
		Check: checkAfter(1, &calls),
	})

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, 1, calls, "check-only units have no preflight")
	assert.Equal(t, 1, result.CheckAttempts)
}

func TestRunUnit_ActionOnlyPasses(t *testing.T) {
	reg := environment.NewRegistry()
	r := newTestRunner(reg, nil, &sleepRecorder{})

	result := r.RunUnit(context.Background(), Unit{
		Name:     "provider",
		Provides: []string{"a"},
		Do: func(ctx context.Context, scope *Scope) error {
			scope.Provide("a", 1)
			return nil
		},
	})

	assert.Equal(t, StatusPass, result.Status)
	assert.Zero(t, result.CheckAttempts)
	value, ok := reg.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 1, value)
}

func TestRunUnit_NeitherCheckNorAction(t *testing.T) {
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})
	result := r.RunUnit(context.Background(), Unit{Name: "empty"})
	assert.Equal(t, StatusPass, result.Status)
}

func TestRunUnit_ConvergesAfterRetries(t *testing.T) {
	tests := []struct {
		name       string
		trueOnCall int // counting the preflight call
		waitTime   int
		wantStatus Status
		wantCalls  int
		wantSleeps int
	}{
		{
			name:       "passes on first converge attempt",
			trueOnCall: 2,
			waitTime:   3,
			wantStatus: StatusPass,
			wantCalls:  2,
			wantSleeps: 0,
		},
		{
			name:       "passes on third converge attempt",
			trueOnCall: 4,
			waitTime:   3,
			wantStatus: StatusPass,
			wantCalls:  4,
			wantSleeps: 2,
		},
		{
			name:       "passes on the final attempt",
			trueOnCall: 5,
			waitTime:   3,
			wantStatus: StatusPass,
			wantCalls:  5,
			wantSleeps: 3,
		},
		{
			name:       "fails after exhausting attempts",
			trueOnCall: 100,
			waitTime:   3,
			wantStatus: StatusFail,
			wantCalls:  5,
			wantSleeps: 3,
		},
		{
			name:       "zero wait time allows a single attempt",
			trueOnCall: 100,
			waitTime:   0,
			wantStatus: StatusFail,
			wantCalls:  2,
			wantSleeps: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &sleepRecorder{}
			r := newTestRunner(environment.NewRegistry(), nil, sleeper)

			calls := 0
			actions := 0
			result := r.RunUnit(context.Background(), Unit{
				Name:     tt.name,
				WaitTime: tt.waitTime,
				Check:    checkAfter(tt.trueOnCall, &calls),
				Do: func(ctx context.Context, scope *Scope) error {
					actions++
					return nil
				},
			})

			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantSleeps, sleeper.calls)
			assert.Equal(t, tt.wantCalls-1, result.CheckAttempts)
			assert.Equal(t, 1, actions, "the action runs exactly once")
			if tt.wantStatus == StatusFail {
				assert.ErrorIs(t, result.Err(), ErrCheckNotTrue)
				assert.Equal(t, ErrCheckNotTrue.Error(), result.Error)
			}
		})
	}
}

func TestRunUnit_CheckErrorIsLastFailure(t *testing.T) {
	sleeper := &sleepRecorder{}
	r := newTestRunner(environment.NewRegistry(), nil, sleeper)

	boom := errors.New("connection refused")
	calls := 0
	result := r.RunUnit(context.Background(), Unit{
		Name:     "erroring",
		WaitTime: 2,
		Check: func(ctx context.Context, scope *Scope) (bool, error) {
			calls++
			return false, boom
		},
	})

	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sleeper.calls)
	assert.ErrorIs(t, result.Err(), boom)
}

func TestRunUnit_ErrorThenFalseReportsCheckNotTrue(t *testing.T) {
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})

	calls := 0
	result := r.RunUnit(context.Background(), Unit{
		Name:     "flaky",
		WaitTime: 1,
		Check: func(ctx context.Context, scope *Scope) (bool, error) {
			calls++
			if calls == 1 {
				return false, errors.New("transient")
			}
			return false, nil
		},
	})

	assert.Equal(t, StatusFail, result.Status)
	assert.ErrorIs(t, result.Err(), ErrCheckNotTrue)
}

func TestRunUnit_ActionErrorSkipsConvergence(t *testing.T) {
	sleeper := &sleepRecorder{}
	reg := environment.NewRegistry()
	r := newTestRunner(reg, nil, sleeper)

	boom := errors.New("cannot create room")
	calls := 0
	result := r.RunUnit(context.Background(), Unit{
		Name:     "broken-action",
		WaitTime: 5,
		Check:    checkAfter(100, &calls),
		Do: func(ctx context.Context, scope *Scope) error {
			return boom
		},
	})

	assert.Equal(t, StatusFail, result.Status)
	assert.ErrorIs(t, result.Err(), boom)
	assert.Equal(t, 1, calls, "only the preflight runs")
	assert.Zero(t, sleeper.calls)
	assert.Zero(t, result.CheckAttempts)
}

func TestRunUnit_PanicsBecomeFailures(t *testing.T) {
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})

	result := r.RunUnit(context.Background(), Unit{
		Name: "panicking-action",
		Do: func(ctx context.Context, scope *Scope) error {
			panic("kaboom")
		},
	})
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Error, "panic: kaboom")

	result = r.RunUnit(context.Background(), Unit{
		Name: "panicking-check",
		Check: func(ctx context.Context, scope *Scope) (bool, error) {
			panic("check kaboom")
		},
	})
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Error, "panic: check kaboom")
}

func TestRunUnit_PreflightWarnings(t *testing.T) {
	logs := captureLogs(t, logging.LevelDebug)
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})

	result := r.RunUnit(context.Background(), Unit{
		Name:  "already-done",
		Check: func(ctx context.Context, scope *Scope) (bool, error) { return true, nil },
		Do:    func(ctx context.Context, scope *Scope) error { return nil },
	})
	require.Equal(t, StatusPass, result.Status)
	assert.Contains(t, logs.String(), "already-done: test was already passing before we did anything")

	logs.Reset()
	calls := 0
	result = r.RunUnit(context.Background(), Unit{
		Name: "preflight-error",
		Check: func(ctx context.Context, scope *Scope) (bool, error) {
			calls++
			if calls == 1 {
				return false, errors.New("not reachable yet")
			}
			return true, nil
		},
		Do: func(ctx context.Context, scope *Scope) error { return nil },
	})
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, logs.String(), "Preflight check for preflight-error returned an error")
	assert.NotContains(t, logs.String(), "already passing")
}

func TestRunUnit_AuditsUnfulfilledProvides(t *testing.T) {
	logs := captureLogs(t, logging.LevelWarn)
	reg := environment.NewRegistry()
	r := newTestRunner(reg, nil, &sleepRecorder{})

	result := r.RunUnit(context.Background(), Unit{
		Name:     "forgetful",
		Provides: []string{"a", "b"},
		Do: func(ctx context.Context, scope *Scope) error {
			scope.Provide("a", true)
			return nil
		},
	})

	assert.Equal(t, StatusPass, result.Status, "the audit never changes the outcome")
	assert.Contains(t, logs.String(), `forgetful did not provide \"b\" as promised`)
	assert.NotContains(t, logs.String(), `provide \"a\"`)
}

func TestRunUnit_AuditRunsAfterFailure(t *testing.T) {
	logs := captureLogs(t, logging.LevelWarn)
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})

	result := r.RunUnit(context.Background(), Unit{
		Name:     "failing-provider",
		Provides: []string{"room"},
		Do: func(ctx context.Context, scope *Scope) error {
			return errors.New("nope")
		},
	})

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, logs.String(), "failing-provider did not provide")
}

func TestRunUnit_InvalidUnitFails(t *testing.T) {
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})
	result := r.RunUnit(context.Background(), Unit{Name: "negative", WaitTime: -1})
	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Error, "wait_time must not be negative")
}

func TestRunUnit_InterruptedWhileWaiting(t *testing.T) {
	sleeper := &sleepRecorder{err: context.Canceled}
	r := newTestRunner(environment.NewRegistry(), nil, sleeper)

	calls := 0
	result := r.RunUnit(context.Background(), Unit{
		Name:     "interrupted",
		WaitTime: 3,
		Check:    checkAfter(100, &calls),
	})

	assert.Equal(t, StatusFail, result.Status)
	assert.ErrorIs(t, result.Err(), context.Canceled)
	assert.Equal(t, 1, result.CheckAttempts)
}

func TestRun_DependencyChain(t *testing.T) {
	reg := environment.NewRegistry()
	rep := &recordingReporter{}
	r := newTestRunner(reg, rep, &sleepRecorder{})

	var seen interface{}
	units := []Unit{
		{
			Name:     "A",
			Provides: []string{"a"},
			Do: func(ctx context.Context, scope *Scope) error {
				scope.Provide("a", 1)
				return nil
			},
		},
		{
			Name:     "B",
			Requires: []string{"a"},
			Check: func(ctx context.Context, scope *Scope) (bool, error) {
				seen, _ = scope.Get("a")
				return seen == 1, nil
			},
		},
		{
			Name:     "C",
			Requires: []string{"z"},
			Check: func(ctx context.Context, scope *Scope) (bool, error) {
				return false, nil
			},
		},
	}

	summary := r.Run(context.Background(), units)

	assert.Equal(t, 1, seen)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.ExitCode())
	assert.NoError(t, summary.Err())
	assert.Equal(t, []string{"a"}, summary.Environment)
	assert.Equal(t, []string{
		"start",
		"test:A", "pass:A",
		"test:B", "pass:B",
		"skip:C:z",
		"summary",
	}, rep.events)
	require.NotNil(t, rep.summary)
	assert.Equal(t, summary.Passed, rep.summary.Passed)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, summary.RunID, rep.summary.RunID)
}

func TestRun_FailureSetsExitCode(t *testing.T) {
	r := newTestRunner(environment.NewRegistry(), nil, &sleepRecorder{})

	summary := r.Run(context.Background(), []Unit{
		{Name: "ok"},
		{Name: "bad", Check: func(ctx context.Context, scope *Scope) (bool, error) { return false, nil }},
		{Name: "also-ok"},
	})

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.ExitCode())
	assert.ErrorIs(t, summary.Err(), ErrTestsFailed)
	assert.EqualError(t, summary.Err(), "1 test(s) failed: tests failed")
}

func TestRun_FirstProviderWins(t *testing.T) {
	reg := environment.NewRegistry()
	r := newTestRunner(reg, nil, &sleepRecorder{})

	provide := func(v int) ActionFunc {
		return func(ctx context.Context, scope *Scope) error {
			scope.Provide("shared", v)
			return nil
		}
	}

	summary := r.Run(context.Background(), []Unit{
		{Name: "first", Provides: []string{"shared"}, Do: provide(1)},
		{Name: "second", Provides: []string{"shared"}, Do: provide(2)},
	})

	assert.Equal(t, 2, summary.Passed)
	value, _ := reg.Lookup("shared")
	assert.Equal(t, 1, value)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
	assert.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
