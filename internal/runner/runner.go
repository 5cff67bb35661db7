package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"clustertest/internal/environment"
	"clustertest/pkg/logging"
)

// DefaultRetryInterval is the pause between convergence check attempts.
const DefaultRetryInterval = 1 * time.Second

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Runner executes units one after another against a shared registry.
type Runner struct {
	registry      *environment.Registry
	reporter      Reporter
	retryInterval time.Duration
	sleep         SleepFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetryInterval sets the pause between convergence attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.retryInterval = d
		}
	}
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// New creates a runner. A nil reporter discards all output.
func New(registry *environment.Registry, reporter Reporter, opts ...Option) *Runner {
	if reporter == nil {
		reporter = NopReporter()
	}
	r := &Runner{
		registry:      registry,
		reporter:      reporter,
		retryInterval: DefaultRetryInterval,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every unit in order and returns the aggregated summary.
func (r *Runner) Run(ctx context.Context, units []Unit) Summary {
	agg := NewAggregator()
	r.reporter.ReportStart(len(units))

	for i := range units {
		result := r.RunUnit(ctx, units[i])
		agg.Record(result)
	}

	summary := agg.Summary()
	summary.RunID = uuid.NewString()
	for _, entry := range r.registry.Entries() {
		summary.Environment = append(summary.Environment, entry.Name)
	}
	r.reporter.ReportSummary(summary)
	return summary
}

// RunUnit executes a single unit and produces exactly one result.
func (r *Runner) RunUnit(ctx context.Context, unit Unit) Result {
	result := Result{
		Unit:      unit.Name,
		Source:    unit.Source,
		StartTime: time.Now(),
	}
	finish := func(status Status, err error) Result {
		result.Status = status
		if err != nil {
			result.err = err
			result.Error = err.Error()
		}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result
	}

	// ResolveDeps
	values, err := r.registry.RequireAll(unit.Requires)
	if err != nil {
		var missing *environment.MissingError
		if errors.As(err, &missing) {
			result.Missing = missing.Name
		}
		r.reporter.ReportUnitSkipped(unit, result.Missing)
		return finish(StatusSkip, nil)
	}

	r.reporter.ReportUnitStart(unit)

	if err := unit.Validate(); err != nil {
		res := finish(StatusFail, err)
		r.reporter.ReportUnitResult(res)
		return res
	}

	scope := NewScope(&unit, values, r.registry)
	status, attempts, err := r.execute(ctx, &unit, scope)
	result.CheckAttempts = attempts

	r.auditProvides(unit)

	res := finish(status, err)
	r.reporter.ReportUnitResult(res)
	return res
}

// execute runs the preflight, act and converge states.
func (r *Runner) execute(ctx context.Context, unit *Unit, scope *Scope) (Status, int, error) {
	if unit.Check != nil && unit.Do != nil {
		already, err := callCheck(ctx, unit.Check, scope)
		switch {
		case err != nil:
			logging.Debug("Runner", "Preflight check for %s returned an error: %v", unit.Name, err)
		case already:
			logging.Warn("Runner", "%s: test was already passing before we did anything", unit.Name)
		}
	}

	if unit.Do != nil {
		if err := callAction(ctx, unit.Do, scope); err != nil {
			return StatusFail, 0, err
		}
	}

	if unit.Check == nil {
		return StatusPass, 0, nil
	}

	return r.converge(ctx, unit, scope)
}

// converge polls the check up to 1+WaitTime times. The final attempt is not
// followed by a sleep.
func (r *Runner) converge(ctx context.Context, unit *Unit, scope *Scope) (Status, int, error) {
	maxAttempts := 1 + unit.WaitTime
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, err := callCheck(ctx, unit.Check, scope)
		if err == nil && ok {
			return StatusPass, attempt, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = ErrCheckNotTrue
		}

		if attempt == maxAttempts {
			break
		}

		logging.Debug("Runner", "Check for %s not satisfied (attempt %d/%d): %v", unit.Name, attempt, maxAttempts, lastErr)
		if err := r.sleep(ctx, r.retryInterval); err != nil {
			return StatusFail, attempt, fmt.Errorf("interrupted while waiting to retry check: %w", err)
		}
	}

	return StatusFail, maxAttempts, lastErr
}

// auditProvides warns about promised entries that are still unbound.
func (r *Runner) auditProvides(unit Unit) {
	for _, name := range unit.Provides {
		if _, ok := r.registry.Lookup(name); !ok {
			logging.Warn("Runner", "%s did not provide %q as promised", unit.Name, name)
		}
	}
}

func callCheck(ctx context.Context, check CheckFunc, scope *Scope) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, panicError(p)
		}
	}()
	return check(ctx, scope)
}

func callAction(ctx context.Context, action ActionFunc, scope *Scope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return action(ctx, scope)
}

func panicError(p interface{}) error {
	logging.Debug("Runner", "Recovered panic: %v\n%s", p, debug.Stack())
	return fmt.Errorf("panic: %v", p)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
