package runner

import (
	"errors"
	"fmt"
	"time"
)

// ErrTestsFailed is returned by Summary.Err when at least one unit failed.
var ErrTestsFailed = errors.New("tests failed")

// Summary is the aggregated outcome of a run.
type Summary struct {
	// RunID identifies the run in saved reports
	RunID string `json:"run_id"`
	// StartTime when the first result was recorded
	StartTime time.Time `json:"start_time"`
	// EndTime when the summary was taken
	EndTime time.Time `json:"end_time"`
	// Duration of the run
	Duration time.Duration `json:"duration"`
	// Total is the number of units seen, skipped ones included
	Total int `json:"total"`
	// Passed is the number of passing units
	Passed int `json:"passed"`
	// Failed is the number of failing units
	Failed int `json:"failed"`
	// Skipped is the number of units skipped for missing dependencies
	Skipped int `json:"skipped"`
	// Results contains the individual unit results in execution order
	Results []Result `json:"results"`
	// Environment lists the names bound in the registry when the run ended
	Environment []string `json:"environment,omitempty"`
}

// ExitCode is 0 when no unit failed and 1 otherwise. Skips never count.
func (s Summary) ExitCode() int {
	if s.Failed == 0 {
		return 0
	}
	return 1
}

// Err returns nil when no unit failed, otherwise an error wrapping
// ErrTestsFailed with the failure count.
func (s Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d test(s) failed: %w", s.Failed, ErrTestsFailed)
}

// Aggregator tallies unit results.
type Aggregator struct {
	start    time.Time
	outcomes []bool
	skipped  int
	results  []Result
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{start: time.Now()}
}

// Record adds a result to the tally. Skipped units are counted separately and
// never contribute a pass/fail outcome.
func (a *Aggregator) Record(result Result) {
	a.results = append(a.results, result)
	switch result.Status {
	case StatusSkip:
		a.skipped++
	case StatusPass:
		a.outcomes = append(a.outcomes, true)
	default:
		a.outcomes = append(a.outcomes, false)
	}
}

// Failures returns the number of failed units recorded so far.
func (a *Aggregator) Failures() int {
	failures := 0
	for _, passed := range a.outcomes {
		if !passed {
			failures++
		}
	}
	return failures
}

// Summary returns the current tally.
func (a *Aggregator) Summary() Summary {
	end := time.Now()
	failed := a.Failures()
	return Summary{
		StartTime: a.start,
		EndTime:   end,
		Duration:  end.Sub(a.start),
		Total:     len(a.results),
		Passed:    len(a.outcomes) - failed,
		Failed:    failed,
		Skipped:   a.skipped,
		Results:   append([]Result(nil), a.results...),
	}
}
