package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregator(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []Status
		wantPassed   int
		wantFailed   int
		wantSkipped  int
		wantExitCode int
	}{
		{
			name:         "empty run succeeds",
			wantExitCode: 0,
		},
		{
			name:         "all skipped succeeds",
			statuses:     []Status{StatusSkip, StatusSkip},
			wantSkipped:  2,
			wantExitCode: 0,
		},
		{
			name:         "passes and skips succeed",
			statuses:     []Status{StatusPass, StatusSkip, StatusPass},
			wantPassed:   2,
			wantSkipped:  1,
			wantExitCode: 0,
		},
		{
			name:         "any failure fails",
			statuses:     []Status{StatusPass, StatusFail, StatusSkip, StatusFail},
			wantPassed:   1,
			wantFailed:   2,
			wantSkipped:  1,
			wantExitCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			for i, s := range tt.statuses {
				agg.Record(Result{Unit: string(rune('a' + i)), Status: s})
			}

			summary := agg.Summary()
			assert.Equal(t, len(tt.statuses), summary.Total)
			assert.Equal(t, tt.wantPassed, summary.Passed)
			assert.Equal(t, tt.wantFailed, summary.Failed)
			assert.Equal(t, tt.wantSkipped, summary.Skipped)
			assert.Equal(t, tt.wantFailed, agg.Failures())
			assert.Equal(t, tt.wantExitCode, summary.ExitCode())
			assert.Len(t, summary.Results, len(tt.statuses))
			if tt.wantFailed > 0 {
				assert.ErrorIs(t, summary.Err(), ErrTestsFailed)
			} else {
				assert.NoError(t, summary.Err())
			}
		})
	}
}

func TestAggregator_SummaryIsSnapshot(t *testing.T) {
	agg := NewAggregator()
	agg.Record(Result{Unit: "a", Status: StatusPass})
	first := agg.Summary()

	agg.Record(Result{Unit: "b", Status: StatusFail})

	assert.Len(t, first.Results, 1)
	assert.Equal(t, 0, first.Failed)
	assert.Equal(t, 1, agg.Summary().Failed)
}
