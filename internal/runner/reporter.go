package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clustertest/internal/color"
)

// Reporter receives observational events from the runner. Implementations
// must never influence control flow.
type Reporter interface {
	// ReportStart is called once before the first unit
	ReportStart(total int)
	// ReportUnitStart is called when a unit's dependencies resolved and it begins
	ReportUnitStart(unit Unit)
	// ReportUnitSkipped is called when a unit is skipped for a missing dependency
	ReportUnitSkipped(unit Unit, missing string)
	// ReportUnitResult is called when an executed unit completes
	ReportUnitResult(result Result)
	// ReportSummary is called when all units completed
	ReportSummary(summary Summary)
}

// consoleReporter writes status markers to out and the final summary to diag.
type consoleReporter struct {
	out     io.Writer
	diag    io.Writer
	verbose bool
}

// NewConsoleReporter creates a reporter printing per-unit markers to out and
// the aggregate summary to diag.
func NewConsoleReporter(out, diag io.Writer, verbose bool) Reporter {
	return &consoleReporter{out: out, diag: diag, verbose: verbose}
}

func (r *consoleReporter) ReportStart(total int) {
	if r.verbose {
		fmt.Fprintf(r.out, "%s\n", color.PrimaryStyle.Render(fmt.Sprintf("Running %d test unit(s)", total)))
	}
}

func (r *consoleReporter) ReportUnitStart(unit Unit) {
	fmt.Fprintf(r.out, "%s %s\n", color.Marker(color.StatusTest), unit.Name)
	if r.verbose {
		if unit.Description != "" {
			fmt.Fprintf(r.out, "       %s\n", color.SubtleStyle.Render(unit.Description))
		}
		if unit.Source != "" {
			fmt.Fprintf(r.out, "       %s\n", color.SubtleStyle.Render(unit.Source))
		}
	}
}

func (r *consoleReporter) ReportUnitSkipped(unit Unit, missing string) {
	fmt.Fprintf(r.out, "%s %s (missing environment entry %q)\n", color.Marker(color.StatusSkip), unit.Name, missing)
}

func (r *consoleReporter) ReportUnitResult(result Result) {
	switch result.Status {
	case StatusPass:
		fmt.Fprintf(r.out, "%s %s (%v)\n", color.Marker(color.StatusPass), result.Unit, result.Duration.Round(time.Millisecond))
	case StatusFail:
		fmt.Fprintf(r.out, "%s %s (%v)\n", color.Marker(color.StatusFail), result.Unit, result.Duration.Round(time.Millisecond))
		for _, line := range strings.Split(result.Error, "\n") {
			fmt.Fprintf(r.out, "    %s\n", color.ErrorStyle.Render(line))
		}
	}
	if r.verbose && result.CheckAttempts > 1 {
		fmt.Fprintf(r.out, "       %s\n", color.SubtleStyle.Render(fmt.Sprintf("check attempts: %d", result.CheckAttempts)))
	}
}

func (r *consoleReporter) ReportSummary(summary Summary) {
	fmt.Fprintf(r.diag, "\n%d passed, %d failed, %d skipped (%v)\n",
		summary.Passed, summary.Failed, summary.Skipped, summary.Duration.Round(time.Millisecond))
	if summary.Failed > 0 {
		fmt.Fprintf(r.diag, "%s\n", color.ErrorStyle.Render(fmt.Sprintf("%d test(s) failed", summary.Failed)))
	}
}

// jsonReporter saves a detailed report file when the run completes and tells
// diag where it went.
type jsonReporter struct {
	reportPath string
	diag       io.Writer
	now        func() time.Time
}

// NewJSONReporter creates a reporter that writes a timestamped JSON report
// into the directory reportPath.
func NewJSONReporter(reportPath string, diag io.Writer) Reporter {
	return &jsonReporter{reportPath: reportPath, diag: diag, now: time.Now}
}

func (r *jsonReporter) ReportStart(total int)                       {}
func (r *jsonReporter) ReportUnitStart(unit Unit)                   {}
func (r *jsonReporter) ReportUnitSkipped(unit Unit, missing string) {}
func (r *jsonReporter) ReportUnitResult(result Result)              {}

func (r *jsonReporter) ReportSummary(summary Summary) {
	path, err := r.save(summary)
	if err != nil {
		fmt.Fprintf(r.diag, "%s\n", color.ErrorStyle.Render(fmt.Sprintf("Failed to save detailed report: %v", err)))
		return
	}
	fmt.Fprintf(r.diag, "Detailed report saved to: %s\n", path)
}

// save writes the report and returns its path.
func (r *jsonReporter) save(summary Summary) (string, error) {
	if err := os.MkdirAll(r.reportPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	filename := fmt.Sprintf("clustertest-report-%s.json", r.now().Format("20060102-150405"))
	fullPath := filepath.Join(r.reportPath, filename)

	jsonData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}

	if err := os.WriteFile(fullPath, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return fullPath, nil
}

// MultiReporter fans every event out to each reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) ReportStart(total int) {
	for _, r := range m {
		r.ReportStart(total)
	}
}

func (m MultiReporter) ReportUnitStart(unit Unit) {
	for _, r := range m {
		r.ReportUnitStart(unit)
	}
}

func (m MultiReporter) ReportUnitSkipped(unit Unit, missing string) {
	for _, r := range m {
		r.ReportUnitSkipped(unit, missing)
	}
}

func (m MultiReporter) ReportUnitResult(result Result) {
	for _, r := range m {
		r.ReportUnitResult(result)
	}
}

func (m MultiReporter) ReportSummary(summary Summary) {
	for _, r := range m {
		r.ReportSummary(summary)
	}
}

// NopReporter returns a reporter that discards everything.
func NopReporter() Reporter {
	return nopReporter{}
}

type nopReporter struct{}

func (nopReporter) ReportStart(total int)                       {}
func (nopReporter) ReportUnitStart(unit Unit)                   {}
func (nopReporter) ReportUnitSkipped(unit Unit, missing string) {}
func (nopReporter) ReportUnitResult(result Result)              {}
func (nopReporter) ReportSummary(summary Summary)               {}
