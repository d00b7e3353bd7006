// -- internal/reporting/text_reporter.go --
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xkilldash9x/selectsweep/internal/harness"
)

// TextReporter renders a compact human-readable summary, suitable for
// terminals and CI logs.
type TextReporter struct {
	writer io.WriteCloser

	mu     sync.Mutex
	report *harness.RunReport
}

// NewTextReporter creates a reporter that takes ownership of the writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

// Write buffers the report for rendering at Close.
func (r *TextReporter) Write(report *harness.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = report
	return nil
}

// Close renders the buffered report and closes the writer.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var renderErr error
	if r.report != nil {
		renderErr = r.render(r.report)
	}
	closeErr := r.writer.Close()

	if renderErr != nil {
		return fmt.Errorf("failed to render text report: %w", renderErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func (r *TextReporter) render(report *harness.RunReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "SelectSweep run %s", report.RunID)
	if report.Version != "" {
		fmt.Fprintf(&b, " (v%s)", report.Version)
	}
	fmt.Fprintf(&b, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(&b, "Combinations: %d total, %d passed, %d failed\n",
		report.TotalTests, report.PassedTests, report.FailedTests)
	if report.ErroredURLs > 0 {
		fmt.Fprintf(&b, "Errored URLs: %d\n", report.ErroredURLs)
	}
	if report.StuckRecoveries > 0 || report.HardRestarts > 0 {
		fmt.Fprintf(&b, "Recoveries: %d soft, %d hard restarts\n",
			report.StuckRecoveries, report.HardRestarts)
	}
	if len(report.RetryCounts) > 0 {
		fmt.Fprintf(&b, "Retries:")
		for op, n := range report.RetryCounts {
			fmt.Fprintf(&b, " %s=%d", op, n)
		}
		fmt.Fprintln(&b)
	}

	for _, res := range report.Results {
		fmt.Fprintf(&b, "\n%s [%s]\n", res.URL, res.Status)
		if res.Description != "" {
			fmt.Fprintf(&b, "  %s\n", res.Description)
		}
		if res.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", res.Error)
			continue
		}
		fmt.Fprintf(&b, "  %d dropdowns, %d/%d combinations, %d passed, %d failed\n",
			res.DropdownCount, res.ExecutedCombinations, res.PlannedCombinations,
			res.Passed, res.Failed)
		for _, c := range res.Combinations {
			if c.Verdict == harness.VerdictPassed && !c.Synthetic {
				continue
			}
			label := "  #%d %-30s %s"
			line := fmt.Sprintf(label, c.Ordinal, combinationLabel(c.Selection), c.Verdict)
			if c.Error != "" {
				line += " (" + c.Error + ")"
			}
			fmt.Fprintln(&b, line)
		}
	}

	_, err := io.WriteString(r.writer, b.String())
	return err
}

func combinationLabel(sel harness.Selection) string {
	parts := make([]string, 0, len(sel))
	for _, s := range sel {
		label := s.Option.Label
		if label == "" {
			label = s.Option.Value
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "/")
}
