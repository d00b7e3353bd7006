// -- internal/reporting/html_reporter.go --
package reporting

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/selectsweep/internal/harness"
	"github.com/xkilldash9x/selectsweep/internal/observability"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"verdictClass": verdictClass,
	"formatTime":   func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	"duration": func(start, end time.Time) string {
		return end.Sub(start).Round(time.Millisecond).String()
	},
	"selectionLabel": selectionLabel,
}).ParseFS(templateFS, "templates/report.html.tmpl"))

// verdictClass maps a verdict to a CSS class in the embedded template.
func verdictClass(v harness.Verdict) string {
	switch v {
	case harness.VerdictPassed:
		return "pass"
	case harness.VerdictFailed:
		return "fail"
	default:
		return "pass-soft"
	}
}

// selectionLabel renders a selection as "Label / Label / Label".
func selectionLabel(sel harness.Selection) string {
	parts := make([]string, 0, len(sel))
	for _, s := range sel {
		label := s.Option.Label
		if label == "" {
			label = s.Option.Value
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " / ")
}

// HTMLReporter renders the run report as a self-contained HTML page.
type HTMLReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report *harness.RunReport
}

// NewHTMLReporter creates a reporter that takes ownership of the writer.
func NewHTMLReporter(writer io.WriteCloser) *HTMLReporter {
	return &HTMLReporter{
		writer: writer,
		logger: observability.GetLogger().Named("html_reporter"),
	}
}

// Write buffers the report for rendering at Close.
func (r *HTMLReporter) Write(report *harness.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = report
	return nil
}

// Close renders the buffered report and closes the writer.
func (r *HTMLReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var renderErr error
	if r.report != nil {
		renderErr = reportTemplate.Execute(r.writer, r.report)
	}
	closeErr := r.writer.Close()

	if renderErr != nil {
		r.logger.Error("Failed to render HTML report", zap.Error(renderErr))
		return fmt.Errorf("failed to render HTML report: %w", renderErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
