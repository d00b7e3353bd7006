// -- internal/reporting/json_reporter.go --
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/selectsweep/internal/harness"
	"github.com/xkilldash9x/selectsweep/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReporter writes the full run report as indented JSON. It is thread safe.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report *harness.RunReport
}

// NewJSONReporter creates a reporter that takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
	}
}

// Write buffers the report; rendering happens in Close so the output is
// written exactly once even if Write is called again with an updated report.
func (r *JSONReporter) Write(report *harness.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = report
	return nil
}

// Close renders the buffered report and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var encodeErr error
	if r.report != nil {
		enc := json.NewEncoder(r.writer)
		enc.SetIndent("", "  ")
		encodeErr = enc.Encode(r.report)
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode report to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
