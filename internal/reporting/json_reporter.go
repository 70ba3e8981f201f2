package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
)

// JSONReport is the document the JSON reporter writes.
type JSONReport struct {
	Tool        string             `json:"tool"`
	Version     string             `json:"version"`
	GeneratedAt time.Time          `json:"generated_at"`
	Findings    []findings.Finding `json:"findings"`
}

// JSONReporter buffers findings and writes them as one indented JSON document on Close.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report JSONReport
}

// NewJSONReporter returns a reporter that takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		report: JSONReport{
			Tool:     ToolName,
			Version:  toolVersion,
			Findings: []findings.Finding{},
		},
	}
}

func (r *JSONReporter) Write(fs []findings.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Findings = append(r.report.Findings, fs...)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.GeneratedAt = time.Now().UTC()
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.report)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Wrote JSON report", zap.Int("findings", len(r.report.Findings)))
	return nil
}
