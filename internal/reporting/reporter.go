package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/scalpel-sast/internal/findings"
)

// Reporter defines the interface for writing scan results to an output.
type Reporter interface {
	// Write adds a batch of findings to the report.
	Write(fs []findings.Finding) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	switch format {
	case "sarif", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "json" {
		return NewJSONReporter(writer, toolVersion), nil
	}
	// NewSARIFReporter takes ownership of the writer.
	return NewSARIFReporter(writer, toolVersion), nil
}
