// internal/reporting/reporter_test.go
package reporting_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{"sarif", "json"} {
		for _, output := range []string{"", "stdout"} {
			r, err := reporting.New(format, output, testToolVersion)
			require.NoError(t, err)
			assert.NotNil(t, r)
			// Closing must not close os.Stdout.
			assert.NoError(t, r.Close())
		}
	}
	_, err := os.Stdout.Stat()
	assert.NoError(t, err)
}

func TestNew_File(t *testing.T) {
	tests := []struct {
		format string
		want   any
	}{
		{format: "sarif", want: &reporting.SARIFReporter{}},
		{format: "json", want: &reporting.JSONReporter{}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "report."+tt.format)
			r, err := reporting.New(tt.format, path, testToolVersion)
			require.NoError(t, err)
			assert.IsType(t, tt.want, r)
			assert.FileExists(t, path)
			require.NoError(t, r.Close())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	r, err := reporting.New("text", path, testToolVersion)
	assert.Nil(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format: text")
	assert.NoFileExists(t, path, "no file is created for an unsupported format")
}

func TestNew_UnwritableOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "report.sarif")
	_, err := reporting.New("sarif", path, testToolVersion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}
