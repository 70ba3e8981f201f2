// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting/sarif"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// MockWriteCloser allows capturing output and simulating I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	closed    bool
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	m.closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func loc(file string, line int) uast.Location {
	return uast.Location{File: file, StartLine: line, StartCol: 3, EndLine: line, EndCol: 20, Snippet: "document.write(q)"}
}

func sampleFinding() findings.Finding {
	return findings.Finding{
		ID:         uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
		ScanID:     "scan-1",
		EntryPoint: "src/app.js#file-begin#",
		Kind:       "xss",
		Tags:       []string{"dom"},
		RuleID:     "doc-write",
		Label:      "DOM XSS",
		Source:     loc("src/app.js", 1),
		Sink:       loc("src/app.js", 2),
		SinkName:   "document.write",
		Trace: []findings.Step{
			{Location: loc("src/app.js", 1), Role: "source"},
			{Role: "propagate"},
			{Location: loc("src/app.js", 2), Role: "sink"},
		},
		ObservedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func setupSARIFTest(_ *testing.T) (*reporting.SARIFReporter, *MockWriteCloser) {
	mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer)}
	return reporting.NewSARIFReporter(mockWriter, "v1.2.3-test"), mockWriter
}

func decode(t *testing.T, w *MockWriteCloser) sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log), "Output should be valid SARIF JSON")
	return log
}

func TestSARIFReporter_Initialization(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Close())
	assert.True(t, writer.closed)

	log := decode(t, writer)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.SARIFSchema, log.Schema)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	require.NotNil(t, run.Tool)
	require.NotNil(t, run.Tool.Driver)
	assert.Equal(t, reporting.ToolName, run.Tool.Driver.Name)
	assert.Equal(t, "v1.2.3-test", *run.Tool.Driver.Version)
	require.NotNil(t, run.Results, "results must encode as [] not null")
	assert.Empty(t, run.Results)
}

func TestSARIFReporter_WriteFinding(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Write([]findings.Finding{sampleFinding()}))
	require.NoError(t, reporter.Close())

	run := decode(t, writer).Runs[0]
	require.Len(t, run.Results, 1)
	result := run.Results[0]
	assert.Equal(t, "SCALPEL-DOC-WRITE", result.RuleID)
	assert.Equal(t, sarif.LevelError, result.Level)
	assert.Equal(t, "DOM XSS: data from src/app.js:1:3 reaches document.write", *result.Message.Text)
	assert.NotEmpty(t, result.PartialFingerprints["scalpelFlow/v1"])

	require.Len(t, result.Locations, 1)
	phys := result.Locations[0].PhysicalLocation
	assert.Equal(t, "src/app.js", *phys.ArtifactLocation.URI)
	want := &sarif.Region{
		StartLine: 2, StartColumn: 3, EndLine: 2, EndColumn: 20,
		Snippet: &sarif.Message{Text: strPtr("document.write(q)")},
	}
	if diff := cmp.Diff(want, phys.Region); diff != "" {
		t.Errorf("region mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, result.CodeFlows, 1)
	steps := result.CodeFlows[0].ThreadFlows[0].Locations
	require.Len(t, steps, 2, "steps without a position are dropped")
	assert.Equal(t, []string{"source"}, steps[0].Kinds)
	assert.Equal(t, []string{"sink"}, steps[1].Kinds)

	require.Len(t, run.Tool.Driver.Rules, 1)
	rule := run.Tool.Driver.Rules[0]
	assert.Equal(t, "SCALPEL-DOC-WRITE", rule.ID)
	assert.Equal(t, "DOM XSS", *rule.Name)
	assert.Equal(t, []interface{}{"CWE-79"}, (*rule.Properties)["CWE"])
}

func TestSARIFReporter_RuleDeduplication(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	a := sampleFinding()
	b := sampleFinding()
	b.Sink = loc("src/other.js", 9)
	// Same rule id, different definition: a collision gets a suffix.
	c := sampleFinding()
	c.Label = "Something Else"

	require.NoError(t, reporter.Write([]findings.Finding{a, b}))
	require.NoError(t, reporter.Write([]findings.Finding{c}))
	require.NoError(t, reporter.Close())

	run := decode(t, writer).Runs[0]
	require.Len(t, run.Results, 3)
	assert.Equal(t, run.Results[0].RuleID, run.Results[1].RuleID)
	assert.Equal(t, "SCALPEL-DOC-WRITE-1", run.Results[2].RuleID)
	assert.Len(t, run.Tool.Driver.Rules, 2)
}

func TestSARIFReporter_Levels(t *testing.T) {
	tests := []struct {
		kind string
		want sarif.Level
	}{
		{"sqli", sarif.LevelError},
		{"redirect", sarif.LevelWarning},
		{"cookie", sarif.LevelNote},
		{"made-up", sarif.LevelWarning},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			reporter, writer := setupSARIFTest(t)
			f := sampleFinding()
			f.Kind = tt.kind
			require.NoError(t, reporter.Write([]findings.Finding{f}))
			require.NoError(t, reporter.Close())
			assert.Equal(t, tt.want, decode(t, writer).Runs[0].Results[0].Level)
		})
	}
}

func TestSARIFReporter_ConcurrentWrites(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			f := sampleFinding()
			f.Sink = loc("src/app.js", line)
			_ = reporter.Write([]findings.Finding{f})
		}(i + 10)
	}
	wg.Wait()
	require.NoError(t, reporter.Close())

	run := decode(t, writer).Runs[0]
	assert.Len(t, run.Results, 20)
	assert.Len(t, run.Tool.Driver.Rules, 1)
}

func TestSARIFReporter_IOErrors(t *testing.T) {
	t.Run("write failure", func(t *testing.T) {
		writer := &MockWriteCloser{Buffer: new(bytes.Buffer), FailWrite: true}
		reporter := reporting.NewSARIFReporter(writer, "v")
		err := reporter.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to encode SARIF output")
		assert.True(t, writer.closed, "the writer is closed even when encoding fails")
	})
	t.Run("close failure", func(t *testing.T) {
		writer := &MockWriteCloser{Buffer: new(bytes.Buffer), FailClose: true}
		reporter := reporting.NewSARIFReporter(writer, "v")
		err := reporter.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close output writer")
	})
}

func TestJSONReporter(t *testing.T) {
	writer := &MockWriteCloser{Buffer: new(bytes.Buffer)}
	reporter := reporting.NewJSONReporter(writer, "v9")
	require.NoError(t, reporter.Write([]findings.Finding{sampleFinding()}))
	require.NoError(t, reporter.Close())

	var doc reporting.JSONReport
	require.NoError(t, json.Unmarshal(writer.Buffer.Bytes(), &doc))
	assert.Equal(t, reporting.ToolName, doc.Tool)
	assert.Equal(t, "v9", doc.Version)
	require.Len(t, doc.Findings, 1)
	if diff := cmp.Diff(sampleFinding(), doc.Findings[0]); diff != "" {
		t.Errorf("finding mismatch (-want +got):\n%s", diff)
	}
}

func strPtr(s string) *string { return &s }
