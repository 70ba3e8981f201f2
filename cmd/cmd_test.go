package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
)

// -- mocks --

type mockStore struct {
	mock.Mock
}

func (m *mockStore) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) PersistFindings(ctx context.Context, scanID string, fs []findings.Finding) error {
	return m.Called(ctx, scanID, fs).Error(0)
}

func (m *mockStore) GetFindingsByScanID(ctx context.Context, scanID string) ([]findings.Finding, error) {
	args := m.Called(ctx, scanID)
	fs, _ := args.Get(0).([]findings.Finding)
	return fs, args.Error(1)
}

type mockProvider struct {
	store   findingStore
	err     error
	cleaned bool
}

func (p *mockProvider) Create(context.Context, *config.Config) (findingStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}

// -- helpers --

func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	t.Setenv("SCALPEL_LOGGER_LEVEL", "fatal")
	t.Cleanup(observability.ResetForTest)
}

func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readJSONReport(t *testing.T, path string) reporting.JSONReport {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report reporting.JSONReport
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &report))
	return report
}

// -- root --

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, NewRootCommand(), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "scalpel-sast version "+Version)
}

func TestAnalyzeCmd_RequiredArgs(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, NewRootCommand(), "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s), only received 0")
}

func TestReportCmd_RequiredFlags(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, NewRootCommand(), "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "scan-id" not set`)
}

func TestConfigFlagOverride(t *testing.T) {
	resetForTest(t)
	configFile := writeSource(t, t.TempDir(), "config.yaml", `
workspace:
  concurrency: 3
  git_ref: main
report:
  format: json
`)

	root := NewRootCommand()
	analyze := findCommand(t, root, "analyze")
	var captured *config.Config
	analyze.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		captured = cfg
		return err
	}

	_, err := executeCommand(t, root, "--config", configFile, "analyze", "-j", "5", "src")
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, 5, captured.Workspace().Concurrency, "flag overrides the config file")
	assert.Equal(t, "main", captured.Workspace().GitRef, "config file overrides defaults")
	assert.Equal(t, "json", captured.Report().Format)
	assert.True(t, captured.Rules().UseDefaults)
}

func TestConfigFile_Invalid(t *testing.T) {
	resetForTest(t)
	configFile := writeSource(t, t.TempDir(), "config.yaml", "report:\n  format: html\n")
	_, err := executeCommand(t, NewRootCommand(), "--config", configFile, "rules")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report.format must be one of sarif, json")
}

func TestRulesCmd_PrintsDefaults(t *testing.T) {
	resetForTest(t)
	out, err := executeCommand(t, NewRootCommand(), "rules")
	require.NoError(t, err)
	assert.Contains(t, out, "sources:")
	assert.Contains(t, out, "dom-write")
}

func TestLoadRules(t *testing.T) {
	custom := writeSource(t, t.TempDir(), "rules.yaml", `
sinks:
  - {id: custom-sink, kind: xss, call: 'render', args: [0]}
`)

	t.Run("defaults and custom", func(t *testing.T) {
		r, err := loadRules(config.RulesConfig{UseDefaults: true, Path: custom})
		require.NoError(t, err)
		assert.Greater(t, len(r.Sinks), 1)
		assert.Equal(t, "custom-sink", r.Sinks[len(r.Sinks)-1].ID)
	})

	t.Run("custom only", func(t *testing.T) {
		r, err := loadRules(config.RulesConfig{Path: custom})
		require.NoError(t, err)
		require.Len(t, r.Sinks, 1)
		assert.Empty(t, r.Sources)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadRules(config.RulesConfig{UseDefaults: true, Path: filepath.Join(t.TempDir(), "nope.yaml")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load rules")
	})
}

// -- analyze --

func analyzeConfig(t *testing.T, output string) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetReportFormat("json")
	cfg.SetReportOutput(output)
	return cfg
}

func TestRunAnalyze_ReportsFlow(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.js", "const q = location.hash;\ndocument.write(q);\n")
	writeSource(t, dir, "safe.js", "document.write('static');\n")
	output := filepath.Join(t.TempDir(), "report.json")

	res, err := runAnalyze(context.Background(), zaptest.NewLogger(t), analyzeConfig(t, output), []string{dir}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Files)
	assert.False(t, res.Aborted)
	assert.GreaterOrEqual(t, res.Summary.Interpreted, 2)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "dom-write", res.Findings[0].RuleID)
	assert.Equal(t, res.ScanID, res.Findings[0].ScanID)

	report := readJSONReport(t, output)
	assert.Equal(t, reporting.ToolName, report.Tool)
	assert.Equal(t, Version, report.Version)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, 2, report.Findings[0].Sink.StartLine)
}

func TestRunAnalyze_SyntaxErrorsAreSummarized(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "broken.js", "function ( {")
	output := filepath.Join(t.TempDir(), "report.json")

	res, err := runAnalyze(context.Background(), zaptest.NewLogger(t), analyzeConfig(t, output), []string{dir}, false, nil)
	require.NoError(t, err)
	broken := filepath.ToSlash(filepath.Join(dir, "broken.js"))
	var files []string
	for _, c := range res.Issues {
		files = append(files, c.File)
	}
	assert.Contains(t, files, broken)

	var buf bytes.Buffer
	printSummary(&buf, res)
	assert.Contains(t, buf.String(), "broken.js")
	assert.Contains(t, buf.String(), "FILE")
	assert.NotContains(t, buf.String(), "aborted")
}

func TestRunAnalyze_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.js", "const q = location.hash;\ndocument.write(q);\n")
	output := filepath.Join(t.TempDir(), "report.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := analyzeConfig(t, output)

	// A cancelled context stops the workspace before anything is parsed.
	_, err := runAnalyze(ctx, zaptest.NewLogger(t), cfg, []string{dir}, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunAnalyze_Persist(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.js", "const q = location.hash;\ndocument.write(q);\n")
	output := filepath.Join(t.TempDir(), "report.json")

	st := new(mockStore)
	st.On("EnsureSchema", mock.Anything).Return(nil)
	st.On("PersistFindings", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(fs []findings.Finding) bool {
		return len(fs) == 1 && fs[0].RuleID == "dom-write"
	})).Return(nil)
	provider := &mockProvider{store: st}

	res, err := runAnalyze(context.Background(), zaptest.NewLogger(t), analyzeConfig(t, output), []string{dir}, true, provider)
	require.NoError(t, err)
	st.AssertExpectations(t)
	st.AssertCalled(t, "PersistFindings", mock.Anything, res.ScanID, mock.Anything)
	assert.True(t, provider.cleaned)
}

func TestRunAnalyze_PersistFailure(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "app.js", "a();")
	output := filepath.Join(t.TempDir(), "report.json")

	provider := &mockProvider{err: errors.New("database URL is not configured")}
	_, err := runAnalyze(context.Background(), zaptest.NewLogger(t), analyzeConfig(t, output), []string{dir}, true, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize store")

	// The report is written before persistence is attempted.
	_, statErr := os.Stat(output)
	assert.NoError(t, statErr)
}

// -- report --

func TestRunReport(t *testing.T) {
	output := filepath.Join(t.TempDir(), "report.json")
	stored := []findings.Finding{{RuleID: "dom-write", Kind: "xss", SinkName: "document.write"}}

	st := new(mockStore)
	st.On("GetFindingsByScanID", mock.Anything, "scan-1").Return(stored, nil)
	provider := &mockProvider{store: st}

	err := runReport(context.Background(), zaptest.NewLogger(t), config.NewDefaultConfig(), "scan-1", output, "json", provider)
	require.NoError(t, err)
	st.AssertExpectations(t)
	assert.True(t, provider.cleaned)

	report := readJSONReport(t, output)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "document.write", report.Findings[0].SinkName)
}

func TestRunReport_StoreError(t *testing.T) {
	st := new(mockStore)
	st.On("GetFindingsByScanID", mock.Anything, "scan-1").Return(nil, errors.New("connection reset"))

	err := runReport(context.Background(), zaptest.NewLogger(t), config.NewDefaultConfig(), "scan-1", "", "json", &mockProvider{store: st})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load findings for scan scan-1")
}
