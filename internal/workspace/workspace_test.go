package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend/java"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend/javascript"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newLoader(t *testing.T, cfg config.WorkspaceConfig, handler *issues.Handler) *Loader {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := frontend.NewRegistry(javascript.New(logger), java.New(logger))
	return NewLoader(cfg, registry, handler, logger)
}

func defaultWorkspace() config.WorkspaceConfig {
	return config.NewDefaultConfig().Workspace()
}

func TestLoad_Filesystem(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app.js":                     "const q = location.hash;",
		"lib/util.js":                "module.exports = { f: (x) => x };",
		"src/Main.java":              "class Main {}",
		"node_modules/dep/index.js":  "exports.a = 1;",
		"dist/app.min.js":            "var a=1;",
		"generated/out.js":           "var b = 2;",
		"README.md":                  "# readme",
		".gitignore":                 "generated/\n",
		"vendor/third_party/lib.mjs": "export const c = 3;",
	})

	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	program, err := newLoader(t, defaultWorkspace(), handler).Load(context.Background(), []string{root})
	require.NoError(t, err)

	rel := func(p string) string { return filepath.ToSlash(filepath.Join(root, p)) }
	assert.Equal(t, []string{rel("app.js"), rel("lib/util.js"), rel("src/Main.java")}, program.Files())
	assert.Zero(t, handler.Total())

	unit, ok := program.Unit(rel("src/Main.java"))
	require.True(t, ok)
	assert.Equal(t, java.Language, unit.Language)
	_, ok = program.Unit(rel("README.md"))
	assert.False(t, ok)
}

func TestLoad_SyntaxErrorIsReportedAndKept(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"good.js": "sink(source());",
		"bad.js":  "function ( {",
	})

	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	program, err := newLoader(t, defaultWorkspace(), handler).Load(context.Background(), []string{root})
	require.NoError(t, err, "parse errors are below the default tolerance")

	assert.Len(t, program.Units, 2, "the partially recovered tree is kept")
	assert.Equal(t, 1, handler.Total())
	counts := handler.Counts()
	require.Len(t, counts, 1)
	assert.Equal(t, filepath.ToSlash(filepath.Join(root, "bad.js")), counts[0].File)
}

func TestLoad_AbortsWhenToleranceIsLow(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"bad.js": "function ( {"})

	handler := issues.NewHandler(zap.NewNop(), issues.WeightUnexpected)
	cfg := defaultWorkspace()
	cfg.Concurrency = 1
	_, err := newLoader(t, cfg, handler).Load(context.Background(), []string{root})
	require.Error(t, err)
	assert.True(t, issues.IsAbort(err))
}

func TestLoad_SingleFileRoot(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"one.js": "a();", "notes.txt": "x"})

	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	loader := newLoader(t, defaultWorkspace(), handler)
	file := filepath.Join(root, "one.js")

	// The same file given twice is parsed once.
	program, err := loader.Load(context.Background(), []string{file, file, filepath.Join(root, "notes.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.ToSlash(file)}, program.Files())
}

func TestLoad_MissingRoot(t *testing.T) {
	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	_, err := newLoader(t, defaultWorkspace(), handler).Load(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover sources")
}

func TestLoad_CancelledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.js": "a();", "b.js": "b();"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	_, err := newLoader(t, defaultWorkspace(), handler).Load(ctx, []string{root})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_GitRef(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	writeFiles(t, root, map[string]string{
		"web/app.js":    "document.write(location.hash);",
		"web/style.css": "body {}",
		"other/x.js":    "x();",
	})

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	// Uncommitted edits and untracked files are invisible at the ref.
	writeFiles(t, root, map[string]string{
		"web/app.js":   "safe();",
		"web/extra.js": "untracked();",
	})

	cfg := defaultWorkspace()
	cfg.GitRef = "HEAD"
	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	webRoot := filepath.Join(root, "web")
	program, err := newLoader(t, cfg, handler).Load(context.Background(), []string{webRoot})
	require.NoError(t, err)

	require.Equal(t, []string{filepath.ToSlash(filepath.Join(webRoot, "app.js"))}, program.Files())
	assert.Contains(t, program.Units[0].Body[0].Loc().Snippet, "document.write")
}

func TestLoad_UnknownGitRef(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)

	cfg := defaultWorkspace()
	cfg.GitRef = "no-such-branch"
	handler := issues.NewHandler(zap.NewNop(), issues.DefaultTolerance)
	_, err = newLoader(t, cfg, handler).Load(context.Background(), []string{root})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve revision")
}
