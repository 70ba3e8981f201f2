// Package workspace discovers the source files of a scan and parses them in
// parallel into compile units.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Program is the set of compile units of one scan, sorted by path.
type Program struct {
	Units []*uast.CompileUnit
}

// Files returns the paths of every unit in order.
func (p *Program) Files() []string {
	out := make([]string, len(p.Units))
	for i, u := range p.Units {
		out[i] = u.URI
	}
	return out
}

// Unit looks up the compile unit for path.
func (p *Program) Unit(path string) (*uast.CompileUnit, bool) {
	path = filepath.ToSlash(filepath.Clean(path))
	i := sort.Search(len(p.Units), func(i int) bool { return p.Units[i].URI >= path })
	if i < len(p.Units) && p.Units[i].URI == path {
		return p.Units[i], true
	}
	return nil, false
}

// source is a discovered file whose content is read lazily by the parse pass.
type source struct {
	path string
	read func() ([]byte, error)
}

// Loader turns scan roots into a Program.
type Loader struct {
	cfg      config.WorkspaceConfig
	registry *frontend.Registry
	handler  *issues.Handler
	logger   *zap.Logger
	exclude  gitignore.Matcher
}

// NewLoader builds a loader. Exclude globs use gitignore syntax.
func NewLoader(cfg config.WorkspaceConfig, registry *frontend.Registry, handler *issues.Handler, logger *zap.Logger) *Loader {
	patterns := make([]gitignore.Pattern, 0, len(cfg.Exclude))
	for _, glob := range cfg.Exclude {
		patterns = append(patterns, gitignore.ParsePattern(glob, nil))
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Loader{
		cfg:      cfg,
		registry: registry,
		handler:  handler,
		logger:   logger.Named("workspace"),
		exclude:  gitignore.NewMatcher(patterns),
	}
}

// Load discovers every supported file under roots and parses it. Files that
// fail to parse are reported to the issues handler; a partially recovered
// tree is still kept. The returned error is non-nil only when discovery fails,
// the context is cancelled, or the handler decides to abort.
func (l *Loader) Load(ctx context.Context, roots []string) (*Program, error) {
	start := time.Now()
	var sources []source
	for _, root := range roots {
		var (
			found []source
			err   error
		)
		if l.cfg.GitRef != "" {
			found, err = l.discoverGit(root)
		} else {
			found, err = l.discoverFS(root)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to discover sources under %s: %w", root, err)
		}
		sources = append(sources, found...)
	}
	sources = dedupe(sources)
	l.logger.Info("Discovered source files.",
		zap.Int("files", len(sources)),
		zap.String("git_ref", l.cfg.GitRef),
		zap.Int("concurrency", l.cfg.Concurrency))

	var (
		mu    sync.Mutex
		units []*uast.CompileUnit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unit, err := l.parse(gctx, src)
			if err != nil {
				if handleErr := l.handler.Handle(&issues.ParseError{Path: src.path, Err: err}); handleErr != nil {
					return handleErr
				}
			}
			if unit != nil {
				mu.Lock()
				units = append(units, unit)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(units, func(i, j int) bool { return units[i].URI < units[j].URI })
	l.logger.Info("Workspace loaded.",
		zap.Int("units", len(units)),
		zap.Int("failed", len(sources)-len(units)),
		zap.Duration("duration", time.Since(start)))
	return &Program{Units: units}, nil
}

func (l *Loader) parse(ctx context.Context, src source) (*uast.CompileUnit, error) {
	parser, ok := l.registry.ForPath(src.path)
	if !ok {
		return nil, fmt.Errorf("no parser registered for %s", src.path)
	}
	data, err := src.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	unit, err := parser.Parse(ctx, src.path, data)
	var syntaxErr *frontend.SyntaxError
	if err != nil && !errors.As(err, &syntaxErr) {
		return nil, err
	}
	return unit, err
}

// accept reports whether a file at rel (slash separated, relative to the
// scan root) should be parsed.
func (l *Loader) accept(rel string, ignore gitignore.Matcher) bool {
	if _, ok := l.registry.ForPath(rel); !ok {
		return false
	}
	parts := strings.Split(rel, "/")
	if l.exclude.Match(parts, false) {
		return false
	}
	return ignore == nil || !ignore.Match(parts, false)
}

func (l *Loader) discoverFS(root string) ([]source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		path := filepath.ToSlash(filepath.Clean(root))
		if _, ok := l.registry.ForPath(path); !ok {
			l.logger.Warn("Skipping file with unsupported extension.", zap.String("file", path))
			return nil, nil
		}
		return []source{fileSource(path)}, nil
	}

	// .gitignore files inside the root apply on top of the configured excludes.
	patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		l.logger.Debug("Could not read .gitignore patterns.", zap.String("root", root), zap.Error(err))
	}
	ignore := gitignore.NewMatcher(patterns)

	var out []source
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			parts := strings.Split(rel, "/")
			if d.Name() == ".git" || l.exclude.Match(parts, true) || ignore.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !l.accept(rel, ignore) {
			return nil
		}
		out = append(out, fileSource(filepath.ToSlash(filepath.Clean(path))))
		return nil
	})
	return out, err
}

func fileSource(path string) source {
	return source{path: path, read: func() ([]byte, error) { return os.ReadFile(path) }}
}

func dedupe(in []source) []source {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s.path] {
			continue
		}
		seen[s.path] = true
		out = append(out, s)
	}
	return out
}
