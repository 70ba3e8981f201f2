// Package interp is the abstract interpreter: it walks unified syntax trees
// over symbolic values, consults the builtin layer and the class resolver, and
// reports every step to the registered hooks.
package interp

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/budget"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/builtins"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/classes"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// moduleExtensions are tried, in order, when an import names a file without extension.
var moduleExtensions = []string{"", ".js", ".mjs", ".cjs", ".jsx", "/index.js", ".java"}

// AnalysisContext holds everything shared by one scan. It is built once and
// threaded through the interpreter and driver; nothing in the engine reads globals.
type AnalysisContext struct {
	Config   config.EngineConfig
	Logger   *zap.Logger
	Hooks    Hooks
	Issues   *issues.Handler
	Budget   *budget.Monitor
	Builtins *builtins.Registry
	Classes  *classes.Resolver
	// Global is the root of every module scope.
	Global *value.Scope

	mu      sync.Mutex
	units   map[string]*uast.CompileUnit
	modules map[string]*value.Scope
}

// NewAnalysisContext wires the per-scan collaborators. A nil hooks value is
// replaced by NopHooks.
func NewAnalysisContext(cfg config.EngineConfig, logger *zap.Logger, hooks Hooks, handler *issues.Handler) *AnalysisContext {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if handler == nil {
		handler = issues.NewHandler(logger, cfg.Tolerance)
	}
	global := value.NewScope("global", nil, value.ScopeGlobal)
	return &AnalysisContext{
		Config:   cfg,
		Logger:   logger,
		Hooks:    hooks,
		Issues:   handler,
		Budget:   budget.NewMonitor(logger, cfg.MemoryBudgetMB, cfg.CloneDepth),
		Builtins: builtins.NewRegistry(logger),
		Classes:  classes.NewResolver(logger),
		Global:   global,
		units:    make(map[string]*uast.CompileUnit),
		modules:  make(map[string]*value.Scope),
	}
}

func normalize(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// AddUnit registers a parsed compile unit. Safe for concurrent use by the parse pass.
func (c *AnalysisContext) AddUnit(unit *uast.CompileUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[normalize(unit.URI)] = unit
}

// Unit returns the compile unit registered for file.
func (c *AnalysisContext) Unit(file string) (*uast.CompileUnit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.units[normalize(file)]
	return u, ok
}

// Files returns every registered file in sorted order.
func (c *AnalysisContext) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.units))
	for f := range c.units {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Module returns the memoized module scope for file.
func (c *AnalysisContext) Module(file string) (*value.Scope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.modules[normalize(file)]
	return s, ok
}

func (c *AnalysisContext) storeModule(file string, s *value.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[normalize(file)] = s
}

// resolveImport maps an import source written in from to a registered file.
// Relative paths are resolved against from's directory; dotted names are
// matched as Java-style package paths.
func (c *AnalysisContext) resolveImport(from, source string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.HasPrefix(source, ".") || strings.HasPrefix(source, "/") {
		base := source
		if !strings.HasPrefix(source, "/") {
			base = path.Join(path.Dir(normalize(from)), source)
		}
		for _, ext := range moduleExtensions {
			if _, ok := c.units[normalize(base+ext)]; ok {
				return normalize(base + ext), true
			}
		}
		return "", false
	}
	if strings.Contains(source, ".") && !strings.ContainsAny(source, "/@") {
		suffix := "/" + strings.ReplaceAll(source, ".", "/") + ".java"
		for f := range c.units {
			if strings.HasSuffix("/"+f, suffix) {
				return f, true
			}
		}
	}
	return "", false
}
