// Package issues defines the engine's error taxonomy and the single handler
// that decides whether an error aborts the scan.
package issues

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// Severity weights. An issue aborts the scan when its weight exceeds the tolerance factor.
const (
	WeightUnexpected = 1
	WeightParse      = 2
	WeightEngine     = 3
	WeightTimeout    = 5
)

// DefaultTolerance lets everything but timeouts continue.
const DefaultTolerance = WeightEngine

// ErrAborted is wrapped by every fatal issue returned from Handle.
var ErrAborted = errors.New("analysis aborted")

// Issue is implemented by every engine error.
type Issue interface {
	error
	Severity() int
	File() string
}

// ParseError means a source file could not be turned into a syntax tree.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }
func (e *ParseError) Severity() int { return WeightParse }
func (e *ParseError) File() string  { return e.Path }

// UnexpectedNodeError means the dispatcher met a construct it cannot model.
type UnexpectedNodeError struct {
	Node uast.Node
	Kind string
}

func (e *UnexpectedNodeError) Error() string {
	return fmt.Sprintf("unexpected node %s at %s", e.Kind, loc(e.Node))
}
func (e *UnexpectedNodeError) Severity() int { return WeightUnexpected }
func (e *UnexpectedNodeError) File() string  { return file(e.Node) }

// UnexpectedValueError means a value had a variant the operation cannot handle.
type UnexpectedValueError struct {
	Node   uast.Node
	Detail string
}

func (e *UnexpectedValueError) Error() string {
	return fmt.Sprintf("unexpected value at %s: %s", loc(e.Node), e.Detail)
}
func (e *UnexpectedValueError) Severity() int { return WeightUnexpected }
func (e *UnexpectedValueError) File() string  { return file(e.Node) }

// EngineError means an interpreter invariant was violated.
type EngineError struct {
	Node  uast.Node
	Cause any
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error at %s: %v", loc(e.Node), e.Cause)
}
func (e *EngineError) Severity() int { return WeightEngine }
func (e *EngineError) File() string  { return file(e.Node) }

func (e *EngineError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// TimeoutError is raised when the external deadline expires.
type TimeoutError struct {
	Path string
	Err  error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout analysing %s: %v", e.Path, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) Severity() int { return WeightTimeout }
func (e *TimeoutError) File() string  { return e.Path }

// AbortError is what Handle returns when an issue is fatal.
type AbortError struct {
	Issue Issue
}

func (e *AbortError) Error() string { return fmt.Sprintf("%v: %v", ErrAborted, e.Issue) }
func (e *AbortError) Unwrap() []error {
	return []error{ErrAborted, e.Issue}
}

func loc(n uast.Node) string {
	if n == nil {
		return "<unknown>"
	}
	return n.Loc().String()
}

func file(n uast.Node) string {
	if n == nil {
		return ""
	}
	return n.Loc().File
}

// Handler is the funnel every engine error passes through. It is safe for
// concurrent use since the parse pass reports from several goroutines.
type Handler struct {
	logger    *zap.Logger
	tolerance int

	mu      sync.Mutex
	perFile map[string]int
	total   int
	fatal   Issue
}

// NewHandler builds a handler with the given tolerance factor.
func NewHandler(logger *zap.Logger, tolerance int) *Handler {
	return &Handler{
		logger:    logger.Named("issues"),
		tolerance: tolerance,
		perFile:   make(map[string]int),
	}
}

// Handle records issue and returns nil to continue, or an *AbortError when
// the issue's severity exceeds the tolerance.
func (h *Handler) Handle(issue Issue) error {
	if issue == nil {
		return nil
	}
	h.mu.Lock()
	h.perFile[issue.File()]++
	h.total++
	fatal := issue.Severity() > h.tolerance
	if fatal && h.fatal == nil {
		h.fatal = issue
	}
	h.mu.Unlock()

	fields := []zap.Field{
		zap.String("file", issue.File()),
		zap.Int("severity", issue.Severity()),
		zap.Error(issue),
	}
	if fatal {
		h.logger.Error("Fatal analysis issue, aborting.", fields...)
		return &AbortError{Issue: issue}
	}
	if issue.Severity() <= WeightUnexpected {
		h.logger.Debug("Recoverable analysis issue.", fields...)
	} else {
		h.logger.Warn("Recoverable analysis issue.", fields...)
	}
	return nil
}

// Total returns the number of issues seen.
func (h *Handler) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Fatal returns the first fatal issue, if any.
func (h *Handler) Fatal() Issue {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatal
}

// FileCount is the issue count for one file.
type FileCount struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// Counts returns per-file issue counts sorted by file.
func (h *Handler) Counts() []FileCount {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FileCount, 0, len(h.perFile))
	for f, c := range h.perFile {
		out = append(out, FileCount{File: f, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// IsAbort reports whether err is a fatal abort.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted)
}
