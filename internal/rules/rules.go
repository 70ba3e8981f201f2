// Package rules loads the source, sink, sanitizer and entry point tables the
// taint checker consults. Nothing in the engine reads these directly.
package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultRules []byte

// Source marks values as tainted. Exactly one of three shapes applies:
// a property source (Path), a return source (Path with Returns) or a
// parameter source (Param, optionally narrowed by File and Function).
type Source struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path,omitempty"`
	File     string `yaml:"file,omitempty"`
	Function string `yaml:"function,omitempty"`
	Param    string `yaml:"param,omitempty"`
	// Lines restricts a property source to an inclusive [from, to] range.
	Lines   []int `yaml:"lines,omitempty,flow"`
	Returns bool  `yaml:"returns,omitempty"`

	path     *regexp.Regexp
	function *regexp.Regexp
	file     gitignore.Pattern
}

// Sink is a dangerous call or property. A call sink matches when every
// criterion it sets matches: Call against the call path, ReceiverType against
// the receiver's type, Method against the invoked member name.
type Sink struct {
	ID           string `yaml:"id"`
	Kind         string `yaml:"kind"`
	Call         string `yaml:"call,omitempty"`
	ReceiverType string `yaml:"receiver_type,omitempty"`
	Method       string `yaml:"method,omitempty"`
	Property     string `yaml:"property,omitempty"`
	// Args selects the checked argument positions; empty means all.
	Args []int `yaml:"args,omitempty,flow"`
	// Accepts lists the source kinds this sink reacts to; empty means all.
	Accepts    []string `yaml:"accepts,omitempty,flow"`
	Sanitizers []string `yaml:"sanitizers,omitempty,flow"`
	Label      string   `yaml:"label,omitempty"`

	call     *regexp.Regexp
	receiver *regexp.Regexp
	property *regexp.Regexp
}

// Sanitizer protects sinks of the listed kinds, or of every kind when Kinds is empty.
type Sanitizer struct {
	ID           string   `yaml:"id"`
	Call         string   `yaml:"call,omitempty"`
	ReceiverType string   `yaml:"receiver_type,omitempty"`
	Method       string   `yaml:"method,omitempty"`
	Kinds        []string `yaml:"kinds,omitempty,flow"`

	call     *regexp.Regexp
	receiver *regexp.Regexp
}

// EntryPoint names a function the driver starts an analysis pass from.
// Function may be qualified as "Class.method".
type EntryPoint struct {
	File      string `yaml:"file"`
	Function  string `yaml:"function"`
	Attribute string `yaml:"attribute,omitempty"`

	file gitignore.Pattern
}

// Rules is one rule set.
type Rules struct {
	Sources     []*Source     `yaml:"sources"`
	Sinks       []*Sink       `yaml:"sinks"`
	Sanitizers  []*Sanitizer  `yaml:"sanitizers"`
	EntryPoints []*EntryPoint `yaml:"entrypoints"`

	compiled bool
}

// Parse decodes and compiles a YAML rule document. Unknown keys are errors.
func Parse(data []byte) (*Rules, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	r := &Rules{}
	if err := dec.Decode(r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if err := r.Compile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads and parses the rule file at path. A leading "~" is expanded.
func Load(path string) (*Rules, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not expand rules path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	return r, nil
}

// Default returns the built-in rule set.
func Default() *Rules {
	r, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded default rules are invalid: %v", err))
	}
	return r
}

// Merge returns a compiled rule set holding the rules of every input in order.
func Merge(sets ...*Rules) (*Rules, error) {
	out := &Rules{}
	for _, s := range sets {
		if s == nil {
			continue
		}
		out.Sources = append(out.Sources, s.Sources...)
		out.Sinks = append(out.Sinks, s.Sinks...)
		out.Sanitizers = append(out.Sanitizers, s.Sanitizers...)
		out.EntryPoints = append(out.EntryPoints, s.EntryPoints...)
	}
	if err := out.Compile(); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal renders the rule set as YAML.
func (r *Rules) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compile validates every rule and compiles its patterns. It is idempotent.
func (r *Rules) Compile() error {
	var errs []error
	ids := make(map[string]struct{})
	unique := func(kind, id string) {
		if id == "" {
			errs = append(errs, fmt.Errorf("%s rule without an id", kind))
			return
		}
		if _, dup := ids[kind+"/"+id]; dup {
			errs = append(errs, fmt.Errorf("duplicate %s rule %q", kind, id))
		}
		ids[kind+"/"+id] = struct{}{}
	}

	for _, s := range r.Sources {
		unique("source", s.ID)
		if s.Kind == "" {
			errs = append(errs, fmt.Errorf("source %q: kind is required", s.ID))
		}
		switch {
		case s.Param != "" && (s.Path != "" || s.Returns):
			errs = append(errs, fmt.Errorf("source %q: param sources cannot also set path or returns", s.ID))
		case s.Param == "" && s.Path == "":
			errs = append(errs, fmt.Errorf("source %q: one of path or param is required", s.ID))
		}
		if len(s.Lines) != 0 && (len(s.Lines) != 2 || s.Lines[0] > s.Lines[1]) {
			errs = append(errs, fmt.Errorf("source %q: lines must be [from, to]", s.ID))
		}
		var err error
		if s.path, err = anchored(s.Path); err != nil {
			errs = append(errs, fmt.Errorf("source %q: path: %w", s.ID, err))
		}
		if s.function, err = anchored(s.Function); err != nil {
			errs = append(errs, fmt.Errorf("source %q: function: %w", s.ID, err))
		}
		s.file = glob(s.File)
	}

	for _, s := range r.Sinks {
		unique("sink", s.ID)
		if s.Kind == "" {
			errs = append(errs, fmt.Errorf("sink %q: kind is required", s.ID))
		}
		if s.Call == "" && s.Method == "" && s.Property == "" {
			errs = append(errs, fmt.Errorf("sink %q: one of call, method or property is required", s.ID))
		}
		if s.Property != "" && (s.Call != "" || s.Method != "") {
			errs = append(errs, fmt.Errorf("sink %q: property sinks cannot also match calls", s.ID))
		}
		for _, a := range s.Args {
			if a < 0 {
				errs = append(errs, fmt.Errorf("sink %q: negative argument index %d", s.ID, a))
			}
		}
		var err error
		if s.call, err = anchored(s.Call); err != nil {
			errs = append(errs, fmt.Errorf("sink %q: call: %w", s.ID, err))
		}
		if s.receiver, err = anchored(s.ReceiverType); err != nil {
			errs = append(errs, fmt.Errorf("sink %q: receiver_type: %w", s.ID, err))
		}
		if s.property, err = anchored(s.Property); err != nil {
			errs = append(errs, fmt.Errorf("sink %q: property: %w", s.ID, err))
		}
	}

	for _, s := range r.Sanitizers {
		unique("sanitizer", s.ID)
		if s.Call == "" && s.Method == "" {
			errs = append(errs, fmt.Errorf("sanitizer %q: one of call or method is required", s.ID))
		}
		var err error
		if s.call, err = anchored(s.Call); err != nil {
			errs = append(errs, fmt.Errorf("sanitizer %q: call: %w", s.ID, err))
		}
		if s.receiver, err = anchored(s.ReceiverType); err != nil {
			errs = append(errs, fmt.Errorf("sanitizer %q: receiver_type: %w", s.ID, err))
		}
	}

	for i, e := range r.EntryPoints {
		if e.File == "" || e.Function == "" {
			errs = append(errs, fmt.Errorf("entrypoint %d: file and function are required", i))
		}
		e.file = glob(e.File)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	r.compiled = true
	return nil
}

// anchored compiles p so it must match a whole identifier. Empty patterns compile to nil.
func anchored(p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, nil
	}
	return regexp.Compile("^(?:" + p + ")$")
}

// glob parses a gitignore-style file pattern. Empty patterns match every file.
func glob(p string) gitignore.Pattern {
	if p == "" {
		return nil
	}
	return gitignore.ParsePattern(p, nil)
}

// MatchFile reports whether file matches the gitignore-style pattern.
func MatchFile(pattern gitignore.Pattern, file string) bool {
	if pattern == nil {
		return true
	}
	parts := strings.Split(strings.TrimPrefix(file, "/"), "/")
	return pattern.Match(parts, false) == gitignore.Exclude
}
