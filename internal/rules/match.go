package rules

import (
	"slices"
)

// MatchPropertySource returns the property sources for an identifier or
// member access path read in file, inside function, at line.
func (r *Rules) MatchPropertySource(qid, file, function string, line int) []*Source {
	var out []*Source
	for _, s := range r.Sources {
		if s.Param != "" || s.Returns || s.path == nil || !s.path.MatchString(qid) {
			continue
		}
		if !MatchFile(s.file, file) {
			continue
		}
		if s.function != nil && !s.function.MatchString(function) {
			continue
		}
		if len(s.Lines) == 2 && (line < s.Lines[0] || line > s.Lines[1]) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// MatchParamSource returns the sources declaring param of function in file.
func (r *Rules) MatchParamSource(file, function, param string) []*Source {
	var out []*Source
	for _, s := range r.Sources {
		if s.Param == "" || s.Param != param {
			continue
		}
		if !MatchFile(s.file, file) {
			continue
		}
		if s.function != nil && !s.function.MatchString(function) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// MatchReturnSource returns the sources whose call results are tainted.
func (r *Rules) MatchReturnSource(qids ...string) []*Source {
	var out []*Source
	for _, s := range r.Sources {
		if !s.Returns || s.path == nil {
			continue
		}
		if anyMatch(s.path.MatchString, qids) {
			out = append(out, s)
		}
	}
	return out
}

// MatchSinks returns the call sinks matching a call through any of qids on a
// receiver of receiverType, invoking method.
func (r *Rules) MatchSinks(qids []string, receiverType, method string) []*Sink {
	var out []*Sink
	for _, s := range r.Sinks {
		if s.Property != "" {
			continue
		}
		if s.call != nil && !anyMatch(s.call.MatchString, qids) {
			continue
		}
		if s.receiver != nil && !s.receiver.MatchString(receiverType) {
			continue
		}
		if s.Method != "" && s.Method != method {
			continue
		}
		out = append(out, s)
	}
	return out
}

// MatchPropertySinks returns the sinks triggered by assigning to path.
func (r *Rules) MatchPropertySinks(path string) []*Sink {
	var out []*Sink
	for _, s := range r.Sinks {
		if s.property != nil && s.property.MatchString(path) {
			out = append(out, s)
		}
	}
	return out
}

// MatchSanitizer returns the sanitizers matching a call.
func (r *Rules) MatchSanitizer(qids []string, receiverType, method string) []*Sanitizer {
	var out []*Sanitizer
	for _, s := range r.Sanitizers {
		if s.call != nil && !anyMatch(s.call.MatchString, qids) {
			continue
		}
		if s.receiver != nil && !s.receiver.MatchString(receiverType) {
			continue
		}
		if s.Method != "" && s.Method != method {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SanitizerByID returns the sanitizer with the given id.
func (r *Rules) SanitizerByID(id string) (*Sanitizer, bool) {
	for _, s := range r.Sanitizers {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// SourceQIDs returns a predicate selecting identifiers that property and
// return sources mark. Values carrying those ids are re-derived on every entry
// point, so the driver clears them between entry points.
func (r *Rules) SourceQIDs() func(qid string) bool {
	var paths []func(string) bool
	for _, s := range r.Sources {
		if s.path != nil {
			paths = append(paths, s.path.MatchString)
		}
	}
	return func(qid string) bool {
		return slices.ContainsFunc(paths, func(match func(string) bool) bool { return match(qid) })
	}
}

// Matches reports whether the entry point rule applies to file.
func (e *EntryPoint) Matches(file string) bool {
	return MatchFile(e.file, file)
}

// AcceptsKind reports whether the sink reacts to a value tagged with kind.
func (s *Sink) AcceptsKind(kind string) bool {
	return len(s.Accepts) == 0 || slices.Contains(s.Accepts, kind)
}

// Covers reports whether the sanitizer protects sinks of kind.
func (s *Sanitizer) Covers(kind string) bool {
	return len(s.Kinds) == 0 || slices.Contains(s.Kinds, kind)
}

// ArgSelected reports whether argument i is checked.
func (s *Sink) ArgSelected(i int) bool {
	return len(s.Args) == 0 || slices.Contains(s.Args, i)
}

func anyMatch(match func(string) bool, qids []string) bool {
	for _, q := range qids {
		if q != "" && match(q) {
			return true
		}
	}
	return false
}
