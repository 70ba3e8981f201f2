package interp

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
)

// State is the execution state of one entry point.
type State struct {
	// EntryPoint is the dedup key of the entry point being interpreted.
	EntryPoint string

	frames []*frame
	log    *writeLog
}

// frame tracks one function activation.
type frame struct {
	fn      *value.Function
	scope   *value.Scope
	returns []value.Value
	thrown  []value.Value

	returned bool
	throwing bool
	broke    bool
}

func (f *frame) done() bool { return f.returned || f.throwing || f.broke }

func newState(entry string) *State {
	return &State{EntryPoint: entry, frames: []*frame{{}}}
}

// Depth is the number of active function frames.
func (s *State) Depth() int { return len(s.frames) - 1 }

// Function returns the innermost function being interpreted, or nil at module level.
func (s *State) Function() *value.Function {
	return s.top().fn
}

func (s *State) top() *frame { return s.frames[len(s.frames)-1] }

func (s *State) push(f *frame) { s.frames = append(s.frames, f) }

func (s *State) pop() { s.frames = s.frames[:len(s.frames)-1] }

// rethrow hands what f threw to the calling frame. The caller stops only when
// every path through f threw.
func (s *State) rethrow(f *frame) {
	if len(f.thrown) == 0 || len(s.frames) < 2 {
		return
	}
	caller := s.frames[len(s.frames)-2]
	caller.thrown = append(caller.thrown, f.thrown...)
	if f.throwing && len(f.returns) == 0 {
		caller.throwing = true
	}
}

// active counts how many frames are running def.
func (s *State) active(fn *value.Function) int {
	n := 0
	for _, f := range s.frames {
		if f.fn != nil && fn.Def != nil && f.fn.Def == fn.Def {
			n++
		}
	}
	return n
}

type slot struct {
	holder value.Holder
	name   string
}

type write struct {
	slot
	old value.Value
	had bool
	now value.Value
}

// writeLog remembers the pre-branch value of every binding written inside a
// branch so alternatives start from the same state and can be joined afterwards.
type writeLog struct {
	order   []slot
	entries map[slot]*write
}

func newWriteLog() *writeLog {
	return &writeLog{entries: make(map[slot]*write)}
}

func (l *writeLog) record(h value.Holder, name string) {
	if l == nil {
		return
	}
	k := slot{h, name}
	if _, ok := l.entries[k]; ok {
		return
	}
	old, had := h.Fields().Get(name)
	l.entries[k] = &write{slot: k, old: old, had: had}
	l.order = append(l.order, k)
}

// rewind captures the branch's final values and restores the pre-branch state.
func (l *writeLog) rewind() {
	for i := len(l.order) - 1; i >= 0; i-- {
		w := l.entries[l.order[i]]
		w.now, _ = w.holder.Fields().Get(w.name)
		if w.had {
			w.holder.Fields().Set(w.name, w.old)
		} else {
			w.holder.Fields().Delete(w.name)
		}
	}
}

// setField writes through the current branch log.
func (s *State) setField(h value.Holder, name string, v value.Value) {
	s.log.record(h, name)
	switch t := h.(type) {
	case *value.Scope:
		t.SetField(name, v)
	case *value.Object:
		t.SetField(name, v)
	default:
		h.Fields().Set(name, v)
		if v != nil && v.Attrs().HasTaintedDescendant() {
			h.Attrs().SetTaintedDescendant()
		}
	}
}

// branches runs each arm from the same starting state and joins every binding
// any arm wrote. With open set, the path that runs no arm at all also
// contributes the pre-branch values. Code after the branch is dead only when
// every path ended in a return, throw, break or continue.
func (s *State) branches(open bool, arms ...func()) {
	outer := s.log
	f := s.top()
	start := *f
	var logs []*writeLog
	allDone, allExit := !open, !open
	var returned, thrown []value.Value
	for _, arm := range arms {
		log := newWriteLog()
		s.log = log
		f.returned, f.throwing, f.broke = false, false, false
		f.returns, f.thrown = nil, nil
		arm()
		log.rewind()
		logs = append(logs, log)
		if !f.done() {
			allDone = false
		}
		if !f.returned && !f.throwing {
			allExit = false
		}
		returned = append(returned, f.returns...)
		thrown = append(thrown, f.thrown...)
	}
	s.log = outer

	f.returned, f.throwing, f.broke = start.returned, start.throwing, start.broke
	if allDone && len(arms) > 0 {
		if allExit {
			f.returned = true
		} else {
			f.broke = true
		}
	}
	f.returns = append(start.returns, returned...)
	f.thrown = append(start.thrown, thrown...)

	var order []slot
	seen := make(map[slot]*write)
	for _, l := range logs {
		for _, k := range l.order {
			if _, ok := seen[k]; !ok {
				seen[k] = l.entries[k]
				order = append(order, k)
			}
		}
	}
	for _, k := range order {
		first := seen[k]
		var alts []value.Value
		for _, l := range logs {
			if w, ok := l.entries[k]; ok {
				alts = append(alts, w.now)
			} else if first.had {
				alts = append(alts, first.old)
			}
		}
		if open && first.had {
			alts = append(alts, first.old)
		}
		s.setField(k.holder, k.name, value.Join(alts...))
	}
}
