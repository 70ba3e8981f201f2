package value

// Fields is an insertion-ordered string-keyed map. Ordering keeps iteration,
// overflow flushing and reports deterministic.
type Fields struct {
	keys []string
	m    map[string]Value
}

func (f *Fields) Get(name string) (Value, bool) {
	if f.m == nil {
		return nil, false
	}
	v, ok := f.m[name]
	return v, ok
}

func (f *Fields) Set(name string, v Value) {
	if f.m == nil {
		f.m = make(map[string]Value)
	}
	if _, ok := f.m[name]; !ok {
		f.keys = append(f.keys, name)
	}
	f.m[name] = v
}

// Delete removes name and reports whether it was present.
func (f *Fields) Delete(name string) bool {
	if _, ok := f.m[name]; !ok {
		return false
	}
	delete(f.m, name)
	for i, k := range f.keys {
		if k == name {
			f.keys = append(f.keys[:i:i], f.keys[i+1:]...)
			break
		}
	}
	return true
}

func (f *Fields) Len() int { return len(f.keys) }

// Keys returns a copy of the keys in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Values returns the values in insertion order.
func (f *Fields) Values() []Value {
	out := make([]Value, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, f.m[k])
	}
	return out
}

// Range calls fn for each entry until fn returns false.
func (f *Fields) Range(fn func(name string, v Value) bool) {
	for _, k := range f.Keys() {
		v, ok := f.m[k]
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

func (f *Fields) Clear() {
	f.keys = nil
	f.m = nil
}

func (f *Fields) clone() Fields {
	var out Fields
	for _, k := range f.keys {
		out.Set(k, f.m[k])
	}
	return out
}

// Holder is implemented by variants that carry a field map.
type Holder interface {
	Value
	Fields() *Fields
}
