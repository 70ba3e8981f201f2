package builtins

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

var (
	mapMethods   map[string]method
	setMethods   map[string]method
	entryMethods map[string]method
)

func init() {
	mapMethods = map[string]method{
		"put":              mapPut,
		"set":              mapPut,
		"setProperty":      mapPut,
		"get":              mapGet,
		"getOrDefault":     mapGet,
		"getProperty":      mapGet,
		"opt":              mapGet,
		"containsKey":      mapHas,
		"has":              mapHas,
		"containsValue":    symbolicBool,
		"remove":           mapRemove,
		"delete":           mapRemove,
		"putIfAbsent":      mapPutIfAbsent,
		"computeIfAbsent":  mapComputeIfAbsent,
		"compute":          mapRecompute,
		"computeIfPresent": mapRecompute,
		"merge":            mapRecompute,
		"putAll":           mapPutAll,
		"replaceAll":       mapRecompute,
		"forEach":          mapForEach,
		"keySet":           mapKeys,
		"keys":             mapKeys,
		"values":           mapValuesView,
		"entrySet":         mapEntries,
		"entries":          mapEntries,
		"size":             size,
		"isEmpty":          isEmpty,
		"clear":            clearAll,
		"toString":         joinToString,
	}

	setMethods = sequenceMethods()
	setMethods["add"] = setAdd
	setMethods["contains"] = setHas
	setMethods["has"] = setHas
	setMethods["remove"] = setRemove
	setMethods["delete"] = setRemove

	entryMethods = sequenceMethods()
	entryMethods["getKey"] = entryPart(0)
	entryMethods["getValue"] = entryPart(1)
	entryMethods["setValue"] = entrySetValue
}

// mapValues returns the stored values of a map-like container.
func mapValues(s *value.Scope) []value.Value {
	return elements(s)
}

// mapKeysOf returns the key values of a precise map in insertion order.
func mapKeysOf(s *value.Scope) []value.Value {
	var out []value.Value
	for _, sig := range s.Fields().Keys() {
		if k, ok := s.Container.KeyRefs[sig]; ok {
			out = append(out, k)
		}
	}
	return out
}

// mapPairs returns aligned keys and values of a precise map.
func mapPairs(s *value.Scope) (keys, vals []value.Value) {
	s.Fields().Range(func(sig string, v value.Value) bool {
		k, ok := s.Container.KeyRefs[sig]
		if !ok {
			k = value.NewUndefined(value.ID{Local: sig})
		}
		keys = append(keys, k)
		vals = append(vals, v)
		return true
	})
	return keys, vals
}

func keyRefs(s *value.Scope) map[string]value.Value {
	if s.Container.KeyRefs == nil {
		s.Container.KeyRefs = make(map[string]value.Value)
	}
	return s.Container.KeyRefs
}

// degradeMap flushes values and keys so both stay visible to taint queries.
func degradeMap(s *value.Scope) {
	if s.Container.Precise() {
		for _, k := range mapKeysOf(s) {
			store(s, k)
		}
	}
	degrade(s)
}

// pinned resolves key to a signature when the map is precise.
func pinned(s *value.Scope, key value.Value) (string, bool) {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return "", false
	}
	return value.Signature(key)
}

func putEntry(s *value.Scope, sig string, key, v value.Value) {
	s.SetField(sig, v)
	keyRefs(s)[sig] = key
	if key != nil && key.Attrs().HasTaintedDescendant() {
		s.Attrs().SetTaintedDescendant()
	}
}

func mapPut(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) < 2 {
		return degradeAndReturn(s, c)
	}
	key, v := c.Args[0], c.Args[1]
	sig, ok := pinned(s, key)
	if !ok {
		degradeMap(s)
		store(s, key)
		store(s, v)
		return conservative(s)
	}
	old, had := s.Field(sig)
	putEntry(s, sig, key, v)
	if c.Name == "set" {
		return s
	}
	if had {
		return old
	}
	return undefinedResult(c)
}

func mapGet(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return contents(s, resultID(c))
	}
	var fallback []value.Value
	if len(c.Args) > 1 {
		fallback = c.Args[1:2]
	}
	sig, ok := pinned(s, c.Args[0])
	if !ok {
		if s.Container.Precise() {
			degradeMap(s)
		}
		return value.Join(append([]value.Value{conservative(s)}, fallback...)...)
	}
	if v, found := s.Field(sig); found {
		return v
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return undefinedResult(c)
}

func mapHas(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return symbolic(c, uast.LiteralBool)
	}
	sig, ok := pinned(s, c.Args[0])
	if !ok {
		return symbolic(c, uast.LiteralBool)
	}
	_, found := s.Field(sig)
	return boolLiteral(found)
}

func mapRemove(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return degradeAndReturn(s, c)
	}
	sig, ok := pinned(s, c.Args[0])
	if !ok {
		if s.Container.Precise() {
			degradeMap(s)
		}
		return conservative(s)
	}
	old, had := s.Field(sig)
	if !had {
		return undefinedResult(c)
	}
	s.Fields().Delete(sig)
	delete(s.Container.KeyRefs, sig)
	return old
}

func mapPutIfAbsent(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) < 2 {
		return degradeAndReturn(s, c)
	}
	sig, ok := pinned(s, c.Args[0])
	if !ok {
		degradeMap(s)
		store(s, c.Args[0])
		store(s, c.Args[1])
		return conservative(s)
	}
	if old, had := s.Field(sig); had {
		return old
	}
	putEntry(s, sig, c.Args[0], c.Args[1])
	return undefinedResult(c)
}

func mapComputeIfAbsent(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) < 2 {
		return degradeAndReturn(s, c)
	}
	key, cb := c.Args[0], c.Args[1]
	sig, ok := pinned(s, key)
	if !ok {
		degradeMap(s)
		r := invoke(c, cb, key)
		store(s, key)
		store(s, r)
		return conservative(s)
	}
	if old, had := s.Field(sig); had {
		return old
	}
	r := invoke(c, cb, key)
	putEntry(s, sig, key, r)
	return r
}

// mapRecompute covers compute, merge and replaceAll: the callback result
// replaces an entry that cannot be pinned statically.
func mapRecompute(s *value.Scope, c *value.Call) value.Value {
	elem := contents(s, resultID(c))
	degradeMap(s)
	var results []value.Value
	for _, a := range c.Args {
		if _, isFn := a.(*value.Function); isFn {
			r := invoke(c, a, elem, elem)
			store(s, r)
			results = append(results, r)
			continue
		}
		store(s, a)
	}
	if len(results) > 0 {
		return value.Join(results...)
	}
	return conservative(s)
}

func mapPutAll(s *value.Scope, c *value.Call) value.Value {
	degradeMap(s)
	for _, a := range c.Args {
		for _, alt := range value.Alternatives(a) {
			if sc, ok := alt.(*value.Scope); ok && sc.Container != nil && sc.Container.Type == TypeMap {
				for _, k := range mapKeysOf(sc) {
					store(s, k)
				}
			}
		}
		for _, e := range elemsOf(a) {
			store(s, e)
		}
	}
	return undefinedResult(c)
}

func mapForEach(s *value.Scope, c *value.Call) value.Value {
	cb := callbackArg(c)
	if cb == nil {
		return undefinedResult(c)
	}
	ensureConsistent(s)
	if !s.Container.Precise() {
		invoke(c, cb, s, s)
		return undefinedResult(c)
	}
	// Parameter order differs between languages; both positions see both halves.
	keys, vals := mapPairs(s)
	for i, v := range vals {
		both := value.Join(keys[i], v)
		invoke(c, cb, both, both)
	}
	return undefinedResult(c)
}

func mapKeys(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return newView(c, s, TypeIterator, elements(s))
	}
	return newView(c, s, TypeIterator, mapKeysOf(s))
}

func mapValuesView(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	return newView(c, s, TypeIterator, mapValues(s))
}

func mapEntries(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return newView(c, s, TypeIterator, elements(s))
	}
	var entries []value.Value
	s.Fields().Range(func(sig string, v value.Value) bool {
		key, ok := s.Container.KeyRefs[sig]
		if !ok {
			key = value.NewUndefined(value.ID{Local: sig})
		}
		e := value.NewBuiltinScope(value.ChildID(s.Attrs().ID(), "entry"), TypeEntry, nil)
		appendElem(e, key)
		appendElem(e, v)
		// The entry remembers the slot it came from so setValue writes through.
		e.Container.Origin = s
		e.Container.KeyRefs = map[string]value.Value{sig: key}
		entries = append(entries, e)
		return true
	})
	return newView(c, s, TypeIterator, entries)
}

func entryPart(i int) method {
	return func(s *value.Scope, c *value.Call) value.Value {
		ensureConsistent(s)
		if !s.Container.Precise() {
			return conservative(s)
		}
		if v, ok := s.Field(indexKey(i)); ok {
			return v
		}
		return undefinedResult(c)
	}
}

func entrySetValue(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return undefinedResult(c)
	}
	ensureConsistent(s)
	if !s.Container.Precise() {
		store(s, c.Args[0])
		writeThrough(s, c.Args[0])
		return conservative(s)
	}
	old, _ := s.Field(indexKey(1))
	s.SetField(indexKey(1), c.Args[0])
	writeThrough(s, c.Args[0])
	return old
}

// writeThrough stores v in the map slot entry was read from. A map that lost
// precision since the entry was taken keeps v conservatively.
func writeThrough(entry *value.Scope, v value.Value) {
	origin := entry.Container.Origin
	if origin == nil || origin.Container == nil {
		return
	}
	ensureConsistent(origin)
	if origin.Container.Precise() {
		for sig, key := range entry.Container.KeyRefs {
			putEntry(origin, sig, key, v)
			return
		}
	}
	degradeMap(origin)
	store(origin, v)
}

func setAdd(s *value.Scope, c *value.Call) value.Value {
	for _, a := range c.Args {
		sig, ok := pinned(s, a)
		if !ok {
			degrade(s)
			store(s, a)
			continue
		}
		s.SetField(sig, a)
	}
	if c.Name == "add" && len(c.Args) == 1 {
		return boolLiteral(true)
	}
	return s
}

func setHas(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return symbolic(c, uast.LiteralBool)
	}
	sig, ok := pinned(s, c.Args[0])
	if !ok {
		return symbolic(c, uast.LiteralBool)
	}
	_, found := s.Field(sig)
	return boolLiteral(found)
}

func setRemove(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return degradeAndReturn(s, c)
	}
	sig, ok := pinned(s, c.Args[0])
	if !ok {
		if s.Container.Precise() {
			degrade(s)
		}
		return symbolic(c, uast.LiteralBool)
	}
	return boolLiteral(s.Fields().Delete(sig))
}
