package builtins

import (
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// method implements one builtin member against its receiver scope.
type method func(s *value.Scope, c *value.Call) value.Value

var (
	listMethods     map[string]method
	queueMethods    map[string]method
	stackMethods    map[string]method
	iteratorMethods map[string]method
)

func init() {
	listMethods = sequenceMethods()
	listMethods["push"] = pushBack
	listMethods["pop"] = takeLast
	listMethods["peek"] = peekOrVisit(peekFirst)

	queueMethods = sequenceMethods()
	queueMethods["push"] = pushFront
	queueMethods["pop"] = takeFirst
	queueMethods["peek"] = peekOrVisit(peekFirst)

	stackMethods = sequenceMethods()
	stackMethods["push"] = pushBack
	stackMethods["pop"] = takeLast
	stackMethods["peek"] = peekOrVisit(peekLast)

	iteratorMethods = sequenceMethods()
	for _, name := range []string{"hasNext", "hasMoreElements", "hasPrevious", "tryAdvance"} {
		iteratorMethods[name] = symbolicBool
	}
	for _, name := range []string{"next", "nextElement", "previous"} {
		iteratorMethods[name] = anyElement
	}
	iteratorMethods["remove"] = degradeAndReturn
	iteratorMethods["peek"] = peekOrVisit(peekFirst)
}

// sequenceMethods is the member table shared by lists, queues, stacks, iterators and streams.
func sequenceMethods() map[string]method {
	m := map[string]method{
		"add":       listAdd,
		"get":       listGet,
		"at":        listGet,
		"elementAt": listGet,
		"set":       listSet,
		"remove":    listRemove,
		"clear":     clearAll,

		"size":    size,
		"length":  size,
		"count":   size,
		"isEmpty": isEmpty,

		"subList": subRange,
		"slice":   subRange,

		"forEach":          visitEach,
		"forEachRemaining": visitEach,
		"ifPresent":        visitEach,
		"map":              mapEach,
		"flatMap":          mapEach,
		"mapToObj":         mapEach,
		"mapToInt":         mapEach,
		"reduce":           reduce,
		"orElse":           orElse,
		"orElseGet":        orElseGet,
		"join":             joinToString,
		"toString":         joinToString,
		"collect":          copyToList,
		"toList":           copyToList,
		"toArray":          copyToList,
	}
	for _, name := range []string{"addLast", "offer", "offerLast", "append", "addElement"} {
		m[name] = pushBack
	}
	for _, name := range []string{"addFirst", "offerFirst", "unshift"} {
		m[name] = pushFront
	}
	for _, name := range []string{"shift", "poll", "pollFirst", "removeFirst", "take"} {
		m[name] = takeFirst
	}
	for _, name := range []string{"removeLast", "pollLast"} {
		m[name] = takeLast
	}
	for _, name := range []string{"peekFirst", "getFirst", "element", "first", "firstElement"} {
		m[name] = peekFirst
	}
	for _, name := range []string{"peekLast", "getLast", "last", "lastElement"} {
		m[name] = peekLast
	}
	for _, name := range []string{"contains", "includes", "containsAll", "equals", "isPresent", "isEmpty", "some", "every", "anyMatch", "allMatch", "noneMatch"} {
		if _, ok := m[name]; !ok {
			m[name] = visitThenBool
		}
	}
	for _, name := range []string{"indexOf", "lastIndexOf", "hashCode", "findIndex", "sum", "average"} {
		m[name] = symbolicNumber
	}
	for _, name := range []string{"addAll", "concat", "retainAll", "removeAll", "removeIf", "sort", "replaceAll", "reverse", "fill", "splice", "copyWithin", "shuffle", "ensureCapacity", "trimToSize"} {
		m[name] = bulk
	}
	for _, name := range []string{"iterator", "listIterator", "descendingIterator", "spliterator", "stream", "parallelStream", "values", "keys", "entries", "elements", "boxed"} {
		m[name] = iterate
	}
	for _, name := range []string{"filter", "distinct", "sorted", "limit", "skip", "takeWhile", "dropWhile", "unordered", "sequential", "parallel"} {
		m[name] = filterEach
	}
	for _, name := range []string{"find", "findFirst", "findAny", "findLast", "min", "max", "orElseThrow", "getAsInt", "getAsLong", "getAsDouble"} {
		m[name] = findAny
	}
	return m
}

func undefinedResult(c *value.Call) value.Value {
	return value.NewUndefined(resultID(c))
}

func boolLiteral(b bool) *value.Primitive {
	if b {
		return value.NewLiteral("true", uast.LiteralBool)
	}
	return value.NewLiteral("false", uast.LiteralBool)
}

func listAdd(s *value.Scope, c *value.Call) value.Value {
	switch len(c.Args) {
	case 0:
		return undefinedResult(c)
	case 1:
		appendElem(s, c.Args[0])
		return boolLiteral(true)
	}
	ensureConsistent(s)
	idx, ok := value.LiteralIndex(c.Args[0])
	if ok && s.Container.Precise() && idx <= s.Container.Length {
		insertAt(s, idx, c.Args[1])
	} else {
		degrade(s)
		store(s, c.Args[1])
	}
	return undefinedResult(c)
}

func pushBack(s *value.Scope, c *value.Call) value.Value {
	for _, a := range c.Args {
		appendElem(s, a)
	}
	return lengthOf(s, c)
}

func pushFront(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	for i := len(c.Args) - 1; i >= 0; i-- {
		if s.Container.Precise() {
			insertAt(s, 0, c.Args[i])
		} else {
			store(s, c.Args[i])
		}
	}
	return lengthOf(s, c)
}

func listGet(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if len(c.Args) == 0 {
		return contents(s, resultID(c))
	}
	idx, ok := value.LiteralIndex(c.Args[0])
	if !ok {
		degrade(s)
		return conservative(s)
	}
	if !s.Container.Precise() {
		return conservative(s)
	}
	if v, found := s.Field(indexKey(idx)); found {
		return v
	}
	return undefinedResult(c)
}

func listSet(s *value.Scope, c *value.Call) value.Value {
	if len(c.Args) < 2 {
		return degradeAndReturn(s, c)
	}
	ensureConsistent(s)
	idx, ok := value.LiteralIndex(c.Args[0])
	if !ok || !s.Container.Precise() || idx > s.Container.Length {
		degrade(s)
		store(s, c.Args[1])
		return conservative(s)
	}
	if idx == s.Container.Length {
		appendElem(s, c.Args[1])
		return undefinedResult(c)
	}
	old, _ := s.Field(indexKey(idx))
	s.SetField(indexKey(idx), c.Args[1])
	return old
}

func listRemove(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if len(c.Args) == 0 {
		return takeFirst(s, c)
	}
	if !s.Container.Precise() {
		return conservative(s)
	}
	arg := c.Args[0]
	if p, ok := arg.(*value.Primitive); ok && p.Concrete && p.LiteralKind == uast.LiteralNumber {
		idx, ok := value.LiteralIndex(p)
		if !ok {
			// 0x1, 1L, -1: the index cannot be pinned.
			degrade(s)
			return conservative(s)
		}
		if v, found := s.Field(indexKey(idx)); found {
			removeAt(s, idx)
			return v
		}
		return undefinedResult(c)
	}
	for i := 0; i < s.Container.Length; i++ {
		if v, _ := s.Field(indexKey(i)); v == arg {
			removeAt(s, i)
			return boolLiteral(true)
		}
	}
	// Not found by identity: the removed element cannot be pinned.
	degrade(s)
	return symbolic(c, uast.LiteralBool)
}

func takeFirst(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return conservative(s)
	}
	if s.Container.Length == 0 {
		return undefinedResult(c)
	}
	return removeAt(s, 0)
}

func takeLast(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return conservative(s)
	}
	if s.Container.Length == 0 {
		return undefinedResult(c)
	}
	return removeAt(s, s.Container.Length-1)
}

func peekFirst(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return conservative(s)
	}
	if v, ok := s.Field(indexKey(0)); ok {
		return v
	}
	return undefinedResult(c)
}

func peekLast(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return conservative(s)
	}
	if v, ok := s.Field(indexKey(s.Container.Length - 1)); ok {
		return v
	}
	return undefinedResult(c)
}

// peekOrVisit dispatches stream.peek(callback) to visitEach and queue.peek() to fallback.
func peekOrVisit(fallback method) method {
	return func(s *value.Scope, c *value.Call) value.Value {
		if len(c.Args) > 0 {
			if _, ok := c.Args[0].(*value.Function); ok {
				visitEach(s, c)
				return s
			}
		}
		return fallback(s, c)
	}
}

func clearAll(s *value.Scope, c *value.Call) value.Value {
	s.Fields().Clear()
	s.Container.Length = 0
	s.Container.Overflow = nil
	s.Container.KeyRefs = nil
	return undefinedResult(c)
}

func lengthOf(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if s.Container.Precise() {
		return number(s.Fields().Len())
	}
	return symbolic(c, uast.LiteralNumber)
}

func size(s *value.Scope, c *value.Call) value.Value { return lengthOf(s, c) }

func isEmpty(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if s.Container.Precise() {
		return boolLiteral(s.Fields().Len() == 0)
	}
	return symbolic(c, uast.LiteralBool)
}

func symbolicBool(s *value.Scope, c *value.Call) value.Value {
	return symbolic(c, uast.LiteralBool)
}

func symbolicNumber(s *value.Scope, c *value.Call) value.Value {
	return symbolic(c, uast.LiteralNumber)
}

func visitThenBool(s *value.Scope, c *value.Call) value.Value {
	visitEach(s, c)
	return symbolic(c, uast.LiteralBool)
}

func anyElement(s *value.Scope, c *value.Call) value.Value {
	return contents(s, resultID(c))
}

func degradeAndReturn(s *value.Scope, c *value.Call) value.Value {
	degrade(s)
	return conservative(s)
}

// bulk covers operations whose effect cannot be pinned to one index.
func bulk(s *value.Scope, c *value.Call) value.Value {
	target := s
	if c.Name == "concat" {
		target = newList(resultID(c), elements(s))
	}
	degrade(target)
	elem := contents(target, resultID(c))
	for _, a := range c.Args {
		if _, isFn := a.(*value.Function); isFn {
			if r := invoke(c, a, elem, elem); c.Name == "replaceAll" {
				store(target, r)
			}
			continue
		}
		if _, isLit := value.LiteralIndex(a); isLit {
			continue
		}
		for _, e := range elemsOf(a) {
			store(target, e)
		}
	}
	if c.Name == "concat" {
		return target
	}
	return conservative(s)
}

func subRange(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return newView(c, s, TypeIterator, elements(s))
	}
	elems := elements(s)
	from, to := 0, len(elems)
	if len(c.Args) > 0 {
		f, ok := value.LiteralIndex(c.Args[0])
		if !ok {
			degrade(s)
			return newView(c, s, TypeIterator, elements(s))
		}
		from = f
	}
	if len(c.Args) > 1 {
		t, ok := value.LiteralIndex(c.Args[1])
		if !ok {
			degrade(s)
			return newView(c, s, TypeIterator, elements(s))
		}
		to = t
	}
	if from > len(elems) {
		from = len(elems)
	}
	if to > len(elems) {
		to = len(elems)
	}
	if to < from {
		to = from
	}
	return newView(c, s, TypeIterator, elems[from:to])
}

func iterate(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	return newView(c, s, TypeIterator, elements(s))
}

// callbackArg returns the first function-valued argument.
func callbackArg(c *value.Call) value.Value {
	for _, a := range c.Args {
		for _, alt := range value.Alternatives(a) {
			if _, ok := alt.(*value.Function); ok {
				return a
			}
		}
	}
	return nil
}

// forElements calls fn with each element while precise, or once with the
// whole container otherwise.
func forElements(s *value.Scope, fn func(value.Value)) {
	ensureConsistent(s)
	if !s.Container.Precise() {
		fn(conservative(s))
		return
	}
	for _, e := range elements(s) {
		fn(e)
	}
}

func visitEach(s *value.Scope, c *value.Call) value.Value {
	cb := callbackArg(c)
	if cb == nil {
		return undefinedResult(c)
	}
	forElements(s, func(e value.Value) { invoke(c, cb, e) })
	return undefinedResult(c)
}

func mapEach(s *value.Scope, c *value.Call) value.Value {
	cb := callbackArg(c)
	if cb == nil {
		return iterate(s, c)
	}
	var results []value.Value
	forElements(s, func(e value.Value) { results = append(results, invoke(c, cb, e)) })
	out := newView(c, s, TypeIterator, nil)
	for _, r := range results {
		appendElem(out, r)
	}
	return out
}

func filterEach(s *value.Scope, c *value.Call) value.Value {
	if cb := callbackArg(c); cb != nil {
		forElements(s, func(e value.Value) { invoke(c, cb, e) })
	}
	return iterate(s, c)
}

func findAny(s *value.Scope, c *value.Call) value.Value {
	if cb := callbackArg(c); cb != nil {
		forElements(s, func(e value.Value) { invoke(c, cb, e) })
	}
	return contents(s, resultID(c))
}

func reduce(s *value.Scope, c *value.Call) value.Value {
	cb := callbackArg(c)
	elem := contents(s, resultID(c))
	var acc value.Value = elem
	for _, a := range c.Args {
		if a != cb {
			acc = value.Join(a, elem)
		}
	}
	if cb == nil {
		return acc
	}
	return value.Join(invoke(c, cb, acc, elem), acc)
}

func orElse(s *value.Scope, c *value.Call) value.Value {
	alts := []value.Value{contents(s, resultID(c))}
	alts = append(alts, c.Args...)
	return value.Join(alts...)
}

func orElseGet(s *value.Scope, c *value.Call) value.Value {
	alts := []value.Value{contents(s, resultID(c))}
	if cb := callbackArg(c); cb != nil {
		alts = append(alts, invoke(c, cb))
	}
	return value.Join(alts...)
}

func joinToString(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	if !s.Container.Precise() {
		return symbolic(c, uast.LiteralString, s)
	}
	return symbolic(c, uast.LiteralString, elements(s)...)
}

func copyToList(s *value.Scope, c *value.Call) value.Value {
	ensureConsistent(s)
	out := newList(resultID(c), nil)
	if !s.Container.Precise() {
		degrade(out)
		for _, e := range s.Container.Overflow {
			store(out, e)
		}
		return out
	}
	for _, e := range elements(s) {
		appendElem(out, e)
	}
	return out
}
