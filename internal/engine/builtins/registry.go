package builtins

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/engine/taint"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/value"
	"github.com/xkilldash9x/scalpel-sast/internal/uast"
)

// constructors maps simple type names, as written after "new", to builtin types.
var constructors = map[string]string{
	"ArrayList":            TypeList,
	"List":                 TypeList,
	"Vector":               TypeList,
	"CopyOnWriteArrayList": TypeList,
	"Array":                TypeList,
	"Collection":           TypeList,

	"LinkedList":            TypeQueue,
	"ArrayDeque":            TypeQueue,
	"Deque":                 TypeQueue,
	"Queue":                 TypeQueue,
	"PriorityQueue":         TypeQueue,
	"LinkedBlockingQueue":   TypeQueue,
	"ArrayBlockingQueue":    TypeQueue,
	"ConcurrentLinkedQueue": TypeQueue,
	"LinkedBlockingDeque":   TypeQueue,

	"Stack": TypeStack,

	"HashMap":           TypeMap,
	"Map":               TypeMap,
	"TreeMap":           TypeMap,
	"LinkedHashMap":     TypeMap,
	"ConcurrentHashMap": TypeMap,
	"Hashtable":         TypeMap,
	"WeakMap":           TypeMap,
	"WeakHashMap":       TypeMap,
	"Properties":        TypeMap,
	"EnumMap":           TypeMap,

	"HashSet":       TypeSet,
	"Set":           TypeSet,
	"TreeSet":       TypeSet,
	"LinkedHashSet": TypeSet,
	"WeakSet":       TypeSet,

	"StringBuilder": TypeStringBuilder,
	"StringBuffer":  TypeStringBuilder,
	"StringWriter":  TypeStringBuilder,
	"StringJoiner":  TypeStringBuilder,

	"CompletableFuture": TypeFuture,
	"FutureTask":        TypeFuture,
	"Promise":           TypeFuture,

	"ThreadPoolExecutor":          TypeExecutor,
	"ScheduledThreadPoolExecutor": TypeExecutor,
	"ForkJoinPool":                TypeExecutor,
}

// static is a builtin function reached through a type name, such as Arrays.asList.
type static func(c *value.Call) value.Value

// Registry dispatches member access, construction and static calls on builtin types.
type Registry struct {
	logger  *zap.Logger
	methods map[string]map[string]method
	statics map[string]static

	// unsettled holds futures whose continuations have not run yet.
	unsettled []*value.Scope
}

// NewRegistry builds the builtin dispatch tables.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger: logger.Named("builtins"),
		methods: map[string]map[string]method{
			TypeList:          listMethods,
			TypeQueue:         queueMethods,
			TypeStack:         stackMethods,
			TypeIterator:      iteratorMethods,
			TypeMap:           mapMethods,
			TypeSet:           setMethods,
			TypeEntry:         entryMethods,
			TypeStringBuilder: builderMethods,
			TypeFuture:        futureMethods,
			TypeExecutor:      executorMethods,
		},
	}
	r.statics = map[string]static{
		"Arrays.asList":                     listOf,
		"List.of":                           listOf,
		"List.copyOf":                       copyOf,
		"Stream.of":                         listOf,
		"Array.of":                          listOf,
		"Array.from":                        arrayFrom,
		"Set.of":                            setOf,
		"Set.copyOf":                        setOf,
		"Map.of":                            mapOf,
		"Map.entry":                         entryOf,
		"Map.copyOf":                        copyOf,
		"Collections.singletonList":         listOf,
		"Collections.singleton":             setOf,
		"Collections.emptyList":             listOf,
		"Collections.emptyMap":              mapOf,
		"Collections.emptySet":              setOf,
		"Collections.unmodifiableList":      passThrough,
		"Collections.unmodifiableMap":       passThrough,
		"Collections.unmodifiableSet":       passThrough,
		"Collections.synchronizedList":      passThrough,
		"Collections.synchronizedMap":       passThrough,
		"Collections.sort":                  bulkStatic,
		"Collections.reverse":               bulkStatic,
		"Collections.shuffle":               bulkStatic,
		"Collections.addAll":                bulkStatic,
		"Objects.requireNonNull":            passThrough,
		"Objects.requireNonNullElse":        joinArgs,
		"Optional.of":                       optionalOf,
		"Optional.ofNullable":               optionalOf,
		"Optional.empty":                    optionalOf,
		"Object.keys":                       objectKeys,
		"Object.values":                     objectValues,
		"Object.entries":                    objectEntries,
		"Object.assign":                     objectAssign,
		"Object.freeze":                     passThrough,
		"CompletableFuture.supplyAsync":     supplyAsync,
		"CompletableFuture.runAsync":        supplyAsync,
		"CompletableFuture.completedFuture": completedFuture,
		"CompletableFuture.allOf":           allOf,
		"CompletableFuture.anyOf":           anyOf,
		"Promise.resolve":                   completedFuture,
		"Promise.reject":                    completedFuture,
		"Promise.all":                       allOf,
		"Promise.allSettled":                allOf,
		"Promise.race":                      anyOf,
		"Promise.any":                       anyOf,
		"String.valueOf":                    stringOf,
		"String.join":                       stringOf,
		"String.format":                     stringOf,
	}
	return r
}

// Constructor reports the builtin type constructed by "new name(...)". Package
// qualifiers and generic arguments are ignored.
func (r *Registry) Constructor(name string) (string, bool) {
	typ, ok := constructors[simpleName(name)]
	return typ, ok
}

func simpleName(name string) string {
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, value.PathSeparator); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Construct creates a new container of typ and applies constructor arguments.
func (r *Registry) Construct(typ string, c *value.Call) *value.Scope {
	id := value.ID{Local: typ, Scoped: "new " + typ, Qualified: "new " + typ}
	if c.Site != nil {
		loc := c.Site.Loc()
		id.Qualified = id.Qualified + "@" + loc.File + ":" + strconv.Itoa(loc.StartLine) + ":" + strconv.Itoa(loc.StartCol)
	}
	s := value.NewBuiltinScope(id, typ, nil)
	switch typ {
	case TypeStringBuilder:
		args := c.Args
		if len(args) > 0 {
			if p, ok := args[0].(*value.Primitive); ok && p.Concrete && p.LiteralKind == uast.LiteralNumber {
				args = args[1:] // capacity
			}
		}
		builderAppend(s, &value.Call{Invoker: c.Invoker, Name: "append", Receiver: s, Args: args, Site: c.Site})
	case TypeFuture:
		promiseExecutor(s, c)
	case TypeExecutor:
	case TypeMap:
		for _, a := range c.Args {
			if _, isNum := value.LiteralIndex(a); isNum {
				continue
			}
			mapPutAll(s, &value.Call{Invoker: c.Invoker, Name: "putAll", Receiver: s, Args: []value.Value{a}, Site: c.Site})
		}
	default:
		for _, a := range c.Args {
			// new ArrayList<>(16) and new Array(n) only size the container.
			if _, isNum := value.LiteralIndex(a); isNum {
				continue
			}
			if p, ok := a.(*value.Primitive); ok && p.LiteralKind == uast.LiteralNumber {
				continue
			}
			src := firstContainer(a)
			if src != nil && src.Container.Precise() && len(value.Alternatives(a)) == 1 {
				for _, e := range elemsOf(src) {
					appendElem(s, e)
				}
				continue
			}
			degrade(s)
			for _, e := range elemsOf(a) {
				store(s, e)
			}
		}
	}
	return s
}

func firstContainer(v value.Value) *value.Scope {
	for _, alt := range value.Alternatives(v) {
		if sc, ok := alt.(*value.Scope); ok && sc.Container != nil {
			return sc
		}
	}
	return nil
}

// Static returns the builtin reached as name, such as "Arrays.asList" or
// "java.util.Arrays.asList". Executors.* factories all build executors.
func (r *Registry) Static(name string) (value.NativeFunc, bool) {
	parts := strings.Split(name, value.PathSeparator)
	if len(parts) < 2 {
		return nil, false
	}
	owner, member := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "Executors" {
		return func(c *value.Call) value.Value {
			c.Name = member
			return value.NewBuiltinScope(resultID(c), TypeExecutor, nil)
		}, true
	}
	fn, ok := r.statics[owner+value.PathSeparator+member]
	if !ok {
		return nil, false
	}
	return func(c *value.Call) value.Value {
		c.Name = member
		return fn(c)
	}, true
}

// IsBuiltin reports whether v is a builtin container instance.
func IsBuiltin(v value.Value) (*value.Scope, bool) {
	s, ok := v.(*value.Scope)
	if !ok || s.Container == nil {
		return nil, false
	}
	return s, true
}

// HasMethod reports whether name is a known member of s's builtin type.
func (r *Registry) HasMethod(s *value.Scope, name string) bool {
	_, ok := r.methods[s.Container.Type][name]
	return ok
}

// Method returns name bound to s. Unknown members get a conservative
// implementation that degrades the container.
func (r *Registry) Method(s *value.Scope, name string) *value.Function {
	m, ok := r.methods[s.Container.Type][name]
	if !ok {
		r.logger.Debug("Unknown builtin member, degrading container.",
			zap.String("type", s.Container.Type),
			zap.String("member", name))
		m = unknownMethod
	}
	fn := value.NewNative(value.ChildID(s.Attrs().ID(), name), func(c *value.Call) value.Value {
		c.Name = name
		if c.Receiver == nil {
			c.Receiver = s
		}
		out := m(s, c)
		if pending(s) {
			r.track(s)
		}
		return out
	})
	fn.Receiver = s
	return fn
}

func (r *Registry) track(s *value.Scope) {
	for _, f := range r.unsettled {
		if f == s {
			return
		}
	}
	r.unsettled = append(r.unsettled, s)
}

// Flush runs the continuations of every future that was never completed or
// joined, feeding them the future's unresolved result. It returns the number
// of futures settled.
func (r *Registry) Flush(inv value.Invoker) int {
	n := 0
	for len(r.unsettled) > 0 {
		batch := r.unsettled
		r.unsettled = nil
		for _, f := range batch {
			if !pending(f) {
				continue
			}
			settle(f, &value.Call{Invoker: inv, Name: "flush", Receiver: f})
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("Flushed pending future continuations.", zap.Int("futures", n))
	}
	return n
}

// Property evaluates a non-call member read such as arr.length.
func (r *Registry) Property(s *value.Scope, name string, inv value.Invoker, site uast.Node) (value.Value, bool) {
	c := &value.Call{Invoker: inv, Name: name, Receiver: s, Site: site}
	switch name {
	case "length", "size":
		if s.Container.Type == TypeStringBuilder {
			return symbolicNumber(s, c), true
		}
		return lengthOf(s, c), true
	}
	return nil, false
}

// Index evaluates s[key].
func (r *Registry) Index(s *value.Scope, key value.Value, inv value.Invoker, site uast.Node) value.Value {
	c := &value.Call{Invoker: inv, Name: "get", Receiver: s, Args: []value.Value{key}, Site: site}
	switch s.Container.Type {
	case TypeMap:
		return mapGet(s, c)
	case TypeSet, TypeFuture, TypeExecutor:
		return contents(s, resultID(c))
	case TypeStringBuilder:
		return builderString(s, c)
	default:
		return listGet(s, c)
	}
}

// SetIndex evaluates s[key] = v.
func (r *Registry) SetIndex(s *value.Scope, key, v value.Value, inv value.Invoker, site uast.Node) {
	c := &value.Call{Invoker: inv, Name: "put", Receiver: s, Args: []value.Value{key, v}, Site: site}
	switch s.Container.Type {
	case TypeMap:
		mapPut(s, c)
	case TypeSet, TypeFuture, TypeExecutor, TypeStringBuilder:
		degrade(s)
		store(s, v)
	default:
		listSet(s, c)
	}
}

// unknownMethod degrades the receiver, hands callbacks the whole container and
// keeps every argument reachable from it.
func unknownMethod(s *value.Scope, c *value.Call) value.Value {
	switch s.Container.Type {
	case TypeStringBuilder:
		for _, a := range c.Args {
			if _, isFn := a.(*value.Function); isFn {
				invoke(c, a, builderText(s))
			}
		}
		return builderString(s, c)
	case TypeFuture, TypeExecutor:
		var results []value.Value
		for _, a := range c.Args {
			if _, isFn := a.(*value.Function); isFn {
				results = append(results, invoke(c, a, s))
			}
		}
		if len(results) > 0 {
			return value.Join(append(results, s)...)
		}
		return s
	case TypeMap:
		degradeMap(s)
	default:
		degrade(s)
	}
	for _, a := range c.Args {
		if _, isFn := a.(*value.Function); isFn {
			invoke(c, a, s, s)
			continue
		}
		store(s, a)
	}
	return conservative(s)
}

func listOf(c *value.Call) value.Value {
	// Arrays.asList(array) views the array itself.
	if len(c.Args) == 1 {
		if src, ok := IsBuiltin(c.Args[0]); ok && src.Container.Type == TypeList {
			return src
		}
	}
	return newList(resultID(c), c.Args)
}

func copyOf(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return newList(resultID(c), nil)
	}
	if src, ok := IsBuiltin(c.Args[0]); ok {
		return value.Clone(src, cloneDepth(c))
	}
	return c.Args[0]
}

func cloneDepth(c *value.Call) int {
	if c.Invoker == nil {
		return 1
	}
	return c.Invoker.CloneDepth()
}

func arrayFrom(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return newList(resultID(c), nil)
	}
	src := c.Args[0]
	sc, ok := IsBuiltin(src)
	if !ok {
		// Array.from(string) or an unknown iterable.
		out := newList(resultID(c), nil)
		degrade(out)
		store(out, src)
		return out
	}
	if len(c.Args) > 1 {
		return mapEach(sc, &value.Call{Invoker: c.Invoker, Name: "map", Receiver: sc, Args: c.Args[1:], Site: c.Site})
	}
	return copyToList(sc, &value.Call{Invoker: c.Invoker, Name: "from", Receiver: sc, Site: c.Site})
}

func setOf(c *value.Call) value.Value {
	s := value.NewBuiltinScope(resultID(c), TypeSet, nil)
	var elems []value.Value
	for _, a := range c.Args {
		elems = append(elems, elemsOf(a)...)
	}
	setAdd(s, &value.Call{Invoker: c.Invoker, Name: "addAll", Receiver: s, Args: elems, Site: c.Site})
	return s
}

func mapOf(c *value.Call) value.Value {
	s := value.NewBuiltinScope(resultID(c), TypeMap, nil)
	for i := 0; i+1 < len(c.Args); i += 2 {
		mapPut(s, &value.Call{Invoker: c.Invoker, Name: "put", Receiver: s, Args: c.Args[i : i+2], Site: c.Site})
	}
	if len(c.Args)%2 == 1 {
		degradeMap(s)
		store(s, c.Args[len(c.Args)-1])
	}
	return s
}

func entryOf(c *value.Call) value.Value {
	e := value.NewBuiltinScope(resultID(c), TypeEntry, nil)
	for _, a := range c.Args {
		appendElem(e, a)
	}
	return e
}

func passThrough(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return undefinedResult(c)
	}
	return c.Args[0]
}

func joinArgs(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return undefinedResult(c)
	}
	return value.Join(c.Args...)
}

// bulkStatic covers Collections.sort(list) and friends: the first argument degrades.
func bulkStatic(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return undefinedResult(c)
	}
	target, ok := IsBuiltin(c.Args[0])
	if !ok {
		return undefinedResult(c)
	}
	if target.Container.Type == TypeMap {
		degradeMap(target)
	} else {
		degrade(target)
	}
	for _, a := range c.Args[1:] {
		if _, isFn := a.(*value.Function); isFn {
			invoke(c, a, target, target)
			continue
		}
		store(target, a)
	}
	return undefinedResult(c)
}

// optionalOf models Optional as a list of at most one element.
func optionalOf(c *value.Call) value.Value {
	return newList(resultID(c), c.Args)
}

// objectFields lists the fields of an object-like argument in insertion order.
func objectFields(v value.Value) (names []string, vals []value.Value, ok bool) {
	if sc, isBuiltin := IsBuiltin(v); isBuiltin {
		if sc.Container.Type == TypeMap && sc.Container.Precise() {
			keys, vs := mapPairs(sc)
			for _, k := range keys {
				s, _ := value.LiteralString(k)
				names = append(names, s)
			}
			return names, vs, true
		}
		return nil, nil, false
	}
	h, isHolder := v.(value.Holder)
	if !isHolder {
		return nil, nil, false
	}
	h.Fields().Range(func(name string, fv value.Value) bool {
		names = append(names, name)
		vals = append(vals, fv)
		return true
	})
	return names, vals, true
}

func objectKeys(c *value.Call) value.Value {
	names, _, ok := objectFields(c.Arg(0))
	if !ok {
		return conservativeList(c)
	}
	keys := make([]value.Value, len(names))
	for i, n := range names {
		keys[i] = value.NewLiteral(n, uast.LiteralString)
	}
	return newList(resultID(c), keys)
}

func objectValues(c *value.Call) value.Value {
	_, vals, ok := objectFields(c.Arg(0))
	if !ok {
		return conservativeList(c)
	}
	return newList(resultID(c), vals)
}

func objectEntries(c *value.Call) value.Value {
	names, vals, ok := objectFields(c.Arg(0))
	if !ok {
		return conservativeList(c)
	}
	entries := make([]value.Value, len(names))
	for i, n := range names {
		entries[i] = newList(value.ChildID(resultID(c), n), []value.Value{value.NewLiteral(n, uast.LiteralString), vals[i]})
	}
	return newList(resultID(c), entries)
}

// conservativeList is an imprecise list holding every argument.
func conservativeList(c *value.Call) value.Value {
	out := newList(resultID(c), nil)
	degrade(out)
	for _, a := range c.Args {
		store(out, a)
	}
	return out
}

func objectAssign(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return undefinedResult(c)
	}
	target, ok := c.Args[0].(value.Holder)
	if !ok {
		return c.Args[0]
	}
	for _, src := range c.Args[1:] {
		names, vals, ok := objectFields(src)
		if !ok {
			taint.Propagate(target, src, siteLoc(c), taint.RolePropagate)
			continue
		}
		for i, n := range names {
			if sc, isScope := target.(*value.Scope); isScope {
				sc.SetField(n, vals[i])
				continue
			}
			if obj, isObj := target.(*value.Object); isObj {
				obj.SetField(n, vals[i])
			}
		}
	}
	return target
}

func supplyAsync(c *value.Call) value.Value {
	var result value.Value
	if cb := callbackArg(c); cb != nil {
		result = unwrap(invoke(c, cb), c)
	}
	if c.Name == "runAsync" || result == nil {
		result = undefinedResult(c)
	}
	return newFuture(resultID(c), result)
}

func completedFuture(c *value.Call) value.Value {
	if len(c.Args) == 0 {
		return newFuture(resultID(c), nil)
	}
	return newFuture(resultID(c), unwrap(c.Args[0], c))
}

func allOf(c *value.Call) value.Value {
	return newFuture(resultID(c), settledAll(c))
}

func anyOf(c *value.Call) value.Value {
	results := elements(settledAll(c))
	if len(results) == 0 {
		return newFuture(resultID(c), nil)
	}
	return newFuture(resultID(c), value.Join(results...))
}

func stringOf(c *value.Call) value.Value {
	if c.Name == "valueOf" && len(c.Args) == 1 {
		if p, ok := c.Args[0].(*value.Primitive); ok && p.Concrete {
			return value.NewLiteral(p.Literal, uast.LiteralString)
		}
	}
	return symbolic(c, uast.LiteralString, c.Args...)
}

// Element is what one iteration over s yields in a for-each loop.
func Element(s *value.Scope) value.Value {
	id := value.ChildID(s.Attrs().ID(), "[]")
	if s.Container.Type == TypeMap {
		ensureConsistent(s)
		if !s.Container.Precise() {
			return conservative(s)
		}
		keys := mapKeysOf(s)
		if len(keys) == 0 {
			return value.NewUndefined(id)
		}
		return value.Join(keys...)
	}
	return contents(s, id)
}

// Spread expands v for a spread argument. Precise containers yield their
// elements; anything else is passed through whole.
func Spread(v value.Value) []value.Value {
	s, ok := IsBuiltin(v)
	if !ok {
		return []value.Value{v}
	}
	ensureConsistent(s)
	if !s.Container.Precise() || s.Container.Type == TypeMap {
		return []value.Value{s}
	}
	return elements(s)
}
