package vm

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rbridge.vm")

// ---------------------------------------------------------------------------
// Heap configuration and statistics
// ---------------------------------------------------------------------------

// Config tunes the allocator and collector.
type Config struct {
	// GCThreshold is the number of allocations between collections.
	GCThreshold int
	// Torture runs a full collection before every allocation.
	Torture bool
	// MaxObjects bounds the number of live cells. Exceeding it after a
	// collection is fatal.
	MaxObjects int
	// ProtectStackSize bounds the depth of the protection stack.
	ProtectStackSize int
	// OnFatal is called with the message of an unrecoverable heap error.
	// It must not return; if it does, the heap panics with a FatalError.
	OnFatal func(msg string)
}

// Defaults for Config fields left at zero.
const (
	DefaultGCThreshold      = 10000
	DefaultMaxObjects       = 5000000
	DefaultProtectStackSize = 50000
)

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		GCThreshold:      DefaultGCThreshold,
		MaxObjects:       DefaultMaxObjects,
		ProtectStackSize: DefaultProtectStackSize,
	}
}

func (c Config) withDefaults() Config {
	if c.GCThreshold <= 0 {
		c.GCThreshold = DefaultGCThreshold
	}
	if c.MaxObjects <= 0 {
		c.MaxObjects = DefaultMaxObjects
	}
	if c.ProtectStackSize <= 0 {
		c.ProtectStackSize = DefaultProtectStackSize
	}
	if c.OnFatal == nil {
		c.OnFatal = exitFatal
	}
	return c
}

// Stats holds allocator and root counters.
type Stats struct {
	Allocations     uint64
	Collections     uint64
	Freed           uint64
	Live            int
	Protects        uint64
	Unprotects      uint64
	ProtectDepth    int
	MaxProtectDepth int
	Precious        int
}

// FatalError is the panic value raised when an OnFatal handler returns.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "fatal error: " + e.Message
}

func exitFatal(msg string) {
	fmt.Fprintf(os.Stderr, "Fatal error: %s\n", msg)
	os.Exit(2)
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap owns every cell of one interpreter instance.
type Heap struct {
	cfg Config

	// Sentinels. Nil is the empty list; Unbound marks a slot with no value;
	// MissingArg marks a formal argument without a default.
	Nil        *Object
	Unbound    *Object
	MissingArg *Object

	GlobalEnv *Object
	BaseEnv   *Object
	EmptyEnv  *Object

	objects  []*Object
	sinceGC  int
	symbols  *SymbolTable
	chars    map[string]*Object
	protect  []*Object
	precious map[*Object]int

	stats Stats
}

// NewHeap creates a heap, its sentinels, the three root environments and
// the primitive bindings of the base environment.
func NewHeap(cfg Config) *Heap {
	h := &Heap{
		cfg:      cfg.withDefaults(),
		symbols:  NewSymbolTable(),
		chars:    make(map[string]*Object),
		precious: make(map[*Object]int),
	}
	h.protect = make([]*Object, 0, 128)

	nilObj := &Object{typ: NilType}
	nilObj.car, nilObj.cdr, nilObj.tag = nilObj, nilObj, nilObj
	h.Nil = nilObj

	h.Unbound = h.symMarker(h.Nil)
	h.MissingArg = h.symMarker(h.Nil)
	h.MissingArg.car = h.MkChar("")

	h.EmptyEnv = h.newEnvCell(h.Nil, h.Nil)
	h.BaseEnv = h.newEnvCell(h.Nil, h.EmptyEnv)
	h.GlobalEnv = h.NewEnv(h.BaseEnv, true, 29)

	h.installPrimitives()
	log.Debugf("heap ready: %d symbols, %d cells", h.symbols.Len(), len(h.objects))
	return h
}

// symMarker builds a symbol-typed sentinel that is never interned.
func (h *Heap) symMarker(pname *Object) *Object {
	m := &Object{typ: SymbolType, car: pname, tag: h.Nil}
	m.cdr = m
	return m
}

// Config returns the effective configuration.
func (h *Heap) Config() Config {
	return h.cfg
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.Live = len(h.objects)
	s.ProtectDepth = len(h.protect)
	s.Precious = 0
	for _, n := range h.precious {
		s.Precious += n
	}
	return s
}

// Fatalf reports an unrecoverable heap state through the fatal handler.
func (h *Heap) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Critical(msg)
	h.cfg.OnFatal(msg)
	panic(&FatalError{Message: msg})
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// alloc returns a fresh cell. It may collect first, so every cell the
// caller still needs must be reachable from a root.
func (h *Heap) alloc(t Type) *Object {
	if h.cfg.Torture || h.sinceGC >= h.cfg.GCThreshold {
		h.CollectGarbage()
	}
	if len(h.objects) >= h.cfg.MaxObjects {
		h.CollectGarbage()
		if len(h.objects) >= h.cfg.MaxObjects {
			h.Fatalf("cannot allocate %s cell: heap limit of %d cells reached", t, h.cfg.MaxObjects)
		}
	}
	obj := &Object{typ: t, car: h.Nil, cdr: h.Nil, tag: h.Nil}
	h.objects = append(h.objects, obj)
	h.sinceGC++
	h.stats.Allocations++
	return obj
}

// AllocVector allocates a zeroed vector of type t and length n. List and
// expression elements start as Nil; character elements as the empty string.
func (h *Heap) AllocVector(t Type, n int) *Object {
	if n < 0 {
		h.Fatalf("negative length vectors are not allowed")
	}
	switch t {
	case NilType:
		return h.Nil
	case LogicalType, IntegerType:
		v := h.alloc(t)
		v.ints = make([]int32, n)
		return v
	case RealType:
		v := h.alloc(t)
		v.reals = make([]float64, n)
		return v
	case RawType:
		v := h.alloc(t)
		v.raw = make([]byte, n)
		return v
	case ListType, ExpressionType:
		v := h.alloc(t)
		v.elts = make([]*Object, n)
		for i := range v.elts {
			v.elts[i] = h.Nil
		}
		return v
	case StringType:
		blank := h.Protect(h.MkChar(""))
		v := h.alloc(t)
		v.elts = make([]*Object, n)
		for i := range v.elts {
			v.elts[i] = blank
		}
		h.Unprotect(1)
		return v
	case PairlistType, LanguageType:
		return h.allocList(t, n)
	}
	panic(fmt.Sprintf("vm: cannot allocate vector of type %s", t))
}

// allocList builds a pairlist of n Nil-valued cells.
func (h *Heap) allocList(t Type, n int) *Object {
	res := h.Nil
	for i := 0; i < n; i++ {
		res = h.cons(PairlistType, h.Nil, res)
	}
	if n > 0 && t == LanguageType {
		res.typ = LanguageType
	}
	return res
}

func (h *Heap) cons(t Type, car, cdr *Object) *Object {
	h.Protect(car)
	h.Protect(cdr)
	c := h.alloc(t)
	c.car = car.live()
	c.cdr = cdr.live()
	h.Unprotect(2)
	return c
}

// Cons allocates a pairlist cell. car and cdr are protected across the
// allocation; the result is not.
func (h *Heap) Cons(car, cdr *Object) *Object {
	return h.cons(PairlistType, car, cdr)
}

// LCons allocates a language cell.
func (h *Heap) LCons(car, cdr *Object) *Object {
	return h.cons(LanguageType, car, cdr)
}

// MkChar returns the cached char cell for s, allocating on a miss.
func (h *Heap) MkChar(s string) *Object {
	if c, ok := h.chars[s]; ok {
		return c
	}
	c := h.alloc(CharType)
	c.chars = s
	h.chars[s] = c
	return c
}

// MkClosure allocates a closure.
func (h *Heap) MkClosure(formals, body, env *Object) *Object {
	h.Protect(formals)
	h.Protect(body)
	h.Protect(env)
	c := h.alloc(ClosureType)
	c.car, c.cdr, c.tag = formals.live(), body.live(), env.live()
	h.Unprotect(3)
	return c
}

// MkPromise allocates an unforced promise for code in env.
func (h *Heap) MkPromise(code, env *Object) *Object {
	h.Protect(code)
	h.Protect(env)
	p := h.alloc(PromiseType)
	p.car, p.cdr, p.tag = h.Unbound, code.live(), env.live()
	h.Unprotect(2)
	return p
}

// ScalarInteger allocates a length-one integer vector.
func (h *Heap) ScalarInteger(v int32) *Object {
	x := h.AllocVector(IntegerType, 1)
	x.ints[0] = v
	return x
}

// ScalarReal allocates a length-one double vector.
func (h *Heap) ScalarReal(v float64) *Object {
	x := h.AllocVector(RealType, 1)
	x.reals[0] = v
	return x
}

// ScalarLogical allocates a length-one logical vector.
func (h *Heap) ScalarLogical(v bool) *Object {
	x := h.AllocVector(LogicalType, 1)
	if v {
		x.ints[0] = 1
	}
	return x
}

// ScalarString allocates a length-one character vector.
func (h *Heap) ScalarString(s string) *Object {
	c := h.Protect(h.MkChar(s))
	x := h.AllocVector(StringType, 1)
	x.elts[0] = c
	h.Unprotect(1)
	return x
}

// ---------------------------------------------------------------------------
// Length
// ---------------------------------------------------------------------------

// Length returns the interpreter's notion of the length of x: elements for
// vectors, cells for pairlists, and bound names for environments.
func (h *Heap) Length(x *Object) int {
	switch x.Type() {
	case NilType:
		return 0
	case PairlistType, LanguageType:
		n := 0
		for c := x; c.Type() != NilType; c = c.Cdr() {
			n++
		}
		return n
	case EnvironmentType:
		return len(h.FrameNames(x))
	}
	return x.vectorLength()
}
