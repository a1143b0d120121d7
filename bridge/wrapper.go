package bridge

import (
	"sort"

	"github.com/chazu/rbridge/vm"
)

// Value is anything that can be materialized into a heap object: a Handle
// or one of the wrapper types of this package. A plain string is not a
// Value; use Sym(s) where a named reference is expected.
type Value interface {
	// sexp builds the object. The result is not protected; it stays valid
	// until the caller's next allocation.
	sexp(s *Session) *vm.Object
}

// Symbol names a symbol. Materializing interns it, which allocates on first
// use; callers on a hot path should keep the resulting Handle.
type Symbol string

// Sym returns the symbol named name.
func Sym(name string) Symbol {
	return Symbol(name)
}

// Character is one element of a character vector: a cached char cell.
type Character string

// Raw is the content of a raw vector. Materializing copies the bytes.
type Raw []byte

// Primitive names a builtin or special. It materializes to the value bound
// to the symbol of that name when that value is a primitive, and to NULL
// otherwise.
type Primitive string

// Lang is a call expression, operator first.
type Lang []Value

// Call builds the call expression name(args...).
func Call(name string, args ...Value) Lang {
	l := make(Lang, 0, len(args)+1)
	l = append(l, Symbol(name))
	return append(l, args...)
}

// List is a generic vector.
type List []Value

// Expr is an expression vector.
type Expr []Value

// NamedValue is one cell of a Pairlist. An empty Name leaves the cell
// untagged.
type NamedValue struct {
	Name  string
	Value Value
}

// Pairlist is a dotted-pair list with optional names.
type Pairlist []NamedValue

// PairlistFromMap builds a pairlist from m with the names in sorted order.
func PairlistFromMap(m map[string]Value) Pairlist {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	pl := make(Pairlist, len(names))
	for i, name := range names {
		pl[i] = NamedValue{Name: name, Value: m[name]}
	}
	return pl
}

// Env is an environment: a parent and the bindings of its own frame. A nil
// Parent means the global environment.
type Env struct {
	Parent         Value
	NamesAndValues map[string]Value
}

// Func is the decomposition of a closure. It is produced by extraction
// only.
type Func struct {
	Formals Handle
	Body    Handle
	Env     Handle
}

// Promise is the decomposition of a promise. Value is the unbound marker
// until the promise is forced. It is produced by extraction only.
type Promise struct {
	Code   Handle
	Env    Handle
	Value  Handle
	Seen   bool
	Forced bool
}

// Vectors of atomic values.
type (
	Integers []int32
	Doubles  []float64
	Logicals []bool
	Strings  []string
)

// Null is the empty list.
type Null struct{}

// ---------------------------------------------------------------------------
// Releasing extracted wrappers
// ---------------------------------------------------------------------------

func releaseValues(vs []Value) {
	for _, v := range vs {
		if h, ok := v.(Handle); ok {
			h.Release()
		}
	}
}

// Release drops the owned handles held by an extracted wrapper.
func (l Lang) Release() { releaseValues(l) }

func (l List) Release() { releaseValues(l) }

func (e Expr) Release() { releaseValues(e) }

func (p Pairlist) Release() {
	for _, nv := range p {
		if h, ok := nv.Value.(Handle); ok {
			h.Release()
		}
	}
}

func (e Env) Release() {
	if h, ok := e.Parent.(Handle); ok {
		h.Release()
	}
	for _, v := range e.NamesAndValues {
		if h, ok := v.(Handle); ok {
			h.Release()
		}
	}
}

func (f Func) Release() {
	f.Formals.Release()
	f.Body.Release()
	f.Env.Release()
}

func (p Promise) Release() {
	p.Code.Release()
	p.Env.Release()
	p.Value.Release()
}
