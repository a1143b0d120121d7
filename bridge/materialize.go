package bridge

import (
	"sort"

	"github.com/chazu/rbridge/vm"
)

// Each sexp returns an unprotected object. Composite builders push every
// intermediate through a scope and pop them all in the scope's single
// release; by then the result is linked and the caller takes over.

// sexpOf materializes v, treating a nil Value as NULL.
func sexpOf(s *Session, v Value) *vm.Object {
	if v == nil {
		return s.heap.Nil
	}
	return v.sexp(s)
}

func (sym Symbol) sexp(s *Session) *vm.Object {
	return s.heap.Install(string(sym))
}

func (c Character) sexp(s *Session) *vm.Object {
	return s.heap.MkChar(string(c))
}

func (p Primitive) sexp(s *Session) *vm.Object {
	if v := s.heap.Install(string(p)).SymValue(); v.IsPrimitive() {
		return v
	}
	return s.heap.Nil
}

// Raw is one allocation and a copy; nothing else allocates before the
// caller roots the result.
func (r Raw) sexp(s *Session) *vm.Object {
	v := s.heap.AllocVector(vm.RawType, len(r))
	copy(v.RawBytes(), r)
	return v
}

func (Null) sexp(s *Session) *vm.Object {
	return s.heap.Nil
}

// spine builds a cons spine back to front so each cell's tail is the
// spine built so far. Every cell costs two protections: its value, then the
// cell itself.
func spine(s *Session, n int, cons func(car, cdr *vm.Object) *vm.Object, at func(i int) (string, Value)) *vm.Object {
	sc := s.scope()
	defer sc.release()

	res := s.heap.Nil
	for i := n - 1; i >= 0; i-- {
		name, v := at(i)
		val := sc.protect(sexpOf(s, v))
		res = sc.protect(cons(val, res))
		if name != "" {
			res.SetTag(s.heap.Install(name))
		}
	}
	return res
}

func (l Lang) sexp(s *Session) *vm.Object {
	return spine(s, len(l), s.heap.LCons, func(i int) (string, Value) {
		return "", l[i]
	})
}

func (p Pairlist) sexp(s *Session) *vm.Object {
	return spine(s, len(p), s.heap.Cons, func(i int) (string, Value) {
		return p[i].Name, p[i].Value
	})
}

// vector allocates the container once, roots it, then stores elements.
// Stores do not allocate, so only element construction needs the root.
func vector(s *Session, t vm.Type, vs []Value) *vm.Object {
	sc := s.scope()
	defer sc.release()

	v := sc.protect(s.heap.AllocVector(t, len(vs)))
	for i, e := range vs {
		v.SetVectorElt(i, sexpOf(s, e))
	}
	return v
}

func (l List) sexp(s *Session) *vm.Object {
	return vector(s, vm.ListType, l)
}

func (e Expr) sexp(s *Session) *vm.Object {
	return vector(s, vm.ExpressionType, e)
}

// Env goes through the interpreter's own new.env so the hash table is laid
// out as the interpreter expects, then binds each entry with DefineVar in
// name order.
func (e Env) sexp(s *Session) *vm.Object {
	h := s.heap
	sc := s.scope()
	defer sc.release()

	parent := h.GlobalEnv
	if e.Parent != nil {
		parent = sc.protect(e.Parent.sexp(s))
	}
	hash := sc.protect(h.ScalarLogical(true))
	size := sc.protect(h.ScalarInteger(int32(s.eng.opts.EnvHashSize)))
	env, err := h.Call("new.env", hash, parent, size)
	if err != nil {
		panic(err)
	}
	sc.protect(env)

	names := make([]string, 0, len(e.NamesAndValues))
	for name := range e.NamesAndValues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sym := h.Install(name)
		h.DefineVar(sym, sexpOf(s, e.NamesAndValues[name]), env)
	}
	return env
}

func (v Integers) sexp(s *Session) *vm.Object {
	x := s.heap.AllocVector(vm.IntegerType, len(v))
	copy(x.Ints(), v)
	return x
}

func (v Doubles) sexp(s *Session) *vm.Object {
	x := s.heap.AllocVector(vm.RealType, len(v))
	copy(x.Reals(), v)
	return x
}

func (v Logicals) sexp(s *Session) *vm.Object {
	x := s.heap.AllocVector(vm.LogicalType, len(v))
	ints := x.Ints()
	for i, b := range v {
		if b {
			ints[i] = 1
		}
	}
	return x
}

func (v Strings) sexp(s *Session) *vm.Object {
	sc := s.scope()
	defer sc.release()

	x := sc.protect(s.heap.AllocVector(vm.StringType, len(v)))
	for i, str := range v {
		x.SetVectorElt(i, s.heap.MkChar(str))
	}
	return x
}
