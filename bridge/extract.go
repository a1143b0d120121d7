package bridge

import (
	"github.com/chazu/rbridge/vm"
)

// Extraction narrows a handle into a wrapper. It never allocates in the
// heap. A type tag mismatch returns the zero wrapper and false. Children
// come back as owned handles; release them with the wrapper's Release.

func (s *Session) AsSymbol(h Handle) (Symbol, bool) {
	x := h.sexp(s)
	if x.Type() != vm.SymbolType {
		return "", false
	}
	pname := x.PrintName()
	if pname.Type() != vm.CharType {
		return "bad symbol", true
	}
	return Symbol(pname.CharString()), true
}

func (s *Session) AsCharacter(h Handle) (Character, bool) {
	x := h.sexp(s)
	if x.Type() != vm.CharType {
		return "", false
	}
	return Character(x.CharString()), true
}

// AsRaw copies the bytes of a raw vector.
func (s *Session) AsRaw(h Handle) (Raw, bool) {
	x := h.sexp(s)
	if x.Type() != vm.RawType {
		return nil, false
	}
	return append(Raw{}, x.RawBytes()...), true
}

// AsPrimitive returns the name a builtin or special is registered under.
func (s *Session) AsPrimitive(h Handle) (Primitive, bool) {
	x := h.sexp(s)
	if !x.IsPrimitive() {
		return "", false
	}
	return Primitive(x.PrimName()), true
}

// cells calls fn with the value and tag of every cell of a spine.
func cells(spine *vm.Object, fn func(value, tag *vm.Object)) {
	for c := spine; c.Type() != vm.NilType; c = c.Cdr() {
		fn(c.Car(), c.Tag())
	}
}

func (s *Session) AsLang(h Handle) (Lang, bool) {
	x := h.sexp(s)
	if x.Type() != vm.LanguageType {
		return nil, false
	}
	var l Lang
	cells(x, func(value, _ *vm.Object) {
		l = append(l, s.Own(value))
	})
	return l, true
}

// AsPairlist returns the cells in order; untagged cells get an empty Name.
func (s *Session) AsPairlist(h Handle) (Pairlist, bool) {
	x := h.sexp(s)
	if x.Type() != vm.PairlistType {
		return nil, false
	}
	var p Pairlist
	cells(x, func(value, tag *vm.Object) {
		p = append(p, NamedValue{Name: tagName(tag), Value: s.Own(value)})
	})
	return p, true
}

func tagName(tag *vm.Object) string {
	if tag.Type() != vm.SymbolType {
		return ""
	}
	return tag.PrintName().CharString()
}

func (s *Session) elements(x *vm.Object) []Value {
	n := s.heap.Length(x)
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		out[i] = s.Own(x.VectorElt(i))
	}
	return out
}

func (s *Session) AsList(h Handle) (List, bool) {
	x := h.sexp(s)
	if x.Type() != vm.ListType {
		return nil, false
	}
	return List(s.elements(x)), true
}

func (s *Session) AsExpr(h Handle) (Expr, bool) {
	x := h.sexp(s)
	if x.Type() != vm.ExpressionType {
		return nil, false
	}
	return Expr(s.elements(x)), true
}

// AsEnvironment returns the parent and the bindings of the environment's
// own frame. A hashed environment is walked bucket by bucket, otherwise the
// frame pairlist is. Cells whose value is the unbound marker are removed
// bindings that have not been compacted away and are skipped, as are
// untagged cells. Bindings of the base environment live on the symbols and
// are not returned.
func (s *Session) AsEnvironment(h Handle) (Env, bool) {
	x := h.sexp(s)
	if x.Type() != vm.EnvironmentType {
		return Env{}, false
	}
	bindings := make(map[string]Value)
	collect := func(value, tag *vm.Object) {
		if value == s.heap.Unbound || tag.Type() != vm.SymbolType {
			return
		}
		bindings[tag.PrintName().CharString()] = s.Own(value)
	}

	if table := x.HashTab(); table.Type() == vm.ListType {
		n := s.heap.Length(table)
		for i := 0; i < n; i++ {
			if bucket := table.VectorElt(i); bucket.Type() == vm.PairlistType {
				cells(bucket, collect)
			}
		}
	} else if frame := x.Frame(); frame.Type() == vm.PairlistType {
		cells(frame, collect)
	}

	return Env{
		Parent:         s.Own(x.Enclos()),
		NamesAndValues: bindings,
	}, true
}

// AsFunc projects the fields of a closure.
func (s *Session) AsFunc(h Handle) (Func, bool) {
	x := h.sexp(s)
	if x.Type() != vm.ClosureType {
		return Func{}, false
	}
	return Func{
		Formals: s.Own(x.Formals()),
		Body:    s.Own(x.Body()),
		Env:     s.Own(x.CloEnv()),
	}, true
}

// AsPromise projects the fields of a promise. Value is the unbound marker
// and Forced is false until the promise has been evaluated.
func (s *Session) AsPromise(h Handle) (Promise, bool) {
	x := h.sexp(s)
	if x.Type() != vm.PromiseType {
		return Promise{}, false
	}
	value := x.PrValue()
	return Promise{
		Code:   s.Own(x.PrCode()),
		Env:    s.Own(x.PrEnv()),
		Value:  s.Own(value),
		Seen:   x.PrSeen(),
		Forced: value != s.heap.Unbound,
	}, true
}
