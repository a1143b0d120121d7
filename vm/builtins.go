package vm

import (
	"math"
)

// primFn implements a primitive. Builtins receive evaluated arguments;
// specials receive the unevaluated argument list of the call.
type primFn func(h *Heap, call, args, env *Object) *Object

type primitive struct {
	name    string
	special bool
	fn      primFn
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func (h *Heap) primitiveTable() []*primitive {
	return []*primitive{
		{name: "quote", special: true, fn: primQuote},
		{name: "{", special: true, fn: primBegin},
		{name: "(", fn: primParen},
		{name: "<-", special: true, fn: primAssign},
		{name: "=", special: true, fn: primAssign},
		{name: "if", special: true, fn: primIf},
		{name: "function", special: true, fn: primFunction},
		{name: "delayedAssign", special: true, fn: primDelayedAssign},
		{name: "+", fn: arith('+')},
		{name: "-", fn: arith('-')},
		{name: "*", fn: arith('*')},
		{name: "/", fn: arith('/')},
		{name: "list", fn: primList},
		{name: "length", fn: primLength},
		{name: "identical", fn: primIdentical},
		{name: "new.env", fn: primNewEnv},
		{name: "globalenv", fn: primGlobalEnv},
		{name: "emptyenv", fn: primEmptyEnv},
		{name: "baseenv", fn: primBaseEnv},
		{name: "environment", fn: primEnvironment},
	}
}

// installPrimitives binds every primitive in the base environment, which
// stores its bindings in the symbol value slot.
func (h *Heap) installPrimitives() {
	for _, p := range h.primitiveTable() {
		sym := h.Install(p.name)
		t := BuiltinType
		if p.special {
			t = SpecialType
		}
		obj := h.alloc(t)
		obj.prim = p
		sym.cdr = obj
	}
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// matchArgs assigns the cells of args to names, by exact tag first and then
// by position. Unsupplied names map to nil.
func (h *Heap) matchArgs(args *Object, names ...string) []*Object {
	out := make([]*Object, len(names))
	var positional []*Object
	for a := args; a.Type() != NilType; a = a.Cdr() {
		if tag := a.Tag(); tag.Type() == SymbolType {
			name := tag.PrintName().CharString()
			matched := false
			for i, n := range names {
				if n == name && out[i] == nil {
					out[i] = a.Car()
					matched = true
					break
				}
			}
			if !matched {
				h.errorf("unused argument (%s = ...)", name)
			}
			continue
		}
		positional = append(positional, a.Car())
	}
	for i := range out {
		if out[i] == nil && len(positional) > 0 {
			out[i] = positional[0]
			positional = positional[1:]
		}
	}
	if len(positional) > 0 {
		h.errorf("unused argument")
	}
	return out
}

func (h *Heap) asLogical(x *Object, what string) bool {
	var v int32
	switch x.Type() {
	case LogicalType, IntegerType:
		if len(x.ints) == 0 {
			h.errorf("argument is of length zero")
		}
		v = x.ints[0]
	case RealType:
		if len(x.reals) == 0 {
			h.errorf("argument is of length zero")
		}
		if math.IsNaN(x.reals[0]) {
			v = NAInteger
		} else if x.reals[0] != 0 {
			v = 1
		}
	default:
		h.errorf("invalid '%s' argument", what)
	}
	if v == NAInteger {
		h.errorf("missing value where TRUE/FALSE needed")
	}
	return v != 0
}

func (h *Heap) asInt(x *Object, what string) int {
	switch x.Type() {
	case IntegerType, LogicalType:
		if len(x.ints) > 0 && x.ints[0] != NAInteger {
			return int(x.ints[0])
		}
	case RealType:
		if len(x.reals) > 0 && !math.IsNaN(x.reals[0]) {
			return int(x.reals[0])
		}
	}
	h.errorf("invalid '%s' argument", what)
	return 0
}

// ---------------------------------------------------------------------------
// Specials
// ---------------------------------------------------------------------------

func primQuote(h *Heap, call, args, env *Object) *Object {
	return args.Car()
}

func primBegin(h *Heap, call, args, env *Object) *Object {
	res := h.Nil
	for a := args; a.Type() != NilType; a = a.Cdr() {
		res = h.eval(a.Car(), env)
	}
	return res
}

func primAssign(h *Heap, call, args, env *Object) *Object {
	if h.Length(args) != 2 {
		h.errorf("invalid assignment")
	}
	target := args.Car()
	if target.Type() == StringType && len(target.elts) == 1 {
		target = h.Install(target.StringElt(0))
	}
	if target.Type() != SymbolType {
		h.errorf("invalid assignment target")
	}
	value := h.Protect(h.eval(args.Cdr().Car(), env))
	h.DefineVar(target, value, env)
	h.Unprotect(1)
	return value
}

func primIf(h *Heap, call, args, env *Object) *Object {
	n := h.Length(args)
	if n < 2 || n > 3 {
		h.errorf("invalid 'if' statement")
	}
	cond := h.eval(args.Car(), env)
	if h.asLogical(cond, "if") {
		return h.eval(args.Cdr().Car(), env)
	}
	if n == 3 {
		return h.eval(args.Cdr().Cdr().Car(), env)
	}
	return h.Nil
}

func primFunction(h *Heap, call, args, env *Object) *Object {
	formals := args.Car()
	if t := formals.Type(); t != NilType && t != PairlistType {
		h.errorf("invalid formal argument list for \"function\"")
	}
	return h.MkClosure(formals, args.Cdr().Car(), env)
}

// primDelayedAssign binds x in assign.env to a promise of the unevaluated
// value expression, to be evaluated in eval.env.
func primDelayedAssign(h *Heap, call, args, env *Object) *Object {
	a := h.matchArgs(args, "x", "value", "eval.env", "assign.env")
	if a[0] == nil || a[1] == nil {
		h.errorf("argument \"x\" and \"value\" are required")
	}
	name := h.eval(a[0], env)
	if name.Type() != StringType || len(name.elts) == 0 {
		h.errorf("invalid first argument")
	}
	h.Protect(name)
	evalEnv, assignEnv := env, env
	if a[2] != nil {
		evalEnv = h.eval(a[2], env)
	}
	h.Protect(evalEnv)
	if a[3] != nil {
		assignEnv = h.eval(a[3], env)
	}
	h.Protect(assignEnv)
	if evalEnv.Type() != EnvironmentType || assignEnv.Type() != EnvironmentType {
		h.errorf("invalid environment argument")
	}
	sym := h.Install(name.StringElt(0))
	promise := h.MkPromise(a[1], evalEnv)
	h.DefineVar(sym, promise, assignEnv)
	h.Unprotect(3)
	return h.Nil
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func primParen(h *Heap, call, args, env *Object) *Object {
	return args.Car()
}

func primList(h *Heap, call, args, env *Object) *Object {
	n := h.Length(args)
	list := h.AllocVector(ListType, n)
	i := 0
	for a := args; a.Type() != NilType; a = a.Cdr() {
		list.SetVectorElt(i, a.Car())
		i++
	}
	return list
}

func primLength(h *Heap, call, args, env *Object) *Object {
	if h.Length(args) != 1 {
		h.errorf("length() takes exactly one argument")
	}
	return h.ScalarInteger(int32(h.Length(args.Car())))
}

func primIdentical(h *Heap, call, args, env *Object) *Object {
	a := h.matchArgs(args, "x", "y")
	if a[0] == nil || a[1] == nil {
		h.errorf("identical() takes two arguments")
	}
	return h.ScalarLogical(h.Identical(a[0], a[1]))
}

// primNewEnv implements new.env(hash = TRUE, parent = <caller>, size = 29).
func primNewEnv(h *Heap, call, args, env *Object) *Object {
	a := h.matchArgs(args, "hash", "parent", "size")
	hash := true
	if a[0] != nil {
		hash = h.asLogical(a[0], "hash")
	}
	parent := env
	if a[1] != nil {
		parent = a[1]
	}
	if parent.Type() != EnvironmentType {
		h.errorf("'enclos' must be an environment")
	}
	size := DefaultHashSize
	if a[2] != nil {
		size = h.asInt(a[2], "size")
		if size <= 0 {
			size = DefaultHashSize
		}
	}
	return h.NewEnv(parent, hash, size)
}

func primGlobalEnv(h *Heap, call, args, env *Object) *Object { return h.GlobalEnv }
func primEmptyEnv(h *Heap, call, args, env *Object) *Object  { return h.EmptyEnv }
func primBaseEnv(h *Heap, call, args, env *Object) *Object   { return h.BaseEnv }

func primEnvironment(h *Heap, call, args, env *Object) *Object {
	a := h.matchArgs(args, "fun")
	switch {
	case a[0] == nil || a[0].Type() == NilType:
		return env
	case a[0].Type() == ClosureType:
		return a[0].CloEnv()
	}
	return h.Nil
}

// arith returns the builtin for one of + - * /. Integer and logical
// operands give an integer result except for division; integer overflow
// gives NA.
func arith(op byte) primFn {
	return func(h *Heap, call, args, env *Object) *Object {
		n := h.Length(args)
		if n == 1 {
			x := args.Car()
			switch op {
			case '+':
				return x
			case '-':
				return h.arithBinary('-', h.ScalarInteger(0), x)
			}
		}
		if n != 2 {
			h.errorf("operator needs one or two arguments")
		}
		return h.arithBinary(op, args.Car(), args.Cdr().Car())
	}
}

func isNumeric(x *Object) bool {
	switch x.Type() {
	case LogicalType, IntegerType, RealType:
		return true
	}
	return false
}

func (h *Heap) arithBinary(op byte, x, y *Object) *Object {
	if !isNumeric(x) || !isNumeric(y) {
		h.errorf("non-numeric argument to binary operator")
	}
	h.Protect(x)
	h.Protect(y)
	defer h.Unprotect(2)

	nx, ny := x.vectorLength(), y.vectorLength()
	n := nx
	if ny > n {
		n = ny
	}
	if nx == 0 || ny == 0 {
		n = 0
	}

	if x.typ != RealType && y.typ != RealType && op != '/' {
		out := h.AllocVector(IntegerType, n)
		for i := 0; i < n; i++ {
			a, b := x.ints[i%nx], y.ints[i%ny]
			if a == NAInteger || b == NAInteger {
				out.ints[i] = NAInteger
				continue
			}
			var r int64
			switch op {
			case '+':
				r = int64(a) + int64(b)
			case '-':
				r = int64(a) - int64(b)
			case '*':
				r = int64(a) * int64(b)
			}
			if r > math.MaxInt32 || r <= math.MinInt32 {
				out.ints[i] = NAInteger
			} else {
				out.ints[i] = int32(r)
			}
		}
		return out
	}

	out := h.AllocVector(RealType, n)
	for i := 0; i < n; i++ {
		a, b := realAt(x, i%nx), realAt(y, i%ny)
		switch op {
		case '+':
			out.reals[i] = a + b
		case '-':
			out.reals[i] = a - b
		case '*':
			out.reals[i] = a * b
		case '/':
			out.reals[i] = a / b
		}
	}
	return out
}

func realAt(x *Object, i int) float64 {
	if x.typ == RealType {
		return x.reals[i]
	}
	if v := x.ints[i]; v != NAInteger {
		return float64(v)
	}
	return math.NaN()
}

// LookupPrimitive returns the builtin or special registered under name, or
// nil.
func (h *Heap) LookupPrimitive(name string) *Object {
	sym, ok := h.symbols.Lookup(name)
	if !ok {
		return nil
	}
	if v := sym.SymValue(); v.IsPrimitive() {
		return v
	}
	return nil
}
