package vm

import "fmt"

// ---------------------------------------------------------------------------
// Interpreter errors
// ---------------------------------------------------------------------------

// Error is an error raised by the interpreter while evaluating code.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "Error: " + e.Message
}

// errorf raises an interpreter error. It unwinds to the nearest Eval or Call.
func (h *Heap) errorf(format string, args ...interface{}) {
	panic(&Error{Message: fmt.Sprintf(format, args...)})
}

// catch runs fn and turns a raised *Error into a return value. The
// protection stack is reset to its depth on entry, which is what the
// interpreter's own error unwinding does.
func (h *Heap) catch(fn func()) (err error) {
	depth := len(h.protect)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		if n := len(h.protect) - depth; n > 0 {
			h.Unprotect(n)
		}
		err = e
	}()
	fn()
	return nil
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Eval evaluates expr in env. The result is not protected.
func (h *Heap) Eval(expr, env *Object) (res *Object, err error) {
	err = h.catch(func() {
		res = h.eval(expr, env)
	})
	return res, err
}

// Call invokes the function bound to name with positional arguments, the
// way native code calls back into the interpreter: a call expression is
// built from the arguments and evaluated in the global environment. Symbol
// and language arguments are therefore evaluated again.
func (h *Heap) Call(name string, args ...*Object) (res *Object, err error) {
	err = h.catch(func() {
		depth := len(h.protect)
		for _, a := range args {
			h.Protect(a)
		}
		list := h.Nil
		for i := len(args) - 1; i >= 0; i-- {
			list = h.Protect(h.Cons(args[i], list))
		}
		call := h.Protect(h.LCons(h.Install(name), list))
		res = h.eval(call, h.GlobalEnv)
		h.Unprotect(len(h.protect) - depth)
	})
	return res, err
}

// Apply calls fn with the pairlist args in env. The call is built as a
// language object, so like Call the arguments are evaluated again.
func (h *Heap) Apply(fn, args, env *Object) (res *Object, err error) {
	err = h.catch(func() {
		h.Protect(env)
		call := h.Protect(h.LCons(fn, args))
		res = h.eval(call, env)
		h.Unprotect(2)
	})
	return res, err
}

// ForcePromise evaluates a promise once and caches its value.
func (h *Heap) ForcePromise(p *Object) (res *Object, err error) {
	err = h.catch(func() {
		res = h.forcePromise(p)
	})
	return res, err
}

func (h *Heap) eval(e, env *Object) *Object {
	switch e.Type() {
	case SymbolType:
		return h.evalSymbol(e, env)
	case PromiseType:
		return h.forcePromise(e)
	case LanguageType:
		h.Protect(e)
		h.Protect(env)
		var fn *Object
		if head := e.Car(); head.Type() == SymbolType {
			fn = h.findFun(head, env)
		} else {
			fn = h.eval(head, env)
		}
		h.Protect(fn)
		res := h.apply(fn, e, e.Cdr(), env)
		h.Unprotect(3)
		return res
	}
	return e
}

func (h *Heap) evalSymbol(sym, env *Object) *Object {
	if sym == h.MissingArg {
		h.errorf("argument is missing, with no default")
	}
	v := h.FindVar(sym, env)
	switch {
	case v == h.Unbound:
		h.errorf("object '%s' not found", sym.PrintName().CharString())
	case v == h.MissingArg:
		h.errorf("argument \"%s\" is missing, with no default", sym.PrintName().CharString())
	case v.Type() == PromiseType:
		return h.forcePromise(v)
	}
	return v
}

func (h *Heap) findFun(sym, env *Object) *Object {
	for rho := env; rho != h.EmptyEnv; rho = rho.Enclos() {
		v := h.FindVarInFrame(rho, sym)
		if v.Type() == PromiseType {
			v = h.forcePromise(v)
		}
		if v != h.Unbound && v.IsFunction() {
			return v
		}
	}
	h.errorf("could not find function \"%s\"", sym.PrintName().CharString())
	return nil
}

func (h *Heap) forcePromise(p *Object) *Object {
	if v := p.PrValue(); v != h.Unbound {
		return v
	}
	if p.seen {
		h.errorf("promise already under evaluation: recursive default argument reference or earlier problems?")
	}
	p.seen = true
	defer func() { p.seen = false }()

	h.Protect(p)
	val := h.eval(p.PrCode(), p.PrEnv())
	p.car = val
	p.tag = h.Nil
	h.Unprotect(1)
	return val
}

func (h *Heap) apply(fn, call, args, env *Object) *Object {
	switch fn.Type() {
	case SpecialType:
		return fn.prim.fn(h, call, args, env)
	case BuiltinType:
		evaluated := h.Protect(h.evalArgs(args, env))
		res := fn.prim.fn(h, call, evaluated, env)
		h.Unprotect(1)
		return res
	case ClosureType:
		return h.applyClosure(fn, args, env)
	}
	h.errorf("attempt to apply non-function")
	return nil
}

// evalArgs evaluates each argument of a call, keeping argument names.
func (h *Heap) evalArgs(args, env *Object) *Object {
	head := h.Nil
	var tail *Object
	for a := args; a.Type() != NilType; a = a.Cdr() {
		v := h.Protect(h.eval(a.Car(), env))
		cell := h.Cons(v, h.Nil)
		cell.tag = a.Tag()
		h.Unprotect(1)
		if tail == nil {
			head = h.Protect(cell)
		} else {
			tail.cdr = cell
		}
		tail = cell
	}
	if tail != nil {
		h.Unprotect(1)
	}
	return head
}

// applyClosure binds supplied arguments to formals by exact name, then by
// position, wraps each in a promise and evaluates the body in a new frame.
func (h *Heap) applyClosure(fn, args, env *Object) *Object {
	var formals []*Object
	for f := fn.Formals(); f.Type() != NilType; f = f.Cdr() {
		formals = append(formals, f)
	}
	supplied := make([]*Object, len(formals))

	var positional []*Object
	for a := args; a.Type() != NilType; a = a.Cdr() {
		if a.Tag().Type() != SymbolType {
			positional = append(positional, a.Car())
			continue
		}
		matched := false
		for i, f := range formals {
			if f.Tag() == a.Tag() && supplied[i] == nil {
				supplied[i] = a.Car()
				matched = true
				break
			}
		}
		if !matched {
			h.errorf("unused argument (%s = ...)", a.Tag().PrintName().CharString())
		}
	}
	for i := range formals {
		if supplied[i] == nil && len(positional) > 0 {
			supplied[i] = positional[0]
			positional = positional[1:]
		}
	}
	if len(positional) > 0 {
		h.errorf("unused argument")
	}

	frame := h.Protect(h.NewEnv(fn.CloEnv(), false, 0))
	for i, f := range formals {
		var value *Object
		switch {
		case supplied[i] != nil:
			value = h.MkPromise(supplied[i], env)
		case f.Car() != h.MissingArg:
			value = h.MkPromise(f.Car(), frame)
		default:
			value = h.MissingArg
		}
		h.DefineVar(f.Tag(), value, frame)
	}
	res := h.eval(fn.Body(), frame)
	h.Unprotect(1)
	return res
}
