package vm

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

func TestEvalSelfEvaluating(t *testing.T) {
	h := newTestHeap(t)

	v := h.Protect(h.ScalarInteger(3))
	res, err := h.Eval(v, h.GlobalEnv)
	if err != nil {
		t.Fatal(err)
	}
	if res != v {
		t.Error("constants should evaluate to themselves")
	}
	h.Unprotect(1)
}

func TestEvalArithmetic(t *testing.T) {
	h := newTestHeap(t)

	integer := func(v int32) func() *Object { return func() *Object { return h.ScalarInteger(v) } }
	double := func(v float64) func() *Object { return func() *Object { return h.ScalarReal(v) } }

	tests := []struct {
		op       string
		a, b     func() *Object
		wantType Type
		want     float64
	}{
		{"+", integer(1), integer(2), IntegerType, 3},
		{"-", integer(5), integer(7), IntegerType, -2},
		{"*", double(1.5), integer(2), RealType, 3},
		{"/", integer(1), integer(4), RealType, 0.25},
	}

	for _, tt := range tests {
		a := h.Protect(tt.a())
		b := h.Protect(tt.b())
		call := h.Protect(lang(h, h.Install(tt.op), a, b))
		res, err := h.Eval(call, h.GlobalEnv)
		h.Unprotect(3)
		if err != nil {
			t.Errorf("%s: %v", tt.op, err)
			continue
		}
		if res.Type() != tt.wantType {
			t.Errorf("%s result type = %s, want %s", tt.op, res.Type(), tt.wantType)
			continue
		}
		var got float64
		if res.Type() == IntegerType {
			got = float64(res.Ints()[0])
		} else {
			got = res.Reals()[0]
		}
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestIntegerOverflowIsNA(t *testing.T) {
	h := newTestHeap(t)

	big := h.Protect(h.ScalarInteger(math.MaxInt32))
	call := h.Protect(lang(h, h.Install("+"), big, big))
	res, err := h.Eval(call, h.GlobalEnv)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ints()[0] != NAInteger {
		t.Errorf("overflow = %d, want NA", res.Ints()[0])
	}
	h.Unprotect(2)
}

func TestEvalUnboundSymbolIsError(t *testing.T) {
	h := newTestHeap(t)

	depth := h.ProtectDepth()
	_, err := h.Eval(h.Install("nowhere"), h.GlobalEnv)
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !strings.Contains(rerr.Message, "object 'nowhere' not found") {
		t.Errorf("message = %q", rerr.Message)
	}
	if h.ProtectDepth() != depth {
		t.Errorf("protect depth after error = %d, want %d", h.ProtectDepth(), depth)
	}
}

func TestCallNewEnv(t *testing.T) {
	h := newTestHeap(t)

	parent := h.Protect(h.NewEnv(h.GlobalEnv, false, 0))
	hash := h.Protect(h.ScalarLogical(true))
	size := h.Protect(h.ScalarInteger(11))
	env, err := h.Call("new.env", hash, parent, size)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type() != EnvironmentType {
		t.Fatalf("new.env returned %s", env.Type())
	}
	if env.Enclos() != parent {
		t.Error("new.env parent mismatch")
	}
	if len(env.HashTab().elts) != 11 {
		t.Errorf("hash size = %d, want 11", len(env.HashTab().elts))
	}
	if h.ProtectDepth() != 3 {
		t.Errorf("Call should leave the protect stack balanced, depth = %d", h.ProtectDepth())
	}
	h.Unprotect(3)
}

func TestCallUnknownFunction(t *testing.T) {
	h := newTestHeap(t)

	_, err := h.Call("no_such_function")
	if err == nil || !strings.Contains(err.Error(), "could not find function") {
		t.Errorf("err = %v", err)
	}
}

// makeAdder builds function(a = 1, b) { c <- a + b } in the global env.
func makeAdder(h *Heap) *Object {
	a, b, c := h.Install("a"), h.Install("b"), h.Install("c")

	one := h.Protect(h.ScalarReal(1))
	formals := h.Protect(h.Cons(h.MissingArg, h.Nil))
	formals.SetTag(b)
	formals = h.Protect(h.Cons(one, formals))
	formals.SetTag(a)

	sum := h.Protect(lang(h, h.Install("+"), a, b))
	assign := h.Protect(lang(h, h.Install("<-"), c, sum))
	body := h.Protect(lang(h, h.Install("{"), assign))

	fn := h.MkClosure(formals, body, h.GlobalEnv)
	h.Unprotect(6)
	return fn
}

func TestApplyClosure(t *testing.T) {
	h := newTestHeap(t)

	fn := h.Protect(makeAdder(h))
	two := h.Protect(h.ScalarReal(2))

	// fn(b = 2) uses the default for a
	args := h.Protect(h.Cons(two, h.Nil))
	args.SetTag(h.Install("b"))
	call := h.Protect(h.LCons(fn, args))

	res, err := h.Eval(call, h.GlobalEnv)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Reals()[0]; got != 3 {
		t.Errorf("fn(b = 2) = %v, want 3", got)
	}
	if h.FindVarInFrame(h.GlobalEnv, h.Install("c")) != h.Unbound {
		t.Error("assignment in the body must not leak into the global env")
	}
	h.Unprotect(4)
}

func TestApplyClosureMissingArgument(t *testing.T) {
	h := newTestHeap(t)

	fn := h.Protect(makeAdder(h))
	call := h.Protect(h.LCons(fn, h.Nil))
	_, err := h.Eval(call, h.GlobalEnv)
	if err == nil || !strings.Contains(err.Error(), `argument "b" is missing`) {
		t.Errorf("err = %v", err)
	}
	h.Unprotect(2)
}

func TestFunctionSpecialBuildsClosure(t *testing.T) {
	h := newTestHeap(t)

	x := h.Install("x")
	formals := h.Protect(h.Cons(h.MissingArg, h.Nil))
	formals.SetTag(x)
	call := h.Protect(lang(h, h.Install("function"), formals, x))

	fn, err := h.Eval(call, h.GlobalEnv)
	if err != nil {
		t.Fatal(err)
	}
	if fn.Type() != ClosureType {
		t.Fatalf("function(x) x evaluated to %s", fn.Type())
	}
	if fn.CloEnv() != h.GlobalEnv || fn.Body() != x {
		t.Error("closure fields do not match the definition")
	}
	h.Unprotect(2)
}

func TestIfSpecial(t *testing.T) {
	h := newTestHeap(t)

	yes := h.Protect(h.ScalarInteger(1))
	no := h.Protect(h.ScalarInteger(2))
	for _, tc := range []struct {
		cond bool
		want *Object
	}{{true, yes}, {false, no}} {
		cond := h.Protect(h.ScalarLogical(tc.cond))
		call := h.Protect(lang(h, h.Install("if"), cond, yes, no))
		res, err := h.Eval(call, h.GlobalEnv)
		if err != nil {
			t.Fatal(err)
		}
		if res != tc.want {
			t.Errorf("if(%v) picked the wrong branch", tc.cond)
		}
		h.Unprotect(2)
	}
	h.Unprotect(2)
}

func TestDelayedAssignAndForce(t *testing.T) {
	h := newTestHeap(t)

	env := h.Protect(h.NewEnv(h.GlobalEnv, false, 0))
	one := h.Protect(h.ScalarInteger(1))
	two := h.Protect(h.ScalarInteger(2))
	code := h.Protect(lang(h, h.Install("+"), one, two))
	_, err := h.Call("delayedAssign", h.ScalarString("p"), code, h.GlobalEnv, env)
	if err != nil {
		t.Fatal(err)
	}

	p := h.FindVarInFrame(env, h.Install("p"))
	if p.Type() != PromiseType {
		t.Fatalf("binding is %s, want promise", p.Type())
	}
	if p.PrValue() != h.Unbound || p.PrCode() != code || p.PrEnv() != h.GlobalEnv {
		t.Error("fresh promise fields are wrong")
	}

	res, err := h.Eval(h.Install("p"), env)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ints()[0] != 3 {
		t.Errorf("forced value = %d, want 3", res.Ints()[0])
	}
	if p.PrValue() != res || p.PrEnv() != h.Nil || p.PrSeen() {
		t.Error("forcing should cache the value and drop the environment")
	}
	h.Unprotect(4)
}

func TestRecursivePromiseIsError(t *testing.T) {
	h := newTestHeap(t)

	env := h.Protect(h.NewEnv(h.GlobalEnv, false, 0))
	sym := h.Install("loop")
	p := h.MkPromise(sym, env)
	h.DefineVar(sym, p, env)

	_, err := h.ForcePromise(p)
	if err == nil || !strings.Contains(err.Error(), "promise already under evaluation") {
		t.Errorf("err = %v", err)
	}
	if p.PrSeen() {
		t.Error("seen flag should be cleared after the error")
	}
	h.Unprotect(1)
}

func TestIdentical(t *testing.T) {
	h := newTestHeap(t)

	// call builds f(n, "x"), or f(n) when withString is false.
	call := func(n int32, withString bool) *Object {
		items := []*Object{h.Install("f"), h.Protect(h.ScalarInteger(n))}
		if withString {
			items = append(items, h.Protect(h.ScalarString("x")))
		}
		res := lang(h, items...)
		h.Unprotect(len(items) - 1)
		return res
	}

	a := h.Protect(call(1, true))
	b := h.Protect(call(1, true))
	c := h.Protect(call(2, false))

	if !h.Identical(a, b) {
		t.Error("structurally equal calls should be identical")
	}
	if h.Identical(a, c) {
		t.Error("different calls should not be identical")
	}
	nan1 := h.Protect(h.ScalarReal(math.NaN()))
	nan2 := h.Protect(h.ScalarReal(math.NaN()))
	if !h.Identical(nan1, nan2) {
		t.Error("NaN should be identical to NaN")
	}
	h.Unprotect(5)
}

func TestApplyBuiltin(t *testing.T) {
	h := newTestHeap(t)

	six := h.Protect(h.ScalarInteger(6))
	seven := h.Protect(h.ScalarInteger(7))
	args := h.Protect(h.Cons(six, h.Cons(seven, h.Nil)))

	res, err := h.Apply(h.LookupPrimitive("*"), args, h.GlobalEnv)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ints()[0] != 42 {
		t.Errorf("6L * 7L = %d, want 42", res.Ints()[0])
	}
	if h.ProtectDepth() != 3 {
		t.Errorf("protect depth = %d, want 3", h.ProtectDepth())
	}
	h.Unprotect(3)
}
