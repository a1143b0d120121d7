package bridge

import (
	"fmt"

	"github.com/chazu/rbridge/vm"
)

// Session is the capability to touch the heap. It is handed to the
// operation passed to RunExclusively and is only valid until that
// operation returns.
type Session struct {
	eng  *Engine
	heap *vm.Heap
	done bool
}

// Heap returns the interpreter heap for direct allocator calls.
func (s *Session) Heap() *vm.Heap {
	s.check()
	return s.heap
}

// Engine returns the engine the session belongs to.
func (s *Session) Engine() *Engine {
	return s.eng
}

func (s *Session) check() {
	if s.done {
		panic("bridge: session used after its guarded operation returned")
	}
}

// ---------------------------------------------------------------------------
// Protection scope
// ---------------------------------------------------------------------------

// scope counts protections so they can be popped with one Unprotect.
//
//	sc := s.scope()
//	defer sc.release()
type scope struct {
	heap *vm.Heap
	n    int
}

func (s *Session) scope() *scope {
	s.check()
	return &scope{heap: s.heap}
}

// protect pushes x and returns it.
func (sc *scope) protect(x *vm.Object) *vm.Object {
	sc.heap.Protect(x)
	sc.n++
	return x
}

// release pops exactly the protections made through this scope.
func (sc *scope) release() {
	if sc.n > 0 {
		sc.heap.Unprotect(sc.n)
		sc.n = 0
	}
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Own registers obj as a root and returns an owned handle for it.
func (s *Session) Own(obj *vm.Object) Handle {
	s.check()
	s.heap.PreserveObject(obj)
	return newOwned(s.eng, obj)
}

// Borrow wraps obj without rooting it. The caller guarantees something
// else keeps obj reachable for as long as the handle is used.
func (s *Session) Borrow(obj *vm.Object) Handle {
	s.check()
	if obj == nil {
		panic("bridge: borrow of nil object")
	}
	return Handle{obj: obj, eng: s.eng}
}

// Release deregisters an owned handle now. Releasing a borrowed handle, or
// an owned one a second time, does nothing.
func (s *Session) Release(h Handle) {
	s.check()
	if h.eng != nil && h.eng != s.eng {
		panic("bridge: handle belongs to another engine")
	}
	if h.claimRelease() {
		s.heap.ReleaseObject(h.obj)
	}
}

// Sentinels. All are borrowed: the heap keeps them alive.

func (s *Session) Null() Handle       { return s.Borrow(s.heap.Nil) }
func (s *Session) GlobalEnv() Handle  { return s.Borrow(s.heap.GlobalEnv) }
func (s *Session) BaseEnv() Handle    { return s.Borrow(s.heap.BaseEnv) }
func (s *Session) EmptyEnv() Handle   { return s.Borrow(s.heap.EmptyEnv) }
func (s *Session) MissingArg() Handle { return s.Borrow(s.heap.MissingArg) }
func (s *Session) Unbound() Handle    { return s.Borrow(s.heap.Unbound) }

// Len returns the interpreter's length of the handle's object.
func (s *Session) Len(h Handle) int {
	s.check()
	return s.heap.Length(h.sexp(s))
}

// Identical reports whether a and b materialize to identical objects.
func (s *Session) Identical(a, b Value) bool {
	sc := s.scope()
	defer sc.release()
	x := sc.protect(sexpOf(s, a))
	y := sc.protect(sexpOf(s, b))
	return s.heap.Identical(x, y)
}

// ---------------------------------------------------------------------------
// Materialization and the call surface
// ---------------------------------------------------------------------------

// Materialize converts v into a heap object and returns an owned handle.
// A Handle materializes to itself.
//
// Materializing an Env calls new.env; if that raises an interpreter error
// the *vm.Error unwinds to RunExclusively and is returned from there.
func (s *Session) Materialize(v Value) Handle {
	s.check()
	if h, ok := v.(Handle); ok {
		return h
	}
	return s.Own(sexpOf(s, v))
}

// Call invokes the interpreter function bound to name with positional
// arguments. Each argument is materialized and protected for the duration
// of the call. Symbol and Lang arguments are evaluated by the call, as the
// interpreter evaluates the arguments of any call expression.
func (s *Session) Call(name string, args ...Value) (Handle, error) {
	sc := s.scope()
	defer sc.release()

	objs := make([]*vm.Object, len(args))
	for i, a := range args {
		objs[i] = sc.protect(sexpOf(s, a))
	}
	res, err := s.heap.Call(name, objs...)
	if err != nil {
		return Handle{}, fmt.Errorf("call %s: %w", name, err)
	}
	return s.Own(res), nil
}

// Eval evaluates expr in env. A nil env means the global environment.
func (s *Session) Eval(expr, env Value) (Handle, error) {
	sc := s.scope()
	defer sc.release()

	rho := s.heap.GlobalEnv
	if env != nil {
		rho = sc.protect(sexpOf(s, env))
		if rho.Type() != vm.EnvironmentType {
			return Handle{}, fmt.Errorf("eval: env is a %s, not an environment", rho.Type())
		}
	}
	e := sc.protect(sexpOf(s, expr))
	res, err := s.heap.Eval(e, rho)
	if err != nil {
		return Handle{}, fmt.Errorf("eval: %w", err)
	}
	return s.Own(res), nil
}
