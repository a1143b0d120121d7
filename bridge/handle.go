package bridge

import (
	"runtime"
	"sync/atomic"

	"github.com/chazu/rbridge/vm"
)

// Handle references one heap object. An owned handle holds one registration
// in the precious set, shared by all copies of the handle and dropped exactly
// once: by Release, by Session.Release, or by a cleanup once no copy is
// reachable. A borrowed handle is never deregistered.
type Handle struct {
	obj *vm.Object
	eng *Engine
	own *ownership
}

type ownership struct {
	eng      *Engine
	released atomic.Bool
	cleanup  runtime.Cleanup
}

func newOwned(eng *Engine, obj *vm.Object) Handle {
	o := &ownership{eng: eng}
	o.cleanup = runtime.AddCleanup(o, eng.releaseLater, obj)
	return Handle{obj: obj, eng: eng, own: o}
}

// claimRelease reports whether the caller is the one to drop the root.
func (h Handle) claimRelease() bool {
	if h.own == nil || !h.own.released.CompareAndSwap(false, true) {
		return false
	}
	h.own.cleanup.Stop()
	return true
}

// Release drops the root of an owned handle. It never blocks: the release
// is applied on entry to the engine's next guarded operation, so it may be
// called from anywhere, including inside RunExclusively. Releasing a
// borrowed handle, or releasing twice, does nothing.
func (h Handle) Release() {
	if h.claimRelease() {
		h.eng.releaseLater(h.obj)
	}
}

// IsOwned reports whether the handle holds a root.
func (h Handle) IsOwned() bool {
	return h.own != nil
}

// IsReleased reports whether an owned handle has been released.
func (h Handle) IsReleased() bool {
	return h.own != nil && h.own.released.Load()
}

// Object returns the raw heap object. It may only be used inside a guarded
// operation of the handle's engine.
func (h Handle) Object() *vm.Object {
	return h.obj
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.obj == nil
}

func (h Handle) String() string {
	if h.obj == nil {
		return "Handle(<zero>)"
	}
	kind := "borrowed"
	if h.own != nil {
		kind = "owned"
	}
	return "Handle(" + h.obj.Type().String() + ", " + kind + ")"
}

// ---------------------------------------------------------------------------
// Classification
//
// The type tag of a rooted cell is fixed at allocation, so these read it
// without entering the guard.
// ---------------------------------------------------------------------------

// Type returns the dynamic type tag of the object.
func (h Handle) Type() vm.Type {
	return h.obj.Type()
}

func (h Handle) IsNull() bool        { return h.Type() == vm.NilType }
func (h Handle) IsSymbol() bool      { return h.Type() == vm.SymbolType }
func (h Handle) IsLanguage() bool    { return h.Type() == vm.LanguageType }
func (h Handle) IsList() bool        { return h.Type() == vm.ListType }
func (h Handle) IsExpr() bool        { return h.Type() == vm.ExpressionType }
func (h Handle) IsPairlist() bool    { return h.Type() == vm.PairlistType }
func (h Handle) IsEnvironment() bool { return h.Type() == vm.EnvironmentType }
func (h Handle) IsPromise() bool     { return h.Type() == vm.PromiseType }
func (h Handle) IsRaw() bool         { return h.Type() == vm.RawType }
func (h Handle) IsFunction() bool    { return h.obj.IsFunction() }
func (h Handle) IsPrimitive() bool   { return h.obj.IsPrimitive() }

// IsUnbound reports whether h is the unbound-value marker.
func (h Handle) IsUnbound() bool {
	return h.eng != nil && h.eng.heap != nil && h.obj == h.eng.heap.Unbound
}

// IsMissingArg reports whether h is the missing-argument marker.
func (h Handle) IsMissingArg() bool {
	return h.eng != nil && h.eng.heap != nil && h.obj == h.eng.heap.MissingArg
}

// ---------------------------------------------------------------------------
// Locking inspection
//
// These enter the engine's guard. Inside a guarded operation they run
// inline; the Session methods of the same name avoid the extra session.
// ---------------------------------------------------------------------------

// locked runs fn in the handle's engine, inline when already inside one of
// its guarded operations. Guard failures panic: a handle of a stopped
// engine is a dangling reference.
func (h Handle) locked(fn func(s *Session)) {
	if h.eng == nil {
		panic("bridge: zero Handle")
	}
	if err := h.eng.RunExclusively(fn); err != nil {
		panic(err)
	}
}

// Len returns the interpreter's length of the object.
func (h Handle) Len() (n int) {
	h.locked(func(s *Session) { n = s.Len(h) })
	return n
}

// Equal reports whether h and other refer to identical objects.
func (h Handle) Equal(other Value) (eq bool) {
	h.locked(func(s *Session) { eq = s.Identical(h, other) })
	return eq
}

func (h Handle) AsSymbol() (v Symbol, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsSymbol(h) })
	return v, ok
}

func (h Handle) AsCharacter() (v Character, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsCharacter(h) })
	return v, ok
}

func (h Handle) AsRaw() (v Raw, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsRaw(h) })
	return v, ok
}

func (h Handle) AsLang() (v Lang, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsLang(h) })
	return v, ok
}

func (h Handle) AsPairlist() (v Pairlist, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsPairlist(h) })
	return v, ok
}

func (h Handle) AsList() (v List, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsList(h) })
	return v, ok
}

func (h Handle) AsExpr() (v Expr, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsExpr(h) })
	return v, ok
}

func (h Handle) AsEnvironment() (v Env, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsEnvironment(h) })
	return v, ok
}

func (h Handle) AsFunc() (v Func, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsFunc(h) })
	return v, ok
}

func (h Handle) AsPromise() (v Promise, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsPromise(h) })
	return v, ok
}

func (h Handle) AsPrimitive() (v Primitive, ok bool) {
	h.locked(func(s *Session) { v, ok = s.AsPrimitive(h) })
	return v, ok
}

// sexp makes Handle a Value.
func (h Handle) sexp(s *Session) *vm.Object {
	s.check()
	if h.obj == nil {
		panic("bridge: zero Handle")
	}
	if h.eng != s.eng {
		panic("bridge: handle belongs to another engine")
	}
	return h.obj
}
