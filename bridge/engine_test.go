package bridge

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/rbridge/vm"
)

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestOnlyOneEngineRuns(t *testing.T) {
	e := startTestEngine(t)

	if _, err := Start(Options{}); !errors.Is(err, ErrEngineRunning) {
		t.Fatalf("second Start err = %v, want ErrEngineRunning", err)
	}
	if Current() != e {
		t.Error("Current should return the running engine")
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if Current() != nil {
		t.Error("Current should be nil after Stop")
	}

	e2, err := Start(Options{})
	if err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	if e2.ID() == e.ID() {
		t.Error("engines should get distinct ids")
	}
	if e2.Options().EnvHashSize != vm.DefaultHashSize {
		t.Errorf("EnvHashSize = %d, want default", e2.Options().EnvHashSize)
	}
	e2.Stop()
}

func TestStoppedEngine(t *testing.T) {
	e := startTestEngine(t)
	e.Stop()

	if err := e.RunExclusively(func(s *Session) {}); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("RunExclusively err = %v, want ErrEngineStopped", err)
	}
	if _, err := e.Materialize(Integers{1}); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Materialize err = %v, want ErrEngineStopped", err)
	}
	if err := e.Stop(); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("second Stop err = %v, want ErrEngineStopped", err)
	}
}

// ---------------------------------------------------------------------------
// Guard
// ---------------------------------------------------------------------------

func TestPanicBecomesPanicError(t *testing.T) {
	e := startTestEngine(t)

	err := e.RunExclusively(func(s *Session) {
		s.Heap().Protect(s.Heap().Nil)
		s.Heap().Protect(s.Heap().Nil)
		panic("boom")
	})
	var perr *PanicError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PanicError", err)
	}
	if perr.Value != "boom" {
		t.Errorf("Value = %v", perr.Value)
	}
	if len(perr.Stack) == 0 {
		t.Error("PanicError should carry a stack")
	}
	if d := stats(t, e).ProtectDepth; d != 0 {
		t.Errorf("protect depth after panic = %d, want 0", d)
	}
}

func TestInterpreterErrorIsReturned(t *testing.T) {
	e := startTestEngine(t)

	_, err := e.Materialize(Env{Parent: Integers{1}})
	var verr *vm.Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *vm.Error", err)
	}
	if !strings.Contains(verr.Message, "must be an environment") {
		t.Errorf("message = %q", verr.Message)
	}
	if d := stats(t, e).ProtectDepth; d != 0 {
		t.Errorf("protect depth after error = %d, want 0", d)
	}
}

func TestUseAfterCollectIsReported(t *testing.T) {
	e := startTestEngine(t)

	err := e.RunExclusively(func(s *Session) {
		h := s.Heap()
		a := h.ScalarInteger(1)
		h.ScalarInteger(2)
		a.Type()
	})
	if !errors.Is(err, vm.ErrCollected) {
		t.Errorf("err = %v, want ErrCollected", err)
	}
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	e := startTestEngine(t)

	var active atomic.Int32
	var overlapped atomic.Bool
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 10; j++ {
				err := e.RunExclusively(func(s *Session) {
					if active.Add(1) != 1 {
						overlapped.Store(true)
					}
					defer active.Add(-1)

					h := s.Materialize(Call("f", Integers{int32(i)}, List{Strings{"x"}, Sym("y")}))
					s.Release(h)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if overlapped.Load() {
		t.Error("two guarded operations ran at the same time")
	}

	st := stats(t, e)
	if st.ProtectDepth != 0 {
		t.Errorf("protect depth = %d, want 0", st.ProtectDepth)
	}
	if st.Precious != 0 {
		t.Errorf("precious = %d, want 0", st.Precious)
	}
}

func TestSessionInvalidAfterReturn(t *testing.T) {
	e := startTestEngine(t)

	var saved *Session
	var h Handle
	run(t, e, func(s *Session) {
		saved = s
		h = s.Materialize(Raw{1, 2, 3})
	})
	defer h.Release()

	uses := map[string]func(){
		"Heap":        func() { saved.Heap() },
		"Len":         func() { saved.Len(h) },
		"AsRaw":       func() { saved.AsRaw(h) },
		"AsSymbol":    func() { saved.AsSymbol(h) },
		"AsCharacter": func() { saved.AsCharacter(h) },
		"AsPrimitive": func() { saved.AsPrimitive(h) },
		"AsList":      func() { saved.AsList(h) },
		"Identical":   func() { saved.Identical(h, h) },
		"Materialize": func() { saved.Materialize(Integers{1}) },
	}
	for name, use := range uses {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s on a session whose operation returned should panic", name)
				}
			}()
			use()
		})
	}
}

// ---------------------------------------------------------------------------
// Nested operations
// ---------------------------------------------------------------------------

// runWithin runs op through RunExclusively on another goroutine and fails
// the test if it has not returned within five seconds.
func runWithin(t *testing.T, e *Engine, op func(s *Session)) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.RunExclusively(op) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("guarded operation did not return")
		return nil
	}
}

func TestLockingCallsInsideGuardRunInline(t *testing.T) {
	e := startTestEngine(t)
	st := NewHandleStore(e)

	h, err := e.Materialize(Call("xyz", Integers{1}, Integers{2}))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	err = runWithin(t, e, func(s *Session) {
		depth := s.Heap().ProtectDepth()

		if n := h.Len(); n != 3 {
			t.Errorf("Len = %d, want 3", n)
		}
		if !h.Equal(Call("xyz", Integers{1}, Integers{2})) {
			t.Error("Equal should match the same call")
		}
		l, ok := h.AsLang()
		if !ok || len(l) != 3 {
			t.Errorf("AsLang = %v, %v", l, ok)
		}
		l.Release()
		id, err := st.Promote(h, "nested")
		if err != nil {
			t.Errorf("Promote: %v", err)
		} else if _, ok := st.Lookup(id); !ok {
			t.Error("promoted id should be found")
		}
		if hs, err := e.Stats(); err != nil || hs.ProtectDepth != depth {
			t.Errorf("nested Stats = depth %d, %v; want depth %d", hs.ProtectDepth, err, depth)
		}

		// the outer session is still usable after nested operations
		if s.Len(h) != 3 {
			t.Error("outer session broken by a nested operation")
		}
		if d := s.Heap().ProtectDepth(); d != depth {
			t.Errorf("protect depth %d -> %d", depth, d)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Count() != 1 {
		t.Errorf("Count = %d, want 1", st.Count())
	}
	if p := stats(t, e).Precious; p != 2 {
		t.Errorf("precious = %d, want 2", p)
	}
}

func TestNestedOperationErrors(t *testing.T) {
	e := startTestEngine(t)

	err := runWithin(t, e, func(s *Session) {
		depth := s.Heap().ProtectDepth()

		var inner *Session
		err := e.RunExclusively(func(s2 *Session) {
			inner = s2
			s2.Heap().Protect(s2.Heap().Nil)
			panic("inner")
		})
		var perr *PanicError
		if !errors.As(err, &perr) || perr.Value != "inner" {
			t.Errorf("nested panic err = %v, want *PanicError", err)
		}
		if d := s.Heap().ProtectDepth(); d != depth {
			t.Errorf("protect depth after nested panic = %d, want %d", d, depth)
		}

		if _, err := e.Eval(Sym("nested_missing"), nil); err == nil ||
			!strings.Contains(err.Error(), "object 'nested_missing' not found") {
			t.Errorf("nested Eval err = %v", err)
		}

		func() {
			defer func() {
				if recover() == nil {
					t.Error("the nested session should be invalid after it returned")
				}
			}()
			inner.Heap()
		}()

		h := s.Materialize(Integers{4})
		s.Release(h)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStopInsideOperation(t *testing.T) {
	e := startTestEngine(t)

	err := runWithin(t, e, func(s *Session) {
		if err := e.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
		h := s.Materialize(Integers{1})
		s.Release(h)
	})
	if err != nil {
		t.Fatal(err)
	}
	if Current() != nil {
		t.Error("Current should be nil after Stop")
	}
	if err := e.RunExclusively(func(s *Session) {}); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("RunExclusively err = %v, want ErrEngineStopped", err)
	}
}

func TestConcurrentStartPublishesReadyEngine(t *testing.T) {
	var started atomic.Int32
	var winner atomic.Pointer[Engine]
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if c := Current(); c != nil && c.heap == nil {
				return errors.New("Current returned an engine without a heap")
			}
			e, err := Start(Options{})
			if errors.Is(err, ErrEngineRunning) {
				return nil
			}
			if err != nil {
				return err
			}
			started.Add(1)
			winner.Store(e)
			return nil
		})
	}
	err := g.Wait()
	if w := winner.Load(); w != nil {
		defer w.Stop()
	}
	if err != nil {
		t.Fatal(err)
	}
	if n := started.Load(); n != 1 {
		t.Errorf("%d engines started, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Call surface
// ---------------------------------------------------------------------------

func TestEngineCall(t *testing.T) {
	e := startTestEngine(t)

	h, err := e.Call("+", Integers{2}, Integers{3})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	if !h.Equal(Integers{5}) {
		t.Error("2L + 3L should be 5L")
	}

	_, err = e.Call("no_such_function")
	var verr *vm.Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want wrapped *vm.Error", err)
	}
	if !strings.Contains(err.Error(), "call no_such_function") {
		t.Errorf("error should name the call: %v", err)
	}
}

func TestEngineEval(t *testing.T) {
	e := startTestEngine(t)

	h, err := e.Eval(Call("+", Integers{1}, Doubles{0.5}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	if !h.Equal(Doubles{1.5}) {
		t.Error("1L + 0.5 should be 1.5")
	}

	if _, err := e.Eval(Sym("x"), Integers{1}); err == nil {
		t.Error("evaluating in a non-environment should fail")
	}
	if _, err := e.Eval(Sym("undefined_symbol"), nil); err == nil ||
		!strings.Contains(err.Error(), "object 'undefined_symbol' not found") {
		t.Errorf("err = %v", err)
	}
}
