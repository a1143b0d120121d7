package vm

import (
	"fmt"
	"sort"
	"testing"
)

// ---------------------------------------------------------------------------
// Environments
// ---------------------------------------------------------------------------

func TestDefineAndFindHashed(t *testing.T) {
	h := newTestHeap(t)

	env := h.Protect(h.NewEnv(h.GlobalEnv, true, DefaultHashSize))
	for i := 0; i < 100; i++ {
		v := h.Protect(h.ScalarInteger(int32(i)))
		h.DefineVar(h.Install(fmt.Sprintf("n%d", i)), v, env)
		h.Unprotect(1)
	}

	if size := len(env.HashTab().elts); size <= DefaultHashSize {
		t.Errorf("hash table should have grown past %d buckets, has %d", DefaultHashSize, size)
	}
	for i := 0; i < 100; i++ {
		v := h.FindVarInFrame(env, h.Install(fmt.Sprintf("n%d", i)))
		if v == h.Unbound {
			t.Fatalf("n%d not found", i)
		}
		if got := v.Ints()[0]; got != int32(i) {
			t.Errorf("n%d = %d", i, got)
		}
	}
	if h.Length(env) != 100 {
		t.Errorf("length(env) = %d, want 100", h.Length(env))
	}
	h.Unprotect(1)
}

func TestDefineAndFindUnhashed(t *testing.T) {
	h := newTestHeap(t)

	env := h.Protect(h.NewEnv(h.EmptyEnv, false, 0))
	x := h.Install("x")
	h.DefineVar(x, h.ScalarInteger(1), env)
	h.DefineVar(x, h.ScalarInteger(2), env)

	if got := h.FindVarInFrame(env, x).Ints()[0]; got != 2 {
		t.Errorf("x = %d, want 2 after redefinition", got)
	}
	if h.Length(env.Frame()) != 1 {
		t.Error("redefinition should reuse the binding cell")
	}
	h.Unprotect(1)
}

func TestFindVarWalksEnclosures(t *testing.T) {
	h := newTestHeap(t)

	outer := h.Protect(h.NewEnv(h.GlobalEnv, false, 0))
	inner := h.Protect(h.NewEnv(outer, true, 5))
	sym := h.Install("shared")
	h.DefineVar(sym, h.ScalarReal(3.5), outer)

	if v := h.FindVarInFrame(inner, sym); v != h.Unbound {
		t.Error("inner frame should not bind shared")
	}
	if v := h.FindVar(sym, inner); v == h.Unbound || v.Reals()[0] != 3.5 {
		t.Error("FindVar should find shared through the enclosure")
	}
	if v := h.FindVar(h.Install("+"), inner); !v.IsPrimitive() {
		t.Error("FindVar should reach base bindings")
	}
	h.Unprotect(2)
}

func TestRemoveVarLeavesUnboundSlot(t *testing.T) {
	for _, hashed := range []bool{true, false} {
		t.Run(fmt.Sprintf("hashed=%v", hashed), func(t *testing.T) {
			h := newTestHeap(t)

			env := h.Protect(h.NewEnv(h.GlobalEnv, hashed, 7))
			for _, name := range []string{"a", "b", "c"} {
				h.DefineVar(h.Install(name), h.ScalarInteger(1), env)
			}
			if !h.RemoveVar(h.Install("b"), env) {
				t.Fatal("RemoveVar should report the binding it removed")
			}
			if h.RemoveVar(h.Install("b"), env) {
				t.Error("removing twice should report no binding")
			}

			names := h.FrameNames(env)
			sort.Strings(names)
			if fmt.Sprint(names) != "[a c]" {
				t.Errorf("FrameNames = %v, want [a c]", names)
			}
			if h.FindVarInFrame(env, h.Install("b")) != h.Unbound {
				t.Error("removed binding should read as Unbound")
			}
			h.Unprotect(1)
		})
	}
}

func TestDefineInEmptyEnvIsError(t *testing.T) {
	h := newTestHeap(t)

	err := h.catch(func() {
		h.DefineVar(h.Install("x"), h.Nil, h.EmptyEnv)
	})
	if err == nil {
		t.Fatal("assigning into the empty environment should fail")
	}
}

func TestBaseEnvUsesSymbolValue(t *testing.T) {
	h := newTestHeap(t)

	sym := h.Install("baseval")
	h.DefineVar(sym, h.ScalarInteger(5), h.BaseEnv)
	if sym.SymValue().Ints()[0] != 5 {
		t.Error("base bindings should be stored on the symbol")
	}
	if h.FindVarInFrame(h.BaseEnv, sym) != sym.SymValue() {
		t.Error("FindVarInFrame(base) should read the symbol value")
	}
}

func TestHashpjw(t *testing.T) {
	if hashpjw("") != 0 {
		t.Error("hash of the empty string should be 0")
	}
	if hashpjw("abc") == hashpjw("abd") {
		t.Error("distinct short names should hash differently")
	}
}
