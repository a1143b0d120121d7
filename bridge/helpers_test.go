package bridge

import (
	"testing"

	"github.com/chazu/rbridge/vm"
)

// startTestEngine starts an engine whose heap collects before every
// allocation, so any missing protect panics on a poisoned cell. Fatal heap
// errors panic instead of exiting.
func startTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Start(Options{
		Heap: vm.Config{
			Torture: true,
			OnFatal: func(msg string) { panic(&vm.FatalError{Message: msg}) },
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

// run executes fn under the guard and fails the test on a guard error.
func run(t *testing.T, e *Engine, fn func(s *Session)) {
	t.Helper()
	if err := e.RunExclusively(fn); err != nil {
		t.Fatalf("RunExclusively: %v", err)
	}
}

// sameValues reports whether got and want have the same length and
// pairwise identical objects.
func sameValues(s *Session, want, got []Value) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if !s.Identical(want[i], got[i]) {
			return false
		}
	}
	return true
}

func stats(t *testing.T, e *Engine) vm.Stats {
	t.Helper()
	st, err := e.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st
}
