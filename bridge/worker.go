package bridge

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/chazu/rbridge/vm"
)

// PanicError is returned when a guarded operation panics.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bridge: panic in guarded operation: %v", e.Value)
}

// Unwrap exposes a panic value that is itself an error, such as
// vm.ErrCollected or a *vm.FatalError raised by a test fatal handler.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

var errWorkerStopped = errors.New("bridge: worker stopped")

// request is a unit of work executed on the worker goroutine.
type request struct {
	fn   func()
	done chan error
}

// worker serializes all heap access through a single goroutine locked to
// one OS thread. Guarded operations from other goroutines go through do;
// the worker goroutine itself runs nested operations inline.
type worker struct {
	requests chan request
	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	// gid is the goroutine id of loop, zero until it starts.
	gid atomic.Int64
}

func newWorker() *worker {
	w := &worker{
		requests: make(chan request),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially. requests is unbuffered, so a send
// that succeeds has been received and runs to completion before quit is
// observed.
func (w *worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.exited)
	w.gid.Store(goid.Get())

	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics. Interpreter errors pass through
// unchanged; anything else becomes a *PanicError.
func (w *worker) execute(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if verr, ok := r.(*vm.Error); ok {
			err = verr
			return
		}
		err = &PanicError{Value: r, Stack: debug.Stack()}
	}()
	fn()
	return nil
}

// onWorker reports whether the caller is the worker goroutine.
func (w *worker) onWorker() bool {
	return w.gid.Load() == goid.Get()
}

// do submits fn and blocks until it has run.
func (w *worker) do(fn func()) error {
	req := request{
		fn:   fn,
		done: make(chan error, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return errWorkerStopped
	}
	return <-req.done
}

// stop shuts the worker down and waits for the goroutine to exit. Called
// from the worker itself it only signals: the loop exits once the current
// request returns.
func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	if w.onWorker() {
		return
	}
	<-w.exited
}
