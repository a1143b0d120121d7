package bridge

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/rbridge/vm"
)

var log = commonlog.GetLogger("rbridge.engine")

var (
	// ErrEngineRunning is returned by Start while another engine is running.
	ErrEngineRunning = errors.New("bridge: an engine is already running")
	// ErrEngineStopped is returned by operations on a stopped engine.
	ErrEngineStopped = errors.New("bridge: engine is stopped")
)

// running is the process-wide engine. The interpreter has global state, so
// at most one engine may run at a time. startMu serializes Start so the
// engine is published only once its heap exists.
var (
	running atomic.Pointer[Engine]
	startMu sync.Mutex
)

// Options configures an engine.
type Options struct {
	// Heap configures the interpreter heap.
	Heap vm.Config
	// EnvHashSize is the bucket count passed to new.env when an Env wrapper
	// is materialized. Zero means vm.DefaultHashSize.
	EnvHashSize int
}

// Engine owns one interpreter heap and the worker goroutine that is the only
// code allowed to touch it.
type Engine struct {
	id     string
	opts   Options
	heap   *vm.Heap
	worker *worker

	stopped atomic.Bool

	// releases queued by Handle.Release and by cleanups of unreachable
	// owned handles; drained on entry to the next guarded operation.
	pendingMu sync.Mutex
	pending   []*vm.Object
}

// Start creates the heap on a fresh worker and registers the engine as the
// running one.
func Start(opts Options) (*Engine, error) {
	startMu.Lock()
	defer startMu.Unlock()
	if running.Load() != nil {
		return nil, ErrEngineRunning
	}

	if opts.EnvHashSize <= 0 {
		opts.EnvHashSize = vm.DefaultHashSize
	}
	e := &Engine{
		id:     uuid.NewString(),
		opts:   opts,
		worker: newWorker(),
	}
	if err := e.worker.do(func() { e.heap = vm.NewHeap(opts.Heap) }); err != nil {
		e.worker.stop()
		return nil, err
	}
	running.Store(e)
	log.Infof("engine %s started", e.id)
	return e, nil
}

// Current returns the running engine, or nil.
func Current() *Engine {
	return running.Load()
}

// Stop shuts the worker down. Handles of a stopped engine must not be used
// any more; their pending releases are dropped with the heap. Stop may be
// called from inside a guarded operation; the operation runs to completion
// and later calls return ErrEngineStopped.
func (e *Engine) Stop() error {
	if !e.stopped.CompareAndSwap(false, true) {
		return ErrEngineStopped
	}
	e.worker.stop()
	running.CompareAndSwap(e, nil)

	e.pendingMu.Lock()
	e.pending = nil
	e.pendingMu.Unlock()
	log.Infof("engine %s stopped", e.id)
	return nil
}

// ID returns the engine's instance id.
func (e *Engine) ID() string {
	return e.id
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// RunExclusively runs op on the worker goroutine with a session bound to
// the heap. Concurrent callers are serialized. A panic in op is returned as
// a *PanicError, and an interpreter error raised by it as a *vm.Error; in
// both cases the protection stack is unwound to its depth on entry.
//
// Called from inside a guarded operation, including through a locking
// method of Handle or HandleStore, op runs inline with a fresh session.
// Queued releases are then left for the next top-level operation, so
// objects the outer operation still uses stay rooted.
func (e *Engine) RunExclusively(op func(s *Session)) error {
	if e.worker.onWorker() {
		return e.worker.execute(func() { e.guarded(op) })
	}
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	err := e.worker.do(func() {
		e.drainReleases()
		e.guarded(op)
	})
	if errors.Is(err, errWorkerStopped) {
		return ErrEngineStopped
	}
	return err
}

// guarded runs op with a new session and unwinds the protection stack if
// op panics. Runs on the worker.
func (e *Engine) guarded(op func(s *Session)) {
	s := &Session{eng: e, heap: e.heap}
	depth := e.heap.ProtectDepth()
	defer func() {
		s.done = true
		if r := recover(); r != nil {
			if n := e.heap.ProtectDepth() - depth; n > 0 {
				e.heap.Unprotect(n)
			}
			panic(r)
		}
	}()
	op(s)
}

// releaseLater queues obj for one ReleaseObject. It never blocks, so it is
// safe from cleanups and from inside a guarded operation.
func (e *Engine) releaseLater(obj *vm.Object) {
	if e.stopped.Load() {
		return
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, obj)
	e.pendingMu.Unlock()
}

// drainReleases applies queued releases. Runs on the worker.
func (e *Engine) drainReleases() {
	e.pendingMu.Lock()
	pending := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	for _, obj := range pending {
		e.heap.ReleaseObject(obj)
	}
	if len(pending) > 0 {
		log.Debugf("released %d queued handles", len(pending))
	}
}

// ---------------------------------------------------------------------------
// Locking conveniences
// ---------------------------------------------------------------------------

// Materialize converts v into an owned handle.
func (e *Engine) Materialize(v Value) (h Handle, err error) {
	err = e.RunExclusively(func(s *Session) {
		h = s.Materialize(v)
	})
	return h, err
}

// Call invokes the interpreter function bound to name.
func (e *Engine) Call(name string, args ...Value) (h Handle, err error) {
	rerr := e.RunExclusively(func(s *Session) {
		h, err = s.Call(name, args...)
	})
	if rerr != nil {
		return Handle{}, rerr
	}
	return h, err
}

// Eval evaluates expr in env; a nil env means the global environment.
func (e *Engine) Eval(expr, env Value) (h Handle, err error) {
	rerr := e.RunExclusively(func(s *Session) {
		h, err = s.Eval(expr, env)
	})
	if rerr != nil {
		return Handle{}, rerr
	}
	return h, err
}

// Stats returns the heap counters after applying queued releases.
func (e *Engine) Stats() (st vm.Stats, err error) {
	err = e.RunExclusively(func(s *Session) {
		st = s.heap.Stats()
	})
	return st, err
}

// CollectGarbage runs a full collection and returns the number of cells
// reclaimed.
func (e *Engine) CollectGarbage() (n int, err error) {
	err = e.RunExclusively(func(s *Session) {
		n = s.heap.CollectGarbage()
	})
	return n, err
}
