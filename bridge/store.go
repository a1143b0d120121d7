package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// promoted is a handle held by the store on behalf of an owner.
type promoted struct {
	id       string
	handle   Handle
	owner    string
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque string ids to long-lived roots. Promoting a
// handle takes a registration of its own in the precious set, so the object
// outlives the handle it was promoted from until the id is released.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*promoted
	eng     *Engine
}

// NewHandleStore creates an empty store for eng.
func NewHandleStore(eng *Engine) *HandleStore {
	return &HandleStore{
		handles: make(map[string]*promoted),
		eng:     eng,
	}
}

// Promote roots the object of h and returns its id. It enters the engine's
// guard, inline when called from inside a guarded operation.
func (st *HandleStore) Promote(h Handle, owner string) (string, error) {
	var pinned Handle
	err := st.eng.RunExclusively(func(s *Session) {
		pinned = s.Own(h.sexp(s))
	})
	if err != nil {
		return "", err
	}

	id := "h-" + uuid.NewString()
	now := time.Now()

	st.mu.Lock()
	st.handles[id] = &promoted{
		id:       id,
		handle:   pinned,
		owner:    owner,
		created:  now,
		lastUsed: now,
	}
	st.mu.Unlock()

	log.Debugf("promoted %s for %q", id, owner)
	return id, nil
}

// Lookup returns a borrowed handle for id. The store keeps the object
// rooted until the id is released.
func (st *HandleStore) Lookup(id string) (Handle, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.handles[id]
	if !ok {
		return Handle{}, false
	}
	p.lastUsed = time.Now()
	return Handle{obj: p.handle.obj, eng: p.handle.eng}, true
}

// Release drops the root held for id.
func (st *HandleStore) Release(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.handles[id]
	if !ok {
		return
	}
	p.handle.Release()
	delete(st.handles, id)
}

// ReleaseOwner drops every root promoted for owner and returns how many
// there were.
func (st *HandleStore) ReleaseOwner(owner string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	n := 0
	for id, p := range st.handles {
		if p.owner == owner {
			p.handle.Release()
			delete(st.handles, id)
			n++
		}
	}
	return n
}

// Count returns the number of promoted handles.
func (st *HandleStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.handles)
}

// Sweep releases handles that haven't been looked up within the TTL.
func (st *HandleStore) Sweep(ttl time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, p := range st.handles {
		if p.lastUsed.Before(cutoff) {
			p.handle.Release()
			delete(st.handles, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d idle handles", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (st *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				st.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
