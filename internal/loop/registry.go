// Package loop tracks every outstanding suspended script call so that all
// of them can be resolved individually by the executor or cancelled en
// masse on stop/reset/error.
package loop

import (
	"sync"
)

// Outcome is delivered to the suspended caller when its handle resolves.
// Exactly one of Value or Err is meaningful.
type Outcome struct {
	Value float64
	Err   error
}

// Handle is a cancellable token for one suspended script call. It resolves
// at most once; later resolutions and cancellations are discarded.
type Handle struct {
	id   uint64
	once sync.Once
	done chan Outcome
}

// ID returns the handle's registry identifier.
func (h *Handle) ID() uint64 { return h.id }

// Done returns the channel the outcome is delivered on. It receives
// exactly one value over the handle's lifetime.
func (h *Handle) Done() <-chan Outcome { return h.done }

// deliver publishes the outcome, first-wins. The channel is buffered so
// delivery never blocks the caller.
func (h *Handle) deliver(o Outcome) {
	h.once.Do(func() {
		h.done <- o
	})
}

// Registry owns all live handles. A handle is registered when a script
// call suspends and removed when it resolves or is cancelled, so the
// registry contents are exactly the set of in-flight suspensions.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	handles map[uint64]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[uint64]*Handle),
	}
}

// Register creates and tracks a new handle.
func (r *Registry) Register() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h := &Handle{
		id:   r.nextID,
		done: make(chan Outcome, 1),
	}
	r.handles[h.id] = h
	return h
}

// Resolve completes the handle with a value and removes it. Returns false
// if the handle is unknown, which happens when a resolution arrives after
// a cancellation sweep and must be discarded rather than delivered to a
// fresh run.
func (r *Registry) Resolve(id uint64, value float64) bool {
	return r.finish(id, Outcome{Value: value})
}

// Fail completes the handle with an error and removes it. Returns false if
// the handle is unknown.
func (r *Registry) Fail(id uint64, err error) bool {
	return r.finish(id, Outcome{Err: err})
}

func (r *Registry) finish(id uint64, o Outcome) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.deliver(o)
	return true
}

// CancelAll delivers err to every live handle and empties the registry.
// Returns the number of handles cancelled. After CancelAll returns, no
// previously registered handle can resolve.
func (r *Registry) CancelAll(err error) int {
	r.mu.Lock()
	cancelled := make([]*Handle, 0, len(r.handles))
	for id, h := range r.handles {
		cancelled = append(cancelled, h)
		delete(r.handles, id)
	}
	r.mu.Unlock()

	for _, h := range cancelled {
		h.deliver(Outcome{Err: err})
	}
	return len(cancelled)
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
