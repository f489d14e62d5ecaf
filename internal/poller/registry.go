package poller

import (
	"context"
	"sync"
)

type handle struct {
	cancel context.CancelFunc
}

// Registry enforces the one-poll-per-job invariant: acquiring a context for a
// job id cancels whichever poll previously owned that id, so a stale loop can
// never overwrite state written by a newer one.
type Registry struct {
	mu     sync.Mutex
	active map[string]*handle
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*handle)}
}

// Acquire cancels any in-flight poll for jobID and returns a context owned by
// the new poll. The release func must be called when the poll finishes; it is
// safe to call more than once.
func (r *Registry) Acquire(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	h := &handle{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[jobID]; ok {
		prev.cancel()
	}
	r.active[jobID] = h
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if cur, ok := r.active[jobID]; ok && cur == h {
			delete(r.active, jobID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel stops the active poll for jobID, if any.
func (r *Registry) Cancel(jobID string) {
	r.mu.Lock()
	h, ok := r.active[jobID]
	if ok {
		delete(r.active, jobID)
	}
	r.mu.Unlock()
	if ok {
		h.cancel()
	}
}

// CancelAll stops every active poll. Used when the owning view is abandoned.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.active))
	for id, h := range r.active {
		handles = append(handles, h)
		delete(r.active, id)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}
}

// Len reports the number of active polls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
