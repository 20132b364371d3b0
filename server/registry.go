package server

import (
	"sync"
	"sync/atomic"
)

// Registry tracks the sessions whose processing goroutines are currently
// running, keyed by endpoint identity. A key is present exactly while its
// session's goroutine runs: the server adds it before awaiting Start and
// removes it in the deferred cleanup on every exit path.
//
// All operations are individually atomic and non-blocking with respect to
// each other; no ordering is guaranteed across entries.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a session under identity, reporting false without
// overwriting if the key is already present.
func (r *Registry) Add(identity string, s Session) bool {
	if _, loaded := r.sessions.LoadOrStore(identity, s); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

// Remove deregisters the session under identity, reporting whether an entry
// was actually removed. Removing an absent key is a no-op, which makes
// double-removal harmless.
func (r *Registry) Remove(identity string) bool {
	if _, loaded := r.sessions.LoadAndDelete(identity); !loaded {
		return false
	}
	r.count.Add(-1)
	return true
}

// Get returns the live session registered under identity, if any.
func (r *Registry) Get(identity string) (Session, bool) {
	v, ok := r.sessions.Load(identity)
	if !ok {
		return nil, false
	}
	return v.(Session), true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Range calls fn for each registered session until fn returns false. The
// view is not a snapshot: entries added or removed concurrently may or may
// not be visited.
func (r *Registry) Range(fn func(identity string, s Session) bool) {
	r.sessions.Range(func(k, v any) bool {
		return fn(k.(string), v.(Session))
	})
}
