// Package threadreg is the thread-registry external collaborator of §6:
// thread_by_id(tid) -> thread, current_thread(). Adapted from
// tinfo.Threadinfo_t/Tnote_t; biscuit keeps "the current thread" behind its
// patched runtime's Gptr/Setgptr (a manual thread-local slot), which isn't
// available outside a kernel build. The idiomatic Go substitute carries the
// current Tid on a context.Context instead.
package threadreg

import (
	"context"
	"sync"

	"vmkernel/internal/vmerr"
)

type tidKey struct{}

// WithCurrent returns a context carrying tid as the current thread.
func WithCurrent(ctx context.Context, tid vmerr.Tid) context.Context {
	return context.WithValue(ctx, tidKey{}, tid)
}

// Current returns the thread id carried on ctx, or false if none was set.
func Current(ctx context.Context) (vmerr.Tid, bool) {
	tid, ok := ctx.Value(tidKey{}).(vmerr.Tid)
	return tid, ok
}

// Note is the per-thread state the registry tracks. Mirrors tinfo.Tnote_t's
// shape, trimmed to the fields this subsystem actually reads: whether the
// thread is still alive (an FTE whose owner died mid-fault must not be left
// pointing at a stale thread, per §5's cancellation note).
type Note struct {
	Alive bool
}

// Registry is a mutex-guarded map from Tid to Note, matching
// tinfo.Threadinfo_t.
type Registry struct {
	mu    sync.Mutex
	notes map[vmerr.Tid]*Note
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{notes: make(map[vmerr.Tid]*Note)}
}

// Register adds tid to the registry, marked alive.
func (r *Registry) Register(tid vmerr.Tid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[tid] = &Note{Alive: true}
}

// ByID returns the Note for tid, or false if it was never registered or has
// since exited.
func (r *Registry) ByID(tid vmerr.Tid) (*Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[tid]
	if !ok || !n.Alive {
		return nil, false
	}
	return n, true
}

// Exit marks tid as no longer alive. Frame-table entries owned by tid are
// neither reassigned nor removed here or by addrspace.Registry.Exit; such an
// entry keeps tid as its owner, addrspace.Registry.SPTFor refuses to resolve
// it, and evicting its frame ends in the eviction engine's Fatal panic.
func (r *Registry) Exit(tid vmerr.Tid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.notes[tid]; ok {
		n.Alive = false
	}
}
