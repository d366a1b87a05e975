// Package framealloc implements the allocate-or-evict sequence §2's data
// flow describes: "allocator -> eviction engine -> victim's SPT entry ->
// frame table (retained, now owned by the faulting thread)". Both the page
// loader (§4.D) and the stack grower (§4.E) need exactly this sequence, so
// it lives in one place rather than being duplicated.
package framealloc

import (
	"vmkernel/internal/eviction"
	"vmkernel/internal/frametable"
	"vmkernel/internal/mem"
	"vmkernel/internal/pagepool"
	"vmkernel/internal/vmerr"
)

// Allocate returns a fresh frame, added to the frame table under caller's
// ownership. If the pool is exhausted, it falls back to the eviction
// engine (§4.B), which may panic per the Fatal/SwapExhausted model (§7) —
// callers at the fault-handler boundary should recover if they want to
// terminate only the faulting process rather than the whole kernel.
func Allocate(pool pagepool.Pool, ft *frametable.Table, evictor *eviction.Engine, caller vmerr.Tid, flags pagepool.Flags) (mem.Pa_t, error) {
	if frame, ok := pool.Alloc(flags); ok {
		if _, err := ft.Add(frame, caller); err != nil {
			pool.Free(frame)
			return 0, err
		}
		return frame, nil
	}
	// Pool exhausted: reclaim a frame via eviction. Evict already zeroes
	// the frame's contents (§4.B step 4) and leaves it tracked in the
	// frame table under caller's ownership (§4.B step 6) — no further
	// Add/Free round-trip through the pool is needed or correct, since the
	// frame never returns to the pool's free list on this path.
	frame := evictor.Evict(caller)
	return frame, nil
}

// Release frees frame back to the pool and removes its frame-table entry —
// used when a frame was allocated but the subsequent page-directory install
// failed (§4.D: "on failure to install the page-directory mapping, the
// allocated frame is released").
func Release(pool pagepool.Pool, ft *frametable.Table, frame mem.Pa_t) {
	ft.Remove(frame)
	pool.Free(frame)
}

var _ = vmerr.ErrOutOfMemory // taxonomy anchor; Alloc failure surfaces via ok=false from pool.Alloc
