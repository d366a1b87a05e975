// Package stackgrow implements §4.E: on a fault whose address passes the
// stack-growth heuristic, install a fresh zeroed writable page with no SPTE
// created eagerly — one is synthesized later by the eviction engine the
// first time the page is evicted (§4.B step 1). Grounded on vm.Vm_t's
// growstack handling (allocate, map, done — no region bookkeeping beyond
// the page directory itself).
package stackgrow

import (
	"vmkernel/internal/eviction"
	"vmkernel/internal/framealloc"
	"vmkernel/internal/frametable"
	"vmkernel/internal/mem"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/pagepool"
	"vmkernel/internal/vmerr"
)

// Grower installs fresh stack pages.
type Grower struct {
	pool    pagepool.Pool
	ft      *frametable.Table
	evictor *eviction.Engine
}

// New returns a Grower wired to the given frame pool, frame table, and
// eviction engine.
func New(pool pagepool.Pool, ft *frametable.Table, evictor *eviction.Engine) *Grower {
	return &Grower{pool: pool, ft: ft, evictor: evictor}
}

// Grow allocates a zeroed frame and installs it writable at page in dir,
// under caller's ownership. An error from framealloc.Allocate (the frame
// table rejecting the frame with vmerr.ErrOutOfMemory) is returned as is,
// and no page is installed. An exhausted pool is not an error here:
// Allocate falls back to eviction, which panics if it finds no eligible
// victim or no free swap slot.
func (g *Grower) Grow(caller vmerr.Tid, dir pagedir.Directory, page mem.UserPage) error {
	frame, err := framealloc.Allocate(g.pool, g.ft, g.evictor, caller, pagepool.UserPool|pagepool.ZeroFill)
	if err != nil {
		return err
	}
	if ok := dir.Map(page, frame, true); !ok {
		framealloc.Release(g.pool, g.ft, frame)
		return vmerr.ErrFatal
	}
	g.ft.Associate(frame, dir, page)
	return nil
}
