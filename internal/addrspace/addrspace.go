// Package addrspace ties the frame table, per-process supplemental page
// table, and per-process page directory into the single façade a fault
// handler calls into — the SPEC_FULL equivalent of biscuit's Vm_t. Grounded
// on vm.Vm_t's shape (one SPT, one page directory, one set of fault entry
// points per address space) and on biscuit's own use of
// golang.org/x/sync/singleflight-style de-duplication for concurrent work
// on the same key.
package addrspace

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"vmkernel/internal/eviction"
	"vmkernel/internal/filesys"
	"vmkernel/internal/frametable"
	"vmkernel/internal/loader"
	"vmkernel/internal/mem"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/pagepool"
	"vmkernel/internal/spt"
	"vmkernel/internal/stackgrow"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/threadreg"
	"vmkernel/internal/vmerr"
)

// frameAccessor is satisfied by pagepool.MmapPool; it's the narrow slice
// this package needs to hand the loader a way to read a frame's bytes.
type frameAccessor interface {
	Bytes(frame mem.Pa_t) []byte
}

// Space is one process's address space: its own supplemental page table and
// page directory, sharing the kernel-wide frame table, eviction engine, and
// swap device (§3.1/§3.2 — the frame table is global, the SPT is
// per-process).
type Space struct {
	Owner vmerr.Tid
	Dir   pagedir.Directory
	SPT   *spt.Table

	ft      *frametable.Table
	pool    frameAccessor
	loader  *loader.Loader
	grower  *stackgrow.Grower
	faults  singleflight.Group
	growers func(upage mem.UserPage) bool // stack-growth heuristic, supplied externally
}

// Registry resolves an owner thread id to its address space — the
// eviction.SPTProvider the engine needs to locate a victim's SPT by owner,
// without the engine holding a direct reference to every Space (§9's fix
// for the FTE/SPTE cyclic-reference problem).
type Registry struct {
	reg   *threadreg.Registry
	bySpc map[vmerr.Tid]*Space
}

// NewRegistry returns an empty address-space registry.
func NewRegistry(reg *threadreg.Registry) *Registry {
	return &Registry{reg: reg, bySpc: make(map[vmerr.Tid]*Space)}
}

// Put registers sp under its owner, also registering the owner as alive in
// the thread registry this Registry was built with (if any).
func (r *Registry) Put(sp *Space) {
	r.bySpc[sp.Owner] = sp
	if r.reg != nil {
		r.reg.Register(sp.Owner)
	}
}

// Exit tears down the address space owned by tid: its SPT is destroyed
// (§4.C) and the thread registry is told tid is no longer alive, so any
// FTE still tagged with tid at the moment of exit is recognizable as stale
// per §5's cancellation note, rather than silently resolving to a live
// owner that no longer exists.
func (r *Registry) Exit(tid vmerr.Tid) {
	if sp, ok := r.bySpc[tid]; ok {
		sp.Destroy()
	}
	delete(r.bySpc, tid)
	if r.reg != nil {
		r.reg.Exit(tid)
	}
}

// SPTFor implements eviction.SPTProvider. It refuses to resolve an owner the
// thread registry reports as no longer alive, forcing the eviction engine's
// caller-observable fatal error instead of silently evicting into a dead
// process's address space.
func (r *Registry) SPTFor(owner vmerr.Tid) (*spt.Table, bool) {
	if r.reg != nil {
		if _, alive := r.reg.ByID(owner); !alive {
			return nil, false
		}
	}
	sp, ok := r.bySpc[owner]
	if !ok {
		return nil, false
	}
	return sp.SPT, true
}

// New constructs a Space for owner, wired to the shared frame table,
// eviction engine, swap device, and frame pool, with an independent page
// directory and SPT. growthHeuristic decides whether a faulting address
// should be treated as stack growth (§4.E: "enforced by the external fault
// handler" — this package dispatches on the caller's answer, it does not
// compute the heuristic itself).
func New(owner vmerr.Tid, dir pagedir.Directory, pool pagepool.Pool, fa frameAccessor,
	ft *frametable.Table, ev *eviction.Engine, swap swapdev.Device,
	growthHeuristic func(upage mem.UserPage) bool) *Space {
	return &Space{
		Owner:   owner,
		Dir:     dir,
		SPT:     spt.New(swap),
		ft:      ft,
		pool:    fa,
		loader:  loader.New(pool, ft, ev, swap),
		grower:  stackgrow.New(pool, ft, ev),
		growers: growthHeuristic,
	}
}

// InsertFile registers a lazily-loaded FILE mapping at upage (§4.C).
func (s *Space) InsertFile(upage mem.UserPage, f filesys.File, offset int64, readBytes, zeroBytes int, writable bool) error {
	return s.SPT.InsertFile(upage, f, offset, readBytes, zeroBytes, writable)
}

// InsertMmf registers a user memory-mapped file region at upage (§4.C).
func (s *Space) InsertMmf(upage mem.UserPage, f filesys.File, offset int64, readBytes int) error {
	return s.SPT.InsertMmf(upage, f, offset, readBytes)
}

// HandleFault resolves a page fault at upage: if an SPTE exists, the loader
// materializes it (§4.D); otherwise, if upage passes the stack-growth
// heuristic, a fresh zeroed page is installed (§4.E); otherwise the fault is
// unresolvable and vmerr.ErrLoadFailed is returned for the caller to turn
// into a process-terminating signal.
//
// Concurrent faults on the same upage by different threads of this address
// space are collapsed into one in-flight resolution via singleflight, keyed
// by owner and page — satisfying §8 scenario 6 ("two threads fault
// simultaneously on the same page... both faults eventually succeed")
// without a redundant double-load.
func (s *Space) HandleFault(ctx context.Context, upage mem.UserPage) error {
	key := fmt.Sprintf("%d:%d", s.Owner, upage)
	_, err, _ := s.faults.Do(key, func() (interface{}, error) {
		if entry, ok := s.SPT.Lookup(upage); ok {
			if entry.IsLoaded {
				return nil, nil
			}
			return nil, s.loader.Load(s.Owner, s.Dir, s.SPT, entry, s.pool)
		}
		if s.growers != nil && s.growers(upage) {
			return nil, s.grower.Grow(s.Owner, s.Dir, upage)
		}
		return nil, vmerr.ErrLoadFailed
	})
	return err
}

// Destroy tears down this address space's SPT (§4.C: process exit releases
// every held swap slot).
func (s *Space) Destroy() {
	s.SPT.Destroy()
}
