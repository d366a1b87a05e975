package addrspace

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"vmkernel/internal/eviction"
	"vmkernel/internal/frametable"
	"vmkernel/internal/mem"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/pagepool"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/threadreg"
	"vmkernel/internal/vmerr"
)

type fakeFile struct{ data []byte }

func (f *fakeFile) ReadAt(buf []byte, off int64) (int, error) {
	return copy(buf, f.data[off:]), nil
}
func (f *fakeFile) WriteAt(buf []byte, off int64) (int, error) {
	return copy(f.data[off:], buf), nil
}

func alwaysGrow(mem.UserPage) bool { return true }

// fixture bundles one process's worth of wiring: a pool, frame table, swap
// device, eviction engine, and address-space registry, the same shape
// cmd/vmtrace assembles for a single simulated process.
type fixture struct {
	pool *pagepool.MmapPool
	ft   *frametable.Table
	swap swapdev.Device
	reg  *Registry
	ev   *eviction.Engine
}

func newFixture(t *testing.T, nframes, swapSlots int) *fixture {
	t.Helper()
	pool, err := pagepool.New(nframes)
	if err != nil {
		t.Fatalf("pagepool.New: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	ft := frametable.New()
	swap := swapdev.New(swapSlots)
	reg := NewRegistry(threadreg.New())
	ev := eviction.New(ft, reg, swap, pool, nil, nil)
	return &fixture{pool: pool, ft: ft, swap: swap, reg: reg, ev: ev}
}

func (fx *fixture) newSpace(owner vmerr.Tid, dir pagedir.Directory, heuristic func(mem.UserPage) bool) *Space {
	sp := New(owner, dir, fx.pool, fx.pool, fx.ft, fx.ev, fx.swap, heuristic)
	fx.reg.Put(sp)
	return sp
}

func TestHandleFaultLazyLoad(t *testing.T) {
	fx := newFixture(t, 2, 2)
	dir := pagedir.New()
	sp := fx.newSpace(1, dir, alwaysGrow)

	data := make([]byte, mem.PGSIZE)
	for i := 0; i < 4000; i++ {
		data[i] = byte(i)
	}
	if err := sp.InsertFile(0x08048000, &fakeFile{data: data}, 0, 4000, 96, false); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	if err := sp.HandleFault(context.Background(), 0x08048000); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}

	frame, present := dir.Lookup(0x08048000)
	if !present {
		t.Fatalf("page not mapped after HandleFault")
	}
	if dir.IsWritable(0x08048000) {
		t.Fatalf("page should be read-only")
	}
	buf := fx.pool.Bytes(frame)
	if !bytes.Equal(buf[:4000], data[:4000]) {
		t.Fatalf("loaded contents mismatch")
	}
}

func TestHandleFaultStackGrowthFallback(t *testing.T) {
	fx := newFixture(t, 2, 2)
	dir := pagedir.New()
	sp := fx.newSpace(1, dir, alwaysGrow)

	if err := sp.HandleFault(context.Background(), 0xbffff000); err != nil {
		t.Fatalf("HandleFault (stack growth): %v", err)
	}
	if _, present := dir.Lookup(0xbffff000); !present {
		t.Fatalf("stack page not installed")
	}
}

func TestHandleFaultUnresolvableWithoutHeuristicOrSPTE(t *testing.T) {
	fx := newFixture(t, 2, 2)
	dir := pagedir.New()
	never := func(mem.UserPage) bool { return false }
	sp := fx.newSpace(1, dir, never)

	err := sp.HandleFault(context.Background(), 0x1234)
	if err != vmerr.ErrLoadFailed {
		t.Fatalf("HandleFault with no SPTE and failing heuristic: got %v, want ErrLoadFailed", err)
	}
}

func TestHandleFaultConcurrentDistinctPagesUnderPressure(t *testing.T) {
	// Scenario 6: two threads fault simultaneously on different pages while
	// the pool is full (here: capacity 1, so the second fault forces an
	// eviction of the first). Both faults must eventually succeed.
	fx := newFixture(t, 1, 2)
	dir := pagedir.New()
	sp := fx.newSpace(1, dir, alwaysGrow)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	pages := []mem.UserPage{0xb000, 0xc000}
	for i := range pages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sp.HandleFault(context.Background(), pages[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("fault %d failed: %v", i, err)
		}
	}
	if fx.ft.Len() != 1 {
		t.Fatalf("frame table should still have exactly 1 entry (pool capacity), got %d", fx.ft.Len())
	}
}

func TestHandleFaultSameAlreadyLoadedPageIsNoop(t *testing.T) {
	fx := newFixture(t, 2, 2)
	dir := pagedir.New()
	sp := fx.newSpace(1, dir, alwaysGrow)

	if err := sp.InsertFile(0x2000, &fakeFile{data: make([]byte, mem.PGSIZE)}, 0, 100, mem.PGSIZE-100, false); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}
	if err := sp.HandleFault(context.Background(), 0x2000); err != nil {
		t.Fatalf("first HandleFault: %v", err)
	}
	// Second fault on the same already-loaded SPTE should be a no-op, not an
	// error or a second allocation.
	if err := sp.HandleFault(context.Background(), 0x2000); err != nil {
		t.Fatalf("second HandleFault on loaded page: %v", err)
	}
}

func TestRegistryExitRemovesSpaceAndMarksThreadDead(t *testing.T) {
	fx := newFixture(t, 2, 2)
	dir := pagedir.New()
	sp := fx.newSpace(9, dir, alwaysGrow)
	sp.InsertFile(0x3000, &fakeFile{data: make([]byte, mem.PGSIZE)}, 0, 100, mem.PGSIZE-100, false)

	fx.reg.Exit(9)

	if _, ok := fx.reg.SPTFor(9); ok {
		t.Fatalf("SPTFor(9) should fail after Exit")
	}
	if sp.SPT.Len() != 0 {
		t.Fatalf("SPT should be destroyed on Exit, got %d entries", sp.SPT.Len())
	}
}
