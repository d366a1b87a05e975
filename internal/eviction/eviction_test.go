package eviction

import (
	"errors"
	"testing"

	"vmkernel/internal/filesys"
	"vmkernel/internal/frametable"
	"vmkernel/internal/mem"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/spt"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/vmerr"
)

// fakeFrames is a minimal FrameAccess backed by an in-memory map, standing in
// for pagepool.MmapPool so these tests don't need a real mmap region.
type fakeFrames struct {
	bytes map[mem.Pa_t][]byte
}

func newFakeFrames(frames ...mem.Pa_t) *fakeFrames {
	f := &fakeFrames{bytes: make(map[mem.Pa_t][]byte)}
	for _, fr := range frames {
		f.bytes[fr] = make([]byte, mem.PGSIZE)
	}
	return f
}

func (f *fakeFrames) Bytes(frame mem.Pa_t) []byte { return f.bytes[frame] }

// fakeSPTs resolves owners to their own spt.Table, standing in for
// addrspace.Registry.
type fakeSPTs map[vmerr.Tid]*spt.Table

func (f fakeSPTs) SPTFor(owner vmerr.Tid) (*spt.Table, bool) {
	t, ok := f[owner]
	return t, ok
}

// fakeFile records WriteAt calls for the MMF-writeback test.
type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(buf []byte, off int64) (int, error) {
	return copy(buf, f.data[off:]), nil
}

func (f *fakeFile) WriteAt(buf []byte, off int64) (int, error) {
	if int(off)+len(buf) > len(f.data) {
		grown := make([]byte, int(off)+len(buf))
		copy(grown, f.data)
		f.data = grown
	}
	return copy(f.data[off:], buf), nil
}

func setup(t *testing.T, nframes int, swapSlots int) (*Engine, *frametable.Table, *fakeFrames, *pagedir.SimDirectory, *spt.Table) {
	t.Helper()
	ft := frametable.New()
	frameIDs := make([]mem.Pa_t, nframes)
	for i := range frameIDs {
		frameIDs[i] = mem.Pa_t(i + 1)
	}
	fa := newFakeFrames(frameIDs...)
	swap := swapdev.New(swapSlots)
	sptTbl := spt.New(swap)
	spts := fakeSPTs{vmerr.Tid(1): sptTbl}
	dir := pagedir.New()

	for _, fr := range frameIDs {
		if _, err := ft.Add(fr, vmerr.Tid(1)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		upage := mem.UserPage(fr)
		dir.Map(upage, fr, true)
		if !ft.Associate(fr, dir, upage) {
			t.Fatalf("Associate failed for frame %d", fr)
		}
	}

	eng := New(ft, spts, swap, fa, nil, nil)
	return eng, ft, fa, dir, sptTbl
}

func TestEvictTerminatesOnEmptyTable(t *testing.T) {
	ft := frametable.New()
	spts := fakeSPTs{}
	swap := swapdev.New(1)
	fa := newFakeFrames()
	eng := New(ft, spts, swap, fa, nil, nil)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Evict on empty table should panic (Eviction-terminates / fatal)")
		}
	}()
	eng.Evict(vmerr.Tid(2))
}

func TestEvictCleanFileUntouched(t *testing.T) {
	eng, ft, fa, dir, sptTbl := setup(t, 2, 2)
	for _, fr := range []mem.Pa_t{1, 2} {
		dir.SetAccessed(mem.UserPage(fr), false)
	}
	sptTbl.InsertFile(mem.UserPage(1), &fakeFile{data: make([]byte, mem.PGSIZE)}, 0, mem.PGSIZE, 0, false)

	frame := eng.Evict(vmerr.Tid(9))
	if frame != 1 {
		t.Fatalf("Evict chose frame %d, want 1 (first encountered, tie-break)", frame)
	}
	e, ok := sptTbl.Lookup(mem.UserPage(1))
	if !ok || e.Kind != spt.FileClean {
		t.Fatalf("expected FileClean entry to remain FileClean on a clean eviction")
	}
	if ft.Len() != 2 {
		t.Fatalf("frame table should still have 2 entries after retagging, got %d", ft.Len())
	}
	_ = fa
}

func TestEvictDirtyAnonymousGoesToSwap(t *testing.T) {
	eng, _, fa, dir, sptTbl := setup(t, 1, 1)
	dir.SetAccessed(mem.UserPage(1), false)
	dir.SetDirty(mem.UserPage(1), true)
	buf := fa.Bytes(1)
	for i := range buf {
		buf[i] = 0x5A
	}

	eng.Evict(vmerr.Tid(9))

	e, ok := sptTbl.Lookup(mem.UserPage(1))
	if !ok {
		t.Fatalf("expected a synthesized SPTE after evicting a page with no prior entry")
	}
	if e.Kind != spt.AnonSwapped {
		t.Fatalf("Kind = %v, want AnonSwapped", e.Kind)
	}
	if !e.HasSwap() {
		t.Fatalf("HasSwap() = false, want true after a swap-out eviction")
	}
}

func TestEvictMmfWritesBackDirtyPage(t *testing.T) {
	eng, _, fa, dir, sptTbl := setup(t, 1, 1)
	dir.SetAccessed(mem.UserPage(1), false)
	dir.SetDirty(mem.UserPage(1), true)
	f := &fakeFile{data: make([]byte, mem.PGSIZE)}
	sptTbl.InsertMmf(mem.UserPage(1), f, 0, mem.PGSIZE)

	buf := fa.Bytes(1)
	for i := range buf {
		buf[i] = 0xAA
	}

	eng.Evict(vmerr.Tid(9))

	for i, b := range f.data {
		if b != 0xAA {
			t.Fatalf("file byte %d = %x, want 0xAA (MMF-writeback)", i, b)
		}
	}
	e, ok := sptTbl.Lookup(mem.UserPage(1))
	if !ok || e.Kind != spt.Mmf {
		t.Fatalf("expected entry to remain Mmf after writeback (no swap slot consumed)")
	}
}

func TestEvictSwapExhaustionPanics(t *testing.T) {
	eng, _, fa, dir, _ := setup(t, 1, 0) // zero swap slots
	dir.SetAccessed(mem.UserPage(1), false)
	dir.SetDirty(mem.UserPage(1), true)
	_ = fa

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic on swap exhaustion")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, vmerr.ErrSwapExhausted) {
			t.Fatalf("recovered panic = %v, want wrapping vmerr.ErrSwapExhausted", r)
		}
	}()
	eng.Evict(vmerr.Tid(9))
}

func TestEvictRetagsFrameToNewOwner(t *testing.T) {
	eng, ft, _, dir, sptTbl := setup(t, 1, 1)
	dir.SetAccessed(mem.UserPage(1), false)
	sptTbl.InsertFile(mem.UserPage(1), &fakeFile{data: make([]byte, mem.PGSIZE)}, 0, mem.PGSIZE, 0, false)

	frame := eng.Evict(vmerr.Tid(42))

	e, ok := ft.Lookup(frame)
	if !ok {
		t.Fatalf("Lookup(%d) failed after Evict", frame)
	}
	if e.Owner != vmerr.Tid(42) {
		t.Fatalf("Owner = %d, want 42", e.Owner)
	}
	if e.HasPage() {
		t.Fatalf("HasPage() = true immediately after Evict, want false until Associate is called")
	}
}

var _ filesys.File = (*fakeFile)(nil)
