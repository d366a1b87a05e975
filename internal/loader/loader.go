// Package loader implements §4.D: the page loader, which turns an SPTE plus
// a fresh frame into a resident, mapped user page. Dispatch is on
// spt.Entry.Kind, the tagged-variant design §9 recommends in place of a raw
// bitset. Grounded on vm.Vm_t's Pgfault handling (dispatch by region kind)
// and on wechicken456's swap-in bookkeeping (the FileSwapped/MmfSwapped ->
// FileClean/Mmf transitions on successful fault-in).
package loader

import (
	"vmkernel/internal/eviction"
	"vmkernel/internal/frametable"
	"vmkernel/internal/framealloc"
	"vmkernel/internal/mem"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/pagepool"
	"vmkernel/internal/spt"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/vmerr"
)

// Loader materializes SPTEs into resident frames.
type Loader struct {
	pool    pagepool.Pool
	ft      *frametable.Table
	evictor *eviction.Engine
	swap    swapdev.Device
}

// New returns a Loader wired to the given frame pool, frame table, eviction
// engine, and swap device.
func New(pool pagepool.Pool, ft *frametable.Table, evictor *eviction.Engine, swap swapdev.Device) *Loader {
	return &Loader{pool: pool, ft: ft, evictor: evictor, swap: swap}
}

// frameBytes exposes a frame's raw bytes. Both pagepool.MmapPool and
// eviction's FrameAccess already provide Bytes; the loader needs its own
// copy of the frame contents once allocated, so it asks the pool directly.
type frameBytes interface {
	Bytes(frame mem.Pa_t) []byte
}

// Load resolves entry by faulting a fresh frame into dir at entry.UserVaddr,
// per §4.D's dispatch on Kind:
//
//   - FileClean: read ReadBytes from File at Offset, zero-fill the remainder.
//   - FileSwapped: swap in, then clear the slot and revert to FileClean —
//     the §9 fix for the "slot never released" open question.
//   - Mmf: read ReadBytes from File at Offset, zero-fill the remainder.
//   - MmfSwapped: swap in, then clear the slot and revert to Mmf.
//   - AnonSwapped: swap in, clear the slot, and remove the entry from tbl
//     (the slot was reserved by the eviction that created the entry).
//
// On success the PTE is installed and entry.IsLoaded is set. On failure to
// install the page-directory mapping, the allocated frame is released
// (framealloc.Release) and vmerr.ErrLoadFailed is returned.
func (l *Loader) Load(caller vmerr.Tid, dir pagedir.Directory, tbl *spt.Table, entry *spt.Entry, fb frameBytes) error {
	flags := pagepool.UserPool
	frame, err := framealloc.Allocate(l.pool, l.ft, l.evictor, caller, flags)
	if err != nil {
		return err
	}

	buf := fb.Bytes(frame)

	switch entry.Kind {
	case spt.FileClean:
		if err := readFileBacked(entry, buf); err != nil {
			framealloc.Release(l.pool, l.ft, frame)
			return err
		}

	case spt.Mmf:
		if err := readFileBacked(entry, buf); err != nil {
			framealloc.Release(l.pool, l.ft, frame)
			return err
		}

	case spt.FileSwapped:
		if err := l.swap.SwapIn(entry.Swap.Slot, buf); err != nil {
			framealloc.Release(l.pool, l.ft, frame)
			return err
		}
		l.swap.ClearSlot(entry.Swap.Slot)
		entry.Kind = spt.FileClean

	case spt.MmfSwapped:
		if err := l.swap.SwapIn(entry.Swap.Slot, buf); err != nil {
			framealloc.Release(l.pool, l.ft, frame)
			return err
		}
		l.swap.ClearSlot(entry.Swap.Slot)
		entry.Kind = spt.Mmf

	case spt.AnonSwapped:
		// Every AnonSwapped SPTE was synthesized by the eviction engine's
		// InsertSwapOnly (§4.B step 1) and immediately given a reserved
		// slot by persist (§4.B step 2's default branch) before it could
		// ever be observed here, so a slot is always present.
		if err := l.swap.SwapIn(entry.Swap.Slot, buf); err != nil {
			framealloc.Release(l.pool, l.ft, frame)
			return err
		}
		l.swap.ClearSlot(entry.Swap.Slot)

	default:
		framealloc.Release(l.pool, l.ft, frame)
		return vmerr.ErrFatal
	}

	writable := entryWritable(entry)
	if ok := dir.Map(entry.UserVaddr, frame, writable); !ok {
		framealloc.Release(l.pool, l.ft, frame)
		return vmerr.ErrLoadFailed
	}
	l.ft.Associate(frame, dir, entry.UserVaddr)

	// §3.2/§4.D: a pure-anonymous SPTE has no backing once its contents
	// are resident again; it is destroyed rather than left around, so a
	// future eviction of this page re-synthesizes a fresh one instead of
	// reusing stale swap bookkeeping.
	if entry.Kind == spt.AnonSwapped {
		tbl.Remove(entry.UserVaddr)
		return nil
	}

	entry.IsLoaded = true
	return nil
}

func readFileBacked(entry *spt.Entry, buf []byte) error {
	n := entry.File.ReadBytes
	if n > len(buf) {
		n = len(buf)
	}
	if n > 0 {
		if _, err := entry.File.File.ReadAt(buf[:n], entry.File.Offset); err != nil {
			return vmerr.ErrLoadFailed
		}
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// entryWritable reports the PTE writable bit to install for entry, per
// §3.2: MMF entries are always writable to the mapping regardless of the
// cached bit; FILE/FileSwapped entries use File.Writable; swapped entries
// (FileSwapped/MmfSwapped/AnonSwapped already resolved above to their
// non-swapped Kind) fall through to the cached Swap.SwapWritable only for
// pure-anonymous pages, which have no FileBacking to consult.
func entryWritable(entry *spt.Entry) bool {
	switch entry.Kind {
	case spt.Mmf:
		return true
	case spt.FileClean:
		return entry.File.Writable
	default:
		return entry.Swap.SwapWritable
	}
}
