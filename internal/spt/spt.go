// Package spt implements §4.C: the per-process supplemental page table, a
// keyed map from user virtual page to a description of how to materialize
// its contents on fault. Backing kind is the tagged variant the spec's
// design notes (§9) suggest in place of a raw bitset — it excludes the
// illegal FILE|MMF combination by construction. Shaped after vm.Vminfo_t's
// region-description fields and after the keyed-map-plus-mutex pattern in
// the tinySQL/mindb pager examples.
package spt

import (
	"sync"

	"vmkernel/internal/filesys"
	"vmkernel/internal/mem"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/vmerr"
)

// Kind is the backing-kind tag of an SPTE (§3.2, §9 design note).
type Kind int

const (
	// FileClean: canonical copy is on disk; never dirty when evicted
	// (writes go through the copy-to-swap path instead).
	FileClean Kind = iota
	// FileSwapped: FILE|SWAP — a swap slot holds the last evicted
	// contents; reverts to FileClean after fault-in.
	FileSwapped
	// Mmf: canonical copy is the file region; dirty pages write back to
	// the file at eviction or unmap.
	Mmf
	// MmfSwapped: MMF|SWAP — transient swap holding area for a dirty MMF
	// page; reverts to Mmf after fault-in.
	MmfSwapped
	// AnonSwapped: pure SWAP — anonymous page, destroyed on fault-in.
	AnonSwapped
)

// FileBacking is the file-backed payload of §3.2 (for FileClean/FileSwapped
// and Mmf/MmfSwapped entries).
type FileBacking struct {
	File      filesys.File
	Offset    int64
	ReadBytes int
	ZeroBytes int
	// Writable applies to FILE entries only; MMF is always writable to
	// the mapping regardless of this field (§3.2).
	Writable bool
}

// SwapBacking is the swap payload of §3.2 (present whenever the SWAP bit —
// i.e. FileSwapped/MmfSwapped/AnonSwapped — is set).
type SwapBacking struct {
	Slot swapdev.Slot
	// SwapWritable caches the writable bit of the PTE at eviction time
	// (§3.2, §4.B step 3).
	SwapWritable bool
}

// Entry is one Supplemental Page Table Entry (SPTE), §3.2.
type Entry struct {
	UserVaddr mem.UserPage
	Kind      Kind
	File      FileBacking
	Swap      SwapBacking
	// IsLoaded is advisory: it reflects whether a frame is currently
	// mapped for this entry (§3.2).
	IsLoaded bool
}

// HasSwap reports whether this entry currently holds a reserved swap slot.
func (e *Entry) HasSwap() bool {
	switch e.Kind {
	case FileSwapped, MmfSwapped, AnonSwapped:
		return true
	default:
		return false
	}
}

// Table is a per-process SPT: map[UserPage]*Entry plus its own mutex — the
// §9 "per-SPT lock" recommendation, additive to the global EVICT_LOCK/
// FT_LOCK so two different processes' tables never contend on each other.
type Table struct {
	mu    sync.Mutex
	swap  swapdev.Device
	byKey map[mem.UserPage]*Entry
}

// New returns an empty per-process SPT backed by the given swap device (used
// to release slots on Remove/Destroy).
func New(swap swapdev.Device) *Table {
	return &Table{swap: swap, byKey: make(map[mem.UserPage]*Entry)}
}

// InsertFile registers a lazily-loaded FILE mapping (§4.C). Fails with
// vmerr.ErrDuplicateKey if upage is already mapped.
func (t *Table) InsertFile(upage mem.UserPage, f filesys.File, offset int64, readBytes, zeroBytes int, writable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byKey[upage]; ok {
		return vmerr.ErrDuplicateKey
	}
	t.byKey[upage] = &Entry{
		UserVaddr: upage,
		Kind:      FileClean,
		File: FileBacking{
			File: f, Offset: offset, ReadBytes: readBytes,
			ZeroBytes: zeroBytes, Writable: writable,
		},
	}
	return nil
}

// InsertMmf registers a user memory-mapped file region (§4.C). Dirty pages
// write back to the file; MMF mappings are always writable to the mapping.
func (t *Table) InsertMmf(upage mem.UserPage, f filesys.File, offset int64, readBytes int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byKey[upage]; ok {
		return vmerr.ErrDuplicateKey
	}
	t.byKey[upage] = &Entry{
		UserVaddr: upage,
		Kind:      Mmf,
		File: FileBacking{
			File: f, Offset: offset, ReadBytes: readBytes, Writable: true,
		},
	}
	return nil
}

// InsertSwapOnly is used by the eviction engine (§4.B step 1) to synthesize
// a pure-anonymous SPTE for a victim frame that has no existing entry.
func (t *Table) InsertSwapOnly(upage mem.UserPage) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &Entry{UserVaddr: upage, Kind: AnonSwapped}
	t.byKey[upage] = e
	return e
}

// Lookup returns the SPTE for upage, if any (exact match, §4.C).
func (t *Table) Lookup(upage mem.UserPage) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byKey[upage]
	return e, ok
}

// Remove deletes the entry for upage. If it holds a swap slot, that slot is
// released to the swap device (§4.C, §8 Swap-liveness invariant).
func (t *Table) Remove(upage mem.UserPage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(upage)
}

func (t *Table) removeLocked(upage mem.UserPage) {
	e, ok := t.byKey[upage]
	if !ok {
		return
	}
	if e.HasSwap() {
		t.swap.ClearSlot(e.Swap.Slot)
	}
	delete(t.byKey, upage)
}

// Destroy applies Remove semantics to every entry — called on process exit
// (§4.C).
func (t *Table) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for upage := range t.byKey {
		t.removeLocked(upage)
	}
}

// Len reports the number of entries currently tracked, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}
