// Package swapdev is the reference implementation of the swap-device
// external collaborator (spec §6): swap_out, swap_in, clear_slot over a
// fixed-size array of page-sized slots. Grounded on mem.Physmem_t's
// mutex-guarded free-list idiom (biscuit's allocator free-lists physical
// frames the same way this free-lists swap slots).
package swapdev

import (
	"sync"

	"vmkernel/internal/mem"
	"vmkernel/internal/vmerr"
)

// Slot identifies a reserved swap slot.
type Slot int

// Device is the narrow interface the core depends on.
type Device interface {
	SwapOut(page []byte) (Slot, error)
	SwapIn(slot Slot, dst []byte) error
	ClearSlot(slot Slot)
}

// MemDevice holds swap contents in process memory, sized to a fixed number
// of page-sized slots — the spec is explicit that the swap area has fixed
// capacity and fails closed when full (§6, §8 swap-exhaustion scenario).
type MemDevice struct {
	mu     sync.Mutex
	slots  [][]byte
	inUse  []bool
	nslots int
}

// New returns a MemDevice with nslots page-sized slots, all free.
func New(nslots int) *MemDevice {
	d := &MemDevice{nslots: nslots}
	d.slots = make([][]byte, nslots)
	d.inUse = make([]bool, nslots)
	for i := range d.slots {
		d.slots[i] = make([]byte, mem.PGSIZE)
	}
	return d
}

// SwapOut reserves a free slot and copies page into it. It returns
// vmerr.ErrSwapExhausted if no slot is free, matching §7's taxonomy.
func (d *MemDevice) SwapOut(page []byte) (Slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, used := range d.inUse {
		if !used {
			d.inUse[i] = true
			copy(d.slots[i], page)
			return Slot(i), nil
		}
	}
	return -1, vmerr.ErrSwapExhausted
}

// SwapIn copies the contents of slot into dst. The slot remains reserved
// until ClearSlot is called explicitly — callers release it once the
// backing SPTE transitions away from holding it (§9 open question: the
// FILE|SWAP/MMF|SWAP fault-in transitions must call ClearSlot, which
// internal/loader does).
func (d *MemDevice) SwapIn(slot Slot, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot < 0 || int(slot) >= d.nslots || !d.inUse[slot] {
		return vmerr.ErrFatal
	}
	copy(dst, d.slots[slot])
	return nil
}

// ClearSlot releases slot back to the free pool.
func (d *MemDevice) ClearSlot(slot Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot < 0 || int(slot) >= d.nslots {
		return
	}
	d.inUse[slot] = false
}
