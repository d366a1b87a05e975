// Package pagedir is the reference implementation of the page-directory
// external collaborator (spec §6): map/unmap, is_accessed/set_accessed,
// is_dirty, and the writable bit. The PTE bit constants are lifted from
// mem/mem.go and packed into a single flags word per entry, matching
// mem.Pa_t's bit-packed layout in the teacher's mem/mem.go rather than a
// bundle of bools; the map/unmap shape follows vm/as.go's
// Page_insert/Page_remove (minus the copy-on-write and shared-mapping
// bookkeeping biscuit needs, since this spec's pages are exclusively
// owned).
package pagedir

import (
	"sync"

	"vmkernel/internal/mem"
)

type pte struct {
	frame mem.Pa_t
	flags mem.Pa_t // PTE_P|PTE_W|PTE_U|PTE_A|PTE_D
}

func (e *pte) has(bit mem.Pa_t) bool { return e.flags&bit != 0 }

func (e *pte) set(bit mem.Pa_t, v bool) {
	if v {
		e.flags |= bit
	} else {
		e.flags &^= bit
	}
}

// Directory is the narrow interface the core depends on.
type Directory interface {
	Map(upage mem.UserPage, frame mem.Pa_t, writable bool) bool
	Unmap(upage mem.UserPage)
	Lookup(upage mem.UserPage) (frame mem.Pa_t, present bool)
	IsAccessed(upage mem.UserPage) bool
	SetAccessed(upage mem.UserPage, v bool)
	IsDirty(upage mem.UserPage) bool
	SetDirty(upage mem.UserPage, v bool)
	IsWritable(upage mem.UserPage) bool
}

// SimDirectory is a mutex-guarded map[UserPage]*pte standing in for a real
// hardware page table.
type SimDirectory struct {
	mu  sync.Mutex
	ptb map[mem.UserPage]*pte
}

// New returns an empty SimDirectory.
func New() *SimDirectory {
	return &SimDirectory{ptb: make(map[mem.UserPage]*pte)}
}

// Map installs upage -> frame with the given writable bit, marking the
// page present and accessed (a fresh mapping is always considered just
// touched, mirroring hardware behavior on the first access after install).
// Every mapping installed through this collaborator is a user page, so
// PTE_U is always set alongside PTE_P (§6: these are user virtual pages,
// not kernel mappings).
func (d *SimDirectory) Map(upage mem.UserPage, frame mem.Pa_t, writable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := &pte{frame: frame, flags: mem.PTE_P | mem.PTE_U | mem.PTE_A}
	e.set(mem.PTE_W, writable)
	d.ptb[upage] = e
	return true
}

// Unmap clears the PTE for upage, if any.
func (d *SimDirectory) Unmap(upage mem.UserPage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ptb, upage)
}

// Lookup returns the frame mapped at upage, if present.
func (d *SimDirectory) Lookup(upage mem.UserPage) (mem.Pa_t, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptb[upage]
	if !ok || !e.has(mem.PTE_P) {
		return 0, false
	}
	return e.frame, true
}

// IsAccessed reports the PTE's accessed bit.
func (d *SimDirectory) IsAccessed(upage mem.UserPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptb[upage]
	return ok && e.has(mem.PTE_A)
}

// SetAccessed sets or clears the PTE's accessed bit — the eviction clock
// clears it on every inspected-but-not-selected frame (§4.B).
func (d *SimDirectory) SetAccessed(upage mem.UserPage, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.ptb[upage]; ok {
		e.set(mem.PTE_A, v)
	}
}

// IsDirty reports the PTE's dirty bit.
func (d *SimDirectory) IsDirty(upage mem.UserPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptb[upage]
	return ok && e.has(mem.PTE_D)
}

// SetDirty sets or clears the PTE's dirty bit — tests use this to simulate
// a user write without actually touching the frame's bytes.
func (d *SimDirectory) SetDirty(upage mem.UserPage, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.ptb[upage]; ok {
		e.set(mem.PTE_D, v)
	}
}

// IsWritable reports the PTE's writable bit.
func (d *SimDirectory) IsWritable(upage mem.UserPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.ptb[upage]
	return ok && e.has(mem.PTE_W)
}
