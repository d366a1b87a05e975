// Package frametable implements §4.A: the global registry of physical page
// frames currently handed to user processes. Ordering is insertion order;
// the eviction engine walks it as a circular list (§4.B). Adapted from
// vm.Vm_t's locking idiom (a plain sync.Mutex with Lock/Unlock wrappers) and
// from wechicken456's page_metadata bookkeeping (pageFrames ordered by slot,
// one owner per frame).
package frametable

import (
	"sync"

	"vmkernel/internal/mem"
	"vmkernel/internal/metrics"
	"vmkernel/internal/pagedir"
	"vmkernel/internal/vmerr"
)

// Entry is one Frame Table Entry (FTE), §3.1.
type Entry struct {
	Frame mem.Pa_t
	Owner vmerr.Tid
	// Dir is the owner's page directory — the "page-table entry pointer"
	// of spec §3.1, represented as a (directory, page) pair instead of a
	// raw pointer since this is a simulated page directory (§6), not real
	// hardware. Nil/zero until Associate is called (the allocator returns
	// a frame before the page-directory install is attempted, per §4.A).
	Dir  pagedir.Directory
	Page mem.UserPage
	// hasPage reports whether Dir/Page have been set by Associate.
	hasPage bool
}

// HasPage reports whether this FTE has a user virtual page associated.
func (e *Entry) HasPage() bool { return e.hasPage }

// Table is the frame-table singleton. Protected throughout by FT_LOCK,
// exactly as §4.A specifies; the linear scan this implementation performs
// is explicitly called out by the spec as acceptable for small working sets.
type Table struct {
	mu      sync.Mutex
	entries []*Entry
	stats   *metrics.Collectors // optional, nil-safe; set via SetMetrics
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// SetMetrics wires stats' FramesInUse gauge to this table's occupancy, set
// to the table's current length and kept in sync by every subsequent Add/
// Remove (SPEC_FULL.md: the frame table is "Instrumented with
// internal/metrics' frame gauge"). Safe to call once after construction;
// nil disables instrumentation (the zero value of *Table already behaves
// this way).
func (t *Table) SetMetrics(stats *metrics.Collectors) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = stats
	if t.stats != nil {
		t.stats.FramesInUse.Set(float64(len(t.entries)))
	}
}

// Add creates an FTE tagged with owner and appends it. Returns
// vmerr.ErrOutOfMemory if frame is already tracked (spec invariant: at most
// one FTE per distinct physical frame address) — in this implementation
// that can only happen if a caller double-allocates the same frame, which is
// a programming error in the allocator wiring, but we fail soft per §7's
// taxonomy rather than panic.
func (t *Table) Add(frame mem.Pa_t, owner vmerr.Tid) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Frame == frame {
			return nil, vmerr.ErrOutOfMemory
		}
	}
	e := &Entry{Frame: frame, Owner: owner}
	t.entries = append(t.entries, e)
	if t.stats != nil {
		t.stats.FramesInUse.Set(float64(len(t.entries)))
	}
	return e, nil
}

// Lookup finds the FTE for frame.
func (t *Table) Lookup(frame mem.Pa_t) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Frame == frame {
			return e, true
		}
	}
	return nil, false
}

// Remove unlinks the FTE for frame, if any.
func (t *Table) Remove(frame mem.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.Frame == frame {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			if t.stats != nil {
				t.stats.FramesInUse.Set(float64(len(t.entries)))
			}
			return
		}
	}
}

// Associate sets the page-directory pointer and user virtual page on the
// FTE found by Lookup — required because the allocator returns a frame
// before the page-directory install is attempted (§4.A).
func (t *Table) Associate(frame mem.Pa_t, dir pagedir.Directory, upage mem.UserPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Frame == frame {
			e.Dir = dir
			e.Page = upage
			e.hasPage = true
			return true
		}
	}
	return false
}

// Len reports the number of FTEs currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Visit walks the table in order under FT_LOCK, calling fn on each entry
// until fn returns true (stop) or the table is exhausted. Holding FT_LOCK
// for the whole call matches §5's lock-ordering rule that the eviction path
// "may briefly take FT_LOCK while inspecting the list."
func (t *Table) Visit(fn func(i int, e *Entry) (stop bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if fn(i, e) {
			return
		}
	}
}

// At returns the entry at index i under FT_LOCK, along with the table
// length — used by the eviction engine's explicit clock-hand index so it
// can re-enter the table between passes without holding the lock the
// entire time (I/O happens outside FT_LOCK, only inside EVICT_LOCK, per §5).
func (t *Table) At(i int) (*Entry, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.entries) {
		return nil, len(t.entries)
	}
	return t.entries[i], len(t.entries)
}

// Retag re-tags the FTE for frame after eviction persists its contents: the
// owner becomes newOwner and the page-directory/user-page association is
// cleared (§4.B step 6 — "the pte and user_page fields reset to null/zero").
// The FTE itself stays in the table; the faulting thread that triggered the
// eviction will call Associate once its own page-directory install
// succeeds.
func (t *Table) Retag(frame mem.Pa_t, newOwner vmerr.Tid) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Frame == frame {
			e.Owner = newOwner
			e.Dir = nil
			e.Page = 0
			e.hasPage = false
			return true
		}
	}
	return false
}

// MoveToTail moves the entry currently at index i to the end of the table,
// advancing the clock hand the way §4.B's victim-selection step requires:
// "Move it to the tail of the frame table (advances the clock hand)."
func (t *Table) MoveToTail(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.entries) {
		return
	}
	e := t.entries[i]
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	t.entries = append(t.entries, e)
}
