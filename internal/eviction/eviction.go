// Package eviction implements §4.B: victim selection by the approximate
// second-chance clock, and persistence of the victim's contents before its
// frame is reassigned. One eviction runs at a time under EVICT_LOCK, per
// §5. Adapted from wechicken456's dirty/swap bookkeeping
// (page.dirty/inSwap/onDisk transitions on steal) and from vm.Vm_t's
// Mutex-embedding lock idiom.
package eviction

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"vmkernel/internal/calltrace"
	"vmkernel/internal/evictionprof"
	"vmkernel/internal/frametable"
	"vmkernel/internal/mem"
	"vmkernel/internal/metrics"
	"vmkernel/internal/spt"
	"vmkernel/internal/swapdev"
	"vmkernel/internal/vmerr"
)

// SPTProvider resolves a thread's owning process to its supplemental page
// table, so the eviction engine can locate (or synthesize) the victim's
// SPTE by (owner thread, user virtual page) instead of a direct pointer —
// the §9 design note's fix for the FTE/SPTE cyclic-reference problem.
type SPTProvider interface {
	SPTFor(owner vmerr.Tid) (*spt.Table, bool)
}

// FrameAccess exposes the raw bytes of an allocated frame, for persisting
// and zeroing contents.
type FrameAccess interface {
	Bytes(frame mem.Pa_t) []byte
}

// Engine is the eviction engine. Construct one per kernel instance — it
// holds EVICT_LOCK for the full duration of each Evict call.
type Engine struct {
	mu sync.Mutex // EVICT_LOCK

	ft    *frametable.Table
	spts  SPTProvider
	swap  swapdev.Device
	pool  FrameAccess
	stats *metrics.Collectors // optional, nil-safe
	prof  *evictionprof.Recorder
	trace *calltrace.Distinct
}

// New returns an Engine wired to the given frame table, SPT provider, swap
// device, and frame-byte accessor. stats and prof may be nil.
func New(ft *frametable.Table, spts SPTProvider, swap swapdev.Device, pool FrameAccess,
	stats *metrics.Collectors, prof *evictionprof.Recorder) *Engine {
	return &Engine{ft: ft, spts: spts, swap: swap, pool: pool, stats: stats, prof: prof, trace: calltrace.New()}
}

// selectVictim implements the bounded two-pass second-chance clock (§4.B,
// §8 Eviction-terminates). It returns the chosen entry and how many frames
// were inspected to find it.
func (e *Engine) selectVictim() (*frametable.Entry, int, error) {
	n := e.ft.Len()
	if n == 0 {
		return nil, 0, vmerr.ErrFatal
	}
	bound := 2 * n
	for pass := 0; pass < bound; pass++ {
		idx := pass % n
		entry, curN := e.ft.At(idx)
		if entry == nil {
			// Table shrank underneath us (frames freed concurrently);
			// re-derive the bound from the current length.
			n = curN
			if n == 0 {
				return nil, pass + 1, vmerr.ErrFatal
			}
			continue
		}
		if !entry.HasPage() {
			// Not yet associated with a user page (allocation in
			// flight); not a valid victim, but still "inspected".
			continue
		}
		if !entry.Dir.IsAccessed(entry.Page) {
			e.ft.MoveToTail(idx)
			return entry, pass + 1, nil
		}
		entry.Dir.SetAccessed(entry.Page, false)
	}
	return nil, bound, vmerr.ErrFatal
}

// fatal raises the panic-based Fatal/SwapExhausted failure model §7
// mandates: "Fatal panic in this design (unrecoverable kernel state)".
// Callers at the fault-handler boundary may recover and terminate only the
// faulting process instead, per §7's note that this "could be relaxed to
// per-process termination". Before panicking it logs a stack dump, but only
// the first time a given call chain produces this particular failure —
// EVICT_LOCK already serializes one eviction at a time, but a process
// hammering an exhausted swap device still fires this same chain
// repeatedly, and calltrace.Distinct keeps that from flooding the log.
func (e *Engine) fatal(sentinel error, cause error, msg string) {
	if cause == nil {
		cause = sentinel
	}
	if first, trace := e.trace.Once(1); first {
		log.Printf("%s: %s\n\t%s", msg, sentinel, trace)
	}
	panic(errors.Wrapf(cause, "%s: %s", msg, sentinel.Error()))
}

// Evict selects a victim frame, persists its contents, updates its owner's
// SPT entry, clears its page-directory mapping, and re-tags the frame table
// entry to caller. It returns the now-reassignable frame. Panics (see
// fatal) if no victim can be found or if swap is exhausted — §7's taxonomy
// for both conditions is panic-based, not a returned error.
func (e *Engine) Evict(caller vmerr.Tid) mem.Pa_t {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	victim, scanLen, err := e.selectVictim()
	if err != nil {
		e.fatal(vmerr.ErrFatal, err, "eviction: no eligible victim frame")
	}

	ownerDir, ownerPage, frame := victim.Dir, victim.Page, victim.Frame

	sptTbl, ok := e.spts.SPTFor(victim.Owner)
	if !ok {
		e.fatal(vmerr.ErrFatal, nil, "eviction: victim owner has no supplemental page table")
	}

	entry, ok := sptTbl.Lookup(ownerPage)
	if !ok {
		// §4.B step 1: no SPTE exists yet for this resident page (it was
		// FTE-only, e.g. a freshly faulted-in FILE page or an
		// never-before-evicted stack page) — synthesize one.
		entry = sptTbl.InsertSwapOnly(ownerPage)
	}

	dirty := ownerDir.IsDirty(ownerPage)
	frameBytes := e.pool.Bytes(frame)
	outcome := e.persist(entry, dirty, frameBytes)

	// §4.B step 3: cache the writable bit regardless of outcome.
	entry.Swap.SwapWritable = ownerDir.IsWritable(ownerPage)
	entry.IsLoaded = false

	// §4.B step 4: zero the physical frame.
	clear(frameBytes)

	// §4.B step 5: clear the PTE so further access faults.
	ownerDir.Unmap(ownerPage)

	// §4.B step 6: re-tag the FTE; it stays in the table, now owned by caller.
	e.ft.Retag(frame, caller)

	if e.stats != nil {
		e.stats.Evictions.WithLabelValues(outcome).Inc()
	}
	if e.prof != nil {
		e.prof.Record(scanLen, time.Since(start))
	}
	return frame
}

// persist implements §4.B step 2's dirty/kind matrix and returns a label
// describing the outcome for metrics. It is the one place the §9 guarded-
// write fix applies: entry.Swap.Slot is assigned only on the branch that
// actually called swap.SwapOut, never left set from a stale prior eviction
// on the pure-writeback or clean branches (the source bug the spec calls
// out: "swap_slot_index uninitialized on the pure-MMF-writeback branch").
func (e *Engine) persist(entry *spt.Entry, dirty bool, frameBytes []byte) (outcome string) {
	isMmf := entry.Kind == spt.Mmf || entry.Kind == spt.MmfSwapped
	isFile := entry.Kind == spt.FileClean || entry.Kind == spt.FileSwapped

	switch {
	case dirty && isMmf:
		n := entry.File.ReadBytes
		if n > len(frameBytes) {
			n = len(frameBytes)
		}
		if _, werr := entry.File.File.WriteAt(frameBytes[:n], entry.File.Offset); werr != nil {
			e.fatal(vmerr.ErrFatal, werr, "eviction: mmf writeback failed")
		}
		return "writeback"

	case !dirty && (isFile || isMmf):
		// Clean file-backed or mmf-backed page: canonical copy is
		// already durable, nothing to persist (§4.B step 2 "otherwise").
		return "clean"

	default:
		// Anonymous, or a dirty page whose canonical home isn't a file
		// (a writable FILE page that was modified, or an anon page being
		// re-evicted): must go to swap.
		slot, serr := e.swap.SwapOut(frameBytes)
		if serr != nil {
			if e.stats != nil {
				e.stats.SwapExhaustion.Inc()
			}
			e.fatal(vmerr.ErrSwapExhausted, serr, "eviction: swap device exhausted")
		}
		entry.Swap.Slot = slot
		switch entry.Kind {
		case spt.FileClean:
			entry.Kind = spt.FileSwapped
		case spt.Mmf:
			entry.Kind = spt.MmfSwapped
		default:
			// AnonSwapped already, or re-swapping FileSwapped/MmfSwapped:
			// kind is unchanged, only the slot is refreshed.
		}
		return "swap"
	}
}
