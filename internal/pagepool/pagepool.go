// Package pagepool is the reference implementation of the page-allocator
// external collaborator (spec §6): alloc(flags) -> frame | null, free(frame).
// It backs a fixed-capacity pool of page-aligned frames with one anonymous
// mmap region (golang.org/x/sys/unix — the same dependency biscuit's go.mod
// carries), sliced into pages, with a mutex-guarded free list in the style
// of mem.Physmem_t's singly-linked freelist (minus the per-CPU sharding and
// refcounting biscuit needs for copy-on-write: this spec's frames are
// exclusively owned, never shared, so a plain free list suffices).
package pagepool

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"vmkernel/internal/mem"
	"vmkernel/internal/vmerr"
)

// Flags mirror the allocator flags of spec §6.
type Flags uint

const (
	// UserPool requests a frame from the user-accessible pool (the only
	// pool this reference implementation has).
	UserPool Flags = 1 << iota
	// ZeroFill requests the returned frame be zero-filled.
	ZeroFill
)

// Pool is the narrow allocator interface the core depends on.
type Pool interface {
	Alloc(flags Flags) (mem.Pa_t, bool)
	Free(mem.Pa_t)
}

// MmapPool implements Pool over one anonymous mmap'd region.
type MmapPool struct {
	mu      sync.Mutex
	region  []byte
	free    []int32 // stack of free frame indices
	base    uintptr
	nframes int
}

// New reserves nframes page-sized frames via an anonymous mmap mapping.
func New(nframes int) (*MmapPool, error) {
	if nframes <= 0 {
		nframes = 1
	}
	size := nframes * mem.PGSIZE
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	p := &MmapPool{
		region:  region,
		nframes: nframes,
		base:    uintptr(unsafe.Pointer(&region[0])),
	}
	p.free = make([]int32, nframes)
	for i := range p.free {
		p.free[i] = int32(nframes - 1 - i)
	}
	return p, nil
}

// Alloc returns a free frame, or false if the pool is exhausted. It returns
// no error value; framealloc.Allocate answers false by evicting a frame, and
// ErrExhausted is there for callers that want an error instead.
func (p *MmapPool) Alloc(flags Flags) (mem.Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	frame := p.base + uintptr(idx)*uintptr(mem.PGSIZE)
	if flags&ZeroFill != 0 {
		clear(p.region[int(idx)*mem.PGSIZE : (int(idx)+1)*mem.PGSIZE])
	}
	return mem.Pa_t(frame), true
}

// Free returns a previously allocated frame to the pool.
func (p *MmapPool) Free(frame mem.Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	off := uintptr(frame) - p.base
	idx := int32(off / uintptr(mem.PGSIZE))
	p.free = append(p.free, idx)
}

// Bytes returns the backing bytes for a frame, for tests and for the loader
// to read/write page contents directly.
func (p *MmapPool) Bytes(frame mem.Pa_t) []byte {
	off := uintptr(frame) - p.base
	return p.region[off : off+uintptr(mem.PGSIZE)]
}

// Close releases the mmap region. Not part of the external-collaborator
// interface (the real allocator never tears down); provided so tests don't
// leak address space across table runs.
func (p *MmapPool) Close() error {
	return unix.Munmap(p.region)
}

// ErrExhausted is returned by callers that want an error value rather than
// a boolean from Alloc.
var ErrExhausted = vmerr.ErrOutOfMemory
