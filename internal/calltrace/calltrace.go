// Package calltrace deduplicates stack-chain dumps for noisy Fatal paths,
// adapted from biscuit's caller.Distinct_caller_t.
package calltrace

import (
	"fmt"
	"runtime"
	"sync"
)

// Distinct tracks which call chains have already produced a dump, so a
// storm of identical eviction Fatal panics doesn't flood the log with
// duplicate stack traces.
type Distinct struct {
	mu  sync.Mutex
	did map[uintptr]bool
}

// New returns an empty Distinct tracker.
func New() *Distinct {
	return &Distinct{did: make(map[uintptr]bool)}
}

func (d *Distinct) pchash(pcs []uintptr) uintptr {
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Once reports whether the caller's current stack (starting skip frames up)
// has been seen before. The first time a given chain is seen it returns
// true along with a formatted trace; subsequent identical chains return
// false, "".
func (d *Distinct) Once(skip int) (bool, string) {
	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(skip+2, pcs)
		if got == 0 {
			return false, ""
		}
		pcs = pcs[:got]
	}
	h := d.pchash(pcs)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.did[h] {
		return false, ""
	}
	d.did[h] = true

	frames := runtime.CallersFrames(pcs)
	s := ""
	for {
		fr, more := frames.Next()
		if s == "" {
			s = fmt.Sprintf("%s:%d", fr.Function, fr.Line)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", fr.Function, fr.Line)
		}
		if !more {
			break
		}
	}
	return true, s
}
