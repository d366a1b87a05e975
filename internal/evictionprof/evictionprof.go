// Package evictionprof accumulates one pprof sample per eviction — scan
// length (frames inspected before a victim was found) and wall time — using
// github.com/google/pprof's profile.Profile type, the same dependency
// biscuit's go.mod carries (there for CPU-profiling support in its patched
// runtime; here it profiles the one loop in this subsystem worth profiling,
// the second-chance clock scan).
package evictionprof

import (
	"io"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// Recorder accumulates eviction scan samples.
type Recorder struct {
	mu      sync.Mutex
	samples []*profile.Sample
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record adds one sample: scanLen frames were inspected by the eviction
// engine's selectVictim, and
// the whole Evict call (scan + persistence) took elapsed.
func (r *Recorder) Record(scanLen int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, &profile.Sample{
		Value: []int64{1, int64(scanLen), elapsed.Nanoseconds()},
	})
}

// WriteTo serializes the accumulated samples as a gzip'd pprof profile to w,
// for offline inspection with `go tool pprof`.
func (r *Recorder) WriteTo(w io.Writer) error {
	r.mu.Lock()
	samples := make([]*profile.Sample, len(r.samples))
	copy(samples, r.samples)
	r.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "evictions", Unit: "count"},
			{Type: "scan_length", Unit: "frames"},
			{Type: "latency", Unit: "nanoseconds"},
		},
		Sample:        samples,
		TimeNanos:     time.Now().UnixNano(),
		DurationNanos: int64(time.Second),
	}
	return p.Write(w)
}

// Len reports the number of samples recorded, for tests.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}
