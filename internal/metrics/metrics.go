// Package metrics exposes Prometheus instruments describing frame table
// occupancy, eviction outcomes, page-fault resolutions, and swap pressure.
// Grounded on _examples/talyz-systemd_exporter's use of
// github.com/prometheus/client_golang; registered against a caller-supplied
// Registerer rather than the global default so multiple address spaces in
// the same test binary don't collide on metric names.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups the instruments this subsystem emits.
type Collectors struct {
	FramesInUse    prometheus.Gauge
	Evictions      *prometheus.CounterVec // label "outcome": clean|writeback|swap
	PageFaults     *prometheus.CounterVec // label "kind": set by the caller; cmd/vmtrace uses stack|spte-kind-<n>
	SwapExhaustion prometheus.Counter
}

// New constructs and registers a Collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		FramesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vm",
			Subsystem: "frametable",
			Name:      "frames_in_use",
			Help:      "Number of physical frames currently tracked by the frame table.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vm",
			Subsystem: "eviction",
			Name:      "total",
			Help:      "Evictions performed, partitioned by persistence outcome.",
		}, []string{"outcome"}),
		PageFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vm",
			Subsystem: "fault",
			Name:      "total",
			Help:      "Page faults resolved, partitioned by resolution kind.",
		}, []string{"kind"}),
		SwapExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vm",
			Subsystem: "swap",
			Name:      "exhausted_total",
			Help:      "Evictions that failed because no swap slot was free.",
		}),
	}
	reg.MustRegister(c.FramesInUse, c.Evictions, c.PageFaults, c.SwapExhaustion)
	return c
}
