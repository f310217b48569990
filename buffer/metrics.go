package buffer

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports buffer pool activity to prometheus. A nil *Metrics records nothing.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	exhausted prometheus.Counter
	evictions prometheus.Counter
	flushes   prometheus.Counter
	available prometheus.Gauge
}

// NewMetrics creates the pool metrics and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagepool",
			Subsystem: "buffer",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		hits:      counter("hits_total", "Pins satisfied by a block already resident in the pool."),
		misses:    counter("misses_total", "Pins that had to load a block into a victim slot."),
		exhausted: counter("exhausted_total", "Pin requests refused because every slot was pinned."),
		evictions: counter("evictions_total", "Resident blocks replaced by another block."),
		flushes:   counter("flushes_total", "Dirty pages written back to the block store."),
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagepool",
			Subsystem: "buffer",
			Name:      "available",
			Help:      "Slots with a zero pin count.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.exhausted, m.evictions, m.flushes, m.available)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) exhaust() {
	if m != nil {
		m.exhausted.Inc()
	}
}

func (m *Metrics) evict() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) flushed() {
	if m != nil {
		m.flushes.Inc()
	}
}

func (m *Metrics) setAvailable(n int) {
	if m != nil {
		m.available.Set(float64(n))
	}
}
