package vsb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSink receives operation counters. The sink is injected rather
// than kept as package state so that embedders can aggregate per-store.
type StatsSink interface {
	Gets(n int)
	GetsDeduped(n int)
	GetsNotStorable(n int)
	Puts(n int)
	PutsDeduped(n int)
}

// NopStats discards all counters.
type NopStats struct{}

func (NopStats) Gets(int)            {}
func (NopStats) GetsDeduped(int)     {}
func (NopStats) GetsNotStorable(int) {}
func (NopStats) Puts(int)            {}
func (NopStats) PutsDeduped(int)     {}

// PromStats exports the counters through a prometheus registerer.
type PromStats struct {
	gets            prometheus.Counter
	getsDeduped     prometheus.Counter
	getsNotStorable prometheus.Counter
	puts            prometheus.Counter
	putsDeduped     prometheus.Counter
}

// NewPromStats registers and returns a prometheus-backed sink.
func NewPromStats(reg prometheus.Registerer) *PromStats {
	s := &PromStats{
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsb_gets_total",
			Help: "Total gets through the virtually sharded blobstore",
		}),
		getsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsb_gets_deduped_total",
			Help: "Gets answered from cache while waiting on a shard",
		}),
		getsNotStorable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsb_gets_not_storable_total",
			Help: "Gets that bypassed sharding for uncacheable keys",
		}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsb_puts_total",
			Help: "Total puts through the virtually sharded blobstore",
		}),
		putsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsb_puts_deduped_total",
			Help: "Puts skipped because identical content was already written",
		}),
	}
	reg.MustRegister(s.gets, s.getsDeduped, s.getsNotStorable, s.puts, s.putsDeduped)
	return s
}

func (s *PromStats) Gets(n int)            { s.gets.Add(float64(n)) }
func (s *PromStats) GetsDeduped(n int)     { s.getsDeduped.Add(float64(n)) }
func (s *PromStats) GetsNotStorable(n int) { s.getsNotStorable.Add(float64(n)) }
func (s *PromStats) Puts(n int)            { s.puts.Add(float64(n)) }
func (s *PromStats) PutsDeduped(n int)     { s.putsDeduped.Add(float64(n)) }
