package telemetry

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Timer names.
const (
	TimerTotal       = "total"
	TimerSleep       = "sleep"
	TimerAdvect      = "advect"
	TimerExchange    = "exchange"
	TimerWorkerSleep = "worker_sleep"
)

// Counter names.
const (
	CounterAdvectSteps       = "advectSteps"
	CounterMyParticles       = "myParticles"
	CounterNaps              = "naps"
	CounterWorkerNaps        = "worker_naps"
	CounterRounds            = "rounds"
	CounterParticlesSent     = "particles_sent"
	CounterParticlesReceived = "particles_received"
	CounterEnvelopesSent     = "envelopes_sent"
	CounterTerminated        = "terminated"
)

// Stats holds one rank's named timers and counters. Safe for concurrent
// use; a nil *Stats discards everything.
type Stats struct {
	mu       sync.Mutex
	timers   map[string]time.Duration
	counters map[string]int64
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{
		timers:   make(map[string]time.Duration),
		counters: make(map[string]int64),
	}
}

// AddTime adds d to timer name.
func (s *Stats) AddTime(name string, d time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.timers[name] += d
	s.mu.Unlock()
}

// Time starts timer name and returns the function that stops it.
//
//	defer stats.Time(TimerAdvect)()
func (s *Stats) Time(name string) func() {
	start := time.Now()
	return func() { s.AddTime(name, time.Since(start)) }
}

// Count adds n to counter name.
func (s *Stats) Count(name string, n int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.counters[name] += n
	s.mu.Unlock()
}

// Timer returns the accumulated value of timer name.
func (s *Stats) Timer(name string) time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[name]
}

// Counter returns the value of counter name.
func (s *Stats) Counter(name string) int64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Snapshot is a point-in-time copy of one rank's statistics.
type Snapshot struct {
	Rank     int
	Timers   map[string]time.Duration
	Counters map[string]int64
}

// Snapshot copies the current values.
func (s *Stats) Snapshot(rank int) Snapshot {
	snap := Snapshot{Rank: rank}
	if s == nil {
		return snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Timers = maps.Clone(s.timers)
	snap.Counters = maps.Clone(s.counters)
	return snap
}

// LogValue implements slog.LogValuer for structured logging.
func (s Snapshot) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int("rank", s.Rank)}
	for _, name := range slices.Sorted(maps.Keys(s.Timers)) {
		attrs = append(attrs, slog.Float64(name+"_s", s.Timers[name].Seconds()))
	}
	for _, name := range slices.Sorted(maps.Keys(s.Counters)) {
		attrs = append(attrs, slog.Int64(name, s.Counters[name]))
	}
	return slog.GroupValue(attrs...)
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
