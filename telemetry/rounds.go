package telemetry

import (
	"log/slog"
	"time"
)

// Phase names for one exchange round.
const (
	PhaseAdvect   = "advect"
	PhaseExchange = "exchange"
	PhaseIdle     = "idle"
	PhaseMerge    = "merge"
)

var roundPhases = []string{PhaseAdvect, PhaseExchange, PhaseIdle, PhaseMerge}

// RoundSample holds timing data for a single round.
type RoundSample struct {
	Duration time.Duration
	Phases   map[string]time.Duration
}

// RoundCollector tracks round timings over a rolling window.
// It is owned by the goroutine driving the rounds and is not safe for
// concurrent use.
type RoundCollector struct {
	windowSize    int
	samples       []RoundSample
	writeIndex    int
	sampleCount   int
	rounds        int
	currentPhases map[string]time.Duration
	roundStart    time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewRoundCollector creates a collector averaging over windowSize rounds.
func NewRoundCollector(windowSize int) *RoundCollector {
	if windowSize < 1 {
		windowSize = 100
	}
	return &RoundCollector{
		windowSize:    windowSize,
		samples:       make([]RoundSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartRound begins timing a new round.
func (c *RoundCollector) StartRound() {
	if c == nil {
		return
	}
	c.roundStart = time.Now()
	c.currentPhases = make(map[string]time.Duration)
	c.lastPhase = ""
}

// StartPhase ends the running phase, if any, and begins phase.
func (c *RoundCollector) StartPhase(phase string) {
	if c == nil {
		return
	}
	now := time.Now()
	if c.lastPhase != "" {
		c.currentPhases[c.lastPhase] += now.Sub(c.phaseStart)
	}
	c.phaseStart = now
	c.lastPhase = phase
}

// EndRound finishes the round and records the sample.
func (c *RoundCollector) EndRound() {
	if c == nil {
		return
	}
	now := time.Now()
	if c.lastPhase != "" {
		c.currentPhases[c.lastPhase] += now.Sub(c.phaseStart)
	}

	c.samples[c.writeIndex] = RoundSample{
		Duration: now.Sub(c.roundStart),
		Phases:   c.currentPhases,
	}
	c.writeIndex = (c.writeIndex + 1) % c.windowSize
	if c.sampleCount < c.windowSize {
		c.sampleCount++
	}
	c.rounds++
}

// Rounds returns the number of completed rounds.
func (c *RoundCollector) Rounds() int {
	if c == nil {
		return 0
	}
	return c.rounds
}

// RoundStats holds aggregated round statistics over the window.
type RoundStats struct {
	Rounds   int
	AvgRound time.Duration
	MinRound time.Duration
	MaxRound time.Duration
	PhasePct map[string]float64
}

// Stats computes aggregated statistics over the current window.
func (c *RoundCollector) Stats() RoundStats {
	if c == nil || c.sampleCount == 0 {
		return RoundStats{PhasePct: make(map[string]float64)}
	}

	var total, minRound, maxRound time.Duration
	phaseSum := make(map[string]time.Duration)
	for i := 0; i < c.sampleCount; i++ {
		s := c.samples[i]
		total += s.Duration
		if i == 0 || s.Duration < minRound {
			minRound = s.Duration
		}
		if s.Duration > maxRound {
			maxRound = s.Duration
		}
		for phase, d := range s.Phases {
			phaseSum[phase] += d
		}
	}

	pct := make(map[string]float64)
	if total > 0 {
		for phase, sum := range phaseSum {
			pct[phase] = float64(sum) / float64(total) * 100
		}
	}

	return RoundStats{
		Rounds:   c.rounds,
		AvgRound: total / time.Duration(c.sampleCount),
		MinRound: minRound,
		MaxRound: maxRound,
		PhasePct: pct,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s RoundStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("rounds", s.Rounds),
		slog.Int64("avg_round_us", s.AvgRound.Microseconds()),
		slog.Int64("min_round_us", s.MinRound.Microseconds()),
		slog.Int64("max_round_us", s.MaxRound.Microseconds()),
	}
	for _, phase := range roundPhases {
		if pct, ok := s.PhasePct[phase]; ok {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// RoundStatsCSV is a flat struct for CSV export of round stats.
type RoundStatsCSV struct {
	Rank        int     `csv:"rank"`
	Rounds      int     `csv:"rounds"`
	AvgRoundUS  int64   `csv:"avg_round_us"`
	MinRoundUS  int64   `csv:"min_round_us"`
	MaxRoundUS  int64   `csv:"max_round_us"`
	AdvectPct   float64 `csv:"advect_pct"`
	ExchangePct float64 `csv:"exchange_pct"`
	IdlePct     float64 `csv:"idle_pct"`
	MergePct    float64 `csv:"merge_pct"`
}

// ToCSV converts RoundStats to a flat CSV-friendly struct.
func (s RoundStats) ToCSV(rank int) RoundStatsCSV {
	return RoundStatsCSV{
		Rank:        rank,
		Rounds:      s.Rounds,
		AvgRoundUS:  s.AvgRound.Microseconds(),
		MinRoundUS:  s.MinRound.Microseconds(),
		MaxRoundUS:  s.MaxRound.Microseconds(),
		AdvectPct:   s.PhasePct[PhaseAdvect],
		ExchangePct: s.PhasePct[PhaseExchange],
		IdlePct:     s.PhasePct[PhaseIdle],
		MergePct:    s.PhasePct[PhaseMerge],
	}
}
