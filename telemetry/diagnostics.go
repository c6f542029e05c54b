package telemetry

import (
	"bufio"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates one timer or counter across ranks.
type Summary struct {
	Kind  string  `csv:"kind"` // timer or counter
	Name  string  `csv:"name"`
	Ranks int     `csv:"ranks"`
	Min   float64 `csv:"min"`
	Max   float64 `csv:"max"`
	Mean  float64 `csv:"mean"`
	Std   float64 `csv:"std"`
	P50   float64 `csv:"p50"`
	Total float64 `csv:"total"`
}

// Summarize computes per-name statistics over the rank snapshots.
// Timers are reported in seconds. A rank missing a name counts as zero.
func Summarize(snaps []Snapshot) []Summary {
	timerNames := make(map[string]bool)
	counterNames := make(map[string]bool)
	for _, s := range snaps {
		for name := range s.Timers {
			timerNames[name] = true
		}
		for name := range s.Counters {
			counterNames[name] = true
		}
	}

	var out []Summary
	for _, name := range slices.Sorted(maps.Keys(timerNames)) {
		vals := make([]float64, len(snaps))
		for i, s := range snaps {
			vals[i] = s.Timers[name].Seconds()
		}
		out = append(out, summarize("timer", name, vals))
	}
	for _, name := range slices.Sorted(maps.Keys(counterNames)) {
		vals := make([]float64, len(snaps))
		for i, s := range snaps {
			vals[i] = float64(s.Counters[name])
		}
		out = append(out, summarize("counter", name, vals))
	}
	return out
}

func summarize(kind, name string, vals []float64) Summary {
	s := Summary{Kind: kind, Name: name, Ranks: len(vals)}
	if len(vals) == 0 {
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Total = floats.Sum(vals)
	s.Mean, s.Std = stat.PopMeanStdDev(vals, nil)

	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	s.P50 = Percentile(sorted, 0.5)
	return s
}

// Diagnostics appends a human-readable statistics dump per run to one
// file. Runs within a process are numbered from 0.
type Diagnostics struct {
	mu   sync.Mutex
	path string
	step int
}

// NewDiagnostics returns a writer appending to path. An empty path
// disables output.
func NewDiagnostics(path string) *Diagnostics {
	if path == "" {
		return nil
	}
	return &Diagnostics{path: path}
}

// Step returns the number of the next dump.
func (d *Diagnostics) Step() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.step
}

// Dump appends one run's statistics.
func (d *Diagnostics) Dump(runID string, snaps []Snapshot) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening diagnostics file: %w", err)
	}
	w := bufio.NewWriter(f)
	writeDump(w, d.step, runID, snaps)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing diagnostics file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing diagnostics file: %w", err)
	}
	d.step++
	return nil
}

func writeDump(w *bufio.Writer, step int, runID string, snaps []Snapshot) {
	fmt.Fprintf(w, "Step %d\n", step)
	fmt.Fprintf(w, "run %s ranks %d\n", runID, len(snaps))

	fmt.Fprintln(w, "TIMERS")
	for _, s := range snaps {
		for _, name := range slices.Sorted(maps.Keys(s.Timers)) {
			fmt.Fprintf(w, "  %d: %s %.6f\n", s.Rank, name, s.Timers[name].Seconds())
		}
	}

	summaries := Summarize(snaps)
	fmt.Fprintln(w, "TIMER_STATS")
	for _, sm := range summaries {
		if sm.Kind == "timer" {
			fmt.Fprintf(w, "  %s: min %.6f max %.6f mean %.6f std %.6f\n", sm.Name, sm.Min, sm.Max, sm.Mean, sm.Std)
		}
	}

	fmt.Fprintln(w, "COUNTERS")
	for _, s := range snaps {
		for _, name := range slices.Sorted(maps.Keys(s.Counters)) {
			fmt.Fprintf(w, "  %d: %s %d\n", s.Rank, name, s.Counters[name])
		}
	}

	fmt.Fprintln(w, "COUNTER_STATS")
	for _, sm := range summaries {
		if sm.Kind == "counter" {
			fmt.Fprintf(w, "  %s: min %.0f max %.0f mean %.2f std %.2f total %.0f\n",
				sm.Name, sm.Min, sm.Max, sm.Mean, sm.Std, sm.Total)
		}
	}
	fmt.Fprintf(w, "written %s\n\n", time.Now().UTC().Format(time.RFC3339))
}
