package advect

import (
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/particle"
	"github.com/pthm-cable/advect/telemetry"
)

// ResultKind selects the per-run result variant.
type ResultKind int

const (
	// Terminal keeps each particle's final state only.
	Terminal ResultKind = iota
	// Streamline also keeps every particle's polyline.
	Streamline
)

func (k ResultKind) String() string {
	if k == Streamline {
		return "streamline"
	}
	return "terminal"
}

// Output is one rank's compacted result set. Particles are sorted by ID.
// For Streamline results, polyline i holds
// Points[Offsets[i]:Offsets[i+1]] and belongs to IDs[i]; particle traces
// are moved into Points.
type Output struct {
	Kind      ResultKind
	Rank      int
	Particles []particle.Particle

	Points  []r3.Vec
	Offsets []int
	IDs     []int64
}

// Compact sorts ps by ID and, for Streamline results, concatenates the
// traces into one polyline set.
func Compact(kind ResultKind, rank int, ps []particle.Particle) Output {
	slices.SortFunc(ps, func(a, b particle.Particle) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	out := Output{Kind: kind, Rank: rank, Particles: ps}
	if kind != Streamline {
		for i := range ps {
			ps[i].Trace = nil
		}
		return out
	}

	n := 0
	for _, p := range ps {
		n += len(p.Trace)
	}
	out.Points = make([]r3.Vec, 0, n)
	out.Offsets = make([]int, 0, len(ps)+1)
	out.IDs = make([]int64, 0, len(ps))
	out.Offsets = append(out.Offsets, 0)
	for i := range ps {
		out.Points = append(out.Points, ps[i].Trace...)
		out.Offsets = append(out.Offsets, len(out.Points))
		out.IDs = append(out.IDs, ps[i].ID)
		ps[i].Trace = nil
	}
	return out
}

// Len returns the number of particles in the result.
func (o *Output) Len() int { return len(o.Particles) }

// Polyline returns the i-th polyline, or nil for Terminal results.
func (o *Output) Polyline(i int) []r3.Vec {
	if o.Kind != Streamline || i < 0 || i+1 >= len(o.Offsets) {
		return nil
	}
	return o.Points[o.Offsets[i]:o.Offsets[i+1]]
}

// TerminalRecords flattens the final particle states for CSV output.
func (o *Output) TerminalRecords(run int) []telemetry.TerminalRecord {
	recs := make([]telemetry.TerminalRecord, len(o.Particles))
	for i, p := range o.Particles {
		recs[i] = telemetry.TerminalRecord{
			Run:       run,
			Rank:      o.Rank,
			ID:        p.ID,
			X:         p.Pos.X,
			Y:         p.Pos.Y,
			Z:         p.Pos.Z,
			Steps:     p.Steps,
			Time:      p.Time,
			ArcLength: p.ArcLength,
			Status:    p.Status.String(),
		}
	}
	return recs
}

// StreamlineRecords flattens the polylines for CSV output.
func (o *Output) StreamlineRecords(run int) []telemetry.StreamlineRecord {
	if o.Kind != Streamline {
		return nil
	}
	recs := make([]telemetry.StreamlineRecord, 0, len(o.Points))
	for i, id := range o.IDs {
		for j, pt := range o.Polyline(i) {
			recs = append(recs, telemetry.StreamlineRecord{
				Run:   run,
				Rank:  o.Rank,
				ID:    id,
				Index: j,
				X:     pt.X,
				Y:     pt.Y,
				Z:     pt.Z,
			})
		}
	}
	return recs
}
