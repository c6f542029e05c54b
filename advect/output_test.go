package advect

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/particle"
)

func traced(id int64, n int) particle.Particle {
	p := particle.Particle{ID: id, Status: particle.MaxSteps, Steps: n}
	for i := 0; i < n; i++ {
		p.Trace = append(p.Trace, r3.Vec{X: float64(id), Y: float64(i)})
	}
	return p
}

func TestCompactStreamline(t *testing.T) {
	ps := []particle.Particle{traced(3, 2), traced(1, 0), traced(2, 3)}
	out := Compact(Streamline, 4, ps)

	if out.Rank != 4 {
		t.Errorf("Rank = %d, want 4", out.Rank)
	}
	wantIDs := []int64{1, 2, 3}
	for i, id := range wantIDs {
		if out.IDs[i] != id || out.Particles[i].ID != id {
			t.Errorf("index %d: got ids %d/%d, want %d", i, out.IDs[i], out.Particles[i].ID, id)
		}
		if out.Particles[i].Trace != nil {
			t.Errorf("particle %d kept its trace", id)
		}
	}
	wantOffsets := []int{0, 0, 3, 5}
	if len(out.Offsets) != len(wantOffsets) {
		t.Fatalf("Offsets = %v, want %v", out.Offsets, wantOffsets)
	}
	for i := range wantOffsets {
		if out.Offsets[i] != wantOffsets[i] {
			t.Errorf("Offsets = %v, want %v", out.Offsets, wantOffsets)
			break
		}
	}
	if len(out.Points) != 5 {
		t.Errorf("got %d points, want 5", len(out.Points))
	}

	tests := []struct {
		index int
		want  int
	}{
		{0, 0},
		{1, 3},
		{2, 2},
		{3, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		line := out.Polyline(tt.index)
		if len(line) != tt.want {
			t.Errorf("Polyline(%d) has %d points, want %d", tt.index, len(line), tt.want)
		}
		for j, pt := range line {
			if pt.X != float64(out.IDs[tt.index]) || pt.Y != float64(j) {
				t.Errorf("Polyline(%d)[%d] = %v", tt.index, j, pt)
			}
		}
	}
}

func TestCompactTerminal(t *testing.T) {
	out := Compact(Terminal, 0, []particle.Particle{traced(2, 4), traced(1, 1)})
	if out.Points != nil || out.Offsets != nil || out.IDs != nil {
		t.Error("terminal result carries polylines")
	}
	if out.Particles[0].ID != 1 || out.Particles[1].ID != 2 {
		t.Errorf("particles not sorted: %d, %d", out.Particles[0].ID, out.Particles[1].ID)
	}
	if out.Particles[0].Trace != nil {
		t.Error("terminal result kept a trace")
	}
	if got := out.Polyline(0); got != nil {
		t.Errorf("Polyline on terminal result = %v, want nil", got)
	}
	if got := out.StreamlineRecords(0); got != nil {
		t.Errorf("StreamlineRecords on terminal result = %v, want nil", got)
	}
}

func TestRecords(t *testing.T) {
	p := traced(7, 3)
	p.Pos = r3.Vec{X: 1, Y: 2, Z: 3}
	p.Time = 0.3
	p.ArcLength = 0.25
	out := Compact(Streamline, 1, []particle.Particle{p})

	terms := out.TerminalRecords(2)
	if len(terms) != 1 {
		t.Fatalf("got %d terminal records, want 1", len(terms))
	}
	tr := terms[0]
	if tr.Run != 2 || tr.Rank != 1 || tr.ID != 7 || tr.X != 1 || tr.Z != 3 || tr.Steps != 3 {
		t.Errorf("unexpected terminal record %+v", tr)
	}
	if tr.Status != "max_steps" {
		t.Errorf("Status = %q, want max_steps", tr.Status)
	}

	lines := out.StreamlineRecords(2)
	if len(lines) != 3 {
		t.Fatalf("got %d streamline records, want 3", len(lines))
	}
	for i, r := range lines {
		if r.ID != 7 || r.Index != i || r.Y != float64(i) {
			t.Errorf("record %d = %+v", i, r)
		}
	}
}
