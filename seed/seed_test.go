package seed

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/comm"
	"github.com/pthm-cable/advect/field"
	"github.com/pthm-cable/advect/particle"
)

var twoCubeBox = r3.Box{Max: r3.Vec{X: 2, Y: 1, Z: 1}}

func decomposition(t *testing.T, nx, ranks int) *bounds.BoundsMap {
	t.Helper()
	pieces, err := field.Grid(twoCubeBox, nx, 1, 1, ranks, field.RoundRobin)
	if err != nil {
		t.Fatal(err)
	}
	m, err := field.BuildBounds(pieces)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// gather runs Generate on every rank and returns all kept seeds by id.
func gather(t *testing.T, opts Options, bm *bounds.BoundsMap, ranks int) []particle.Particle {
	t.Helper()
	var all []particle.Particle
	for r := 0; r < ranks; r++ {
		res, err := Generate(opts, bm, r)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, res.Active...)
		all = append(all, res.Terminated...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func TestGenerateDeterministic(t *testing.T) {
	bm := decomposition(t, 2, 2)
	for _, method := range []Method{Random, RandomBlock} {
		t.Run(string(method), func(t *testing.T) {
			opts := Options{Method: method, Count: 50, RandSeed: 314}
			a, _ := Generate(opts, bm, 1)
			b, _ := Generate(opts, bm, 1)
			if !reflect.DeepEqual(a, b) {
				t.Error("repeated Generate calls differ")
			}
		})
	}
}

func TestGenerateIndependentOfRankCount(t *testing.T) {
	opts := Options{Method: Random, Count: 200, RandSeed: 7}
	one := gather(t, opts, decomposition(t, 2, 1), 1)
	two := gather(t, opts, decomposition(t, 2, 2), 2)

	if len(one) != 200 || len(two) != 200 {
		t.Fatalf("kept %d and %d seeds, want 200 each", len(one), len(two))
	}
	for i := range one {
		if one[i].Pos != two[i].Pos || !reflect.DeepEqual(one[i].BlockIDs, two[i].BlockIDs) {
			t.Fatalf("seed %d: %v %v vs %v %v", i, one[i].Pos, one[i].BlockIDs, two[i].Pos, two[i].BlockIDs)
		}
	}
}

func TestGenerateConservation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want int
	}{
		{"random", Options{Method: Random, Count: 100, RandSeed: 1}, 100},
		{"random_block", Options{Method: RandomBlock, Count: 30, RandSeed: 1}, 120},
		{"random_box", Options{Method: RandomBox, Count: 40, RandSeed: 1,
			Box: r3.Box{Min: r3.Vec{X: -1}, Max: r3.Vec{X: 1, Y: 1, Z: 1}}}, 40},
	}

	bm := decomposition(t, 4, 3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			all := gather(t, tt.opts, bm, 3)
			if len(all) != tt.want {
				t.Fatalf("kept %d seeds across ranks, want %d", len(all), tt.want)
			}
			for i := 1; i < len(all); i++ {
				if all[i].ID == all[i-1].ID {
					t.Fatalf("seed %d kept twice", all[i].ID)
				}
			}
		})
	}
}

func TestRandomBlockStaysInsideBlocks(t *testing.T) {
	bm := decomposition(t, 2, 2)
	res, err := Generate(Options{Method: RandomBlock, Count: 25, RandSeed: 3}, bm, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Active) != 25 {
		t.Fatalf("rank 0 kept %d, want 25", len(res.Active))
	}
	for _, p := range res.Active {
		if !reflect.DeepEqual(p.BlockIDs, []int{0}) {
			t.Errorf("seed %d at %v has candidates %v, want [0]", p.ID, p.Pos, p.BlockIDs)
		}
	}
}

func TestRandomBoxOutsideDomain(t *testing.T) {
	bm := decomposition(t, 2, 2)
	opts := Options{Method: RandomBox, Count: 10, RandSeed: 1,
		Box: r3.Box{Min: r3.Vec{X: 5, Y: 5, Z: 5}, Max: r3.Vec{X: 6, Y: 6, Z: 6}}}

	r0, _ := Generate(opts, bm, 0)
	r1, _ := Generate(opts, bm, 1)
	if len(r0.Terminated) != 10 || len(r0.Active) != 0 {
		t.Errorf("rank 0 = %d active, %d terminated; want 0, 10", len(r0.Active), len(r0.Terminated))
	}
	if r1.Len() != 0 {
		t.Errorf("rank 1 kept %d, want 0", r1.Len())
	}
	for _, p := range r0.Terminated {
		if p.Status != particle.ExitedDomain {
			t.Errorf("seed %d status = %v, want exited_domain", p.ID, p.Status)
		}
	}
}

func TestPoint(t *testing.T) {
	bm := decomposition(t, 2, 2)

	tests := []struct {
		name           string
		at             r3.Vec
		rank           int
		wantActive     int
		wantTerminated int
	}{
		{"inside second cube, owner", r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}, 1, 1, 0},
		{"inside second cube, other", r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}, 0, 0, 0},
		{"on face goes to lower id", r3.Vec{X: 1, Y: 0.5, Z: 0.5}, 0, 1, 0},
		{"outside, rank 0", r3.Vec{X: 3, Y: 3, Z: 3}, 0, 0, 1},
		{"outside, rank 1", r3.Vec{X: 3, Y: 3, Z: 3}, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Generate(Options{Method: Point, Point: tt.at}, bm, tt.rank)
			if err != nil {
				t.Fatal(err)
			}
			if res.Generated != 1 {
				t.Errorf("Generated = %d, want 1", res.Generated)
			}
			if len(res.Active) != tt.wantActive || len(res.Terminated) != tt.wantTerminated {
				t.Errorf("active %d terminated %d, want %d %d",
					len(res.Active), len(res.Terminated), tt.wantActive, tt.wantTerminated)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero count", Options{Method: Random}},
		{"negative count", Options{Method: RandomBlock, Count: -1}},
		{"inverted box", Options{Method: RandomBox, Count: 1,
			Box: r3.Box{Min: r3.Vec{X: 1}, Max: r3.Vec{X: 0, Y: 1, Z: 1}}}},
		{"unknown", Options{Method: "grid", Count: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestTotal(t *testing.T) {
	w := comm.NewWorld(3)
	locals := []int{4, 0, 6}
	got := make([]int64, 3)
	var wg sync.WaitGroup
	for r := range locals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := Total(context.Background(), w.Comm(r), locals[r])
			if err != nil {
				t.Error(err)
			}
			got[r] = n
		}()
	}
	wg.Wait()
	for r, n := range got {
		if n != 10 {
			t.Errorf("rank %d total = %d, want 10", r, n)
		}
	}
}
