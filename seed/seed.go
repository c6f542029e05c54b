// Package seed generates the initial particles and decides which rank
// keeps each one.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/comm"
	"github.com/pthm-cable/advect/particle"
)

// Method is a seeding strategy.
type Method string

const (
	Random      Method = "random"       // uniform in the global box
	RandomBlock Method = "random_block" // uniform in every block independently
	RandomBox   Method = "random_box"   // uniform in a user box
	Point       Method = "point"        // one explicit point
)

// blockShrink trims each side of a block before sampling so seeds never
// sit on a shared face.
const blockShrink = 0.025

var ErrInvalid = errors.New("seed: invalid options")

// Options configures seeding.
type Options struct {
	Method   Method
	Count    int
	RandSeed int64
	Box      r3.Box // RandomBox
	Point    r3.Vec // Point
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	switch o.Method {
	case Random, RandomBlock:
		if o.Count <= 0 {
			return fmt.Errorf("%w: seed count must be positive, got %d", ErrInvalid, o.Count)
		}
	case RandomBox:
		if o.Count <= 0 {
			return fmt.Errorf("%w: seed count must be positive, got %d", ErrInvalid, o.Count)
		}
		b := o.Box
		if !(b.Min.X <= b.Max.X && b.Min.Y <= b.Max.Y && b.Min.Z <= b.Max.Z) {
			return fmt.Errorf("%w: seed box min %v exceeds max %v", ErrInvalid, b.Min, b.Max)
		}
	case Point:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalid, o.Method)
	}
	return nil
}

// Result is one rank's share of the seeds.
type Result struct {
	// Active seeds start in a block owned by this rank.
	Active []particle.Particle
	// Terminated seeds lie outside every block. Only rank 0 keeps them.
	Terminated []particle.Particle
	// Generated is the number of seeds generated before assignment.
	Generated int
}

// Len returns the number of seeds this rank is responsible for.
func (r Result) Len() int { return len(r.Active) + len(r.Terminated) }

// Generate produces the seeds and keeps those rank is responsible for.
// Every rank generates the same sequence, so the assignment is
// reproducible regardless of rank count or call order.
func Generate(opts Options, bm *bounds.BoundsMap, rank int) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if !bm.Built() {
		return Result{}, bounds.ErrNotBuilt
	}

	var res Result
	keep := func(id int64, pos r3.Vec) {
		res.Generated++
		ids := bm.Find(pos)
		p := particle.Particle{ID: id, Pos: pos, BlockIDs: ids}
		if len(ids) == 0 {
			if rank == 0 {
				p.Status = particle.ExitedDomain
				res.Terminated = append(res.Terminated, p)
			}
			return
		}
		if owner, ok := bm.OwningRank(ids[0]); ok && owner == rank {
			res.Active = append(res.Active, p)
		}
	}

	switch opts.Method {
	case Random:
		sampleBox(opts.Count, opts.RandSeed, bm.Global(), 0, keep)
	case RandomBox:
		sampleBox(opts.Count, opts.RandSeed, opts.Box, 0, keep)
	case RandomBlock:
		// Every block is sampled on every rank: a seed in an overlap
		// belongs to the lowest containing block, which may live elsewhere.
		for _, rec := range bm.Blocks() {
			box := shrink(rec.Box, blockShrink)
			sampleBox(opts.Count, blockSeed(opts.RandSeed, rec.ID), box, int64(rec.ID)*int64(opts.Count), keep)
		}
	case Point:
		keep(0, opts.Point)
	}
	return res, nil
}

// sampleBox draws n uniform points in box with ids firstID, firstID+1, ...
func sampleBox(n int, seed int64, box r3.Box, firstID int64, keep func(int64, r3.Vec)) {
	rng := rand.New(rand.NewSource(seed))
	size := r3.Sub(box.Max, box.Min)
	for i := 0; i < n; i++ {
		p := r3.Vec{
			X: box.Min.X + rng.Float64()*size.X,
			Y: box.Min.Y + rng.Float64()*size.Y,
			Z: box.Min.Z + rng.Float64()*size.Z,
		}
		keep(firstID+int64(i), p)
	}
}

// blockSeed derives a per-block stream from the run seed.
func blockSeed(seed int64, block int) int64 {
	// splitmix64 finalizer
	z := uint64(seed) + uint64(block+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

func shrink(b r3.Box, frac float64) r3.Box {
	d := r3.Scale(frac, r3.Sub(b.Max, b.Min))
	return r3.Box{Min: r3.Add(b.Min, d), Max: r3.Sub(b.Max, d)}
}

// Total sums the per-rank seed counts into the global termination target.
func Total(ctx context.Context, c comm.Comm, local int) (int64, error) {
	sums, err := c.AllReduceSum(ctx, []int64{int64(local)})
	if err != nil {
		return 0, fmt.Errorf("reducing seed count: %w", err)
	}
	return sums[0], nil
}
