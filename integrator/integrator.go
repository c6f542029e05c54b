// Package integrator advances particles through a single block and sorts
// them by outcome.
package integrator

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/field"
	"github.com/pthm-cable/advect/particle"
)

// Scheme is the stepping method.
type Scheme int

const (
	RK4 Scheme = iota
	Euler
)

// ParseScheme maps a config name to a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "rk4", "":
		return RK4, nil
	case "euler":
		return Euler, nil
	default:
		return 0, fmt.Errorf("integrator: unknown scheme %q", s)
	}
}

// Partition is the outcome of integrating one batch. Every input particle
// lands in exactly one of the three lists.
type Partition struct {
	Escaped    []particle.Particle
	Terminated []particle.Particle
	Active     []particle.Particle
	Steps      int
}

// Merge appends other's lists and steps to p.
func (p *Partition) Merge(other Partition) {
	p.Escaped = append(p.Escaped, other.Escaped...)
	p.Terminated = append(p.Terminated, other.Terminated...)
	p.Active = append(p.Active, other.Active...)
	p.Steps += other.Steps
}

// Len returns the number of particles in the partition.
func (p *Partition) Len() int {
	return len(p.Escaped) + len(p.Terminated) + len(p.Active)
}

// Integrator integrates a batch of particles assigned to blk.
type Integrator interface {
	Integrate(blk *field.Block, ps []particle.Particle, maxSteps int) Partition
}

// StopFunc is a user termination condition checked after every step.
type StopFunc func(p *particle.Particle) bool

// Adapter is the stepping Integrator. It holds no per-call state and is
// safe for concurrent use.
type Adapter struct {
	Bounds   *bounds.BoundsMap
	StepSize float64
	Scheme   Scheme

	// StepsPerBatch caps steps per particle per call; 0 runs each particle
	// until it leaves the block or terminates.
	StepsPerBatch int

	// MinSpeed stops particles whose step speed falls below it; 0 disables.
	MinSpeed float64

	Stop      StopFunc
	KeepTrace bool
}

// Integrate advances ps inside blk. The partition holds copies; ps is not
// retained.
func (a *Adapter) Integrate(blk *field.Block, ps []particle.Particle, maxSteps int) Partition {
	var out Partition
	for i := range ps {
		p := ps[i]
		out.Steps += a.advance(blk, &p, maxSteps)
		switch {
		case p.Status.Terminal():
			out.Terminated = append(out.Terminated, p)
		case p.Status == particle.Escaped:
			out.Escaped = append(out.Escaped, p)
		default:
			out.Active = append(out.Active, p)
		}
	}
	return out
}

// advance steps one particle and returns the number of steps taken.
func (a *Adapter) advance(blk *field.Block, p *particle.Particle, maxSteps int) int {
	p.Status = particle.Active
	if !blk.Contains(p.Pos) {
		// Misrouted: hand it to whichever block holds it now.
		a.reroute(p)
		return 0
	}
	if a.KeepTrace && len(p.Trace) == 0 {
		p.Trace = append(p.Trace, p.Pos)
	}

	steps := 0
	for {
		if p.Steps >= maxSteps {
			p.Status = particle.MaxSteps
			return steps
		}
		if a.StepsPerBatch > 0 && steps >= a.StepsPerBatch {
			return steps
		}

		next, err := a.step(blk, p.Pos)
		if err != nil {
			p.Status = particle.FieldFailure
			return steps
		}

		dist := r3.Norm(r3.Sub(next, p.Pos))
		p.Pos = next
		p.Steps++
		p.Time += a.StepSize
		p.ArcLength += dist
		if a.KeepTrace {
			p.Trace = append(p.Trace, next)
		}
		steps++

		if !blk.Contains(next) {
			a.reroute(p)
			return steps
		}
		if a.Stop != nil && a.Stop(p) {
			p.Status = particle.Stagnated
			return steps
		}
		if a.MinSpeed > 0 && dist/a.StepSize < a.MinSpeed {
			p.Status = particle.Stagnated
			return steps
		}
	}
}

// reroute sets the particle's candidates from its position: escaped when
// another block holds it, exited when none does.
func (a *Adapter) reroute(p *particle.Particle) {
	ids := a.Bounds.Find(p.Pos)
	if len(ids) == 0 {
		p.Status = particle.ExitedDomain
		return
	}
	p.BlockIDs = ids
	p.Status = particle.Escaped
}

func (a *Adapter) step(blk *field.Block, x r3.Vec) (r3.Vec, error) {
	h := a.StepSize
	k1, err := blk.Velocity(x)
	if err != nil {
		return r3.Vec{}, err
	}
	if a.Scheme == Euler {
		return r3.Add(x, r3.Scale(h, k1)), nil
	}
	k2, err := blk.Velocity(r3.Add(x, r3.Scale(h/2, k1)))
	if err != nil {
		return r3.Vec{}, err
	}
	k3, err := blk.Velocity(r3.Add(x, r3.Scale(h/2, k2)))
	if err != nil {
		return r3.Vec{}, err
	}
	k4, err := blk.Velocity(r3.Add(x, r3.Scale(h, k3)))
	if err != nil {
		return r3.Vec{}, err
	}
	sum := r3.Add(r3.Add(k1, r3.Scale(2, k2)), r3.Add(r3.Scale(2, k3), k4))
	return r3.Add(x, r3.Scale(h/6, sum)), nil
}
