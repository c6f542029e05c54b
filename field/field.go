// Package field provides the vector fields particles are advected through
// and the blocks that partition them.
package field

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/bounds"
)

// ErrDegenerate is returned when a field produces a non-finite velocity.
var ErrDegenerate = errors.New("field: non-finite velocity")

// Field evaluates velocity at a point.
// Implementations must be safe for concurrent readers.
type Field interface {
	Velocity(p r3.Vec) (r3.Vec, error)
}

// Func adapts a function to Field.
type Func func(p r3.Vec) (r3.Vec, error)

func (f Func) Velocity(p r3.Vec) (r3.Vec, error) { return f(p) }

// Uniform is a constant velocity everywhere.
type Uniform struct {
	V r3.Vec
}

func (u Uniform) Velocity(r3.Vec) (r3.Vec, error) { return u.V, nil }

// Rotation spins about an axis parallel to Z through Center with angular
// speed Omega (radians per unit time, counter-clockwise).
type Rotation struct {
	Center r3.Vec
	Omega  float64
}

func (r Rotation) Velocity(p r3.Vec) (r3.Vec, error) {
	d := r3.Sub(p, r.Center)
	return r3.Vec{X: -r.Omega * d.Y, Y: r.Omega * d.X}, nil
}

// Zero is a field at rest.
type Zero struct{}

func (Zero) Velocity(r3.Vec) (r3.Vec, error) { return r3.Vec{}, nil }

// Spec selects and parameterizes a built-in field.
type Spec struct {
	Kind   string // uniform, rotation or zero
	Vector r3.Vec
	Center r3.Vec
	Omega  float64
}

// New builds the field described by spec.
func New(spec Spec) (Field, error) {
	switch spec.Kind {
	case "uniform":
		return Uniform{V: spec.Vector}, nil
	case "rotation":
		return Rotation{Center: spec.Center, Omega: spec.Omega}, nil
	case "zero":
		return Zero{}, nil
	default:
		return nil, fmt.Errorf("field: unknown kind %q", spec.Kind)
	}
}

// Block is one sub-domain held by a rank: its extent and the field
// sampled inside it.
type Block struct {
	ID     int
	Bounds r3.Box
	Field  Field
}

// Contains reports whether p lies in the block's closed box.
func (b *Block) Contains(p r3.Vec) bool { return bounds.Contains(b.Bounds, p) }

// Velocity evaluates the block's field at p.
func (b *Block) Velocity(p r3.Vec) (r3.Vec, error) {
	v, err := b.Field.Velocity(p)
	if err != nil {
		return r3.Vec{}, fmt.Errorf("block %d at %v: %w", b.ID, p, err)
	}
	if !finite(v) {
		return r3.Vec{}, fmt.Errorf("block %d at %v: %w", b.ID, p, ErrDegenerate)
	}
	return v, nil
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
