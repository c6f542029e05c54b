// Package particle defines the advected particle, its lifecycle status and
// the per-rank ledger containers that hold particles between stages.
package particle

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Status is a particle's lifecycle state.
type Status uint8

const (
	Active  Status = iota // ready to integrate in its current block
	Escaped               // left its block, awaiting transfer

	// Terminal statuses. A particle never leaves a terminal status.
	ExitedDomain // left every block
	MaxSteps     // exhausted the step budget
	Stagnated    // met a stop condition
	FieldFailure // field evaluation failed
	Unowned      // leading block id resolves to no rank
)

var statusNames = [...]string{
	Active:       "active",
	Escaped:      "escaped",
	ExitedDomain: "exited_domain",
	MaxSteps:     "max_steps",
	Stagnated:    "stagnated",
	FieldFailure: "field_failure",
	Unowned:      "unowned",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Terminal reports whether s is a permanent exit status.
func (s Status) Terminal() bool { return s >= ExitedDomain && int(s) < len(statusNames) }

// Particle is a point advected through the field.
type Particle struct {
	ID        int64
	Pos       r3.Vec
	Steps     int
	Time      float64
	ArcLength float64
	Status    Status

	// BlockIDs lists the blocks containing Pos, ascending.
	// The first entry is the block the particle is assigned to.
	BlockIDs []int

	// Trace holds every visited position when streamlines are kept.
	Trace []r3.Vec
}

// Block returns the block the particle is assigned to, or -1.
func (p *Particle) Block() int {
	if len(p.BlockIDs) == 0 {
		return -1
	}
	return p.BlockIDs[0]
}

// CountByStatus tallies particles per status.
func CountByStatus(ps []Particle) map[Status]int {
	out := make(map[Status]int)
	for i := range ps {
		out[ps[i].Status]++
	}
	return out
}
