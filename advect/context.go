// Package advect drives the per-rank advection loop: integrate local
// blocks, hand escaped particles to their owners and stop once every seed
// has terminated somewhere.
package advect

import (
	"log/slog"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/comm"
	"github.com/pthm-cable/advect/field"
	"github.com/pthm-cable/advect/telemetry"
)

// RunContext carries everything one rank needs for a run. Nothing in the
// engine reaches for package-level state.
type RunContext struct {
	Rank   int
	Comm   comm.Comm
	Bounds *bounds.BoundsMap
	Blocks map[int]*field.Block // blocks owned by Rank
	Stats  *telemetry.Stats
	Rounds *telemetry.RoundCollector
	Logger *slog.Logger
}

// NewRunContext builds a context for c's rank with fresh statistics.
// A nil logger uses slog.Default.
func NewRunContext(c comm.Comm, bm *bounds.BoundsMap, blocks map[int]*field.Block, logger *slog.Logger) *RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunContext{
		Rank:   c.Rank(),
		Comm:   c,
		Bounds: bm,
		Blocks: blocks,
		Stats:  telemetry.NewStats(),
		Rounds: telemetry.NewRoundCollector(100),
		Logger: logger.With("rank", c.Rank()),
	}
}
