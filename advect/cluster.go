package advect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/advect/comm"
	"github.com/pthm-cable/advect/field"
	"github.com/pthm-cable/advect/telemetry"
)

// ClusterResult collects every rank's result of one local run.
type ClusterResult struct {
	RunID      string
	TotalSeeds int64
	Ranks      []Result
}

// Terminated returns the number of particles held across all ranks.
func (c *ClusterResult) Terminated() int {
	n := 0
	for i := range c.Ranks {
		n += c.Ranks[i].Output.Len()
	}
	return n
}

// Snapshots returns the per-rank statistics in rank order.
func (c *ClusterResult) Snapshots() []telemetry.Snapshot {
	snaps := make([]telemetry.Snapshot, len(c.Ranks))
	for i, r := range c.Ranks {
		snaps[i] = r.Stats
	}
	return snaps
}

// Counter sums a counter across ranks.
func (c *ClusterResult) Counter(name string) int64 {
	var n int64
	for _, r := range c.Ranks {
		n += r.Stats.Counters[name]
	}
	return n
}

// RunLocal runs prob with one goroutine per rank connected by an
// in-process World. The first rank error cancels the others and is
// returned.
func RunLocal(ctx context.Context, prob *Problem, logger *slog.Logger) (*ClusterResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	logger = logger.With("run", runID)

	world := comm.NewWorld(prob.Ranks)
	defer world.Close()

	logger.Info("starting run",
		"ranks", prob.Ranks,
		"blocks", prob.Bounds.NumBlocks(),
		"strategy", prob.Options.Strategy.String(),
		"mode", prob.Options.Mode.String(),
		"seeds", prob.Seeds.Method,
	)

	results := make([]Result, prob.Ranks)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < prob.Ranks; rank++ {
		g.Go(func() error {
			blocks := field.LocalBlocks(prob.Pieces, rank, prob.Field)
			rc := NewRunContext(world.Comm(rank), prob.Bounds, blocks, logger)
			res, err := NewEngine(rc, prob.Options).Run(gctx, prob.Seeds)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			results[rank] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cr := &ClusterResult{RunID: runID, Ranks: results}
	if len(results) > 0 {
		cr.TotalSeeds = results[0].TotalSeeds
	}
	if n := cr.Terminated(); int64(n) != cr.TotalSeeds {
		return nil, fmt.Errorf("advect: %d particles terminated, want %d", n, cr.TotalSeeds)
	}
	logger.Info("run complete", "total_seeds", cr.TotalSeeds)
	return cr, nil
}
