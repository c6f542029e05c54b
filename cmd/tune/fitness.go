package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pthm-cable/advect/advect"
	"github.com/pthm-cable/advect/config"
	"github.com/pthm-cable/advect/telemetry"
)

// failurePenalty is the fitness of a parameter set whose run errored.
const failurePenalty = 1e6

// FitnessEvaluator runs local advection jobs and scores their wall time.
type FitnessEvaluator struct {
	params     *ParamVector
	seeds      []int64
	baseConfig *config.Config
	logger     *slog.Logger

	mu        sync.Mutex
	bestFit   float64
	bestStats []telemetry.Summary
	lastNaps  int64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		seeds:      seeds,
		baseConfig: baseCfg,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		bestFit:    math.Inf(1),
	}
}

// BestSummaries returns the cross-rank statistics of the best evaluation.
func (fe *FitnessEvaluator) BestSummaries() []telemetry.Summary {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestStats
}

// LastNaps returns the idle naps of the most recent evaluation.
func (fe *FitnessEvaluator) LastNaps() int64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastNaps
}

// Evaluate computes fitness for a parameter vector (lower = better):
// the mean wall time in seconds over all seeds.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	var total float64
	var naps int64
	var snaps []telemetry.Snapshot
	for _, s := range fe.seeds {
		cfg := fe.copyConfig()
		fe.params.ApplyToConfig(cfg, x)
		cfg.Seeds.RandSeed = s

		start := time.Now()
		res, err := fe.runOnce(cfg)
		if err != nil {
			fe.logger.Warn("evaluation failed", "error", err)
			return failurePenalty
		}
		total += time.Since(start).Seconds()
		naps += res.Counter(telemetry.CounterNaps) + res.Counter(telemetry.CounterWorkerNaps)
		snaps = append(snaps, res.Snapshots()...)
	}
	fitness := total / float64(len(fe.seeds))

	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.lastNaps = naps
	if fitness < fe.bestFit {
		fe.bestFit = fitness
		fe.bestStats = telemetry.Summarize(snaps)
	}
	return fitness
}

func (fe *FitnessEvaluator) runOnce(cfg *config.Config) (*advect.ClusterResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prob, err := advect.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return advect.RunLocal(context.Background(), prob, fe.logger)
}

// copyConfig returns a shallow copy of the base config. Config holds no
// reference fields, so the copy is independent.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}
