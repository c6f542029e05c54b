package advect

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/comm"
	"github.com/pthm-cable/advect/config"
	"github.com/pthm-cable/advect/field"
	"github.com/pthm-cable/advect/integrator"
	"github.com/pthm-cable/advect/seed"
)

// Strategy selects how a rank schedules integration work.
type Strategy int

const (
	// Serial integrates one block batch per round on the engine goroutine.
	Serial Strategy = iota
	// Parallel splits each batch over a persistent worker pool.
	Parallel
	// ManagerWorker runs workers that pull batches from the shared active
	// pool while the engine goroutine only exchanges and merges.
	ManagerWorker
)

// ParseStrategy maps a config name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "serial", "":
		return Serial, nil
	case "parallel":
		return Parallel, nil
	case "manager_worker":
		return ManagerWorker, nil
	default:
		return 0, fmt.Errorf("advect: unknown strategy %q", s)
	}
}

func (s Strategy) String() string {
	switch s {
	case Parallel:
		return "parallel"
	case ManagerWorker:
		return "manager_worker"
	default:
		return "serial"
	}
}

// Options configures one rank's engine. Every rank of a run must use the
// same values.
type Options struct {
	Strategy      Strategy
	Workers       int
	BatchSize     int // particles per batch, 0 = whole block
	SleepInterval time.Duration

	StepSize      float64
	MaxSteps      int
	Scheme        integrator.Scheme
	StepsPerBatch int
	MinSpeed      float64
	Stop          integrator.StopFunc
	Traces        bool

	Mode     comm.Mode
	Compress bool

	MaxRounds       int
	MaxWallTime     time.Duration
	ShutdownTimeout time.Duration

	RoundWindow int
	LogEvery    int
}

// DefaultOptions returns options matching the embedded config defaults.
func DefaultOptions() Options {
	return Options{
		Strategy:        Serial,
		Workers:         4,
		SleepInterval:   100 * time.Microsecond,
		StepSize:        0.01,
		MaxSteps:        1000,
		Scheme:          integrator.RK4,
		Mode:            comm.Collective,
		MaxWallTime:     10 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
		RoundWindow:     100,
	}
}

// Problem is a complete run description shared by all ranks.
type Problem struct {
	Ranks   int
	Pieces  []field.Piece
	Bounds  *bounds.BoundsMap
	Field   field.Field
	Seeds   seed.Options
	Options Options
}

// NewProblem builds the decomposition, bounds map and field for ranks
// ranks. The bounds map is built and read-only on return.
func NewProblem(ranks int, pieces []field.Piece, f field.Field, seeds seed.Options, opts Options) (*Problem, error) {
	if opts.Strategy == ManagerWorker && opts.Workers <= 0 {
		return nil, fmt.Errorf("%w: manager_worker needs a positive worker count, got %d", config.ErrConfig, opts.Workers)
	}
	for _, p := range pieces {
		if p.Rank < 0 || p.Rank >= ranks {
			return nil, fmt.Errorf("advect: block %d assigned to rank %d of %d", p.ID, p.Rank, ranks)
		}
	}
	bm, err := field.BuildBounds(pieces)
	if err != nil {
		return nil, fmt.Errorf("building bounds map: %w", err)
	}
	if err := seeds.Validate(); err != nil {
		return nil, err
	}
	return &Problem{
		Ranks:   ranks,
		Pieces:  pieces,
		Bounds:  bm,
		Field:   f,
		Seeds:   seeds,
		Options: opts,
	}, nil
}

// FromConfig translates a validated configuration into a Problem.
func FromConfig(cfg *config.Config) (*Problem, error) {
	strategy, err := ParseStrategy(cfg.Schedule.Strategy)
	if err != nil {
		return nil, err
	}
	scheme, err := integrator.ParseScheme(cfg.Integration.Scheme)
	if err != nil {
		return nil, err
	}
	mode, err := comm.ParseMode(cfg.Termination.Mode)
	if err != nil {
		return nil, err
	}

	var pieces []field.Piece
	if cfg.Domain.File != "" {
		pieces, err = field.ReadDecomposition(cfg.Domain.File, cfg.Domain.Ranks)
	} else {
		b := cfg.Domain.Blocks
		pieces, err = field.Grid(cfg.Derived.GlobalBox, b[0], b[1], b[2], cfg.Domain.Ranks, cfg.Domain.Assignment)
	}
	if err != nil {
		return nil, fmt.Errorf("decomposing domain: %w", err)
	}

	f, err := field.New(field.Spec{
		Kind:   cfg.Field.Kind,
		Vector: cfg.Field.Vector.Vec(),
		Center: cfg.Field.Center.Vec(),
		Omega:  cfg.Field.Omega,
	})
	if err != nil {
		return nil, err
	}

	seeds := seed.Options{
		Method:   seed.Method(cfg.Seeds.Method),
		Count:    cfg.Seeds.Count,
		RandSeed: cfg.Seeds.RandSeed,
		Box:      cfg.Derived.SeedBox,
		Point:    cfg.Derived.SeedPoint,
	}

	opts := Options{
		Strategy:        strategy,
		Workers:         cfg.Schedule.Workers,
		BatchSize:       cfg.Schedule.BatchSize,
		SleepInterval:   cfg.Schedule.SleepInterval,
		StepSize:        cfg.Integration.StepSize,
		MaxSteps:        cfg.Integration.MaxSteps,
		Scheme:          scheme,
		StepsPerBatch:   cfg.Integration.StepsPerBatch,
		MinSpeed:        cfg.Integration.MinSpeed,
		Traces:          cfg.Output.Traces,
		Mode:            mode,
		Compress:        cfg.Exchange.Compress,
		MaxRounds:       cfg.Termination.MaxRounds,
		MaxWallTime:     cfg.Termination.MaxWallTime,
		ShutdownTimeout: cfg.Termination.ShutdownTimeout,
		RoundWindow:     cfg.Telemetry.RoundWindow,
		LogEvery:        cfg.Telemetry.LogEvery,
	}
	return NewProblem(cfg.Domain.Ranks, pieces, f, seeds, opts)
}

// Global returns the union of all blocks.
func (p *Problem) Global() r3.Box { return p.Bounds.Global() }
