package advect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pthm-cable/advect/comm"
	"github.com/pthm-cable/advect/integrator"
	"github.com/pthm-cable/advect/particle"
	"github.com/pthm-cable/advect/seed"
	"github.com/pthm-cable/advect/telemetry"
)

// ErrStalled is returned when the liveness guard aborts a run.
var ErrStalled = errors.New("advect: run aborted by liveness guard")

// Result is one rank's share of a finished run.
type Result struct {
	Rank       int
	Output     Output
	Stats      telemetry.Snapshot
	Rounds     telemetry.RoundStats
	TotalSeeds int64
}

// scheduler produces integration results for the engine loop.
type scheduler interface {
	start(ctx context.Context)
	// advance performs or collects integration work and merges it into the
	// ledger. It reports whether anything was merged.
	advance(ctx context.Context) bool
	// wake fires when background work has results ready. Nil for
	// schedulers without background work.
	wake() <-chan struct{}
	stop()
}

// Engine runs the advection loop for one rank.
type Engine struct {
	rc     *RunContext
	opts   Options
	integ  integrator.Integrator
	ledger *particle.Ledger
	msgr   *comm.Messenger

	totalSeeds int64
	// delta counts particles terminated locally since the last exchange.
	delta int64
}

// NewEngine wires an engine for rc's rank.
func NewEngine(rc *RunContext, opts Options) *Engine {
	if opts.RoundWindow > 0 {
		rc.Rounds = telemetry.NewRoundCollector(opts.RoundWindow)
	}
	return &Engine{
		rc:   rc,
		opts: opts,
		integ: &integrator.Adapter{
			Bounds:        rc.Bounds,
			StepSize:      opts.StepSize,
			Scheme:        opts.Scheme,
			StepsPerBatch: opts.StepsPerBatch,
			MinSpeed:      opts.MinSpeed,
			Stop:          opts.Stop,
			KeepTrace:     opts.Traces,
		},
		ledger: particle.NewLedger(),
		msgr: comm.NewMessenger(rc.Comm, rc.Bounds, comm.Options{
			Mode:     opts.Mode,
			Compress: opts.Compress,
			Stats:    rc.Stats,
			Logger:   rc.Logger,
		}),
	}
}

// Run seeds, advects until every seed in the run has terminated and
// returns this rank's terminated particles. Every rank of the run must call
// Run with the same seeds.
func (e *Engine) Run(ctx context.Context, seeds seed.Options) (Result, error) {
	defer e.rc.Stats.Time(telemetry.TimerTotal)()
	start := time.Now()

	if err := e.seed(ctx, seeds); err != nil {
		return Result{}, err
	}

	sched := e.newScheduler()
	sched.start(ctx)
	err := e.loop(ctx, sched, start)
	sched.stop()
	if err != nil {
		return Result{}, err
	}

	switch {
	case e.opts.ShutdownTimeout > 0:
		wctx, cancel := context.WithTimeout(ctx, e.opts.ShutdownTimeout)
		defer cancel()
		if err := e.msgr.WaitPending(wctx); err != nil {
			return Result{}, err
		}
	case e.opts.Mode == comm.Gossip:
		// The last terminated count broadcast is still in flight here.
		// Every peer needs it to reach the target, so waiting completes.
		if err := e.msgr.WaitPending(ctx); err != nil {
			return Result{}, err
		}
	default:
		if n := e.msgr.CheckPendingSends(); n > 0 {
			return Result{}, fmt.Errorf("%w: %d outstanding", comm.ErrOrphanedSends, n)
		}
	}

	out := e.output()
	rounds := e.rc.Rounds.Stats()
	byStatus := make(map[string]int)
	for s, n := range particle.CountByStatus(out.Particles) {
		byStatus[s.String()] = n
	}
	e.rc.Logger.Info("rank finished",
		"terminated", out.Len(),
		"by_status", byStatus,
		"global_terminated", e.msgr.Total(),
		"total_seeds", e.totalSeeds,
		"elapsed", time.Since(start),
		"rounds", rounds,
	)
	return Result{
		Rank:       e.rc.Rank,
		Output:     out,
		Stats:      e.rc.Stats.Snapshot(e.rc.Rank),
		Rounds:     rounds,
		TotalSeeds: e.totalSeeds,
	}, nil
}

// seed generates this rank's seeds and agrees on the global target.
func (e *Engine) seed(ctx context.Context, opts seed.Options) error {
	res, err := seed.Generate(opts, e.rc.Bounds, e.rc.Rank)
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	e.ledger.Active.Push(res.Active...)
	e.ledger.Terminated.Append(res.Terminated...)
	e.delta += int64(len(res.Terminated))
	e.rc.Stats.Count(telemetry.CounterMyParticles, int64(res.Len()))

	total, err := seed.Total(ctx, e.rc.Comm, res.Len())
	if err != nil {
		return err
	}
	e.totalSeeds = total
	e.rc.Logger.Debug("seeded",
		"method", opts.Method,
		"generated", res.Generated,
		"active", len(res.Active),
		"terminated", len(res.Terminated),
		"total_seeds", total,
	)
	return nil
}

func (e *Engine) loop(ctx context.Context, sched scheduler, start time.Time) error {
	rounds := e.rc.Rounds
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rounds.StartRound()

		rounds.StartPhase(telemetry.PhaseAdvect)
		worked := sched.advance(ctx)

		rounds.StartPhase(telemetry.PhaseExchange)
		abort := e.stalled(round, start)
		delta := e.delta
		e.delta = 0
		r, err := e.msgr.Exchange(ctx, e.ledger.Inactive.Take(), delta, abort)
		if err != nil {
			return err
		}
		e.rc.Stats.Count(telemetry.CounterRounds, 1)

		rounds.StartPhase(telemetry.PhaseMerge)
		e.ledger.Active.Push(r.Incoming...)
		e.ledger.Terminated.Append(r.Unowned...)
		e.rc.Stats.Count(telemetry.CounterTerminated, int64(len(r.Unowned)))

		if e.opts.LogEvery > 0 && round%e.opts.LogEvery == 0 {
			e.rc.Logger.Debug("round",
				"round", round,
				"global_terminated", r.Total,
				"total_seeds", e.totalSeeds,
				"active", e.ledger.Active.Len(),
				"incoming", len(r.Incoming),
			)
		}

		if r.Abort {
			rounds.EndRound()
			return fmt.Errorf("%w after %d rounds (%d of %d terminated)", ErrStalled, round, r.Total, e.totalSeeds)
		}
		if r.Total >= e.totalSeeds {
			rounds.EndRound()
			return nil
		}
		if !worked && len(r.Incoming) == 0 {
			rounds.StartPhase(telemetry.PhaseIdle)
			e.nap(ctx, sched.wake())
		}
		rounds.EndRound()
	}
}

// stalled reports whether the liveness guard should abort the run.
func (e *Engine) stalled(round int, start time.Time) bool {
	if e.opts.MaxRounds > 0 && round >= e.opts.MaxRounds {
		return true
	}
	return e.opts.MaxWallTime > 0 && time.Since(start) > e.opts.MaxWallTime
}

// nap waits for inbound messages, background results or the sleep
// interval, whichever comes first.
func (e *Engine) nap(ctx context.Context, wake <-chan struct{}) {
	defer e.rc.Stats.Time(telemetry.TimerSleep)()
	e.rc.Stats.Count(telemetry.CounterNaps, 1)

	timer := time.NewTimer(e.opts.SleepInterval)
	defer timer.Stop()
	select {
	case <-e.rc.Comm.Notify():
	case <-wake:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// integrate advances one same-block batch.
func (e *Engine) integrate(block int, batch []particle.Particle) integrator.Partition {
	blk, ok := e.rc.Blocks[block]
	if !ok {
		e.rc.Logger.Warn("batch for block not held by this rank", "block", block, "particles", len(batch))
		part := integrator.Partition{Terminated: make([]particle.Particle, len(batch))}
		for i, p := range batch {
			p.Status = particle.Unowned
			part.Terminated[i] = p
		}
		return part
	}
	defer e.rc.Stats.Time(telemetry.TimerAdvect)()
	return e.integ.Integrate(blk, batch, e.opts.MaxSteps)
}

// merge files a partition into the ledger. Only the engine goroutine
// calls it.
func (e *Engine) merge(part integrator.Partition) {
	e.ledger.Terminated.Append(part.Terminated...)
	e.ledger.Inactive.Append(part.Escaped...)
	e.ledger.Active.Push(part.Active...)
	e.delta += int64(len(part.Terminated))
	e.rc.Stats.Count(telemetry.CounterTerminated, int64(len(part.Terminated)))
	e.rc.Stats.Count(telemetry.CounterAdvectSteps, int64(part.Steps))
}

// output compacts the terminated particles held by this rank.
func (e *Engine) output() Output {
	kind := Terminal
	if e.opts.Traces {
		kind = Streamline
	}
	return Compact(kind, e.rc.Rank, e.ledger.Terminated.Take())
}

func (e *Engine) newScheduler() scheduler {
	switch e.opts.Strategy {
	case Parallel:
		return newParallelScheduler(e)
	case ManagerWorker:
		return newManagerScheduler(e)
	default:
		return &serialScheduler{e: e}
	}
}

// serialScheduler integrates one batch per round on the engine goroutine.
type serialScheduler struct {
	e *Engine
}

func (s *serialScheduler) start(context.Context) {}
func (s *serialScheduler) stop()                 {}
func (s *serialScheduler) wake() <-chan struct{} { return nil }

func (s *serialScheduler) advance(context.Context) bool {
	q := s.e.ledger.Active
	block, batch, ok := q.TakeBatch(s.e.opts.BatchSize)
	if !ok {
		return false
	}
	part := s.e.integrate(block, batch)
	q.Release(block)
	s.e.merge(part)
	return true
}
