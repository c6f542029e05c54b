package advect

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/advect/integrator"
	"github.com/pthm-cable/advect/telemetry"
)

// managerScheduler runs workers that pull same-block batches from the
// shared active pool. The engine goroutine acts as manager: it merges
// worker output, exchanges and decides termination.
type managerScheduler struct {
	e          *Engine
	numWorkers int

	results chan integrator.Partition
	ready   chan struct{}
	stopCh  chan struct{}
	done    atomic.Bool
	group   *errgroup.Group
}

func newManagerScheduler(e *Engine) *managerScheduler {
	n := e.opts.Workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &managerScheduler{
		e:          e,
		numWorkers: n,
		results:    make(chan integrator.Partition, n),
		ready:      make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

func (m *managerScheduler) start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	m.group = g
	for i := 0; i < m.numWorkers; i++ {
		g.Go(func() error {
			m.worker(gctx)
			return nil
		})
	}
}

// stop sets the done flag, wakes napping workers and joins them.
func (m *managerScheduler) stop() {
	if m.done.Swap(true) {
		return
	}
	close(m.stopCh)
	if m.group != nil {
		m.group.Wait()
	}
}

func (m *managerScheduler) wake() <-chan struct{} { return m.ready }

// advance merges every partition the workers have finished.
func (m *managerScheduler) advance(context.Context) bool {
	merged := false
	for {
		select {
		case part := <-m.results:
			m.e.merge(part)
			merged = true
		default:
			return merged
		}
	}
}

func (m *managerScheduler) worker(ctx context.Context) {
	q := m.e.ledger.Active
	for !m.done.Load() && ctx.Err() == nil {
		block, batch, ok := q.TakeBatch(m.e.opts.BatchSize)
		if !ok {
			m.nap(ctx)
			continue
		}

		part := m.e.integrate(block, batch)
		select {
		case m.results <- part:
		case <-m.stopCh:
			q.Release(block)
			return
		case <-ctx.Done():
			q.Release(block)
			return
		}
		q.Release(block)

		select {
		case m.ready <- struct{}{}:
		default:
		}
	}
}

// nap waits for queued work, shutdown or the sleep interval.
func (m *managerScheduler) nap(ctx context.Context) {
	stats := m.e.rc.Stats
	defer stats.Time(telemetry.TimerWorkerSleep)()
	stats.Count(telemetry.CounterWorkerNaps, 1)

	timer := time.NewTimer(m.e.opts.SleepInterval)
	defer timer.Stop()
	select {
	case <-m.e.ledger.Active.Signal():
	case <-m.stopCh:
	case <-ctx.Done():
	case <-timer.C:
	}
}
