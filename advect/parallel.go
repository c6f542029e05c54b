package advect

import (
	"context"
	"runtime"
	"sync"

	"github.com/pthm-cable/advect/field"
	"github.com/pthm-cable/advect/integrator"
	"github.com/pthm-cable/advect/particle"
	"github.com/pthm-cable/advect/telemetry"
)

// parallelThreshold is the minimum batch size to split across workers.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 64

// workChunk is a slice of one batch for a single worker.
type workChunk struct {
	index int
	blk   *field.Block
	ps    []particle.Particle
}

// parallelScheduler integrates each batch with a persistent worker pool.
// Coordination stays on the engine goroutine.
type parallelScheduler struct {
	e          *Engine
	numWorkers int
	parts      []integrator.Partition

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newParallelScheduler(e *Engine) *parallelScheduler {
	n := e.opts.Workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &parallelScheduler{e: e, numWorkers: n}
}

// start launches persistent worker goroutines.
func (p *parallelScheduler) start(context.Context) {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.parts = make([]integrator.Partition, p.numWorkers)
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop signals all workers to exit and waits for them.
func (p *parallelScheduler) stop() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *parallelScheduler) wake() <-chan struct{} { return nil }

// worker runs in a goroutine, processing chunks until stopped.
func (p *parallelScheduler) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			stop := p.e.rc.Stats.Time(telemetry.TimerAdvect)
			p.parts[chunk.index] = p.e.integ.Integrate(chunk.blk, chunk.ps, p.e.opts.MaxSteps)
			stop()
			p.doneChan <- struct{}{}
		}
	}
}

func (p *parallelScheduler) advance(context.Context) bool {
	q := p.e.ledger.Active
	block, batch, ok := q.TakeBatch(p.e.opts.BatchSize)
	if !ok {
		return false
	}
	defer q.Release(block)

	blk, held := p.e.rc.Blocks[block]
	if !held || len(batch) < parallelThreshold {
		// Small batches run single-threaded
		p.e.merge(p.e.integrate(block, batch))
		return true
	}

	n := len(batch)
	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- workChunk{index: chunksDispatched, blk: blk, ps: batch[start:end]}
		chunksDispatched++
	}

	// Wait for all chunks to complete
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}

	// Merge in chunk order so results do not depend on worker timing
	var all integrator.Partition
	for i := 0; i < chunksDispatched; i++ {
		all.Merge(p.parts[i])
		p.parts[i] = integrator.Partition{}
	}
	p.e.merge(all)
	return true
}
