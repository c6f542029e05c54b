package particle

import "sync"

// Queue is the shared pool of active particles.
// Batches are taken per block, and a block is claimed by one taker at a
// time until Release.
type Queue struct {
	mu     sync.Mutex
	items  []Particle
	busy   map[int]bool
	signal chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		busy:   make(map[int]bool),
		signal: make(chan struct{}, 1),
	}
}

// Push appends particles and wakes one waiter.
func (q *Queue) Push(ps ...Particle) {
	if len(ps) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, ps...)
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Signal fires after Push or Release. It is level-collapsed: one pending
// signal covers any number of pushes.
func (q *Queue) Signal() <-chan struct{} { return q.signal }

// Len returns the number of queued particles.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Busy returns the number of claimed blocks.
func (q *Queue) Busy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.busy)
}

// TakeBatch removes up to limit particles sharing the block of the first
// unclaimed particle and claims that block. limit <= 0 takes them all.
// ok is false when nothing is available.
func (q *Queue) TakeBatch(limit int) (block int, batch []Particle, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lead := -1
	for i := range q.items {
		if !q.busy[q.items[i].Block()] {
			lead = i
			break
		}
	}
	if lead < 0 {
		return 0, nil, false
	}

	block = q.items[lead].Block()
	kept := q.items[:0]
	for _, p := range q.items {
		if p.Block() == block && (limit <= 0 || len(batch) < limit) {
			batch = append(batch, p)
		} else {
			kept = append(kept, p)
		}
	}
	clear(q.items[len(kept):])
	q.items = kept
	q.busy[block] = true
	return block, batch, true
}

// Release returns a claimed block to the pool.
func (q *Queue) Release(block int) {
	q.mu.Lock()
	delete(q.busy, block)
	pending := len(q.items) > 0
	q.mu.Unlock()
	if pending {
		q.notify()
	}
}

// Drain removes and returns every queued particle.
func (q *Queue) Drain() []Particle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// List is a mutex-guarded particle collection with snapshot-and-clear.
type List struct {
	mu    sync.Mutex
	items []Particle
}

// Append adds particles to the list.
func (l *List) Append(ps ...Particle) {
	if len(ps) == 0 {
		return
	}
	l.mu.Lock()
	l.items = append(l.items, ps...)
	l.mu.Unlock()
}

// Take returns the contents and clears the list.
func (l *List) Take() []Particle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.items
	l.items = nil
	return out
}

// Len returns the number of particles held.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Ledger is one rank's partition of particles.
type Ledger struct {
	Active     *Queue
	Inactive   List // escaped, waiting for the messenger
	Terminated List
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{Active: NewQueue()}
}
