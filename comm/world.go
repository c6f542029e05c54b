package comm

import (
	"context"
	"fmt"
	"sync"
)

// World is an in-process transport connecting Size ranks that run as
// goroutines. Payloads are copied on send, so ranks share no memory.
type World struct {
	size   int
	boxes  []*mailbox
	coll   collective
	closed chan struct{}
	once   sync.Once
}

type envelope struct {
	Message
	req *Request
}

// mailbox holds one rank's pending messages, FIFO per tag.
type mailbox struct {
	mu     sync.Mutex
	queues map[int][]envelope
	notify chan struct{}
}

// NewWorld connects size ranks.
func NewWorld(size int) *World {
	w := &World{
		size:   size,
		boxes:  make([]*mailbox, size),
		closed: make(chan struct{}),
	}
	for i := range w.boxes {
		w.boxes[i] = &mailbox{
			queues: make(map[int][]envelope),
			notify: make(chan struct{}, 1),
		}
	}
	w.coll.size = size
	w.coll.gen = newGeneration()
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Comm returns rank's endpoint.
func (w *World) Comm(rank int) Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0, %d)", rank, w.size))
	}
	return &endpoint{w: w, rank: rank}
}

// Close fails all subsequent operations and wakes blocked collectives.
func (w *World) Close() {
	w.once.Do(func() { close(w.closed) })
}

func (w *World) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

// Pending returns the number of undelivered messages across all ranks.
func (w *World) Pending() int {
	n := 0
	for _, b := range w.boxes {
		b.mu.Lock()
		for _, q := range b.queues {
			n += len(q)
		}
		b.mu.Unlock()
	}
	return n
}

type endpoint struct {
	w    *World
	rank int
}

func (e *endpoint) Rank() int { return e.rank }
func (e *endpoint) Size() int { return e.w.size }

func (e *endpoint) Isend(dest, tag int, data []byte) (*Request, error) {
	if e.w.isClosed() {
		return nil, ErrClosed
	}
	if dest < 0 || dest >= e.w.size {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRank, dest)
	}

	req := newRequest()
	env := envelope{
		Message: Message{Source: e.rank, Tag: tag, Data: append([]byte(nil), data...)},
		req:     req,
	}

	box := e.w.boxes[dest]
	box.mu.Lock()
	box.queues[tag] = append(box.queues[tag], env)
	box.mu.Unlock()

	select {
	case box.notify <- struct{}{}:
	default:
	}
	return req, nil
}

func (e *endpoint) TryRecv(tag int) (Message, bool, error) {
	if e.w.isClosed() {
		return Message{}, false, ErrClosed
	}
	box := e.w.boxes[e.rank]
	box.mu.Lock()
	q := box.queues[tag]
	if len(q) == 0 {
		box.mu.Unlock()
		return Message{}, false, nil
	}
	env := q[0]
	q[0] = envelope{}
	box.queues[tag] = q[1:]
	box.mu.Unlock()

	env.req.complete()
	return env.Message, true, nil
}

func (e *endpoint) Notify() <-chan struct{} { return e.w.boxes[e.rank].notify }

func (e *endpoint) AllReduceSum(ctx context.Context, vals []int64) ([]int64, error) {
	return e.w.coll.allReduce(ctx, vals, e.w.closed)
}

// collective implements AllReduceSum as a sequence of generations; each
// generation completes when all ranks have contributed.
type collective struct {
	mu   sync.Mutex
	size int
	gen  *generation
}

type generation struct {
	sum     []int64
	arrived int
	done    chan struct{}
}

func newGeneration() *generation {
	return &generation{done: make(chan struct{})}
}

func (c *collective) allReduce(ctx context.Context, vals []int64, closed <-chan struct{}) ([]int64, error) {
	c.mu.Lock()
	g := c.gen
	if g.sum == nil {
		g.sum = make([]int64, len(vals))
	} else if len(g.sum) != len(vals) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrMismatch, len(vals), len(g.sum))
	}
	for i, v := range vals {
		g.sum[i] += v
	}
	g.arrived++
	if g.arrived == c.size {
		close(g.done)
		c.gen = newGeneration()
	}
	c.mu.Unlock()

	select {
	case <-g.done:
		out := make([]int64, len(g.sum))
		copy(out, g.sum)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, ErrClosed
	}
}
