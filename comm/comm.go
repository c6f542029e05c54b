// Package comm moves particles and termination counts between ranks.
package comm

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed      = errors.New("comm: transport closed")
	ErrInvalidRank = errors.New("comm: invalid rank")
	ErrMismatch    = errors.New("comm: collective length mismatch")
)

// Message tags.
const (
	TagParticles  = 1
	TagTerminated = 2
	TagAbort      = 3
)

// Message is one received point-to-point payload.
type Message struct {
	Source int
	Tag    int
	Data   []byte
}

// Comm is a rank's view of the transport.
type Comm interface {
	Rank() int
	Size() int

	// Isend queues data for dest without blocking. The returned request
	// completes once the receiver has taken the message.
	Isend(dest, tag int, data []byte) (*Request, error)

	// TryRecv returns the oldest pending message with tag, if any.
	TryRecv(tag int) (Message, bool, error)

	// Notify fires when a message arrives for this rank.
	Notify() <-chan struct{}

	// AllReduceSum blocks until every rank contributes and returns the
	// element-wise sum.
	AllReduceSum(ctx context.Context, vals []int64) ([]int64, error)
}

// Request tracks an outstanding send.
type Request struct {
	once sync.Once
	done chan struct{}
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

func (r *Request) complete() {
	r.once.Do(func() { close(r.done) })
}

// Test reports whether the send has completed.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the send completes or ctx ends.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
