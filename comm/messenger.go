package comm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/particle"
	"github.com/pthm-cable/advect/telemetry"
)

// ErrOrphanedSends is returned when sends are still undelivered at shutdown.
var ErrOrphanedSends = errors.New("comm: sends still in flight at shutdown")

// Mode selects how termination counts are combined.
type Mode int

const (
	// Collective sums every rank's delta with one all-reduce per round.
	Collective Mode = iota
	// Gossip sends each non-zero delta to every other rank.
	Gossip
)

// ParseMode maps a config name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "collective", "":
		return Collective, nil
	case "gossip":
		return Gossip, nil
	default:
		return 0, fmt.Errorf("comm: unknown termination mode %q", s)
	}
}

func (m Mode) String() string {
	if m == Gossip {
		return "gossip"
	}
	return "collective"
}

// Options configures a Messenger.
type Options struct {
	Mode     Mode
	Compress bool
	Stats    *telemetry.Stats
	Logger   *slog.Logger
}

// Messenger routes particles to the ranks owning their leading block and
// keeps the global termination tally.
type Messenger struct {
	comm    Comm
	bounds  *bounds.BoundsMap
	opts    Options
	logger  *slog.Logger
	pending []*Request

	// total is the cumulative global terminated count known to this rank.
	total   int64
	aborted bool
}

// NewMessenger wires a messenger to c and the built bounds map.
func NewMessenger(c Comm, bm *bounds.BoundsMap, opts Options) *Messenger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Messenger{comm: c, bounds: bm, opts: opts, logger: logger}
}

// Round is the result of one Exchange.
type Round struct {
	// Incoming are particles now owned by this rank: local loop-backs and
	// received envelopes.
	Incoming []particle.Particle
	// Unowned are particles whose block resolved to no rank. They are
	// terminated and already counted.
	Unowned []particle.Particle
	// Total is the global terminated count after this round.
	Total int64
	// Abort is set when any rank requested an abort.
	Abort bool
}

// Exchange performs one round: send escaped particles, drain inbound
// envelopes and fold delta into the termination tally.
func (m *Messenger) Exchange(ctx context.Context, out []particle.Particle, delta int64, abort bool) (Round, error) {
	defer m.opts.Stats.Time(telemetry.TimerExchange)()

	local, unowned, err := m.Send(out)
	if err != nil {
		return Round{}, err
	}
	in, err := m.Receive()
	if err != nil {
		return Round{}, err
	}
	m.CheckPendingSends()

	total, abortAll, err := m.Tally(ctx, delta+int64(len(unowned)), abort)
	if err != nil {
		return Round{}, err
	}
	return Round{
		Incoming: append(local, in...),
		Unowned:  unowned,
		Total:    total,
		Abort:    abortAll,
	}, nil
}

// Send routes particles by the owner of their leading block. Particles
// owned by this rank are returned as local without touching the
// transport; particles with no resolvable owner are returned terminated.
func (m *Messenger) Send(ps []particle.Particle) (local, unowned []particle.Particle, err error) {
	if len(ps) == 0 {
		return nil, nil, nil
	}
	byRank := make(map[int][]particle.Particle)
	for _, p := range ps {
		rank, ok := m.bounds.OwningRank(p.Block())
		if !ok {
			m.logger.Warn("particle has no owning rank", "id", p.ID, "blocks", p.BlockIDs)
			p.Status = particle.Unowned
			unowned = append(unowned, p)
			continue
		}
		p.Status = particle.Active
		if rank == m.comm.Rank() {
			local = append(local, p)
			continue
		}
		byRank[rank] = append(byRank[rank], p)
	}

	for _, dest := range slices.Sorted(maps.Keys(byRank)) {
		batch := byRank[dest]
		data, err := particle.Encode(batch, particle.EncodeOptions{Compress: m.opts.Compress})
		if err != nil {
			return nil, nil, fmt.Errorf("encoding envelope for rank %d: %w", dest, err)
		}
		req, err := m.comm.Isend(dest, TagParticles, data)
		if err != nil {
			return nil, nil, fmt.Errorf("sending %d particles to rank %d: %w", len(batch), dest, err)
		}
		m.pending = append(m.pending, req)
		m.opts.Stats.Count(telemetry.CounterEnvelopesSent, 1)
		m.opts.Stats.Count(telemetry.CounterParticlesSent, int64(len(batch)))
	}
	return local, unowned, nil
}

// Receive drains every pending particle envelope.
func (m *Messenger) Receive() ([]particle.Particle, error) {
	var in []particle.Particle
	for {
		msg, ok, err := m.comm.TryRecv(TagParticles)
		if err != nil {
			return nil, fmt.Errorf("receiving particles: %w", err)
		}
		if !ok {
			break
		}
		ps, err := particle.Decode(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding envelope from rank %d: %w", msg.Source, err)
		}
		in = append(in, ps...)
	}
	m.opts.Stats.Count(telemetry.CounterParticlesReceived, int64(len(in)))
	return in, nil
}

// Tally contributes delta newly terminated particles and returns the
// cumulative global count.
func (m *Messenger) Tally(ctx context.Context, delta int64, abort bool) (int64, bool, error) {
	if m.opts.Mode == Gossip {
		return m.gossip(delta, abort)
	}

	var flag int64
	if abort {
		flag = 1
	}
	sums, err := m.comm.AllReduceSum(ctx, []int64{delta, flag})
	if err != nil {
		return 0, false, fmt.Errorf("termination all-reduce: %w", err)
	}
	m.total += sums[0]
	return m.total, sums[1] > 0, nil
}

func (m *Messenger) gossip(delta int64, abort bool) (int64, bool, error) {
	me := m.comm.Rank()
	if delta != 0 {
		buf := binary.LittleEndian.AppendUint64(nil, uint64(delta))
		if err := m.broadcast(me, TagTerminated, buf); err != nil {
			return 0, false, err
		}
		m.total += delta
	}
	if abort && !m.aborted {
		if err := m.broadcast(me, TagAbort, nil); err != nil {
			return 0, false, err
		}
		m.aborted = true
	}

	for {
		msg, ok, err := m.comm.TryRecv(TagTerminated)
		if err != nil {
			return 0, false, fmt.Errorf("receiving termination count: %w", err)
		}
		if !ok {
			break
		}
		if len(msg.Data) != 8 {
			return 0, false, fmt.Errorf("termination count from rank %d: %d bytes", msg.Source, len(msg.Data))
		}
		m.total += int64(binary.LittleEndian.Uint64(msg.Data))
	}
	for {
		_, ok, err := m.comm.TryRecv(TagAbort)
		if err != nil {
			return 0, false, fmt.Errorf("receiving abort: %w", err)
		}
		if !ok {
			break
		}
		m.aborted = true
	}
	return m.total, m.aborted, nil
}

func (m *Messenger) broadcast(me, tag int, data []byte) error {
	for dest := 0; dest < m.comm.Size(); dest++ {
		if dest == me {
			continue
		}
		req, err := m.comm.Isend(dest, tag, data)
		if err != nil {
			return fmt.Errorf("sending tag %d to rank %d: %w", tag, dest, err)
		}
		m.pending = append(m.pending, req)
	}
	return nil
}

// CheckPendingSends drops completed requests and returns how many remain.
func (m *Messenger) CheckPendingSends() int {
	kept := m.pending[:0]
	for _, r := range m.pending {
		if !r.Test() {
			kept = append(kept, r)
		}
	}
	clear(m.pending[len(kept):])
	m.pending = kept
	return len(m.pending)
}

// Pending returns the number of sends not yet known to be complete.
func (m *Messenger) Pending() int { return len(m.pending) }

// Total returns the cumulative global terminated count known locally.
func (m *Messenger) Total() int64 { return m.total }

// WaitPending blocks until every outstanding send completes.
func (m *Messenger) WaitPending(ctx context.Context) error {
	for _, r := range m.pending {
		if err := r.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %d outstanding: %v", ErrOrphanedSends, m.CheckPendingSends(), err)
		}
	}
	m.pending = m.pending[:0]
	return nil
}
