package comm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/advect/bounds"
	"github.com/pthm-cable/advect/particle"
	"github.com/pthm-cable/advect/telemetry"
)

// threeBlocks lays out blocks 0,1,2 along X owned by ranks 0,1,2.
func threeBlocks(t *testing.T) *bounds.BoundsMap {
	t.Helper()
	m := bounds.New()
	for i := 0; i < 3; i++ {
		x := float64(i)
		require.NoError(t, m.AddBlock(i, r3.Box{Min: r3.Vec{X: x}, Max: r3.Vec{X: x + 1, Y: 1, Z: 1}}))
		require.NoError(t, m.SetOwner(i, i))
	}
	require.NoError(t, m.Build())
	return m
}

func headed(id int64, block int) particle.Particle {
	return particle.Particle{ID: id, Status: particle.Escaped, BlockIDs: []int{block}}
}

func TestSendRoutesByOwner(t *testing.T) {
	bm := threeBlocks(t)
	w := NewWorld(3)
	stats := telemetry.NewStats()
	m0 := NewMessenger(w.Comm(0), bm, Options{Stats: stats})
	m2 := NewMessenger(w.Comm(2), bm, Options{})

	local, unowned, err := m0.Send([]particle.Particle{
		headed(1, 0), headed(2, 2), headed(3, 2), headed(4, 99),
	})
	require.NoError(t, err)

	require.Len(t, local, 1)
	assert.Equal(t, int64(1), local[0].ID)
	assert.Equal(t, particle.Active, local[0].Status)

	require.Len(t, unowned, 1)
	assert.Equal(t, particle.Unowned, unowned[0].Status)

	assert.Equal(t, 1, m0.Pending())
	assert.Equal(t, 1, m0.CheckPendingSends(), "nothing received yet")
	assert.Equal(t, int64(2), stats.Counter(telemetry.CounterParticlesSent))
	assert.Equal(t, int64(1), stats.Counter(telemetry.CounterEnvelopesSent))

	in, err := m2.Receive()
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, []int64{2, 3}, []int64{in[0].ID, in[1].ID})

	assert.Equal(t, 0, m0.CheckPendingSends())
	require.NoError(t, m0.WaitPending(context.Background()))
}

func TestCompressedEnvelopes(t *testing.T) {
	bm := threeBlocks(t)
	w := NewWorld(3)
	m0 := NewMessenger(w.Comm(0), bm, Options{Compress: true})
	m1 := NewMessenger(w.Comm(1), bm, Options{})

	ps := []particle.Particle{headed(10, 1), headed(11, 1)}
	ps[0].Trace = []r3.Vec{{X: 0.5}, {X: 1.05}}
	_, _, err := m0.Send(ps)
	require.NoError(t, err)

	in, err := m1.Receive()
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, ps[0].Trace, in[0].Trace)
}

func tallyAll(t *testing.T, ms []*Messenger, deltas []int64, abort []bool) ([]int64, []bool) {
	t.Helper()
	totals := make([]int64, len(ms))
	aborts := make([]bool, len(ms))
	errs := make([]error, len(ms))
	var wg sync.WaitGroup
	for i, m := range ms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			totals[i], aborts[i], errs[i] = m.Tally(ctx, deltas[i], abort[i])
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return totals, aborts
}

func TestCollectiveTally(t *testing.T) {
	bm := threeBlocks(t)
	w := NewWorld(3)
	ms := []*Messenger{
		NewMessenger(w.Comm(0), bm, Options{}),
		NewMessenger(w.Comm(1), bm, Options{}),
		NewMessenger(w.Comm(2), bm, Options{}),
	}

	totals, aborts := tallyAll(t, ms, []int64{1, 2, 3}, []bool{false, false, false})
	assert.Equal(t, []int64{6, 6, 6}, totals)
	assert.Equal(t, []bool{false, false, false}, aborts)

	totals, aborts = tallyAll(t, ms, []int64{0, 4, 0}, []bool{false, true, false})
	assert.Equal(t, []int64{10, 10, 10}, totals)
	assert.Equal(t, []bool{true, true, true}, aborts, "every rank sees the abort in the same round")
	for i, m := range ms {
		assert.Equal(t, int64(10), m.Total(), "rank %d", i)
	}
}

func TestGossipTally(t *testing.T) {
	bm := threeBlocks(t)
	w := NewWorld(3)
	ms := []*Messenger{
		NewMessenger(w.Comm(0), bm, Options{Mode: Gossip}),
		NewMessenger(w.Comm(1), bm, Options{Mode: Gossip}),
		NewMessenger(w.Comm(2), bm, Options{Mode: Gossip}),
	}

	// Sequential calls: each rank sees what was sent before it.
	total, _, err := ms[0].Tally(context.Background(), 2, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	total, _, err = ms[1].Tally(context.Background(), 3, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	total, _, err = ms[2].Tally(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	total, _, err = ms[0].Tally(context.Background(), 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(5), ms[0].Total())

	// Rank 0's counts were drained by ranks 1 and 2; rank 1's by 2 and 0.
	for i, m := range ms {
		assert.Equal(t, 0, m.CheckPendingSends(), "rank %d pending", i)
	}
	assert.Equal(t, 0, w.Pending())

	_, aborted, err := ms[2].Tally(context.Background(), 0, true)
	require.NoError(t, err)
	assert.True(t, aborted)
	_, aborted, err = ms[0].Tally(context.Background(), 0, false)
	require.NoError(t, err)
	assert.True(t, aborted)
}

func TestWaitPendingReportsOrphans(t *testing.T) {
	bm := threeBlocks(t)
	w := NewWorld(3)
	m0 := NewMessenger(w.Comm(0), bm, Options{})

	_, _, err := m0.Send([]particle.Particle{headed(1, 1)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m0.WaitPending(ctx)
	assert.True(t, errors.Is(err, ErrOrphanedSends), "err = %v", err)
}

func TestClosedWorldIsFatal(t *testing.T) {
	bm := threeBlocks(t)
	w := NewWorld(3)
	m0 := NewMessenger(w.Comm(0), bm, Options{})
	w.Close()

	_, _, err := m0.Send([]particle.Particle{headed(1, 1)})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = m0.Receive()
	assert.ErrorIs(t, err, ErrClosed)

	_, _, err = m0.Tally(context.Background(), 1, false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAllReduceLengthMismatch(t *testing.T) {
	w := NewWorld(2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := w.Comm(0).AllReduceSum(ctx, []int64{1, 2})
		errc <- err
	}()
	// Give rank 0 time to open the generation.
	time.Sleep(10 * time.Millisecond)

	_, err := w.Comm(1).AllReduceSum(ctx, []int64{1})
	assert.ErrorIs(t, err, ErrMismatch)
	cancel()
	assert.Error(t, <-errc)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"collective", Collective, false},
		{"", Collective, false},
		{"gossip", Gossip, false},
		{"broadcast", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
