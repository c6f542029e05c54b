package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromSinkObserve(t *testing.T) {
	s := NewPromSink()
	s.Observe(sampleSnapshots())
	s.Observe(sampleSnapshots())

	if got := testutil.ToFloat64(s.counters.WithLabelValues(CounterRounds, "1")); got != 20 {
		t.Errorf("rounds{rank=1} = %v, want 20", got)
	}
	if got := testutil.ToFloat64(s.timers.WithLabelValues(TimerAdvect, "0")); got != 4 {
		t.Errorf("advect seconds{rank=0} = %v, want 4", got)
	}
	if got := testutil.ToFloat64(s.runs); got != 2 {
		t.Errorf("runs = %v, want 2", got)
	}
	// rank 1 never napped, so no series exists for it
	if n := testutil.CollectAndCount(s.counters); n != 3 {
		t.Errorf("counter series = %d, want 3", n)
	}
}

func TestPromSinkHandler(t *testing.T) {
	s := NewPromSink()
	s.Observe([]Snapshot{{
		Rank:     0,
		Timers:   map[string]time.Duration{TimerTotal: time.Second},
		Counters: map[string]int64{CounterParticlesSent: 7},
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`advect_events_total{name="particles_sent",rank="0"} 7`,
		`advect_timer_seconds_total{name="total",rank="0"} 1`,
		`advect_runs_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestPromSinkNil(t *testing.T) {
	var s *PromSink
	s.Observe(sampleSnapshots())
}
