package telemetry

import (
	"testing"
	"time"
)

func TestRoundCollector_BasicTiming(t *testing.T) {
	rc := NewRoundCollector(10)

	for i := 0; i < 5; i++ {
		rc.StartRound()
		rc.StartPhase(PhaseAdvect)
		time.Sleep(100 * time.Microsecond)
		rc.StartPhase(PhaseExchange)
		time.Sleep(200 * time.Microsecond)
		rc.EndRound()
	}

	stats := rc.Stats()
	if stats.Rounds != 5 {
		t.Errorf("Rounds = %d, want 5", stats.Rounds)
	}
	if stats.AvgRound <= 0 {
		t.Error("expected positive average round duration")
	}
	if stats.MinRound > stats.AvgRound || stats.AvgRound > stats.MaxRound {
		t.Errorf("min %v, avg %v, max %v out of order", stats.MinRound, stats.AvgRound, stats.MaxRound)
	}
	if _, ok := stats.PhasePct[PhaseAdvect]; !ok {
		t.Error("expected advect phase to be tracked")
	}
	if _, ok := stats.PhasePct[PhaseExchange]; !ok {
		t.Error("expected exchange phase to be tracked")
	}
}

func TestRoundCollector_RollingWindow(t *testing.T) {
	rc := NewRoundCollector(5)
	for i := 0; i < 12; i++ {
		rc.StartRound()
		rc.StartPhase(PhaseIdle)
		rc.EndRound()
	}
	if rc.Rounds() != 12 {
		t.Errorf("Rounds() = %d, want 12", rc.Rounds())
	}
	if stats := rc.Stats(); stats.Rounds != 12 {
		t.Errorf("Stats().Rounds = %d, want 12", stats.Rounds)
	}
}

func TestRoundCollector_PhasePercentages(t *testing.T) {
	rc := NewRoundCollector(10)
	for i := 0; i < 5; i++ {
		rc.StartRound()
		rc.StartPhase(PhaseMerge)
		time.Sleep(10 * time.Microsecond)
		rc.StartPhase(PhaseIdle)
		time.Sleep(2 * time.Millisecond)
		rc.EndRound()
	}

	stats := rc.Stats()
	mergePct := stats.PhasePct[PhaseMerge]
	idlePct := stats.PhasePct[PhaseIdle]
	if idlePct <= mergePct {
		t.Errorf("expected idle (%.1f%%) > merge (%.1f%%)", idlePct, mergePct)
	}
	if total := mergePct + idlePct; total > 100.01 {
		t.Errorf("phase percentages sum to %.2f%%", total)
	}

	row := stats.ToCSV(2)
	if row.Rank != 2 || row.Rounds != 5 || row.IdlePct != idlePct {
		t.Errorf("unexpected CSV row %+v", row)
	}
}

func TestRoundCollector_Empty(t *testing.T) {
	stats := NewRoundCollector(0).Stats()
	if stats.Rounds != 0 || stats.AvgRound != 0 {
		t.Errorf("unexpected stats for empty collector: %+v", stats)
	}
	if stats.PhasePct == nil {
		t.Error("PhasePct should be non-nil")
	}

	var rc *RoundCollector
	rc.StartRound()
	rc.StartPhase(PhaseAdvect)
	rc.EndRound()
	if rc.Rounds() != 0 {
		t.Error("nil collector counted rounds")
	}
}
