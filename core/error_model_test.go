package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/mmwave-simulator/model"
)

func TestMcsThresholdErrorModel_DecodesAboveThreshold(t *testing.T) {
	m := NewMcsThresholdErrorModel()
	tb := model.ExpectedTb{Mcs: 10} // threshold 3 dB

	// 10 dB SINR clears a 3 dB threshold.
	out := m.Evaluate(10, 10, tb, nil)
	if out.Corrupted {
		t.Fatalf("10 dB SINR at MCS 10 must decode, got corrupted (eff %.2f dB)", out.EffectiveSinrDb)
	}

	// 0 dB SINR does not.
	out = m.Evaluate(1, 1, tb, nil)
	if !out.Corrupted || out.Tbler != 1 {
		t.Fatalf("0 dB SINR at MCS 10 must corrupt, got %+v", out)
	}
}

func TestMcsThresholdErrorModel_RetransmissionCombines(t *testing.T) {
	m := NewMcsThresholdErrorModel()
	tb := model.ExpectedTb{Mcs: 10, Rv: 0}

	// 2 dB effective is marginally below the 3 dB threshold.
	sinr := math.Pow(10, 0.2)
	first := m.Evaluate(sinr, sinr, tb, nil)
	if !first.Corrupted {
		t.Fatalf("first attempt at 2 dB must fail against a 3 dB threshold")
	}

	// An equal-power retransmission doubles the combined energy (+3 dB),
	// lifting the effective SINR to ~5 dB.
	tb.Rv = 1
	second := m.Evaluate(sinr, sinr, tb, &first)
	if second.Corrupted {
		t.Fatalf("combined retransmission must decode, got corrupted (eff %.2f dB)", second.EffectiveSinrDb)
	}
	if second.EffectiveSinrDb <= first.EffectiveSinrDb {
		t.Fatalf("combining must raise effective SINR: %.2f -> %.2f", first.EffectiveSinrDb, second.EffectiveSinrDb)
	}
}

func TestHarqPhy_HistoryLifecycle(t *testing.T) {
	h := NewHarqPhy(8)

	if prev := h.Previous(42, 0); prev != nil {
		t.Fatalf("fresh process must have no history, got %+v", prev)
	}

	failed := ErrorModelOutput{Corrupted: true, Tbler: 1, EffectiveSinrDb: 2}
	if err := h.Update(42, 0, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	prev := h.Previous(42, 0)
	if prev == nil || prev.EffectiveSinrDb != 2 {
		t.Fatalf("expected stored attempt, got %+v", prev)
	}

	// A successful decode clears the process.
	if err := h.Update(42, 0, ErrorModelOutput{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if h.Previous(42, 0) != nil {
		t.Fatalf("decoded process must be cleared")
	}

	// New-data indication resets whatever was in flight.
	if err := h.Update(42, 1, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.ResetProcess(42, 1)
	if h.Previous(42, 1) != nil {
		t.Fatalf("reset process must be cleared")
	}

	if err := h.Update(42, 9, failed); err == nil {
		t.Fatalf("process id beyond the configured count must be rejected")
	}
}
