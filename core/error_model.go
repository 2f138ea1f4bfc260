package core

import (
	"math"

	"github.com/signalsfoundry/mmwave-simulator/model"
)

// ErrorModelOutput is the decoder decision for one transport block
// reception attempt. It is kept per HARQ process so a retransmission can
// combine with the energy of earlier attempts.
type ErrorModelOutput struct {
	Corrupted       bool
	Tbler           float64
	EffectiveSinrDb float64
}

// ErrorModel decides whether a transport block decodes given the perceived
// SINR, the block parameters, and the output of the previous attempt on
// the same HARQ process (nil for an initial transmission).
type ErrorModel interface {
	Evaluate(avgSinr, minSinr float64, tb model.ExpectedTb, prev *ErrorModelOutput) ErrorModelOutput
}

// McsThresholdErrorModel is a deterministic decoder model: a transport
// block decodes when its effective SINR clears the per-MCS threshold.
// Retransmissions combine energy with the previous attempt, so a second
// equal-power attempt gains 3 dB.
type McsThresholdErrorModel struct {
	// BaseThresholdDb is the SINR required by MCS 0; each MCS step adds
	// StepDb on top.
	BaseThresholdDb float64
	StepDb          float64
}

// NewMcsThresholdErrorModel returns the model with the default threshold
// ladder: -7 dB at MCS 0, one dB per MCS step.
func NewMcsThresholdErrorModel() *McsThresholdErrorModel {
	return &McsThresholdErrorModel{BaseThresholdDb: -7, StepDb: 1}
}

func (m *McsThresholdErrorModel) Evaluate(avgSinr, minSinr float64, tb model.ExpectedTb, prev *ErrorModelOutput) ErrorModelOutput {
	combined := avgSinr
	if prev != nil {
		combined += math.Pow(10, prev.EffectiveSinrDb/10)
	}

	effectiveDb := math.Inf(-1)
	if combined > 0 {
		effectiveDb = 10 * math.Log10(combined)
	}
	threshold := m.BaseThresholdDb + m.StepDb*float64(tb.Mcs)

	out := ErrorModelOutput{EffectiveSinrDb: effectiveDb}
	if effectiveDb < threshold {
		out.Corrupted = true
		out.Tbler = 1
	}
	return out
}
