package core

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// SinrChunkProcessor receives the finalized per-resource-block SINR vector
// of one reception window. Registered processors fire once per EndRx, in
// registration order.
type SinrChunkProcessor func(sinrPerRb []float64)

type interferingSignal struct {
	powerPerRbW []float64
	endsAt      time.Time
}

// InterferenceAccumulator tracks the wanted signal and every concurrent
// interfering signal over one reception window, splitting the window into
// chunks at each signal arrival or expiry. The per-RB SINR reported at
// EndRx is the time-weighted average over those chunks.
//
// Power vectors are per-resource-block received powers in watts. The
// accumulator is exclusively owned by one PHY instance; the single-threaded
// event model makes locking unnecessary.
type InterferenceAccumulator struct {
	numRbs      int
	noisePowerW float64

	signals []interferingSignal

	receiving  bool
	rxPowerW   []float64
	lastChange time.Time

	weightedSinr []float64 // sum of per-chunk SINR * chunk seconds
	totalSeconds float64

	processors []SinrChunkProcessor
}

// NewInterferenceAccumulator creates an accumulator for numRbs resource
// blocks with the given per-RB thermal noise power in watts.
func NewInterferenceAccumulator(numRbs int, noisePowerW float64) *InterferenceAccumulator {
	return &InterferenceAccumulator{
		numRbs:       numRbs,
		noisePowerW:  noisePowerW,
		weightedSinr: make([]float64, numRbs),
	}
}

// AddSinrProcessor registers a processor fired with the final SINR vector
// at every reception end.
func (a *InterferenceAccumulator) AddSinrProcessor(p SinrChunkProcessor) {
	a.processors = append(a.processors, p)
}

// AddSignal registers an interfering signal lasting the given duration.
// If a reception window is open, the current chunk is closed first so the
// new interference contributes only from now on.
func (a *InterferenceAccumulator) AddSignal(powerPerRbW []float64, duration time.Duration, now time.Time) {
	a.expireSignals(now)
	a.closeChunk(now)
	a.signals = append(a.signals, interferingSignal{
		powerPerRbW: powerPerRbW,
		endsAt:      now.Add(duration),
	})
}

// StartRx opens a reception window for the wanted signal. Interference
// registered before or during the window contributes to its chunks.
func (a *InterferenceAccumulator) StartRx(powerPerRbW []float64, now time.Time) {
	a.expireSignals(now)
	a.receiving = true
	a.rxPowerW = powerPerRbW
	a.lastChange = now
	for i := range a.weightedSinr {
		a.weightedSinr[i] = 0
	}
	a.totalSeconds = 0
}

// AddToRx folds another wanted signal into the open reception window,
// closing the current chunk first. Used when a concurrent co-timed signal
// aggregates into the same logical reception.
func (a *InterferenceAccumulator) AddToRx(powerPerRbW []float64, now time.Time) {
	if !a.receiving {
		return
	}
	a.expireSignals(now)
	a.closeChunk(now)
	combined := make([]float64, a.numRbs)
	copy(combined, a.rxPowerW)
	for i := 0; i < a.numRbs && i < len(powerPerRbW); i++ {
		combined[i] += powerPerRbW[i]
	}
	a.rxPowerW = combined
}

// EndRx closes the reception window and returns the time-weighted per-RB
// SINR, firing every registered processor with it. A zero-length window
// falls back to the instantaneous SINR at the end instant.
func (a *InterferenceAccumulator) EndRx(now time.Time) []float64 {
	a.expireSignals(now)
	a.closeChunk(now)
	a.receiving = false

	sinr := make([]float64, a.numRbs)
	if a.totalSeconds > 0 {
		copy(sinr, a.weightedSinr)
		floats.Scale(1/a.totalSeconds, sinr)
	} else {
		a.instantSinr(sinr)
	}
	a.rxPowerW = nil

	for _, p := range a.processors {
		p(sinr)
	}
	return sinr
}

// TotalReceivedPowerW sums all signal power currently on the air at this
// receiver, wanted signal included. This is the energy the CCA compares
// against its threshold.
func (a *InterferenceAccumulator) TotalReceivedPowerW(now time.Time) float64 {
	a.expireSignals(now)
	var total float64
	for i := range a.signals {
		total += floats.Sum(a.signals[i].powerPerRbW)
	}
	if a.receiving && a.rxPowerW != nil {
		total += floats.Sum(a.rxPowerW)
	}
	return total
}

// LatestSignalEnd returns the latest expiry among signals still on the
// air, or now when none remain. The CCA busy window ends at this instant.
func (a *InterferenceAccumulator) LatestSignalEnd(now time.Time) time.Time {
	latest := now
	for i := range a.signals {
		if a.signals[i].endsAt.After(latest) {
			latest = a.signals[i].endsAt
		}
	}
	return latest
}

// expireSignals removes signals that ended at or before now. Each expiry
// closes the chunk it terminates so the interference it contributed is
// weighted only over its actual lifetime.
func (a *InterferenceAccumulator) expireSignals(now time.Time) {
	if len(a.signals) == 0 {
		return
	}
	sort.Slice(a.signals, func(i, j int) bool {
		return a.signals[i].endsAt.Before(a.signals[j].endsAt)
	})
	for len(a.signals) > 0 && !a.signals[0].endsAt.After(now) {
		end := a.signals[0].endsAt
		if a.receiving && end.After(a.lastChange) {
			a.closeChunk(end)
		}
		a.signals = a.signals[1:]
	}
}

// closeChunk folds the SINR observed since the last change into the
// weighted sums. No-op outside a reception window.
func (a *InterferenceAccumulator) closeChunk(until time.Time) {
	if !a.receiving {
		return
	}
	seconds := until.Sub(a.lastChange).Seconds()
	a.lastChange = until
	if seconds <= 0 {
		return
	}
	chunk := make([]float64, a.numRbs)
	a.instantSinr(chunk)
	floats.Scale(seconds, chunk)
	floats.Add(a.weightedSinr, chunk)
	a.totalSeconds += seconds
}

// instantSinr fills dst with the current-instant SINR per resource block.
func (a *InterferenceAccumulator) instantSinr(dst []float64) {
	for rb := 0; rb < a.numRbs; rb++ {
		interference := a.noisePowerW
		for i := range a.signals {
			if rb < len(a.signals[i].powerPerRbW) {
				interference += a.signals[i].powerPerRbW[rb]
			}
		}
		var signal float64
		if a.rxPowerW != nil && rb < len(a.rxPowerW) {
			signal = a.rxPowerW[rb]
		}
		dst[rb] = signal / interference
	}
}
