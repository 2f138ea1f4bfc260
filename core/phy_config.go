package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrPhyConfigRbCount = errors.New("configuration resource-block count out of range")
	ErrPartialBwpWiring = errors.New("bandwidth part channel collaborators must be supplied together or not at all")
	ErrNilPhyMacConfig  = errors.New("bandwidth part has no PHY/MAC configuration")
)

// PhyMacConfig carries the numerology-derived parameters shared by the PHY
// and MAC of one bandwidth part. Construct it with NewPhyMacConfig; the
// derived fields are filled in there and treated as read-only afterwards.
type PhyMacConfig struct {
	Numerology         uint8
	CentralFrequencyHz float64
	BandwidthHz        uint32
	NumHarqProcesses   uint8
	SymbolsPerSlot     uint8

	// Derived.
	SubcarrierSpacingHz float64
	NumRbs              int
	RbWidthHz           float64
	SlotPeriod          time.Duration
	SymbolPeriod        time.Duration
}

// NewPhyMacConfig derives the resource-block grid and symbol timing from
// the numerology. The resource-block count must land in [24, 275].
func NewPhyMacConfig(numerology uint8, centralFrequencyHz float64, bandwidthHz uint32, numHarqProcesses uint8) (*PhyMacConfig, error) {
	scs := baseScsHz * math.Pow(2, float64(numerology))
	numRbs := int(float64(bandwidthHz) / (subcarriersPerRb * scs))
	if numRbs < minRbsPerCarrier || numRbs > maxRbsPerCarrier {
		return nil, fmt.Errorf("%w: %d RBs for %d Hz at numerology %d",
			ErrPhyConfigRbCount, numRbs, bandwidthHz, numerology)
	}

	// One slot is 1 ms / 2^mu, carrying 14 OFDM symbols.
	const symbolsPerSlot = 14
	slotPeriod := time.Duration(float64(time.Millisecond) / math.Pow(2, float64(numerology)))

	return &PhyMacConfig{
		Numerology:          numerology,
		CentralFrequencyHz:  centralFrequencyHz,
		BandwidthHz:         bandwidthHz,
		NumHarqProcesses:    numHarqProcesses,
		SymbolsPerSlot:      symbolsPerSlot,
		SubcarrierSpacingHz: scs,
		NumRbs:              numRbs,
		RbWidthHz:           subcarriersPerRb * scs,
		SlotPeriod:          slotPeriod,
		SymbolPeriod:        slotPeriod / symbolsPerSlot,
	}, nil
}

// BandwidthPartRepresentation binds one bandwidth part id to the live
// collaborators every PHY attached to that BWP shares: the PHY/MAC
// configuration, the spectrum channel, the propagation-loss model, and the
// spectrum (fast-fading) propagation model.
//
// The three channel-side collaborators must be supplied together or not at
// all; when absent, Initialize constructs and wires a consistent default
// set. Partial wiring is a setup defect and is rejected.
type BandwidthPartRepresentation struct {
	ID     uint8
	Config *PhyMacConfig

	Channel     SpectrumChannel
	Propagation PropagationModel
	Spectrum    SpectrumPropagationModel
}

// Initialize validates the collaborator set, building the default channel
// stack when none was supplied.
func (r *BandwidthPartRepresentation) Initialize() error {
	if r.Config == nil {
		return fmt.Errorf("%w: bwp %d", ErrNilPhyMacConfig, r.ID)
	}

	supplied := 0
	if r.Channel != nil {
		supplied++
	}
	if r.Propagation != nil {
		supplied++
	}
	if r.Spectrum != nil {
		supplied++
	}
	switch supplied {
	case 3:
		return nil
	case 0:
		prop := NewFixedLossPropagation(0)
		spectrum := NewFlatSpectrumPropagation()
		r.Propagation = prop
		r.Spectrum = spectrum
		r.Channel = NewSimpleSpectrumChannel(prop, spectrum)
		return nil
	default:
		return fmt.Errorf("%w: bwp %d has %d of 3", ErrPartialBwpWiring, r.ID, supplied)
	}
}
