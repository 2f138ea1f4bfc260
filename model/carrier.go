package model

import (
	"errors"
	"fmt"
)

// Spectrum aggregation limits. 3GPP Rel-15 carrier aggregation allows at
// most 16 component carriers overall, and a bandwidth part configuration
// of at most 4 BWPs per carrier.
const (
	MaxBwpsPerCc   = 4
	MaxCcIntraBand = 16
	MaxCcInterBand = 16
)

var (
	ErrTooManyBwps     = errors.New("maximum number of BWPs per CC reached")
	ErrTooManyCarriers = errors.New("maximum number of CCs in the band reached")
)

// ContiguityMode classifies how the component carriers of an operation
// band sit next to each other in frequency.
type ContiguityMode int

const (
	Contiguous ContiguityMode = iota
	NonContiguous
)

func (m ContiguityMode) String() string {
	if m == Contiguous {
		return "contiguous"
	}
	return "non-contiguous"
}

// BandwidthPartElement describes one bandwidth part inside a component
// carrier: a frequency sub-region with its own numerology. Instances are
// treated as immutable once their owning carrier has been validated; the
// only supported mutation is switching the active BWP id on the carrier.
type BandwidthPartElement struct {
	ID         uint8
	Numerology uint8

	CentralFrequencyHz float64
	LowerFrequencyHz   float64
	UpperFrequencyHz   float64
	BandwidthHz        uint32
}

// ComponentCarrierInfo describes one component carrier and its bandwidth
// parts. Exactly one CC in the whole aggregated configuration must be
// flagged primary.
type ComponentCarrierInfo struct {
	ID uint8

	CentralFrequencyHz float64
	LowerFrequencyHz   float64
	UpperFrequencyHz   float64
	BandwidthHz        uint32

	Primary     bool
	ActiveBwpID uint8
	Bwps        []BandwidthPartElement
}

// AddBwp appends a bandwidth part, failing once the per-CC limit is hit.
func (cc *ComponentCarrierInfo) AddBwp(bwp BandwidthPartElement) error {
	if len(cc.Bwps) >= MaxBwpsPerCc {
		return fmt.Errorf("%w: cc %d already has %d", ErrTooManyBwps, cc.ID, len(cc.Bwps))
	}
	cc.Bwps = append(cc.Bwps, bwp)
	return nil
}

// Bwp returns the bandwidth part with the given id, or nil.
func (cc *ComponentCarrierInfo) Bwp(id uint8) *BandwidthPartElement {
	for i := range cc.Bwps {
		if cc.Bwps[i].ID == id {
			return &cc.Bwps[i]
		}
	}
	return nil
}

// ActiveBwp returns the bandwidth part currently flagged active, or nil
// if the active id does not resolve (an invalid configuration).
func (cc *ComponentCarrierInfo) ActiveBwp() *BandwidthPartElement {
	return cc.Bwp(cc.ActiveBwpID)
}

// OperationBand is a licensed frequency range subdivided into component
// carriers. Carrier insertion order is irrelevant: validation re-sorts
// the carriers by ascending central frequency.
type OperationBand struct {
	ID uint8

	CentralFrequencyHz float64
	LowerFrequencyHz   float64
	UpperFrequencyHz   float64
	BandwidthHz        uint32

	Contiguity ContiguityMode
	Ccs        []ComponentCarrierInfo
}

// AddCc appends a component carrier, failing once the intra-band limit
// is hit.
func (b *OperationBand) AddCc(cc ComponentCarrierInfo) error {
	if len(b.Ccs) >= MaxCcIntraBand {
		return fmt.Errorf("%w: band %d already has %d", ErrTooManyCarriers, b.ID, len(b.Ccs))
	}
	b.Ccs = append(b.Ccs, cc)
	return nil
}

// Cc returns the component carrier with the given id, or nil.
func (b *OperationBand) Cc(id uint8) *ComponentCarrierInfo {
	for i := range b.Ccs {
		if b.Ccs[i].ID == id {
			return &b.Ccs[i]
		}
	}
	return nil
}
