package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/mmwave-simulator/model"
)

func TestContiguousCcBuilder_28GHzTwoCarriers(t *testing.T) {
	plan := NewCarrierPlan()

	band, err := plan.CreateOperationBandContiguousCc(28e9, 400e6, 2)
	if err != nil {
		t.Fatalf("CreateOperationBandContiguousCc: %v", err)
	}
	if len(band.Ccs) != 2 {
		t.Fatalf("expected 2 CCs, got %d", len(band.Ccs))
	}
	if band.Contiguity != model.Contiguous {
		t.Fatalf("expected contiguous band, got %v", band.Contiguity)
	}

	var total uint64
	for _, cc := range band.Ccs {
		// 400 MHz over 2 CCs at numerology 3: 200 MHz each, one BWP spanning it.
		if cc.BandwidthHz != 200e6 {
			t.Fatalf("cc %d bandwidth = %d, want 200 MHz", cc.ID, cc.BandwidthHz)
		}
		if len(cc.Bwps) != 1 {
			t.Fatalf("cc %d has %d BWPs, want 1", cc.ID, len(cc.Bwps))
		}
		if cc.Bwps[0].Numerology != 3 {
			t.Fatalf("cc %d numerology = %d, want 3", cc.ID, cc.Bwps[0].Numerology)
		}
		if cc.ActiveBwpID != cc.Bwps[0].ID {
			t.Fatalf("cc %d active BWP id %d does not match its only BWP %d", cc.ID, cc.ActiveBwpID, cc.Bwps[0].ID)
		}
		total += uint64(cc.BandwidthHz)
	}
	if total != 400e6 {
		t.Fatalf("per-CC bandwidths sum to %d, want the full 400 MHz", total)
	}
	if !band.Ccs[0].Primary || band.Ccs[1].Primary {
		t.Fatalf("exactly the first CC must be primary, got %v/%v", band.Ccs[0].Primary, band.Ccs[1].Primary)
	}
}

func TestContiguousCcBuilder_RbCountOutOfRange(t *testing.T) {
	plan := NewCarrierPlan()

	// 10 MHz per CC at numerology 3 is ~6 RBs, far below the minimum of 24.
	if _, err := plan.CreateOperationBandContiguousCc(28e9, 20e6, 2); !errors.Is(err, ErrRbCount) {
		t.Fatalf("expected ErrRbCount for narrow carriers, got %v", err)
	}
}

func TestContiguousCcBuilder_Sub6PicksNumerology2(t *testing.T) {
	plan := NewCarrierPlan()

	band, err := plan.CreateOperationBandContiguousCc(3.5e9, 100e6, 1)
	if err != nil {
		t.Fatalf("CreateOperationBandContiguousCc: %v", err)
	}
	if got := band.Ccs[0].Bwps[0].Numerology; got != 2 {
		t.Fatalf("numerology below 6 GHz = %d, want 2", got)
	}
}

func twoBwpCc(id uint8, lowerHz float64, bwHz uint32) model.ComponentCarrierInfo {
	w := float64(bwHz)
	cc := model.ComponentCarrierInfo{
		ID:                 id,
		LowerFrequencyHz:   lowerHz,
		CentralFrequencyHz: lowerHz + w/2,
		UpperFrequencyHz:   lowerHz + w,
		BandwidthHz:        bwHz,
		ActiveBwpID:        0,
	}
	half := w / 2
	cc.Bwps = []model.BandwidthPartElement{
		{
			ID:                 0,
			Numerology:         3,
			LowerFrequencyHz:   lowerHz,
			CentralFrequencyHz: lowerHz + half/2,
			UpperFrequencyHz:   lowerHz + half,
			BandwidthHz:        uint32(half),
		},
		{
			ID:                 1,
			Numerology:         3,
			LowerFrequencyHz:   lowerHz + half,
			CentralFrequencyHz: lowerHz + half + half/2,
			UpperFrequencyHz:   lowerHz + w,
			BandwidthHz:        uint32(half),
		},
	}
	return cc
}

func TestCreateOperationBand_SortsAndClassifies(t *testing.T) {
	plan := NewCarrierPlan()

	// Supplied out of order with a 50 MHz gap between them.
	high := twoBwpCc(1, 28.25e9, 100e6)
	low := twoBwpCc(0, 28.1e9, 100e6)
	low.Primary = true

	band, err := plan.CreateOperationBand(28.2e9, 400e6, []model.ComponentCarrierInfo{high, low})
	if err != nil {
		t.Fatalf("CreateOperationBand: %v", err)
	}
	if band.Ccs[0].ID != 0 || band.Ccs[1].ID != 1 {
		t.Fatalf("carriers not sorted by frequency: %d, %d", band.Ccs[0].ID, band.Ccs[1].ID)
	}
	if band.Contiguity != model.NonContiguous {
		t.Fatalf("50 MHz gap must classify as non-contiguous, got %v", band.Contiguity)
	}
}

func TestCreateOperationBand_OverlappingCarriersRejected(t *testing.T) {
	plan := NewCarrierPlan()

	a := twoBwpCc(0, 28.0e9, 100e6)
	b := twoBwpCc(1, 28.05e9, 100e6) // overlaps a by 50 MHz

	if _, err := plan.CreateOperationBand(28.05e9, 200e6, []model.ComponentCarrierInfo{a, b}); !errors.Is(err, ErrCarrierOverlap) {
		t.Fatalf("expected ErrCarrierOverlap, got %v", err)
	}
}

func TestValidateOperationBand_Idempotent(t *testing.T) {
	plan := NewCarrierPlan()

	cc := twoBwpCc(0, 28.0e9, 100e6)
	cc.Primary = true
	band, err := plan.CreateOperationBand(28.05e9, 100e6, []model.ComponentCarrierInfo{cc})
	if err != nil {
		t.Fatalf("CreateOperationBand: %v", err)
	}

	first := band.Contiguity
	if err := plan.ValidateOperationBand(&band); err != nil {
		t.Fatalf("first revalidation: %v", err)
	}
	if err := plan.ValidateOperationBand(&band); err != nil {
		t.Fatalf("second revalidation: %v", err)
	}
	if band.Contiguity != first {
		t.Fatalf("contiguity changed across revalidation: %v -> %v", first, band.Contiguity)
	}
}

func TestCheckBwpsInCc_OverlapFailsRegardlessOfOrder(t *testing.T) {
	// 100 MHz carrier with BWP A [0,60) and BWP B [50,90) relative to the
	// carrier's lower edge: the 10 MHz overlap must always be rejected.
	base := 28.0e9
	a := model.BandwidthPartElement{
		ID: 0, Numerology: 3,
		LowerFrequencyHz: base, UpperFrequencyHz: base + 60e6,
		CentralFrequencyHz: base + 30e6, BandwidthHz: 60e6,
	}
	b := model.BandwidthPartElement{
		ID: 1, Numerology: 3,
		LowerFrequencyHz: base + 50e6, UpperFrequencyHz: base + 90e6,
		CentralFrequencyHz: base + 70e6, BandwidthHz: 40e6,
	}

	for _, bwps := range [][]model.BandwidthPartElement{{a, b}, {b, a}} {
		cc := &model.ComponentCarrierInfo{
			ID:                 0,
			LowerFrequencyHz:   base,
			CentralFrequencyHz: base + 50e6,
			UpperFrequencyHz:   base + 100e6,
			BandwidthHz:        100e6,
			ActiveBwpID:        0,
			Bwps:               bwps,
		}
		if err := checkBwpsInCc(cc); !errors.Is(err, ErrBwpOverlap) {
			t.Fatalf("insertion order %v: expected ErrBwpOverlap, got %v", []uint8{bwps[0].ID, bwps[1].ID}, err)
		}
	}
}

func TestCheckBwpsInCc_StructuralRules(t *testing.T) {
	base := 28.0e9
	valid := twoBwpCc(0, base, 100e6)

	t.Run("no BWPs", func(t *testing.T) {
		cc := valid
		cc.Bwps = nil
		if err := checkBwpsInCc(&cc); !errors.Is(err, ErrBwpCount) {
			t.Fatalf("expected ErrBwpCount, got %v", err)
		}
	})

	t.Run("BWP outside carrier", func(t *testing.T) {
		cc := twoBwpCc(0, base, 100e6)
		cc.Bwps[1].UpperFrequencyHz = cc.UpperFrequencyHz + 1e6
		if err := checkBwpsInCc(&cc); !errors.Is(err, ErrBwpOutOfCarrier) {
			t.Fatalf("expected ErrBwpOutOfCarrier, got %v", err)
		}
	})

	t.Run("aggregated BWP bandwidth too wide", func(t *testing.T) {
		cc := twoBwpCc(0, base, 100e6)
		cc.Bwps[0].BandwidthHz = 80e6
		cc.Bwps[1].BandwidthHz = 80e6
		if err := checkBwpsInCc(&cc); !errors.Is(err, ErrAggregatedBwpTooWide) {
			t.Fatalf("expected ErrAggregatedBwpTooWide, got %v", err)
		}
	})

	t.Run("missing active BWP", func(t *testing.T) {
		cc := twoBwpCc(0, base, 100e6)
		cc.ActiveBwpID = 7
		if err := checkBwpsInCc(&cc); !errors.Is(err, ErrActiveBwpMissing) {
			t.Fatalf("expected ErrActiveBwpMissing, got %v", err)
		}
	})

	t.Run("duplicate BWP ids", func(t *testing.T) {
		cc := twoBwpCc(0, base, 100e6)
		cc.Bwps[1].ID = cc.Bwps[0].ID
		cc.ActiveBwpID = cc.Bwps[0].ID
		if err := checkBwpsInCc(&cc); !errors.Is(err, ErrDuplicateBwpID) {
			t.Fatalf("expected ErrDuplicateBwpID, got %v", err)
		}
	})

	t.Run("valid carrier passes", func(t *testing.T) {
		cc := valid
		if err := checkBwpsInCc(&cc); err != nil {
			t.Fatalf("valid carrier rejected: %v", err)
		}
	})
}

func TestValidateAggregatedConfiguration_PrimaryCount(t *testing.T) {
	build := func(primaries int) *CarrierPlan {
		plan := NewCarrierPlan()
		band, err := plan.CreateOperationBandContiguousCc(28e9, 400e6, 2)
		if err != nil {
			t.Fatalf("CreateOperationBandContiguousCc: %v", err)
		}
		for i := range band.Ccs {
			band.Ccs[i].Primary = i < primaries
		}
		if err := plan.AddOperationBand(band); err != nil {
			t.Fatalf("AddOperationBand: %v", err)
		}
		return plan
	}

	if err := build(0).ValidateAggregatedConfiguration(); !errors.Is(err, ErrPrimaryCcCount) {
		t.Fatalf("zero primaries: expected ErrPrimaryCcCount, got %v", err)
	}
	if err := build(2).ValidateAggregatedConfiguration(); !errors.Is(err, ErrPrimaryCcCount) {
		t.Fatalf("two primaries: expected ErrPrimaryCcCount, got %v", err)
	}
	if err := build(1).ValidateAggregatedConfiguration(); err != nil {
		t.Fatalf("one primary: unexpected error %v", err)
	}
}

func TestValidateAggregatedConfiguration_BandOverlap(t *testing.T) {
	plan := NewCarrierPlan()

	b1, err := plan.CreateOperationBandContiguousCc(28e9, 400e6, 1)
	if err != nil {
		t.Fatalf("band 1: %v", err)
	}
	// Same spectrum again: the two bands fully overlap.
	b2, err := plan.CreateOperationBandContiguousCc(28.1e9, 400e6, 1)
	if err != nil {
		t.Fatalf("band 2: %v", err)
	}
	if err := plan.AddOperationBand(b1); err != nil {
		t.Fatalf("AddOperationBand 1: %v", err)
	}
	if err := plan.AddOperationBand(b2); err != nil {
		t.Fatalf("AddOperationBand 2: %v", err)
	}

	if err := plan.ValidateAggregatedConfiguration(); !errors.Is(err, ErrBandOverlap) {
		t.Fatalf("expected ErrBandOverlap, got %v", err)
	}
}

func TestChangeActiveBwp_RoundTrip(t *testing.T) {
	plan := NewCarrierPlan()

	cc := twoBwpCc(0, 28.0e9, 100e6)
	cc.Primary = true
	band, err := plan.CreateOperationBand(28.05e9, 100e6, []model.ComponentCarrierInfo{cc})
	if err != nil {
		t.Fatalf("CreateOperationBand: %v", err)
	}
	if err := plan.AddOperationBand(band); err != nil {
		t.Fatalf("AddOperationBand: %v", err)
	}

	if err := plan.ChangeActiveBwp(band.ID, 0, 1); err != nil {
		t.Fatalf("ChangeActiveBwp: %v", err)
	}
	bwp, err := plan.ActiveBwp()
	if err != nil {
		t.Fatalf("ActiveBwp: %v", err)
	}
	if bwp.ID != 1 {
		t.Fatalf("active BWP round-trip: got id %d, want 1", bwp.ID)
	}

	if err := plan.ChangeActiveBwp(band.ID, 0, 9); !errors.Is(err, ErrActiveBwpMissing) {
		t.Fatalf("expected ErrActiveBwpMissing for unknown BWP, got %v", err)
	}
}

func TestAggregatedBandwidth(t *testing.T) {
	plan := NewCarrierPlan()

	band, err := plan.CreateOperationBandContiguousCc(28e9, 400e6, 2)
	if err != nil {
		t.Fatalf("CreateOperationBandContiguousCc: %v", err)
	}
	if err := plan.AddOperationBand(band); err != nil {
		t.Fatalf("AddOperationBand: %v", err)
	}

	if got := plan.AggregatedBandwidth(); got != 400e6 {
		t.Fatalf("AggregatedBandwidth = %d, want 400 MHz", got)
	}
	bw, err := plan.CarrierBandwidth(band.ID, band.Ccs[1].ID)
	if err != nil {
		t.Fatalf("CarrierBandwidth: %v", err)
	}
	if bw != 200e6 {
		t.Fatalf("CarrierBandwidth = %d, want 200 MHz", bw)
	}
}

func TestContiguousnessState_ConfigurableThreshold(t *testing.T) {
	loose := NewCarrierPlan(WithFreqSeparation(100e6))
	cc0 := twoBwpCc(0, 28.0e9, 100e6)
	cc0.Primary = true
	cc1 := twoBwpCc(1, 28.15e9, 100e6) // 50 MHz gap

	band, err := loose.CreateOperationBand(28.1e9, 400e6, []model.ComponentCarrierInfo{cc0, cc1})
	if err != nil {
		t.Fatalf("CreateOperationBand: %v", err)
	}
	if band.Contiguity != model.Contiguous {
		t.Fatalf("50 MHz gap under a 100 MHz threshold must be contiguous")
	}
	if err := loose.AddOperationBand(band); err != nil {
		t.Fatalf("AddOperationBand: %v", err)
	}
	mode, err := loose.ContiguousnessState(band.ID)
	if err != nil {
		t.Fatalf("ContiguousnessState: %v", err)
	}
	if mode != model.Contiguous {
		t.Fatalf("ContiguousnessState = %v, want contiguous", mode)
	}
}

func TestAddOperationBand_MaxBands(t *testing.T) {
	plan := NewCarrierPlan(WithMaxBands(1))

	b1, err := plan.CreateOperationBandContiguousCc(28e9, 400e6, 1)
	if err != nil {
		t.Fatalf("band 1: %v", err)
	}
	if err := plan.AddOperationBand(b1); err != nil {
		t.Fatalf("AddOperationBand: %v", err)
	}
	if err := plan.AddOperationBand(b1); !errors.Is(err, ErrTooManyBands) {
		t.Fatalf("expected ErrTooManyBands, got %v", err)
	}
}
