package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/mmwave-simulator/timectrl"
)

func testHelper(t *testing.T, opts ...HelperOption) *Helper {
	t.Helper()
	clock := timectrl.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewHelper(timectrl.NewEventScheduler(clock), opts...)
}

func testBwpRep(t *testing.T, id uint8) *BandwidthPartRepresentation {
	t.Helper()
	cfg, err := NewPhyMacConfig(3, 28e9, 200e6, 8)
	if err != nil {
		t.Fatalf("NewPhyMacConfig: %v", err)
	}
	return &BandwidthPartRepresentation{ID: id, Config: cfg}
}

func TestImsiAllocator_Cap(t *testing.T) {
	a := NewImsiAllocator()

	first, err := a.Allocate()
	if err != nil || first != 1 {
		t.Fatalf("first IMSI = %d, %v; want 1, nil", first, err)
	}

	a.next = maxImsi - 1
	if _, err := a.Allocate(); err != nil {
		t.Fatalf("penultimate IMSI: %v", err)
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrImsiExhausted) {
		t.Fatalf("expected ErrImsiExhausted at cap, got %v", err)
	}
}

func TestCellIdAllocator_Cap(t *testing.T) {
	a := NewCellIdAllocator()

	first, err := a.Allocate()
	if err != nil || first != 1 {
		t.Fatalf("first cell id = %d, %v; want 1, nil", first, err)
	}

	a.next = maxCellID - 1
	if id, err := a.Allocate(); err != nil || id != maxCellID {
		t.Fatalf("last cell id = %d, %v; want %d, nil", id, err, maxCellID)
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrCellIdExhausted) {
		t.Fatalf("expected ErrCellIdExhausted at cap, got %v", err)
	}
}

func TestBandwidthPartRepresentation_PartialWiringRejected(t *testing.T) {
	rep := testBwpRep(t, 0)
	rep.Propagation = NewFixedLossPropagation(100)

	if err := rep.Initialize(); !errors.Is(err, ErrPartialBwpWiring) {
		t.Fatalf("one of three collaborators: expected ErrPartialBwpWiring, got %v", err)
	}

	// Full wiring and empty wiring both initialize.
	full := testBwpRep(t, 1)
	full.Propagation = NewFixedLossPropagation(100)
	full.Spectrum = NewFlatSpectrumPropagation()
	full.Channel = NewSimpleSpectrumChannel(full.Propagation, full.Spectrum)
	if err := full.Initialize(); err != nil {
		t.Fatalf("full wiring rejected: %v", err)
	}

	empty := testBwpRep(t, 2)
	if err := empty.Initialize(); err != nil {
		t.Fatalf("empty wiring rejected: %v", err)
	}
	if empty.Channel == nil || empty.Propagation == nil || empty.Spectrum == nil {
		t.Fatalf("empty wiring must construct all three collaborators")
	}

	// Missing PHY/MAC config is a setup defect.
	noCfg := &BandwidthPartRepresentation{ID: 3}
	if err := noCfg.Initialize(); !errors.Is(err, ErrNilPhyMacConfig) {
		t.Fatalf("expected ErrNilPhyMacConfig, got %v", err)
	}
}

func TestHelper_InstallEnforcesCcCount(t *testing.T) {
	h := testHelper(t)
	if _, err := h.InstallUeDevice(1); !errors.Is(err, ErrNoBwpConfigured) {
		t.Fatalf("expected ErrNoBwpConfigured, got %v", err)
	}

	if err := h.AddBandwidthPart(testBwpRep(t, 0)); err != nil {
		t.Fatalf("AddBandwidthPart: %v", err)
	}
	if err := h.AddBandwidthPart(testBwpRep(t, 1)); err != nil {
		t.Fatalf("AddBandwidthPart: %v", err)
	}
	if err := h.AddBandwidthPart(testBwpRep(t, 1)); !errors.Is(err, ErrDuplicateBwpConf) {
		t.Fatalf("expected ErrDuplicateBwpConf, got %v", err)
	}

	if _, err := h.InstallGnbDevice(1); !errors.Is(err, ErrCcCountMismatch) {
		t.Fatalf("expected ErrCcCountMismatch for 1 CC over 2 BWPs, got %v", err)
	}

	gnb, err := h.InstallGnbDevice(2)
	if err != nil {
		t.Fatalf("InstallGnbDevice: %v", err)
	}
	if gnb.CcCount() != 2 {
		t.Fatalf("gnb CC count = %d, want 2", gnb.CcCount())
	}
	if gnb.CellID == 0 {
		t.Fatalf("gnb must get a cell id")
	}

	ue, err := h.InstallUeDevice(2)
	if err != nil {
		t.Fatalf("InstallUeDevice: %v", err)
	}
	if ue.CellID != 0 {
		t.Fatalf("unattached UE must have no cell id, got %d", ue.CellID)
	}
	if ue.Imsi == gnb.Imsi {
		t.Fatalf("devices must get distinct IMSIs")
	}
}

func TestHelper_CarrierOrderFollowsBwpIds(t *testing.T) {
	h := testHelper(t)
	// Registered out of order: carrier index must follow ascending BWP id.
	if err := h.AddBandwidthPart(testBwpRep(t, 4)); err != nil {
		t.Fatalf("AddBandwidthPart: %v", err)
	}
	if err := h.AddBandwidthPart(testBwpRep(t, 1)); err != nil {
		t.Fatalf("AddBandwidthPart: %v", err)
	}

	dev, err := h.InstallUeDevice(2)
	if err != nil {
		t.Fatalf("InstallUeDevice: %v", err)
	}
	if id, _ := dev.BwpID(0); id != 1 {
		t.Fatalf("primary carrier BWP id = %d, want 1", id)
	}
	if id, _ := dev.BwpID(1); id != 4 {
		t.Fatalf("secondary carrier BWP id = %d, want 4", id)
	}
	if _, err := dev.Phy(2); !errors.Is(err, ErrPhyIndexOutOfRange) {
		t.Fatalf("expected ErrPhyIndexOutOfRange, got %v", err)
	}
}

func TestHelper_AttachWiresIdentity(t *testing.T) {
	h := testHelper(t)
	if err := h.AddBandwidthPart(testBwpRep(t, 0)); err != nil {
		t.Fatalf("AddBandwidthPart: %v", err)
	}

	gnb, err := h.InstallGnbDevice(1)
	if err != nil {
		t.Fatalf("InstallGnbDevice: %v", err)
	}
	ue, err := h.InstallUeDevice(1)
	if err != nil {
		t.Fatalf("InstallUeDevice: %v", err)
	}

	if err := h.AttachUeToGnb(ue, gnb, 42); err != nil {
		t.Fatalf("AttachUeToGnb: %v", err)
	}
	phy, err := ue.PrimaryPhy()
	if err != nil {
		t.Fatalf("PrimaryPhy: %v", err)
	}
	if phy.CellID != gnb.CellID || phy.Rnti != 42 {
		t.Fatalf("UE PHY identity = cell %d rnti %d, want cell %d rnti 42", phy.CellID, phy.Rnti, gnb.CellID)
	}
}
