package model

import (
	"errors"
	"testing"
)

func TestComponentCarrierInfo_AddBwpCap(t *testing.T) {
	cc := ComponentCarrierInfo{ID: 0}
	for i := 0; i < MaxBwpsPerCc; i++ {
		if err := cc.AddBwp(BandwidthPartElement{ID: uint8(i)}); err != nil {
			t.Fatalf("AddBwp %d: %v", i, err)
		}
	}
	err := cc.AddBwp(BandwidthPartElement{ID: MaxBwpsPerCc})
	if !errors.Is(err, ErrTooManyBwps) {
		t.Fatalf("expected ErrTooManyBwps after %d BWPs, got %v", MaxBwpsPerCc, err)
	}
}

func TestOperationBand_AddCcCap(t *testing.T) {
	band := OperationBand{ID: 0}
	for i := 0; i < MaxCcIntraBand; i++ {
		if err := band.AddCc(ComponentCarrierInfo{ID: uint8(i)}); err != nil {
			t.Fatalf("AddCc %d: %v", i, err)
		}
	}
	err := band.AddCc(ComponentCarrierInfo{ID: MaxCcIntraBand})
	if !errors.Is(err, ErrTooManyCarriers) {
		t.Fatalf("expected ErrTooManyCarriers, got %v", err)
	}
}

func TestComponentCarrierInfo_ActiveBwpLookup(t *testing.T) {
	cc := ComponentCarrierInfo{ID: 1, ActiveBwpID: 2}
	if got := cc.ActiveBwp(); got != nil {
		t.Fatalf("expected nil active BWP on empty CC, got %+v", got)
	}
	cc.Bwps = []BandwidthPartElement{{ID: 1}, {ID: 2, Numerology: 3}}
	got := cc.ActiveBwp()
	if got == nil || got.ID != 2 || got.Numerology != 3 {
		t.Fatalf("expected BWP 2, got %+v", got)
	}
}

func TestPacketBurst_Size(t *testing.T) {
	pb := &PacketBurst{Packets: []Packet{
		{Bytes: make([]byte, 100)},
		{Bytes: make([]byte, 28)},
	}}
	if pb.Size() != 128 {
		t.Fatalf("expected burst size 128, got %d", pb.Size())
	}
}
