package model

// ExpectedTb describes a transport block the MAC has announced for the
// current or upcoming slot. It must be registered with the spectrum PHY
// before the matching reception (or transmission) event is processed;
// receptions without a registered entry are not attributed to any
// transport block.
type ExpectedTb struct {
	Ndi           uint8
	TbSize        uint32
	Mcs           uint8
	RbBitmap      []int
	HarqProcessID uint8
	Rv            uint8
	Downlink      bool
	SymStart      uint8
	NumSym        uint8
}

// DlHarqInfo reports the decode outcome of a downlink transport block
// back to the transmitting MAC.
type DlHarqInfo struct {
	Rnti          uint16
	HarqProcessID uint8
	Ack           bool
	NumRetx       uint8
}

// UlHarqInfo is the uplink counterpart of DlHarqInfo.
type UlHarqInfo struct {
	Rnti          uint16
	HarqProcessID uint8
	Ack           bool
	NumRetx       uint8
}
