package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/mmwave-simulator/internal/logging"
	"github.com/signalsfoundry/mmwave-simulator/timectrl"
)

var (
	ErrImsiExhausted      = errors.New("IMSI space exhausted")
	ErrCellIdExhausted    = errors.New("cell id space exhausted")
	ErrDuplicateBwpConf   = errors.New("bandwidth part id already configured")
	ErrCcCountMismatch    = errors.New("configured CC count does not match bandwidth part count")
	ErrNoBwpConfigured    = errors.New("no bandwidth part configured")
	ErrUnknownCamKind     = errors.New("unknown channel access manager kind")
	ErrUnknownRrcKind     = errors.New("unknown RRC protocol kind")
	ErrPhyIndexOutOfRange = errors.New("carrier index out of range")
)

const (
	maxImsi   = 0xFFFFFFFF
	maxCellID = 0xFFFF
)

// ImsiAllocator hands out device identities for one simulation run.
// Scoped allocators replace global counters so runs cannot leak state
// into each other.
type ImsiAllocator struct {
	next uint64
}

func NewImsiAllocator() *ImsiAllocator { return &ImsiAllocator{} }

// Allocate returns the next IMSI, failing when the 32-bit space is used up.
func (a *ImsiAllocator) Allocate() (uint64, error) {
	if a.next >= maxImsi {
		return 0, ErrImsiExhausted
	}
	a.next++
	return a.next, nil
}

// CellIdAllocator hands out cell identities, capped at 16 bits.
type CellIdAllocator struct {
	next uint32
}

func NewCellIdAllocator() *CellIdAllocator { return &CellIdAllocator{} }

func (a *CellIdAllocator) Allocate() (uint16, error) {
	if a.next >= maxCellID {
		return 0, ErrCellIdExhausted
	}
	a.next++
	return uint16(a.next), nil
}

// ChannelAccessManagerKind is the closed set of channel access manager
// variants a device can be wired with. The variant is resolved once at
// construction; there is no per-call dispatch.
type ChannelAccessManagerKind int

const (
	// CamAlwaysOn grants every access request immediately.
	CamAlwaysOn ChannelAccessManagerKind = iota
	// CamListenBeforeTalk defers access while the PHY senses CCA busy.
	CamListenBeforeTalk
)

func (k ChannelAccessManagerKind) String() string {
	switch k {
	case CamAlwaysOn:
		return "always-on"
	case CamListenBeforeTalk:
		return "listen-before-talk"
	default:
		return "unknown"
	}
}

// RrcProtocolKind selects how RRC signaling is modeled: ideal (out of
// band, never lost) or real (over the simulated radio).
type RrcProtocolKind int

const (
	RrcIdeal RrcProtocolKind = iota
	RrcReal
)

func (k RrcProtocolKind) String() string {
	switch k {
	case RrcIdeal:
		return "ideal"
	case RrcReal:
		return "real"
	default:
		return "unknown"
	}
}

// DeviceKind distinguishes base stations from terminals.
type DeviceKind int

const (
	DeviceGnb DeviceKind = iota
	DeviceUe
)

// Device is one radio endpoint: a gNB cell or a UE. Its carrier map holds
// one spectrum PHY per configured bandwidth part, indexed by carrier; the
// component carrier at index 0 is the primary.
type Device struct {
	Kind   DeviceKind
	Imsi   uint64
	CellID uint16

	Cam ChannelAccessManagerKind
	Rrc RrcProtocolKind

	phys   []*SpectrumPhy
	bwpIDs []uint8
}

// Phy returns the spectrum PHY for the given carrier index.
func (d *Device) Phy(index int) (*SpectrumPhy, error) {
	if index < 0 || index >= len(d.phys) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPhyIndexOutOfRange, index, len(d.phys))
	}
	return d.phys[index], nil
}

// PrimaryPhy returns the PHY of the primary carrier.
func (d *Device) PrimaryPhy() (*SpectrumPhy, error) { return d.Phy(0) }

// CcCount reports the device's configured carrier count.
func (d *Device) CcCount() int { return len(d.phys) }

// BwpID returns the bandwidth part id bound to a carrier index.
func (d *Device) BwpID(index int) (uint8, error) {
	if index < 0 || index >= len(d.bwpIDs) {
		return 0, fmt.Errorf("%w: %d of %d", ErrPhyIndexOutOfRange, index, len(d.bwpIDs))
	}
	return d.bwpIDs[index], nil
}

// SetPosition moves every PHY of the device together.
func (d *Device) SetPosition(pos Position) {
	for _, phy := range d.phys {
		phy.SetPosition(pos)
	}
}

// HelperOption customises a Helper.
type HelperOption func(*Helper)

// WithHelperLogger attaches a structured logger.
func WithHelperLogger(log logging.Logger) HelperOption {
	return func(h *Helper) { h.log = log }
}

// WithHelperMetrics attaches a PHY metrics recorder propagated to every
// installed PHY.
func WithHelperMetrics(m PhyMetricsRecorder) HelperOption {
	return func(h *Helper) { h.metrics = m }
}

// WithCam selects the channel access manager variant for installed devices.
func WithCam(kind ChannelAccessManagerKind) HelperOption {
	return func(h *Helper) { h.cam = kind }
}

// WithRrc selects the RRC protocol variant for installed devices.
func WithRrc(kind RrcProtocolKind) HelperOption {
	return func(h *Helper) { h.rrc = kind }
}

// WithNoisePower sets the per-RB thermal noise power in watts for
// installed PHYs.
func WithNoisePower(w float64) HelperOption {
	return func(h *Helper) { h.noisePowerW = w }
}

// Helper assembles devices from the bandwidth part configuration: one
// spectrum PHY per BWP per device, all PHYs of one BWP sharing that BWP's
// channel collaborators. The configured carrier count of every installed
// device must equal the number of registered bandwidth parts.
type Helper struct {
	sched   timectrl.EventScheduler
	log     logging.Logger
	metrics PhyMetricsRecorder

	cam         ChannelAccessManagerKind
	rrc         RrcProtocolKind
	noisePowerW float64

	bwpConfs map[uint8]*BandwidthPartRepresentation
	imsis    *ImsiAllocator
	cellIDs  *CellIdAllocator
}

// NewHelper creates a helper with run-scoped identity allocators.
func NewHelper(sched timectrl.EventScheduler, opts ...HelperOption) *Helper {
	h := &Helper{
		sched:       sched,
		log:         logging.Noop(),
		cam:         CamListenBeforeTalk,
		rrc:         RrcIdeal,
		noisePowerW: 1e-9,
		bwpConfs:    make(map[uint8]*BandwidthPartRepresentation),
		imsis:       NewImsiAllocator(),
		cellIDs:     NewCellIdAllocator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddBandwidthPart registers one bandwidth part binding. The
// representation is initialized here, so partial channel wiring fails at
// registration time. Duplicate ids are rejected.
func (h *Helper) AddBandwidthPart(rep *BandwidthPartRepresentation) error {
	if _, exists := h.bwpConfs[rep.ID]; exists {
		return fmt.Errorf("%w: bwp %d", ErrDuplicateBwpConf, rep.ID)
	}
	if err := rep.Initialize(); err != nil {
		return err
	}
	h.bwpConfs[rep.ID] = rep
	return nil
}

// InstallGnbDevice builds a base station with one PHY per registered
// bandwidth part. ccCount must equal the registered BWP count.
func (h *Helper) InstallGnbDevice(ccCount int) (*Device, error) {
	return h.install(DeviceGnb, ccCount)
}

// InstallUeDevice builds a terminal with one PHY per registered bandwidth
// part. ccCount must equal the registered BWP count.
func (h *Helper) InstallUeDevice(ccCount int) (*Device, error) {
	return h.install(DeviceUe, ccCount)
}

func (h *Helper) install(kind DeviceKind, ccCount int) (*Device, error) {
	if len(h.bwpConfs) == 0 {
		return nil, ErrNoBwpConfigured
	}
	if ccCount != len(h.bwpConfs) {
		return nil, fmt.Errorf("%w: %d CCs for %d bandwidth parts", ErrCcCountMismatch, ccCount, len(h.bwpConfs))
	}
	switch h.cam {
	case CamAlwaysOn, CamListenBeforeTalk:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCamKind, h.cam)
	}
	switch h.rrc {
	case RrcIdeal, RrcReal:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRrcKind, h.rrc)
	}

	dev := &Device{Kind: kind, Cam: h.cam, Rrc: h.rrc}
	imsi, err := h.imsis.Allocate()
	if err != nil {
		return nil, err
	}
	dev.Imsi = imsi
	if kind == DeviceGnb {
		cellID, err := h.cellIDs.Allocate()
		if err != nil {
			return nil, err
		}
		dev.CellID = cellID
	}

	// Carrier index follows ascending BWP id; index 0 is the primary CC.
	ids := make([]uint8, 0, len(h.bwpConfs))
	for id := range h.bwpConfs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		conf := h.bwpConfs[id]
		phy := NewSpectrumPhy(conf.Config, conf.Channel, h.sched, h.noisePowerW,
			WithPhyLogger(h.log.With(
				logging.Int("bwp_id", int(id)),
				logging.Any("imsi", dev.Imsi),
			)),
			WithPhyMetrics(h.metrics),
		)
		phy.CellID = dev.CellID
		conf.Spectrum.RegisterAntenna(phy, 1)
		dev.phys = append(dev.phys, phy)
		dev.bwpIDs = append(dev.bwpIDs, id)
	}

	h.log.Info(context.Background(), "device installed",
		logging.String("kind", map[DeviceKind]string{DeviceGnb: "gnb", DeviceUe: "ue"}[kind]),
		logging.Any("imsi", dev.Imsi),
		logging.Int("ccs", dev.CcCount()),
		logging.String("cam", h.cam.String()),
		logging.String("rrc", h.rrc.String()),
	)
	return dev, nil
}

// AttachUeToGnb gives the UE the gNB's cell identity and an RNTI on every
// carrier, completing the wiring phase for that pair.
func (h *Helper) AttachUeToGnb(ue, gnb *Device, rnti uint16) error {
	if ue.CcCount() != gnb.CcCount() {
		return fmt.Errorf("%w: ue has %d CCs, gnb has %d", ErrCcCountMismatch, ue.CcCount(), gnb.CcCount())
	}
	for i := range ue.phys {
		ue.phys[i].CellID = gnb.CellID
		ue.phys[i].Rnti = rnti
		gnb.phys[i].Rnti = rnti
	}
	h.log.Info(context.Background(), "UE attached",
		logging.Any("ue_imsi", ue.Imsi),
		logging.Any("cell_id", gnb.CellID),
		logging.Uint16("rnti", rnti),
	)
	return nil
}
