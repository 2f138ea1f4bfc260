package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/mmwave-simulator/model"
)

// SignalKind discriminates the frame class a signal carries; data and
// control receptions drive different PHY states.
type SignalKind int

const (
	SignalData SignalKind = iota
	SignalDlCtrl
	SignalUlCtrl
)

func (k SignalKind) String() string {
	switch k {
	case SignalData:
		return "data"
	case SignalDlCtrl:
		return "dl-ctrl"
	case SignalUlCtrl:
		return "ul-ctrl"
	default:
		return "unknown"
	}
}

// SignalParams describes one transmission as delivered by the channel:
// per-RB received power, on-air duration, the frame payload, and the RNTI
// attribution the receiver uses to match expected transport blocks.
type SignalParams struct {
	Kind        SignalKind
	PowerPerRbW []float64
	Duration    time.Duration

	Rnti     uint16
	CellID   uint16
	Burst    *model.PacketBurst
	CtrlMsgs []model.ControlMessage
}

// Position is a cartesian device location in meters.
type Position struct {
	X, Y, Z float64
}

// PositionProvider exposes a device position to the propagation models.
type PositionProvider interface {
	Position() Position
}

// SpectrumReceiver is the channel-facing side of a spectrum PHY.
type SpectrumReceiver interface {
	PositionProvider
	StartRx(params SignalParams)
}

// SpectrumChannel fans transmissions out to the PHYs attached to one
// bandwidth part. Attachment happens during the wiring phase only.
type SpectrumChannel interface {
	AddRx(rx SpectrumReceiver)
	StartTx(sender SpectrumReceiver, params SignalParams)
}

// PropagationModel computes the slow path gain between two positions.
type PropagationModel interface {
	GainDb(tx, rx Position) float64
}

// SpectrumPropagationModel applies frequency-selective (fast fading)
// scaling per resource block, given the antenna registrations collected
// during wiring.
type SpectrumPropagationModel interface {
	RegisterAntenna(device PositionProvider, ports int)
	ApplyFading(powerPerRbW []float64, tx, rx PositionProvider) []float64
}

// FixedLossPropagation attenuates every link by a constant number of dB.
type FixedLossPropagation struct {
	LossDb float64
}

func NewFixedLossPropagation(lossDb float64) *FixedLossPropagation {
	return &FixedLossPropagation{LossDb: lossDb}
}

func (p *FixedLossPropagation) GainDb(tx, rx Position) float64 { return -p.LossDb }

// FlatSpectrumPropagation passes the per-RB power through unchanged. It
// still collects antenna registrations so the wiring layer can be
// exercised without a full fading model.
type FlatSpectrumPropagation struct {
	antennaPorts map[PositionProvider]int
}

func NewFlatSpectrumPropagation() *FlatSpectrumPropagation {
	return &FlatSpectrumPropagation{antennaPorts: make(map[PositionProvider]int)}
}

func (p *FlatSpectrumPropagation) RegisterAntenna(device PositionProvider, ports int) {
	p.antennaPorts[device] = ports
}

func (p *FlatSpectrumPropagation) ApplyFading(powerPerRbW []float64, tx, rx PositionProvider) []float64 {
	return powerPerRbW
}

// SimpleSpectrumChannel delivers every transmission to all attached
// receivers except the sender, scaling the per-RB power through the
// propagation models.
type SimpleSpectrumChannel struct {
	propagation PropagationModel
	spectrum    SpectrumPropagationModel

	receivers []SpectrumReceiver
}

func NewSimpleSpectrumChannel(propagation PropagationModel, spectrum SpectrumPropagationModel) *SimpleSpectrumChannel {
	return &SimpleSpectrumChannel{
		propagation: propagation,
		spectrum:    spectrum,
	}
}

func (c *SimpleSpectrumChannel) AddRx(rx SpectrumReceiver) {
	c.receivers = append(c.receivers, rx)
}

func (c *SimpleSpectrumChannel) StartTx(sender SpectrumReceiver, params SignalParams) {
	for _, rx := range c.receivers {
		if rx == sender {
			continue
		}

		scaled := params.PowerPerRbW
		if c.propagation != nil {
			gain := math.Pow(10, c.propagation.GainDb(sender.Position(), rx.Position())/10)
			scaled = make([]float64, len(params.PowerPerRbW))
			for i, p := range params.PowerPerRbW {
				scaled[i] = p * gain
			}
		}
		if c.spectrum != nil {
			scaled = c.spectrum.ApplyFading(scaled, sender, rx)
		}

		delivered := params
		delivered.PowerPerRbW = scaled
		rx.StartRx(delivered)
	}
}
