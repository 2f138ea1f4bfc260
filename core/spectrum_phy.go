package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/mmwave-simulator/internal/logging"
	"github.com/signalsfoundry/mmwave-simulator/model"
	"github.com/signalsfoundry/mmwave-simulator/timectrl"
)

var (
	ErrTxWhileReceiving = errors.New("transmission requested while receiving")
	ErrTxWhileSending   = errors.New("transmission requested while already transmitting")
	ErrNoChannel        = errors.New("spectrum PHY has no channel attached")
	ErrBadPhyState      = errors.New("spectrum PHY event in unexpected state")
)

// PhyState is the spectrum PHY activity state.
type PhyState int

const (
	Idle PhyState = iota
	Tx
	RxData
	RxDlCtrl
	RxUlCtrl
	CcaBusy
)

func (s PhyState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Tx:
		return "TX"
	case RxData:
		return "RX_DATA"
	case RxDlCtrl:
		return "RX_DL_CTRL"
	case RxUlCtrl:
		return "RX_UL_CTRL"
	case CcaBusy:
		return "CCA_BUSY"
	default:
		return "UNKNOWN"
	}
}

// PhyMetricsRecorder receives PHY activity updates. Implemented by
// observability.PhyCollector; a nil recorder disables metrics.
type PhyMetricsRecorder interface {
	RecordStateTransition(from, to string)
	RecordTbOutcome(corrupted bool)
	RecordCcaBusy()
	RecordOccupancy(activity string, d time.Duration)
}

// transportBlockInfo wraps an expected transport block with the reception
// outcome accumulated for it. Entries live from AddExpectedTb until the
// reception that consumes them completes.
type transportBlockInfo struct {
	expected model.ExpectedTb

	corrupted        bool
	harqFeedbackSent bool
	output           ErrorModelOutput
	sinrAvg          float64
	sinrMin          float64
}

type rxFrame struct {
	rnti  uint16
	burst *model.PacketBurst
}

// SpectrumPhy is the per-bandwidth-part, per-device transmitter/receiver
// state machine. It tracks channel occupancy, aggregates concurrent
// receptions into one logical window, performs CCA energy sensing, and
// evaluates expected transport blocks at reception end.
//
// All methods run on the single simulation event thread; the PHY owns its
// transport-block map and state exclusively and holds only non-owning
// references to the shared channel collaborators.
type SpectrumPhy struct {
	cfg   *PhyMacConfig
	sched timectrl.EventScheduler
	log   logging.Logger

	channel      SpectrumChannel
	interference *InterferenceAccumulator
	errorModel   ErrorModel
	harq         *HarqPhy
	metrics      PhyMetricsRecorder

	Rnti   uint16
	CellID uint16

	pos   Position
	state PhyState

	txPowerPerRbW []float64
	ccaThresholdW float64

	expectedTbs   map[uint16]*transportBlockInfo
	sinrPerceived []float64

	// One logical reception window: the first reception fixes its start
	// and duration; later or shorter concurrent signals are interference.
	firstRxStart    time.Time
	firstRxDuration time.Duration
	rxFrames        []rxFrame
	rxCtrlMsgs      []model.ControlMessage

	busyTimeEnds time.Time
	busyCheckID  timectrl.EventID

	phyRxDataEndOk    func(*model.PacketBurst)
	phyRxCtrlEndOk    func([]model.ControlMessage)
	phyDlHarqFeedback func(model.DlHarqInfo)
	phyUlHarqFeedback func(model.UlHarqInfo)
}

// PhyOption customises a SpectrumPhy.
type PhyOption func(*SpectrumPhy)

// WithPhyLogger attaches a structured logger.
func WithPhyLogger(log logging.Logger) PhyOption {
	return func(p *SpectrumPhy) { p.log = log }
}

// WithPhyMetrics attaches a metrics recorder.
func WithPhyMetrics(m PhyMetricsRecorder) PhyOption {
	return func(p *SpectrumPhy) { p.metrics = m }
}

// WithErrorModel overrides the default MCS-threshold error model.
func WithErrorModel(em ErrorModel) PhyOption {
	return func(p *SpectrumPhy) { p.errorModel = em }
}

// NewSpectrumPhy builds a PHY for one bandwidth part. The interference
// accumulator's SINR output feeds UpdateSinrPerceived through a chunk
// processor registered here.
func NewSpectrumPhy(cfg *PhyMacConfig, channel SpectrumChannel, sched timectrl.EventScheduler, noisePowerW float64, opts ...PhyOption) *SpectrumPhy {
	p := &SpectrumPhy{
		cfg:          cfg,
		sched:        sched,
		log:          logging.Noop(),
		channel:      channel,
		interference: NewInterferenceAccumulator(cfg.NumRbs, noisePowerW),
		errorModel:   NewMcsThresholdErrorModel(),
		harq:         NewHarqPhy(cfg.NumHarqProcesses),
		state:        Idle,
		expectedTbs:  make(map[uint16]*transportBlockInfo),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.interference.AddSinrProcessor(p.UpdateSinrPerceived)
	p.SetTxPower(23) // dBm, overridden by the wiring layer
	p.SetCcaMode1Threshold(-62)
	if channel != nil {
		channel.AddRx(p)
	}
	return p
}

// SetPosition places the device for the propagation models.
func (p *SpectrumPhy) SetPosition(pos Position) { p.pos = pos }

// Position implements PositionProvider.
func (p *SpectrumPhy) Position() Position { return p.pos }

// State returns the current activity state.
func (p *SpectrumPhy) State() PhyState { return p.state }

// Harq exposes the PHY's HARQ bookkeeping to the wiring layer.
func (p *SpectrumPhy) Harq() *HarqPhy { return p.harq }

// Interference exposes the accumulator so chunk processors can be added.
func (p *SpectrumPhy) Interference() *InterferenceAccumulator { return p.interference }

// SetTxPower spreads the given total transmit power evenly over the
// configured resource blocks.
func (p *SpectrumPhy) SetTxPower(totalDbm float64) {
	totalW := math.Pow(10, totalDbm/10) / 1000
	p.txPowerPerRbW = make([]float64, p.cfg.NumRbs)
	for i := range p.txPowerPerRbW {
		p.txPowerPerRbW[i] = totalW / float64(p.cfg.NumRbs)
	}
}

// SetCcaMode1Threshold sets the energy-detection threshold in dBm; it is
// stored in watts.
func (p *SpectrumPhy) SetCcaMode1Threshold(dbm float64) {
	p.ccaThresholdW = math.Pow(10, dbm/10) / 1000
}

// CcaMode1ThresholdW returns the threshold in watts.
func (p *SpectrumPhy) CcaMode1ThresholdW() float64 { return p.ccaThresholdW }

func (p *SpectrumPhy) SetPhyRxDataEndOkCallback(cb func(*model.PacketBurst)) { p.phyRxDataEndOk = cb }
func (p *SpectrumPhy) SetPhyRxCtrlEndOkCallback(cb func([]model.ControlMessage)) {
	p.phyRxCtrlEndOk = cb
}
func (p *SpectrumPhy) SetPhyDlHarqFeedbackCallback(cb func(model.DlHarqInfo)) {
	p.phyDlHarqFeedback = cb
}
func (p *SpectrumPhy) SetPhyUlHarqFeedbackCallback(cb func(model.UlHarqInfo)) {
	p.phyUlHarqFeedback = cb
}

// AddExpectedTb registers the transport block the MAC expects for rnti in
// the upcoming slot. A registration for the same RNTI and HARQ process
// supersedes the previous one (retransmission); a new-data indication
// clears the process's combining history.
func (p *SpectrumPhy) AddExpectedTb(rnti uint16, ndi uint8, tbSize uint32, mcs uint8, rbBitmap []int, harqID, rv uint8, downlink bool, symStart, numSym uint8) {
	if ndi == 1 {
		p.harq.ResetProcess(rnti, harqID)
	}
	if prev, ok := p.expectedTbs[rnti]; ok {
		p.log.Debug(context.Background(), "expected TB superseded",
			logging.Uint16("rnti", rnti),
			logging.Int("old_harq_process", int(prev.expected.HarqProcessID)),
			logging.Int("new_harq_process", int(harqID)),
		)
	}
	p.expectedTbs[rnti] = &transportBlockInfo{
		expected: model.ExpectedTb{
			Ndi:           ndi,
			TbSize:        tbSize,
			Mcs:           mcs,
			RbBitmap:      rbBitmap,
			HarqProcessID: harqID,
			Rv:            rv,
			Downlink:      downlink,
			SymStart:      symStart,
			NumSym:        numSym,
		},
	}
}

// UpdateSinrPerceived stores the finalized per-RB SINR of the reception
// window that just ended.
func (p *SpectrumPhy) UpdateSinrPerceived(sinrPerRb []float64) {
	p.sinrPerceived = sinrPerRb
}

// StartTxDataFrames transmits a data frame burst. Returns false when the
// PHY cannot transmit: attempting to transmit during an active reception
// or transmission is a protocol error.
func (p *SpectrumPhy) StartTxDataFrames(burst *model.PacketBurst, duration time.Duration) (bool, error) {
	return p.startTx(SignalParams{
		Kind:     SignalData,
		Duration: duration,
		Rnti:     p.Rnti,
		CellID:   p.CellID,
		Burst:    burst,
	})
}

// StartTxDlControlFrames transmits a downlink control frame.
func (p *SpectrumPhy) StartTxDlControlFrames(msgs []model.ControlMessage, duration time.Duration) (bool, error) {
	return p.startTx(SignalParams{
		Kind:     SignalDlCtrl,
		Duration: duration,
		Rnti:     p.Rnti,
		CellID:   p.CellID,
		CtrlMsgs: msgs,
	})
}

// StartTxUlControlFrames transmits an uplink control frame.
func (p *SpectrumPhy) StartTxUlControlFrames(msgs []model.ControlMessage, duration time.Duration) (bool, error) {
	return p.startTx(SignalParams{
		Kind:     SignalUlCtrl,
		Duration: duration,
		Rnti:     p.Rnti,
		CellID:   p.CellID,
		CtrlMsgs: msgs,
	})
}

func (p *SpectrumPhy) startTx(params SignalParams) (bool, error) {
	switch p.state {
	case RxData, RxDlCtrl, RxUlCtrl:
		return false, fmt.Errorf("%w: state %s", ErrTxWhileReceiving, p.state)
	case Tx:
		return false, fmt.Errorf("%w", ErrTxWhileSending)
	}
	if p.channel == nil {
		return false, ErrNoChannel
	}

	now := p.sched.Now()
	p.changeState(Tx)
	params.PowerPerRbW = p.txPowerPerRbW
	p.channel.StartTx(p, params)

	duration := params.Duration
	p.sched.Schedule(now.Add(duration), func() { p.endTx(duration) })
	return true, nil
}

func (p *SpectrumPhy) endTx(duration time.Duration) {
	if p.state != Tx {
		p.log.Error(context.Background(), "EndTx in unexpected state",
			logging.String("state", p.state.String()))
		return
	}
	if p.metrics != nil {
		p.metrics.RecordOccupancy("tx", duration)
	}
	p.maybeCcaBusy()
}

// StartRx implements SpectrumReceiver: the channel delivers every signal
// on this bandwidth part here, and the frame kind routes it.
func (p *SpectrumPhy) StartRx(params SignalParams) {
	switch params.Kind {
	case SignalData:
		p.startRxData(params)
	case SignalDlCtrl, SignalUlCtrl:
		p.startRxCtrl(params)
	}
}

func (p *SpectrumPhy) startRxData(params SignalParams) {
	now := p.sched.Now()

	switch p.state {
	case Tx:
		// Energy arriving while transmitting is interference only; it
		// still drives the CCA decision at transmission end.
		p.interference.AddSignal(params.PowerPerRbW, params.Duration, now)
		return

	case RxData:
		if now.Equal(p.firstRxStart) && params.Duration == p.firstRxDuration {
			// Co-timed signal joins the open reception window.
			p.interference.AddToRx(params.PowerPerRbW, now)
			p.rxFrames = append(p.rxFrames, rxFrame{rnti: params.Rnti, burst: params.Burst})
			return
		}
		// Later or shorter concurrent signals contribute interference
		// only; no separate state transition.
		p.interference.AddSignal(params.PowerPerRbW, params.Duration, now)
		return

	case RxDlCtrl, RxUlCtrl:
		p.interference.AddSignal(params.PowerPerRbW, params.Duration, now)
		return

	case Idle, CcaBusy:
		p.firstRxStart = now
		p.firstRxDuration = params.Duration
		p.rxFrames = []rxFrame{{rnti: params.Rnti, burst: params.Burst}}
		p.interference.StartRx(params.PowerPerRbW, now)
		p.changeState(RxData)
		p.sched.Schedule(now.Add(params.Duration), p.endRxData)
	}
}

func (p *SpectrumPhy) startRxCtrl(params SignalParams) {
	now := p.sched.Now()
	target := RxDlCtrl
	if params.Kind == SignalUlCtrl {
		target = RxUlCtrl
	}

	switch p.state {
	case Tx:
		p.interference.AddSignal(params.PowerPerRbW, params.Duration, now)
		return

	case RxDlCtrl, RxUlCtrl:
		if p.state == target && now.Equal(p.firstRxStart) && params.Duration == p.firstRxDuration {
			p.interference.AddToRx(params.PowerPerRbW, now)
			p.rxCtrlMsgs = append(p.rxCtrlMsgs, params.CtrlMsgs...)
			return
		}
		p.interference.AddSignal(params.PowerPerRbW, params.Duration, now)
		return

	case RxData:
		p.interference.AddSignal(params.PowerPerRbW, params.Duration, now)
		return

	case Idle, CcaBusy:
		p.firstRxStart = now
		p.firstRxDuration = params.Duration
		p.rxCtrlMsgs = append([]model.ControlMessage(nil), params.CtrlMsgs...)
		p.interference.StartRx(params.PowerPerRbW, now)
		p.changeState(target)
		p.sched.Schedule(now.Add(params.Duration), p.endRxCtrl)
	}
}

func (p *SpectrumPhy) endRxData() {
	now := p.sched.Now()
	if p.state != RxData {
		p.log.Error(context.Background(), "EndRxData in unexpected state",
			logging.String("state", p.state.String()))
		return
	}

	p.interference.EndRx(now)
	if p.metrics != nil {
		p.metrics.RecordOccupancy("rx", p.firstRxDuration)
	}

	for _, frame := range p.rxFrames {
		tb, ok := p.expectedTbs[frame.rnti]
		if !ok {
			// No registration for this RNTI: the reception cannot be
			// attributed to a transport block and is dropped silently.
			p.log.Debug(context.Background(), "dropping reception for unregistered RNTI",
				logging.Uint16("rnti", frame.rnti))
			continue
		}
		p.evaluateTb(frame.rnti, tb, frame.burst)
		delete(p.expectedTbs, frame.rnti)
	}
	p.rxFrames = nil

	p.maybeCcaBusy()
}

// evaluateTb runs the error model over the perceived SINR restricted to
// the block's resource blocks and reports exactly one outcome through the
// HARQ feedback callback.
func (p *SpectrumPhy) evaluateTb(rnti uint16, tb *transportBlockInfo, burst *model.PacketBurst) {
	tb.sinrAvg, tb.sinrMin = p.sinrOverRbs(tb.expected.RbBitmap)

	prev := p.harq.Previous(rnti, tb.expected.HarqProcessID)
	tb.output = p.errorModel.Evaluate(tb.sinrAvg, tb.sinrMin, tb.expected, prev)
	tb.corrupted = tb.output.Corrupted

	if err := p.harq.Update(rnti, tb.expected.HarqProcessID, tb.output); err != nil {
		p.log.Error(context.Background(), "HARQ update failed",
			logging.Uint16("rnti", rnti),
			logging.String("error", err.Error()))
	}
	if p.metrics != nil {
		p.metrics.RecordTbOutcome(tb.corrupted)
	}
	p.log.Debug(context.Background(), "transport block evaluated",
		logging.Uint16("rnti", rnti),
		logging.Any("corrupted", tb.corrupted),
		logging.Float64("sinr_avg", tb.sinrAvg),
		logging.Float64("sinr_min", tb.sinrMin),
	)

	if !tb.corrupted && p.phyRxDataEndOk != nil && burst != nil {
		p.phyRxDataEndOk(burst)
	}

	if tb.expected.Downlink {
		if p.phyDlHarqFeedback != nil {
			p.phyDlHarqFeedback(model.DlHarqInfo{
				Rnti:          rnti,
				HarqProcessID: tb.expected.HarqProcessID,
				Ack:           !tb.corrupted,
				NumRetx:       tb.expected.Rv,
			})
			tb.harqFeedbackSent = true
		}
	} else if p.phyUlHarqFeedback != nil {
		p.phyUlHarqFeedback(model.UlHarqInfo{
			Rnti:          rnti,
			HarqProcessID: tb.expected.HarqProcessID,
			Ack:           !tb.corrupted,
			NumRetx:       tb.expected.Rv,
		})
		tb.harqFeedbackSent = true
	}
}

// sinrOverRbs reduces the perceived SINR vector to the average and
// minimum over the block's occupied resource blocks. An empty bitmap
// means the whole grid.
func (p *SpectrumPhy) sinrOverRbs(rbBitmap []int) (avg, min float64) {
	if len(p.sinrPerceived) == 0 {
		return 0, 0
	}
	if len(rbBitmap) == 0 {
		return stat.Mean(p.sinrPerceived, nil), floats.Min(p.sinrPerceived)
	}
	subset := make([]float64, 0, len(rbBitmap))
	for _, rb := range rbBitmap {
		if rb >= 0 && rb < len(p.sinrPerceived) {
			subset = append(subset, p.sinrPerceived[rb])
		}
	}
	if len(subset) == 0 {
		return 0, 0
	}
	return stat.Mean(subset, nil), floats.Min(subset)
}

func (p *SpectrumPhy) endRxCtrl() {
	now := p.sched.Now()
	if p.state != RxDlCtrl && p.state != RxUlCtrl {
		p.log.Error(context.Background(), "EndRxCtrl in unexpected state",
			logging.String("state", p.state.String()))
		return
	}

	p.interference.EndRx(now)
	if p.metrics != nil {
		p.metrics.RecordOccupancy("rx", p.firstRxDuration)
	}

	if p.phyRxCtrlEndOk != nil && len(p.rxCtrlMsgs) > 0 {
		p.phyRxCtrlEndOk(p.rxCtrlMsgs)
	}
	p.rxCtrlMsgs = nil

	p.maybeCcaBusy()
}

// maybeCcaBusy decides the post-activity state: CCA busy while the total
// energy on the air exceeds the threshold, idle otherwise. Entering CCA
// busy schedules a clearance re-check at the busy window's end; a newer
// busy window replaces the pending check rather than stacking another.
func (p *SpectrumPhy) maybeCcaBusy() {
	now := p.sched.Now()
	if p.interference.TotalReceivedPowerW(now) > p.ccaThresholdW {
		p.busyTimeEnds = p.interference.LatestSignalEnd(now)
		p.changeState(CcaBusy)
		p.busyCheckID = p.sched.Reschedule(p.busyCheckID, p.busyTimeEnds, p.checkIfStillBusy)
		return
	}
	p.changeState(Idle)
}

// checkIfStillBusy runs at the scheduled busy-end time and either clears
// to idle or extends the busy window to the newest signal end.
func (p *SpectrumPhy) checkIfStillBusy() {
	if p.state != CcaBusy {
		return
	}
	now := p.sched.Now()
	if now.Before(p.busyTimeEnds) || p.interference.TotalReceivedPowerW(now) > p.ccaThresholdW {
		p.busyTimeEnds = p.interference.LatestSignalEnd(now)
		if p.busyTimeEnds.After(now) {
			p.busyCheckID = p.sched.Reschedule(p.busyCheckID, p.busyTimeEnds, p.checkIfStillBusy)
			return
		}
	}
	p.changeState(Idle)
}

func (p *SpectrumPhy) changeState(to PhyState) {
	if p.state == to {
		return
	}
	from := p.state
	p.state = to
	if p.metrics != nil {
		p.metrics.RecordStateTransition(from.String(), to.String())
		if to == CcaBusy {
			p.metrics.RecordCcaBusy()
		}
	}
	p.log.Debug(context.Background(), "PHY state transition",
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	)
}
