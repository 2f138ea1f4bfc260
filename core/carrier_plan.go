package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/mmwave-simulator/internal/logging"
	"github.com/signalsfoundry/mmwave-simulator/model"
)

var (
	ErrTooManyBands         = errors.New("maximum number of operation bands reached")
	ErrBandNotFound         = errors.New("operation band not found")
	ErrCarrierNotFound      = errors.New("component carrier not found")
	ErrBandEmpty            = errors.New("operation band has no component carriers")
	ErrCarrierCountDrift    = errors.New("declared carrier count does not match band contents")
	ErrCarrierOverlap       = errors.New("component carriers overlap in frequency")
	ErrBandOverlap          = errors.New("operation bands overlap in frequency")
	ErrRbCount              = errors.New("carrier resource-block count out of range")
	ErrBwpCount             = errors.New("bandwidth part count out of range")
	ErrBwpOutOfCarrier      = errors.New("bandwidth part exceeds carrier frequency bounds")
	ErrBwpOverlap           = errors.New("bandwidth parts overlap in frequency")
	ErrAggregatedBwpTooWide = errors.New("aggregated BWP bandwidth exceeds carrier bandwidth")
	ErrDuplicateBwpID       = errors.New("duplicate bandwidth part id in carrier")
	ErrActiveBwpMissing     = errors.New("active bandwidth part id not present in carrier")
	ErrPrimaryCcCount       = errors.New("aggregated configuration must have exactly one primary CC")
	ErrTooManyAggregatedCcs = errors.New("aggregated CC count exceeds the inter-band maximum")
)

// Resource-block geometry. A resource block is 12 subcarriers, and the
// subcarrier spacing doubles with each numerology step above 15 kHz.
const (
	subcarriersPerRb = 12
	baseScsHz        = 15e3

	minRbsPerCarrier = 24
	maxRbsPerCarrier = 275

	// Frequency ranges pick the numerology and the widest carrier the
	// range supports: numerology 2 with 198 MHz carriers below 6 GHz,
	// numerology 3 with 396 MHz carriers above.
	sub6GhzThresholdHz   = 6e9
	maxCcBandwidthSub6Hz = 198e6
	maxCcBandwidthMmwHz  = 396e6
)

// PlanMetricsRecorder receives carrier plan size updates. Implemented by
// observability.PhyCollector.
type PlanMetricsRecorder interface {
	SetPlanCounts(bands, ccs, bwps int)
}

// CarrierPlan builds and validates the operation-band / component-carrier /
// bandwidth-part tree consumed at device construction time. A plan is either
// fully valid or rejected outright; no runtime object is built from a plan
// that has not passed ValidateAggregatedConfiguration.
type CarrierPlan struct {
	maxBands         int
	freqSeparationHz float64
	log              logging.Logger
	metrics          PlanMetricsRecorder

	bands []model.OperationBand

	bandCounter uint8
	ccCounter   uint8
	bwpCounter  uint8

	numCcs  int
	numBwps int
}

// PlanOption customises a CarrierPlan.
type PlanOption func(*CarrierPlan)

// WithMaxBands caps how many operation bands the plan accepts.
func WithMaxBands(n int) PlanOption {
	return func(p *CarrierPlan) { p.maxBands = n }
}

// WithFreqSeparation sets the frequency gap above which consecutive
// carriers are classified non-contiguous. Defaults to 1 Hz.
func WithFreqSeparation(hz float64) PlanOption {
	return func(p *CarrierPlan) { p.freqSeparationHz = hz }
}

// WithPlanLogger attaches a structured logger to the plan.
func WithPlanLogger(log logging.Logger) PlanOption {
	return func(p *CarrierPlan) { p.log = log }
}

// WithPlanMetrics attaches a metrics recorder driven on every band add.
func WithPlanMetrics(m PlanMetricsRecorder) PlanOption {
	return func(p *CarrierPlan) { p.metrics = m }
}

// NewCarrierPlan creates an empty plan accepting up to maxBands bands
// (default: the intra-band CC limit) with a 1 Hz contiguity threshold.
func NewCarrierPlan(opts ...PlanOption) *CarrierPlan {
	p := &CarrierPlan{
		maxBands:         model.MaxCcIntraBand,
		freqSeparationHz: 1,
		log:              logging.Noop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateOperationBandContiguousCc partitions one contiguous band into
// numCcs equal-width carriers. The carrier numerology and width cap follow
// the frequency range, and each carrier gets a single bandwidth part
// spanning it, flagged active. The first carrier of the whole plan becomes
// the primary CC.
func (p *CarrierPlan) CreateOperationBandContiguousCc(centralFrequencyHz, totalBandwidthHz float64, numCcs int) (model.OperationBand, error) {
	var band model.OperationBand
	if numCcs < 1 {
		return band, fmt.Errorf("%w: requested %d CCs", ErrBandEmpty, numCcs)
	}
	if numCcs > model.MaxCcIntraBand {
		return band, fmt.Errorf("%w: requested %d CCs", model.ErrTooManyCarriers, numCcs)
	}

	numerology := uint8(3)
	maxCcBandwidthHz := float64(maxCcBandwidthMmwHz)
	if centralFrequencyHz <= sub6GhzThresholdHz {
		numerology = 2
		maxCcBandwidthHz = maxCcBandwidthSub6Hz
	}

	ccBandwidthHz := math.Min(maxCcBandwidthHz, totalBandwidthHz/float64(numCcs))
	numRbs := int(ccBandwidthHz / (subcarriersPerRb * baseScsHz * math.Pow(2, float64(numerology))))
	if numRbs < minRbsPerCarrier || numRbs > maxRbsPerCarrier {
		return band, fmt.Errorf("%w: %d RBs for %.0f Hz carriers at numerology %d",
			ErrRbCount, numRbs, ccBandwidthHz, numerology)
	}

	band = model.OperationBand{
		ID:                 p.bandCounter,
		CentralFrequencyHz: centralFrequencyHz,
		LowerFrequencyHz:   centralFrequencyHz - totalBandwidthHz/2,
		UpperFrequencyHz:   centralFrequencyHz + totalBandwidthHz/2,
		BandwidthHz:        uint32(totalBandwidthHz),
		Contiguity:         model.Contiguous,
	}
	p.bandCounter++

	for c := 0; c < numCcs; c++ {
		lower := band.LowerFrequencyHz + float64(c)*ccBandwidthHz
		cc := model.ComponentCarrierInfo{
			ID:                 p.ccCounter,
			LowerFrequencyHz:   lower,
			CentralFrequencyHz: lower + ccBandwidthHz/2,
			// Leave a 1 Hz guard so consecutive carriers do not overlap.
			UpperFrequencyHz: lower + ccBandwidthHz - 1,
			BandwidthHz:      uint32(ccBandwidthHz),
			Primary:          p.ccCounter == 0 && !p.hasPrimary(),
		}
		p.ccCounter++

		bwp := model.BandwidthPartElement{
			ID:                 p.bwpCounter,
			Numerology:         numerology,
			CentralFrequencyHz: cc.CentralFrequencyHz,
			LowerFrequencyHz:   cc.LowerFrequencyHz,
			UpperFrequencyHz:   cc.UpperFrequencyHz,
			BandwidthHz:        cc.BandwidthHz,
		}
		cc.ActiveBwpID = bwp.ID
		p.bwpCounter++

		if err := cc.AddBwp(bwp); err != nil {
			return model.OperationBand{}, err
		}
		if err := band.AddCc(cc); err != nil {
			return model.OperationBand{}, err
		}
	}

	p.log.Debug(context.Background(), "created contiguous operation band",
		logging.Int("band_id", int(band.ID)),
		logging.Int("num_ccs", numCcs),
		logging.Float64("cc_bandwidth_hz", ccBandwidthHz),
		logging.Int("numerology", int(numerology)),
		logging.Int("rbs_per_cc", numRbs),
	)
	return band, nil
}

// CreateOperationBand assembles a band from caller-built carriers. The
// carriers are sorted by ascending central frequency, checked for mutual
// overlap, classified contiguous or non-contiguous, and each carrier's
// bandwidth part structure is validated.
func (p *CarrierPlan) CreateOperationBand(centralFrequencyHz, totalBandwidthHz float64, ccs []model.ComponentCarrierInfo) (model.OperationBand, error) {
	var band model.OperationBand
	if len(ccs) == 0 {
		return band, ErrBandEmpty
	}
	if len(ccs) > model.MaxCcIntraBand {
		return band, fmt.Errorf("%w: %d CCs supplied", model.ErrTooManyCarriers, len(ccs))
	}

	band = model.OperationBand{
		ID:                 p.bandCounter,
		CentralFrequencyHz: centralFrequencyHz,
		LowerFrequencyHz:   centralFrequencyHz - totalBandwidthHz/2,
		UpperFrequencyHz:   centralFrequencyHz + totalBandwidthHz/2,
		BandwidthHz:        uint32(totalBandwidthHz),
		Contiguity:         model.Contiguous,
		Ccs:                append([]model.ComponentCarrierInfo(nil), ccs...),
	}
	p.bandCounter++

	if err := p.classifyAndCheckCcs(&band); err != nil {
		return model.OperationBand{}, err
	}
	for i := range band.Ccs {
		if err := checkBwpsInCc(&band.Ccs[i]); err != nil {
			return model.OperationBand{}, err
		}
	}
	return band, nil
}

// AddOperationBand registers a band with the plan, updating the aggregate
// carrier and bandwidth part counts.
func (p *CarrierPlan) AddOperationBand(band model.OperationBand) error {
	if len(p.bands) >= p.maxBands {
		return fmt.Errorf("%w: limit %d", ErrTooManyBands, p.maxBands)
	}

	p.bands = append(p.bands, band)
	p.numCcs += len(band.Ccs)
	for i := range band.Ccs {
		p.numBwps += len(band.Ccs[i].Bwps)
	}

	if p.metrics != nil {
		p.metrics.SetPlanCounts(len(p.bands), p.numCcs, p.numBwps)
	}
	p.log.Info(context.Background(), "operation band registered",
		logging.Int("band_id", int(band.ID)),
		logging.Int("num_ccs", len(band.Ccs)),
		logging.String("contiguity", band.Contiguity.String()),
	)
	return nil
}

// ValidateOperationBand re-sorts the band's carriers, recomputes its
// contiguity, and re-validates every carrier's bandwidth part structure.
// Validating an already-valid band is idempotent.
func (p *CarrierPlan) ValidateOperationBand(band *model.OperationBand) error {
	if band == nil || len(band.Ccs) == 0 {
		return ErrBandEmpty
	}
	if err := p.classifyAndCheckCcs(band); err != nil {
		return err
	}
	for i := range band.Ccs {
		if err := checkBwpsInCc(&band.Ccs[i]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAggregatedConfiguration cross-validates the whole plan: the band
// count against the maximum, every band individually, pairwise band
// frequency overlap, the aggregated CC count against the inter-band
// maximum, and the system-wide primary CC count, which must be exactly one.
func (p *CarrierPlan) ValidateAggregatedConfiguration() error {
	if len(p.bands) > p.maxBands {
		return fmt.Errorf("%w: %d bands, limit %d", ErrTooManyBands, len(p.bands), p.maxBands)
	}

	totalCcs := 0
	primaries := 0
	for i := range p.bands {
		band := &p.bands[i]
		if err := p.ValidateOperationBand(band); err != nil {
			return fmt.Errorf("band %d: %w", band.ID, err)
		}
		totalCcs += len(band.Ccs)
		for j := range band.Ccs {
			if band.Ccs[j].Primary {
				primaries++
			}
		}
	}
	if totalCcs != p.numCcs {
		return fmt.Errorf("%w: counted %d, declared %d", ErrCarrierCountDrift, totalCcs, p.numCcs)
	}
	if totalCcs > model.MaxCcInterBand {
		return fmt.Errorf("%w: %d CCs", ErrTooManyAggregatedCcs, totalCcs)
	}

	for i := range p.bands {
		for j := i + 1; j < len(p.bands); j++ {
			a, b := &p.bands[i], &p.bands[j]
			if a.LowerFrequencyHz < b.UpperFrequencyHz && b.LowerFrequencyHz < a.UpperFrequencyHz {
				return fmt.Errorf("%w: bands %d and %d", ErrBandOverlap, a.ID, b.ID)
			}
		}
	}

	if primaries != 1 {
		return fmt.Errorf("%w: found %d", ErrPrimaryCcCount, primaries)
	}
	return nil
}

// ChangeActiveBwp switches the active bandwidth part of the identified
// carrier. The new id must already exist among the carrier's BWPs.
func (p *CarrierPlan) ChangeActiveBwp(bandID, ccID, newActiveBwpID uint8) error {
	cc, err := p.carrier(bandID, ccID)
	if err != nil {
		return err
	}
	if cc.Bwp(newActiveBwpID) == nil {
		return fmt.Errorf("%w: bwp %d in cc %d", ErrActiveBwpMissing, newActiveBwpID, ccID)
	}
	cc.ActiveBwpID = newActiveBwpID
	return nil
}

// ActiveBwp returns the active bandwidth part of the primary carrier.
func (p *CarrierPlan) ActiveBwp() (*model.BandwidthPartElement, error) {
	for i := range p.bands {
		for j := range p.bands[i].Ccs {
			cc := &p.bands[i].Ccs[j]
			if !cc.Primary {
				continue
			}
			bwp := cc.ActiveBwp()
			if bwp == nil {
				return nil, fmt.Errorf("%w: bwp %d in primary cc %d", ErrActiveBwpMissing, cc.ActiveBwpID, cc.ID)
			}
			return bwp, nil
		}
	}
	return nil, fmt.Errorf("%w: no primary CC", ErrPrimaryCcCount)
}

// ActiveBwpAt returns the active bandwidth part of the identified carrier.
func (p *CarrierPlan) ActiveBwpAt(bandID, ccID uint8) (*model.BandwidthPartElement, error) {
	cc, err := p.carrier(bandID, ccID)
	if err != nil {
		return nil, err
	}
	bwp := cc.ActiveBwp()
	if bwp == nil {
		return nil, fmt.Errorf("%w: bwp %d in cc %d", ErrActiveBwpMissing, cc.ActiveBwpID, ccID)
	}
	return bwp, nil
}

// AggregatedBandwidth sums the bandwidth of every active BWP across all
// carriers of all bands.
func (p *CarrierPlan) AggregatedBandwidth() uint32 {
	var total uint32
	for i := range p.bands {
		for j := range p.bands[i].Ccs {
			if bwp := p.bands[i].Ccs[j].ActiveBwp(); bwp != nil {
				total += bwp.BandwidthHz
			}
		}
	}
	return total
}

// CarrierBandwidth returns the active BWP bandwidth of one carrier.
func (p *CarrierPlan) CarrierBandwidth(bandID, ccID uint8) (uint32, error) {
	bwp, err := p.ActiveBwpAt(bandID, ccID)
	if err != nil {
		return 0, err
	}
	return bwp.BandwidthHz, nil
}

// ComponentCarrier returns the identified carrier.
func (p *CarrierPlan) ComponentCarrier(bandID, ccID uint8) (*model.ComponentCarrierInfo, error) {
	return p.carrier(bandID, ccID)
}

// Band returns the registered band with the given id.
func (p *CarrierPlan) Band(bandID uint8) (*model.OperationBand, error) {
	for i := range p.bands {
		if p.bands[i].ID == bandID {
			return &p.bands[i], nil
		}
	}
	return nil, fmt.Errorf("%w: band %d", ErrBandNotFound, bandID)
}

// Bands returns the registered bands in insertion order.
func (p *CarrierPlan) Bands() []model.OperationBand { return p.bands }

// Counts reports the registered band, carrier, and BWP totals.
func (p *CarrierPlan) Counts() (bands, ccs, bwps int) {
	return len(p.bands), p.numCcs, p.numBwps
}

// ContiguousnessState reclassifies one band's carriers against the plan's
// contiguity threshold without mutating the band.
func (p *CarrierPlan) ContiguousnessState(bandID uint8) (model.ContiguityMode, error) {
	band, err := p.Band(bandID)
	if err != nil {
		return model.NonContiguous, err
	}
	if len(band.Ccs) == 0 {
		return model.NonContiguous, ErrBandEmpty
	}

	ccs := append([]model.ComponentCarrierInfo(nil), band.Ccs...)
	sort.Slice(ccs, func(i, j int) bool {
		return ccs[i].CentralFrequencyHz < ccs[j].CentralFrequencyHz
	})
	for i := 1; i < len(ccs); i++ {
		if ccs[i].LowerFrequencyHz-ccs[i-1].UpperFrequencyHz > p.freqSeparationHz {
			return model.NonContiguous, nil
		}
	}
	return model.Contiguous, nil
}

func (p *CarrierPlan) carrier(bandID, ccID uint8) (*model.ComponentCarrierInfo, error) {
	band, err := p.Band(bandID)
	if err != nil {
		return nil, err
	}
	cc := band.Cc(ccID)
	if cc == nil {
		return nil, fmt.Errorf("%w: cc %d in band %d", ErrCarrierNotFound, ccID, bandID)
	}
	return cc, nil
}

func (p *CarrierPlan) hasPrimary() bool {
	for i := range p.bands {
		for j := range p.bands[i].Ccs {
			if p.bands[i].Ccs[j].Primary {
				return true
			}
		}
	}
	return false
}

// classifyAndCheckCcs sorts the band's carriers by frequency, rejects
// overlapping neighbours, and classifies the band's contiguity. Carriers
// overlap when the gap between consecutive carriers is negative; a gap
// above the contiguity threshold makes the band non-contiguous.
func (p *CarrierPlan) classifyAndCheckCcs(band *model.OperationBand) error {
	sort.Slice(band.Ccs, func(i, j int) bool {
		return band.Ccs[i].CentralFrequencyHz < band.Ccs[j].CentralFrequencyHz
	})

	band.Contiguity = model.Contiguous
	for i := 1; i < len(band.Ccs); i++ {
		gap := band.Ccs[i].LowerFrequencyHz - band.Ccs[i-1].UpperFrequencyHz
		if gap < 0 {
			return fmt.Errorf("%w: cc %d and cc %d", ErrCarrierOverlap, band.Ccs[i-1].ID, band.Ccs[i].ID)
		}
		if gap > p.freqSeparationHz {
			band.Contiguity = model.NonContiguous
		}
	}
	return nil
}

// checkBwpsInCc validates one carrier's bandwidth part structure: BWP count
// in [1,4], every BWP inside the carrier bounds, aggregated BWP bandwidth
// within the carrier bandwidth, an existing active BWP id, no frequency
// overlap between neighbouring BWPs, and pairwise distinct BWP ids.
func checkBwpsInCc(cc *model.ComponentCarrierInfo) error {
	if len(cc.Bwps) < 1 || len(cc.Bwps) > model.MaxBwpsPerCc {
		return fmt.Errorf("%w: cc %d has %d", ErrBwpCount, cc.ID, len(cc.Bwps))
	}

	byFreq := append([]model.BandwidthPartElement(nil), cc.Bwps...)
	sort.Slice(byFreq, func(i, j int) bool {
		return byFreq[i].CentralFrequencyHz < byFreq[j].CentralFrequencyHz
	})

	var totalBwHz uint64
	for i := range byFreq {
		if byFreq[i].LowerFrequencyHz < cc.LowerFrequencyHz || byFreq[i].UpperFrequencyHz > cc.UpperFrequencyHz {
			return fmt.Errorf("%w: bwp %d in cc %d", ErrBwpOutOfCarrier, byFreq[i].ID, cc.ID)
		}
		totalBwHz += uint64(byFreq[i].BandwidthHz)
	}
	if totalBwHz > uint64(cc.BandwidthHz) {
		return fmt.Errorf("%w: cc %d aggregates %d Hz over %d Hz", ErrAggregatedBwpTooWide, cc.ID, totalBwHz, cc.BandwidthHz)
	}

	if cc.Bwp(cc.ActiveBwpID) == nil {
		return fmt.Errorf("%w: bwp %d in cc %d", ErrActiveBwpMissing, cc.ActiveBwpID, cc.ID)
	}

	for i := 1; i < len(byFreq); i++ {
		if byFreq[i-1].UpperFrequencyHz > byFreq[i].LowerFrequencyHz {
			return fmt.Errorf("%w: bwp %d and bwp %d in cc %d", ErrBwpOverlap, byFreq[i-1].ID, byFreq[i].ID, cc.ID)
		}
	}

	byID := append([]model.BandwidthPartElement(nil), cc.Bwps...)
	sort.Slice(byID, func(i, j int) bool { return byID[i].ID < byID[j].ID })
	for i := 1; i < len(byID); i++ {
		if byID[i].ID == byID[i-1].ID {
			return fmt.Errorf("%w: bwp %d in cc %d", ErrDuplicateBwpID, byID[i].ID, cc.ID)
		}
	}
	return nil
}
