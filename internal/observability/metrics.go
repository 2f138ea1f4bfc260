package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PhyCollector bundles Prometheus metrics for the radio layer and the carrier
// plan, and provides a ready-to-use /metrics handler.
type PhyCollector struct {
	gatherer prometheus.Gatherer

	StateTransitions *prometheus.CounterVec
	TbOutcomes       *prometheus.CounterVec
	CcaBusyEntries   prometheus.Counter
	OccupancySeconds *prometheus.HistogramVec

	PlanBands prometheus.Gauge
	PlanCcs   prometheus.Gauge
	PlanBwps  prometheus.Gauge
}

// NewPhyCollector registers radio-layer Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewPhyCollector(reg prometheus.Registerer) (*PhyCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phy_state_transitions_total",
		Help: "Total number of spectrum PHY state transitions, labeled by from and to state.",
	}, []string{"from", "to"})
	transitions, err := registerCounterVec(reg, transitions, "phy_state_transitions_total")
	if err != nil {
		return nil, err
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "phy_tb_outcomes_total",
		Help: "Total number of transport block reception outcomes, labeled ok or corrupted.",
	}, []string{"outcome"})
	outcomes, err = registerCounterVec(reg, outcomes, "phy_tb_outcomes_total")
	if err != nil {
		return nil, err
	}

	ccaBusy, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phy_cca_busy_entries_total",
		Help: "Total number of times a spectrum PHY entered the CCA busy state.",
	}), "phy_cca_busy_entries_total")
	if err != nil {
		return nil, err
	}

	occupancy := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "phy_channel_occupancy_seconds",
		Help:    "Duration of individual TX and RX channel occupations in seconds.",
		Buckets: []float64{1e-5, 2.5e-5, 5e-5, 1e-4, 2.5e-4, 5e-4, 1e-3, 2.5e-3, 5e-3, 1e-2},
	}, []string{"activity"})
	occupancy, err = registerHistogramVec(reg, occupancy, "phy_channel_occupancy_seconds")
	if err != nil {
		return nil, err
	}

	bands, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carrier_plan_bands",
		Help: "Current number of operation bands in the carrier plan.",
	}), "carrier_plan_bands")
	if err != nil {
		return nil, err
	}
	ccs, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carrier_plan_component_carriers",
		Help: "Current number of component carriers across all bands in the carrier plan.",
	}), "carrier_plan_component_carriers")
	if err != nil {
		return nil, err
	}
	bwps, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "carrier_plan_bandwidth_parts",
		Help: "Current number of bandwidth parts across all component carriers in the carrier plan.",
	}), "carrier_plan_bandwidth_parts")
	if err != nil {
		return nil, err
	}

	return &PhyCollector{
		gatherer:         gatherer,
		StateTransitions: transitions,
		TbOutcomes:       outcomes,
		CcaBusyEntries:   ccaBusy,
		OccupancySeconds: occupancy,
		PlanBands:        bands,
		PlanCcs:          ccs,
		PlanBwps:         bwps,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PhyCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordStateTransition satisfies the PhyMetricsRecorder interface so the
// spectrum PHY can drive counters directly from its state changes.
func (c *PhyCollector) RecordStateTransition(from, to string) {
	if c == nil || c.StateTransitions == nil {
		return
	}
	c.StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTbOutcome counts a transport block reception outcome.
func (c *PhyCollector) RecordTbOutcome(corrupted bool) {
	if c == nil || c.TbOutcomes == nil {
		return
	}
	outcome := "ok"
	if corrupted {
		outcome = "corrupted"
	}
	c.TbOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCcaBusy counts an entry into the CCA busy state.
func (c *PhyCollector) RecordCcaBusy() {
	if c == nil || c.CcaBusyEntries == nil {
		return
	}
	c.CcaBusyEntries.Inc()
}

// RecordOccupancy observes the duration of one TX or RX channel occupation.
func (c *PhyCollector) RecordOccupancy(activity string, d time.Duration) {
	if c == nil || c.OccupancySeconds == nil {
		return
	}
	c.OccupancySeconds.WithLabelValues(activity).Observe(d.Seconds())
}

// SetPlanCounts drives the carrier plan gauges directly from the plan's
// mutators.
func (c *PhyCollector) SetPlanCounts(bands, ccs, bwps int) {
	if c == nil {
		return
	}
	if c.PlanBands != nil {
		c.PlanBands.Set(float64(bands))
	}
	if c.PlanCcs != nil {
		c.PlanCcs.Set(float64(ccs))
	}
	if c.PlanBwps != nil {
		c.PlanBwps.Set(float64(bwps))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
