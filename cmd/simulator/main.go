package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/mmwave-simulator/core"
	"github.com/signalsfoundry/mmwave-simulator/internal/logging"
	"github.com/signalsfoundry/mmwave-simulator/internal/observability"
	"github.com/signalsfoundry/mmwave-simulator/model"
	"github.com/signalsfoundry/mmwave-simulator/timectrl"
)

func main() {
	duration := flag.Duration("duration", 100*time.Millisecond, "total simulated duration")
	tick := flag.Duration("tick", 125*time.Microsecond, "simulation tick interval")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	centerFreq := flag.Float64("center-freq", 28.1e9, "operation band central frequency in Hz")
	bandwidth := flag.Float64("bandwidth", 200e6, "total operation band bandwidth in Hz")
	numCcs := flag.Int("num-ccs", 2, "number of component carriers (one bandwidth part each)")
	ccaThreshold := flag.Float64("cca-threshold", -62, "CCA mode-1 energy detection threshold in dBm")
	txPower := flag.Float64("tx-power", 30, "gNB transmit power in dBm")
	txInterval := flag.Duration("tx-interval", 1*time.Millisecond, "interval between downlink data bursts")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (empty disables)")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracing init failed: %v\n", err)
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	collector, err := observability.NewPhyCollector(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metrics init failed: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", collector.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn(ctx, "metrics server stopped", logging.String("error", err.Error()))
			}
		}()
	}

	// ==== Carrier plan: one contiguous band split into equal CCs ====

	plan := core.NewCarrierPlan(
		core.WithPlanLogger(log),
		core.WithPlanMetrics(collector),
	)
	band, err := plan.CreateOperationBandContiguousCc(*centerFreq, *bandwidth, *numCcs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "carrier plan failed: %v\n", err)
		os.Exit(1)
	}
	if err := plan.AddOperationBand(band); err != nil {
		fmt.Fprintf(os.Stderr, "carrier plan failed: %v\n", err)
		os.Exit(1)
	}
	if err := plan.ValidateAggregatedConfiguration(); err != nil {
		fmt.Fprintf(os.Stderr, "carrier plan invalid: %v\n", err)
		os.Exit(1)
	}

	// ==== Time controller + event scheduler ====

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}
	start := time.Now().UTC()
	tc := timectrl.NewTimeController(start, *tick, mode)
	sched := timectrl.NewEventScheduler(tc)

	// ==== Device wiring: one PHY per bandwidth part per device ====

	helper := core.NewHelper(sched,
		core.WithHelperLogger(log),
		core.WithHelperMetrics(collector),
		core.WithCam(core.CamListenBeforeTalk),
		core.WithRrc(core.RrcIdeal),
	)
	for _, cc := range band.Ccs {
		bwp := cc.ActiveBwp()
		cfg, err := core.NewPhyMacConfig(bwp.Numerology, bwp.CentralFrequencyHz, bwp.BandwidthHz, 8)
		if err != nil {
			fmt.Fprintf(os.Stderr, "PHY config failed: %v\n", err)
			os.Exit(1)
		}
		if err := helper.AddBandwidthPart(&core.BandwidthPartRepresentation{
			ID:     bwp.ID,
			Config: cfg,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "bandwidth part wiring failed: %v\n", err)
			os.Exit(1)
		}
	}

	gnb, err := helper.InstallGnbDevice(len(band.Ccs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gNB install failed: %v\n", err)
		os.Exit(1)
	}
	ue, err := helper.InstallUeDevice(len(band.Ccs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "UE install failed: %v\n", err)
		os.Exit(1)
	}

	gnb.SetPosition(core.Position{X: 0, Y: 0, Z: 10})
	ue.SetPosition(core.Position{X: 30, Y: 0, Z: 1.5})

	const rnti = 1
	if err := helper.AttachUeToGnb(ue, gnb, rnti); err != nil {
		fmt.Fprintf(os.Stderr, "attach failed: %v\n", err)
		os.Exit(1)
	}
	for cc := 0; cc < gnb.CcCount(); cc++ {
		gnbPhy, _ := gnb.Phy(cc)
		uePhy, _ := ue.Phy(cc)
		gnbPhy.SetTxPower(*txPower)
		gnbPhy.SetCcaMode1Threshold(*ccaThreshold)
		uePhy.SetCcaMode1Threshold(*ccaThreshold)
	}

	// Count delivered bursts and HARQ outcomes per carrier.
	delivered := make([]int, ue.CcCount())
	acks := make([]int, ue.CcCount())
	nacks := make([]int, ue.CcCount())
	for cc := 0; cc < ue.CcCount(); cc++ {
		cc := cc
		uePhy, _ := ue.Phy(cc)
		uePhy.SetPhyRxDataEndOkCallback(func(b *model.PacketBurst) {
			delivered[cc]++
		})
		uePhy.SetPhyDlHarqFeedbackCallback(func(info model.DlHarqInfo) {
			if info.Ack {
				acks[cc]++
			} else {
				nacks[cc]++
			}
		})
	}

	// ==== Downlink traffic: one burst per interval on every carrier ====

	tracer := otel.Tracer("mmwave-simulator")
	runCtx, runSpan := tracer.Start(ctx, "simulation-run",
		trace.WithAttributes(
			attribute.Int("num_ccs", gnb.CcCount()),
			attribute.Float64("center_freq_hz", *centerFreq),
		))
	defer runSpan.End()

	var harqProcess uint8
	var sendBurst func()
	sendBurst = func() {
		now := sched.Now()
		for cc := 0; cc < gnb.CcCount(); cc++ {
			gnbPhy, _ := gnb.Phy(cc)
			uePhy, _ := ue.Phy(cc)

			uePhy.AddExpectedTb(rnti, 1, 1500, 10, nil, harqProcess, 0, true, 0, 14)
			burst := &model.PacketBurst{Packets: []model.Packet{{Bytes: make([]byte, 1500)}}}
			if ok, err := gnbPhy.StartTxDataFrames(burst, 500*time.Microsecond); !ok {
				log.Warn(runCtx, "downlink burst skipped",
					logging.Int("cc", cc),
					logging.String("error", fmt.Sprint(err)),
				)
			}
		}
		harqProcess = (harqProcess + 1) % 8
		sched.Schedule(now.Add(*txInterval), sendBurst)
	}
	sched.Schedule(start.Add(*txInterval), sendBurst)

	tc.AddListener(func(time.Time) { sched.RunDue() })

	fmt.Printf("Starting simulation: duration=%s, tick=%s, band=%.2f GHz / %.0f MHz / %d CCs\n",
		*duration, *tick, *centerFreq/1e9, *bandwidth/1e6, *numCcs)
	done := tc.Start(*duration)
	<-done

	for cc := 0; cc < ue.CcCount(); cc++ {
		bwpID, _ := ue.BwpID(cc)
		fmt.Printf("↳ CC %d (BWP %d): %d bursts delivered, %d ACK, %d NACK\n",
			cc, bwpID, delivered[cc], acks[cc], nacks[cc])
	}
	fmt.Println("Simulation complete.")
}
