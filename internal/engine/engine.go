// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine wires the detection pipeline: packets from a capture source
// feed the flow table, flow snapshots are scored by a worker pool, and
// surviving predictions become alerts and stored flow records.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/baseline"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/config"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/device"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/features"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/flow"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/stats"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/store"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/suppress"
)

// Predictor scores a raw feature vector. *model.Ensemble is the production
// implementation.
type Predictor interface {
	Predict(v []float64) (model.Prediction, error)
}

// scoreQueueSize bounds the scoring backlog. Snapshots beyond it are dropped
// and counted; the flow stays in the table and is rescored on later packets.
const scoreQueueSize = 1024

type scoreJob struct {
	snap  flow.Snapshot
	final bool
}

// Options are the pre-built pipeline pieces. Stats, Store and Devices may
// be nil.
type Options struct {
	Source    capture.Source
	Predictor Predictor
	Baseline  *baseline.Baseline
	Alerts    *alert.Manager
	Stats     *stats.Tracker
	Store     *store.Store
	Devices   *device.Tracker
	Metrics   *metrics.Metrics
}

// Engine owns the pipeline goroutines between the capture source and the
// alert manager.
type Engine struct {
	cfg *config.DetectionConfig
	log *logging.Logger
	m   *metrics.Metrics

	source     capture.Source
	agg        *flow.Aggregator
	predictor  Predictor
	suppressor *suppress.Suppressor
	baseline   *baseline.Baseline
	alerts     *alert.Manager
	stats      *stats.Tracker
	store      *store.Store
	devices    *device.Tracker

	inferenceTimeout time.Duration
	shutdownTimeout  time.Duration
	workerCount      int

	jobs       chan scoreJob
	workers    sync.WaitGroup
	ingestDone chan struct{}
	stopOnce   sync.Once
}

// New assembles the pipeline around cfg. The engine owns the flow aggregator
// and the suppressor; everything else is injected.
func New(cfg *config.DetectionConfig, opts Options) *Engine {
	e := &Engine{
		cfg:        cfg,
		log:        logging.WithComponent("engine"),
		m:          opts.Metrics,
		source:     opts.Source,
		predictor:  opts.Predictor,
		baseline:   opts.Baseline,
		alerts:     opts.Alerts,
		stats:      opts.Stats,
		store:      opts.Store,
		devices:    opts.Devices,
		jobs:       make(chan scoreJob, scoreQueueSize),
		ingestDone: make(chan struct{}),
	}

	e.workerCount = cfg.InferenceWorkers
	if e.workerCount <= 0 {
		e.workerCount = min(runtime.NumCPU(), 4)
	}
	e.inferenceTimeout = time.Duration(cfg.InferenceTimeoutSecs) * time.Second
	e.shutdownTimeout = time.Duration(cfg.ShutdownTimeoutSecs) * time.Second

	e.suppressor = suppress.New(suppressConfig(cfg), opts.Baseline, opts.Metrics)
	e.agg = flow.NewAggregator(flow.Config{
		ScoreInterval: int64(cfg.ScorePacketInterval),
		IdleTimeout:   time.Duration(cfg.FlowIdleTimeoutSeconds) * time.Second,
		MaxFlows:      cfg.MaxFlows,
	}, e.enqueueScore, opts.Metrics)

	return e
}

// Aggregator exposes the flow table for the query surface.
func (e *Engine) Aggregator() *flow.Aggregator { return e.agg }

// Ring exposes the suppression debug ring.
func (e *Engine) Ring() *suppress.Ring { return e.suppressor.Ring() }

// Start launches the pipeline goroutines.
func (e *Engine) Start() {
	e.agg.Start()
	for i := 0; i < e.workerCount; i++ {
		e.workers.Add(1)
		go e.worker()
	}
	go func() {
		defer close(e.ingestDone)
		for p := range e.source.Packets() {
			if e.devices != nil {
				e.devices.Observe(p)
			}
			e.agg.Ingest(p)
		}
	}()
	e.log.Info("detection engine started",
		"workers", e.workerCount,
		"inference_timeout", e.inferenceTimeout,
		"mode", e.cfg.Mode)
}

// Stop drains the pipeline front to back: capture, flow table, scoring
// workers, then the stateful sinks. Work still in flight at the deadline is
// dropped and counted.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
		defer cancel()

		e.source.Close()
		<-e.ingestDone
		e.agg.Stop()
		close(e.jobs)

		if !waitContext(ctx, &e.workers) {
			e.log.Warn("scoring workers did not drain before the shutdown deadline")
		}

		if e.baseline != nil {
			if err := e.baseline.Save(); err != nil {
				e.log.Warn("failed to persist baseline", "error", err)
			}
		}
		if e.stats != nil {
			e.stats.Stop()
		}
		if e.store != nil {
			e.store.Close(ctx)
		}
		if err := e.alerts.Close(); err != nil {
			e.log.Warn("failed to close alert manager", "error", err)
		}
		e.log.Info("detection engine stopped")
	})
}

// enqueueScore is the aggregator's ScoreFunc. It must never block the flow
// table's run loop.
func (e *Engine) enqueueScore(snap flow.Snapshot, final bool) {
	select {
	case e.jobs <- scoreJob{snap: snap, final: final}:
		e.m.ScoringJobs.Inc()
	default:
		e.m.ScoringDropped.Inc()
	}
}

func (e *Engine) worker() {
	defer e.workers.Done()
	for job := range e.jobs {
		e.process(job)
	}
}

func (e *Engine) process(job scoreJob) {
	vec := features.Extract(job.snap)
	pred := e.predict(vec)
	decision := e.suppressor.Evaluate(job.snap, pred)

	if decision.Emit {
		context := fmt.Sprintf("scored at %d packets", job.snap.PacketCount)
		if job.final {
			context += ", flow ended"
		}
		a, fresh := e.alerts.Ingest(job.snap, pred, context)
		if fresh && e.stats != nil {
			e.stats.RecordAlert(a)
		}
	}

	if e.store != nil {
		e.store.Enqueue(e.record(job.snap, vec, pred, decision.Emit))
	}
}

// predict runs inference with a hard timeout. Both failure modes degrade to
// a synthetic benign prediction so one bad vector cannot stall a worker.
func (e *Engine) predict(vec []float64) model.Prediction {
	type result struct {
		pred model.Prediction
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := e.predictor.Predict(vec)
		done <- result{p, err}
	}()

	timer := time.NewTimer(e.inferenceTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			e.m.InferenceErrors.Inc()
			e.log.Warn("inference failed", "error", r.err)
			return model.SyntheticBenign()
		}
		return r.pred
	case <-timer.C:
		e.m.InferenceTimeouts.Inc()
		return model.SyntheticBenign()
	}
}

func (e *Engine) record(snap flow.Snapshot, vec []float64, pred model.Prediction, emitted bool) store.Record {
	k := snap.Key
	return store.Record{
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		SrcIP:      k.SrcIP.String(),
		SrcPort:    k.SrcPort,
		DstIP:      k.DstIP.String(),
		DstPort:    k.DstPort,
		Protocol:   k.Protocol,
		Features:   vec,
		Label:      pred.Label,
		Severity:   pred.Severity,
		Confidence: pred.Confidence,
		Method:     pred.Method,
		Emitted:    emitted,
	}
}

// StoreBypassAlert builds the store's bypass callback: a high severity
// operational alert so a silent persistence outage still surfaces.
func StoreBypassAlert(mgr *alert.Manager) func() {
	return func() {
		mgr.Ingest(flow.Snapshot{}, model.Prediction{
			Label:      "FlowStoreBypass",
			Severity:   model.SeverityHigh,
			Confidence: 1,
			Method:     "system",
		}, "flow store entered bypass mode after repeated write failures")
	}
}

func suppressConfig(d *config.DetectionConfig) suppress.Config {
	return suppress.Config{
		Mode:                          d.Mode,
		ConfidenceThreshold:           d.ConfidenceThreshold,
		MinPacketThreshold:            int64(d.MinPacketThreshold),
		FilterLocalhost:               d.FilterLocalhost,
		FilterPrivateNetworks:         d.FilterPrivateNetworks,
		WhitelistPorts:                d.WhitelistPorts,
		WhitelistPrefixes:             d.WhitelistPrefixes(),
		CloudPrefixes:                 d.CloudPrefixes,
		IgnoredAttackTypes:            d.IgnoredAttackTypes,
		LegitimatePortPacketThreshold: int64(d.LegitimatePortPacketThreshold),
	}
}

func waitContext(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
