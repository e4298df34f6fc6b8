// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all detection-pipeline Prometheus metrics. Every drop or
// swallowed error in the pipeline increments a counter here.
type Metrics struct {
	// Capture
	PacketsCaptured prometheus.Counter
	PacketsDropped  prometheus.Counter
	ParseErrors     prometheus.Counter

	// Flow table
	ActiveFlows  prometheus.Gauge
	FlowsEvicted *prometheus.CounterVec // reason: idle, capacity, shutdown

	// Scoring
	ScoringJobs       prometheus.Counter
	ScoringDropped    prometheus.Counter
	InferenceErrors   prometheus.Counter
	InferenceTimeouts prometheus.Counter

	// Suppression
	Suppressions *prometheus.CounterVec // reason label
	AlertsTotal  *prometheus.CounterVec // severity label

	// Flow store
	StoreWrites   prometheus.Counter
	StoreDropped  prometheus.Counter
	StoreFailures prometheus.Counter
	StoreBypass   prometheus.Gauge

	// Alert fan-out
	SubscriberOverflows prometheus.Counter
	ShutdownDropped     prometheus.Counter
}

// New creates the pipeline metrics collector.
func New() *Metrics {
	return &Metrics{
		PacketsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_capture_packets_total",
			Help: "Total number of packets handed to the flow aggregator",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_capture_packets_dropped_total",
			Help: "Total number of packets dropped because the aggregator could not keep up",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_capture_parse_errors_total",
			Help: "Total number of malformed or truncated packets dropped during parsing",
		}),

		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ids_flow_table_entries",
			Help: "Current number of flows in the flow table",
		}),
		FlowsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ids_flows_evicted_total",
			Help: "Total number of flows evicted from the flow table",
		}, []string{"reason"}),

		ScoringJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_scoring_jobs_total",
			Help: "Total number of flow snapshots submitted for scoring",
		}),
		ScoringDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_scoring_jobs_dropped_total",
			Help: "Total number of scoring jobs dropped due to a full worker queue",
		}),
		InferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_inference_errors_total",
			Help: "Total number of inference failures replaced by a synthetic benign prediction",
		}),
		InferenceTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_inference_timeouts_total",
			Help: "Total number of scoring calls abandoned after the inference timeout",
		}),

		Suppressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ids_suppressions_total",
			Help: "Total number of predictions suppressed by the filter cascade",
		}, []string{"reason"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ids_alerts_total",
			Help: "Total number of alerts emitted",
		}, []string{"severity"}),

		StoreWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_store_writes_total",
			Help: "Total number of flow records committed to the flow store",
		}),
		StoreDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_store_records_dropped_total",
			Help: "Total number of flow records dropped due to a full write queue or bypass mode",
		}),
		StoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_store_write_failures_total",
			Help: "Total number of failed flow store writes",
		}),
		StoreBypass: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ids_store_bypass",
			Help: "Whether the flow store is in bypass mode (1 = bypassing)",
		}),

		SubscriberOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_subscriber_overflows_total",
			Help: "Total number of alerts dropped from slow subscriber buffers",
		}),
		ShutdownDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ids_shutdown_dropped_total",
			Help: "Total number of in-flight items dropped at the shutdown deadline",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.PacketsCaptured, m.PacketsDropped, m.ParseErrors,
		m.ActiveFlows, m.FlowsEvicted,
		m.ScoringJobs, m.ScoringDropped, m.InferenceErrors, m.InferenceTimeouts,
		m.Suppressions, m.AlertsTotal,
		m.StoreWrites, m.StoreDropped, m.StoreFailures, m.StoreBypass,
		m.SubscriberOverflows, m.ShutdownDropped,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
