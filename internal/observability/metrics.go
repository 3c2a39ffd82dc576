// Package observability exposes Prometheus metrics for the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the agent.
type Metrics struct {
	FramesProcessed  prometheus.Counter
	FramesDropped    prometheus.Counter
	FPS              prometheus.Gauge
	InferenceTime    prometheus.Histogram
	ActiveTracks     prometheus.Gauge
	EventsGenerated  *prometheus.CounterVec
	SnapshotsWritten prometheus.Counter
	SyncAttempts     prometheus.Counter
	SyncFailures     prometheus.Counter
	EventsSynced     prometheus.Counter
	WatchdogRestarts prometheus.Counter
	TargetRate       prometheus.Gauge
}

// NewMetrics creates and registers all collectors on the given registry. A
// nil registry uses the default one.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_frames_processed_total",
			Help: "Total number of frames processed by the pipeline",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_frames_dropped_total",
			Help: "Frames dropped by backpressure or rate limiting",
		}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_fps",
			Help: "Current frames per second over the stats window",
		}),
		InferenceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_inference_seconds",
			Help:    "Detector inference latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ActiveTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_active_tracks",
			Help: "Number of currently active tracks",
		}),
		EventsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_generated_total",
			Help: "Security events generated, by kind",
		}, []string{"kind"}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_snapshots_written_total",
			Help: "Snapshot evidence files written",
		}),
		SyncAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_sync_attempts_total",
			Help: "Remote sync attempts",
		}),
		SyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_sync_failures_total",
			Help: "Remote sync attempts that failed",
		}),
		EventsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_synced_total",
			Help: "Events successfully uploaded to the backend",
		}),
		WatchdogRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_watchdog_restarts_total",
			Help: "Pipeline restarts triggered by a watchdog",
		}),
		TargetRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_target_rate_fps",
			Help: "Current adaptive target processing rate",
		}),
	}

	collectors := []prometheus.Collector{
		m.FramesProcessed, m.FramesDropped, m.FPS, m.InferenceTime,
		m.ActiveTracks, m.EventsGenerated, m.SnapshotsWritten,
		m.SyncAttempts, m.SyncFailures, m.EventsSynced,
		m.WatchdogRestarts, m.TargetRate,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
