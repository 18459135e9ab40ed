// Package metrics tracks Prometheus metrics for the backup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks service-level Prometheus metrics.
//
// All metrics use the photosync_ prefix. Handlers and workers record
// into the shared instance owned by the server.
type Metrics struct {
	// UploadsTotal counts uploads by store and outcome
	UploadsTotal *prometheus.CounterVec

	// UploadBytes tracks upload size distribution by store
	UploadBytes *prometheus.HistogramVec

	// DedupSkipsTotal counts server-side duplicate hits by store
	DedupSkipsTotal *prometheus.CounterVec

	// QuotaRejectionsTotal counts reservations denied over quota
	QuotaRejectionsTotal prometheus.Counter

	// GateRefusalsTotal counts subscription gate refusals by code
	GateRefusalsTotal *prometheus.CounterVec

	// WorkerRunsTotal counts background job executions by job and status
	WorkerRunsTotal *prometheus.CounterVec

	// WorkerDuration tracks background job duration by job
	WorkerDuration *prometheus.HistogramVec
}

// NewMetrics creates the service metrics registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photosync_uploads_total",
				Help: "Total uploads by store and outcome",
			},
			[]string{"store", "outcome"}, // store: classic|cloud, outcome: stored|duplicate|rejected|error
		),
		UploadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "photosync_upload_bytes",
				Help:    "Upload size in bytes by store",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"store"},
		),
		DedupSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photosync_dedup_skips_total",
				Help: "Duplicate uploads skipped by store",
			},
			[]string{"store"},
		),
		QuotaRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "photosync_quota_rejections_total",
				Help: "Chunk reservations denied over quota",
			},
		),
		GateRefusalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photosync_gate_refusals_total",
				Help: "Subscription gate refusals by code",
			},
			[]string{"code"},
		),
		WorkerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photosync_worker_runs_total",
				Help: "Background job executions by job and status",
			},
			[]string{"job", "status"}, // status: ok|error
		),
		WorkerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "photosync_worker_duration_seconds",
				Help:    "Background job duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}

	reg.MustRegister(
		m.UploadsTotal,
		m.UploadBytes,
		m.DedupSkipsTotal,
		m.QuotaRejectionsTotal,
		m.GateRefusalsTotal,
		m.WorkerRunsTotal,
		m.WorkerDuration,
	)
	return m
}
