package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the ingest counters, labelled by layer.
type Metrics struct {
	FeaturesFetched  *prometheus.CounterVec
	FeaturesRejected *prometheus.CounterVec
	RowsWritten      *prometheus.CounterVec
	Windows          *prometheus.CounterVec
	WindowDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeaturesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodes_features_fetched_total",
				Help: "Features returned by the feature service",
			},
			[]string{"layer"},
		),
		FeaturesRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodes_features_rejected_total",
				Help: "Features dropped before persistence",
			},
			[]string{"layer", "stage"}, // normalize, geometry
		),
		RowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodes_rows_written_total",
				Help: "Rows inserted into the store",
			},
			[]string{"layer"},
		),
		Windows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prodes_windows_total",
				Help: "Year windows processed by outcome",
			},
			[]string{"layer", "outcome"}, // succeeded, empty, failed
		),
		WindowDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prodes_window_duration_seconds",
				Help:    "Time to fetch, repair and persist one year window",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
			[]string{"layer"},
		),
	}
}
