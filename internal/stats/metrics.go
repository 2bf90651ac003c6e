package stats

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rawsim"

// Metrics is the Prometheus view of one simulation run. Each run gets its
// own registry so that runs never share counters.
type Metrics struct {
	Registry *prometheus.Registry

	FramesTotal        *prometheus.CounterVec
	LinkEventsTotal    *prometheus.CounterVec
	GatePhaseTotal     *prometheus.CounterVec
	DataTotal          *prometheus.CounterVec
	AccessDelay        prometheus.Histogram
	AssociationLatency prometheus.Histogram
}

// NewMetrics creates and registers the run metrics.
func NewMetrics(runID string) *Metrics {
	labels := prometheus.Labels{"run_id": runID}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "frames_transmitted_total",
				Help:        "Total number of frames put on the medium",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		LinkEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "link_events_total",
				Help:        "Association edges seen by stations",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		GatePhaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "gate_phase_entries_total",
				Help:        "Number of times stations entered each gate phase",
				ConstLabels: labels,
			},
			[]string{"phase"},
		),
		DataTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "uplink_payloads_total",
				Help:        "Uplink payloads by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		AccessDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "access_delay_seconds",
			Help:        "Time frames spent in their access queue",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		AssociationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "association_latency_seconds",
			Help:        "Time from station start to association",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	m.Registry.MustRegister(
		m.FramesTotal,
		m.LinkEventsTotal,
		m.GatePhaseTotal,
		m.DataTotal,
		m.AccessDelay,
		m.AssociationLatency,
	)
	return m
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics file %s: %w", filename, err)
	}
	return nil
}
