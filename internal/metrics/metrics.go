// Package metrics holds the Prometheus instruments for VRClog Lifelog.
// Instruments are registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveReaders is the number of log files currently being read.
	ActiveReaders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifelog_active_readers",
		Help: "Number of log files currently being read",
	})

	// LinesRead counts log lines consumed by tail readers.
	LinesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifelog_lines_read_total",
		Help: "Total number of log lines consumed",
	})

	// EventsApplied counts extracted events applied to the history, by kind.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifelog_events_applied_total",
		Help: "Total number of extracted events applied to the history",
	}, []string{"kind"})

	// SoftMisses counts leave/identity events with no matching presence.
	SoftMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifelog_soft_misses_total",
		Help: "Total number of events dropped for lack of a matching presence",
	}, []string{"kind"})

	// FileErrors counts log files whose processing stopped on an error.
	FileErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifelog_file_errors_total",
		Help: "Total number of log files abandoned on an error",
	}, []string{"reason"}) // "missing", "format", "ordering", "other"

	// RecoveryRepairs counts intervals closed by the recovery pass.
	RecoveryRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifelog_recovery_repairs_total",
		Help: "Total number of intervals closed by the recovery pass",
	}, []string{"entity"}) // "location", "presence"

	// ProducerRunning is 1 while the producer process is observed running.
	ProducerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifelog_producer_running",
		Help: "Whether the log producer process is running (1) or not (0)",
	})

	// StreamSubscribers is the number of connected live-stream clients.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lifelog_stream_subscribers",
		Help: "Number of connected live stream clients",
	})
)

// HTTPRejected counts API requests refused before reaching a handler.
var HTTPRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lifelog_http_rejected_total",
	Help: "Total number of API requests rejected by rate or auth limits",
}, []string{"reason"}) // "rate_limit", "auth_lockout"
