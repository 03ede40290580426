package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	tenantLabels       = []string{"tenant_id"}
	tenantKindLabels   = []string{"tenant_id", "kind"} // kind: initial | followup
	tenantStatusLabels = []string{"tenant_id", "status"}
	tenantStateLabels  = []string{"tenant_id", "state"}
	eventLabels        = []string{"topic", "tenant_id", "status"}
)

// Outbound send metrics
var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_messages_sent_total",
			Help: "Total number of messages successfully sent, labeled by kind (initial or followup).",
		},
		tenantKindLabels,
	)
	sendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_send_failures_total",
			Help: "Total number of transport-level send failures, labeled by kind.",
		},
		tenantKindLabels,
	)
	sendDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_engine_send_duration_seconds",
			Help:    "Histogram of individual send durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		tenantLabels,
	)
)

// Engagement scheduler metrics
var (
	schedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_scheduler_ticks_total",
			Help: "Total number of scheduler ticks executed, labeled by final status.",
		},
		tenantStatusLabels,
	)
	schedulerTickDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_engine_scheduler_tick_duration_seconds",
			Help:    "Histogram of full scheduler tick durations per tenant.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		tenantLabels,
	)
	stageChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_stage_changes_total",
			Help: "Total number of detected funnel stage changes.",
		},
		tenantLabels,
	)
	tickQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadflow_engine_tick_queue_length",
		Help: "Approximate number of tenant ticks waiting in the scheduler worker pool queue.",
	})
)

// Session lifecycle metrics
var (
	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_session_transitions_total",
			Help: "Total number of session state transitions, labeled by resulting state.",
		},
		tenantStateLabels,
	)
	qrGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_session_qr_generated_total",
			Help: "Total number of QR payloads issued across all scan cycles.",
		},
		tenantLabels,
	)
)

// Event notifier metrics
var (
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_engine_events_published_total",
			Help: "Total number of events handed to the notifier transport, labeled by outcome.",
		},
		eventLabels,
	)
)

// InitMetrics initializes the Prometheus metrics if enabled.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncMessagesSent increments the sent counter for a tenant.
func IncMessagesSent(tenantID, kind string) {
	if !metricsEnabled {
		return
	}
	messagesSentTotal.WithLabelValues(tenantID, kind).Inc()
}

// IncSendFailures increments the send failure counter for a tenant.
func IncSendFailures(tenantID, kind string) {
	if !metricsEnabled {
		return
	}
	sendFailuresTotal.WithLabelValues(tenantID, kind).Inc()
}

// ObserveSendDuration records one send's duration.
func ObserveSendDuration(tenantID string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	sendDurationSeconds.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// IncSchedulerTicks increments the tick counter with its final status.
func IncSchedulerTicks(tenantID, status string) {
	if !metricsEnabled {
		return
	}
	schedulerTicksTotal.WithLabelValues(tenantID, status).Inc()
}

// ObserveSchedulerTickDuration records one full tick's duration.
func ObserveSchedulerTickDuration(tenantID string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	schedulerTickDurationSeconds.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// IncStageChanges increments the stage change counter.
func IncStageChanges(tenantID string) {
	if !metricsEnabled {
		return
	}
	stageChangesTotal.WithLabelValues(tenantID).Inc()
}

// SetTickQueueLength records the approximate scheduler pool queue length.
func SetTickQueueLength(length int) {
	if !metricsEnabled {
		return
	}
	tickQueueLength.Set(float64(length))
}

// IncSessionTransition increments the transition counter for the resulting state.
func IncSessionTransition(tenantID, state string) {
	if !metricsEnabled {
		return
	}
	sessionTransitionsTotal.WithLabelValues(tenantID, state).Inc()
}

// IncQRGenerated increments the QR issuance counter.
func IncQRGenerated(tenantID string) {
	if !metricsEnabled {
		return
	}
	qrGeneratedTotal.WithLabelValues(tenantID).Inc()
}

// IncEventsPublished increments the notifier publish counter.
func IncEventsPublished(topic, tenantID, status string) {
	if !metricsEnabled {
		return
	}
	eventsPublishedTotal.WithLabelValues(topic, tenantID, status).Inc()
}
