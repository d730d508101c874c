package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "glaciergate"

var (
	// RequestsProcessed counts retrieval requests by terminal outcome.
	RequestsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_processed_total",
		Help:      "Retrieval requests by terminal outcome.",
	}, []string{"outcome"})

	// ValidationRejected counts emails rejected per validation stage.
	ValidationRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validation_rejected_total",
		Help:      "Emails rejected per validation stage.",
	}, []string{"stage", "reason"})

	// AdmissionDenied counts abuse-gate denials by reason.
	AdmissionDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_denied_total",
		Help:      "Abuse-gate denials by reason.",
	}, []string{"reason"})

	// TokensIssued counts capability tokens minted.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Capability tokens minted.",
	})

	// TokensRejected counts token verification failures by kind.
	TokensRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_rejected_total",
		Help:      "Token verification failures by kind.",
	}, []string{"reason"})

	// MailsSent counts outbound confirmation mails by delivery status.
	MailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mails_sent_total",
		Help:      "Outbound confirmation mails by delivery status.",
	}, []string{"status"})

	// Confirmations counts confirmation calls by terminal outcome.
	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmations_total",
		Help:      "Confirmation calls by terminal outcome.",
	}, []string{"outcome"})

	// RestoreTriggers counts restore initiations against the archive gateway.
	RestoreTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restore_triggers_total",
		Help:      "Restore initiations against the archive gateway.",
	}, []string{"result"})

	// RestoreStatus counts archive head checks by observed state.
	RestoreStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restore_status_total",
		Help:      "Archive head checks by observed restore state.",
	}, []string{"state"})

	// APICalls counts raw archive gateway calls.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_api_calls_total",
		Help:      "Raw archive gateway call counts.",
	}, []string{"endpoint", "status"})

	// APIDuration records archive gateway latency.
	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "archive_api_duration_seconds",
		Help:      "Archive gateway call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"endpoint"})

	// HTTPRequests counts inbound API requests by handler and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Inbound API requests by handler and status class.",
	}, []string{"handler", "status"})

	// ActiveBlocks is a gauge of currently blocked addresses.
	ActiveBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_blocks",
		Help:      "Addresses with a live block in the attempt store.",
	})

	// TrackedAttempts is a gauge of live attempt records.
	TrackedAttempts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_attempts",
		Help:      "Live attempt records in the store.",
	})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})

	// RecordsPruned counts records removed by the expiry sweep.
	RecordsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_pruned_total",
		Help:      "Records removed by the expiry sweep.",
	}, []string{"bucket"})
)
