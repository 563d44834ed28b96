package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the result storage subsystem.
type Metrics struct {
	ResultsStored        prometheus.Counter
	ArchiveWrites        prometheus.Counter
	ArchiveRetries       prometheus.Counter
	ArchiveLag           prometheus.Counter
	AuditEventsRecorded  *prometheus.CounterVec
	AuditBufferDrops     prometheus.Counter
	UnauthorizedAttempts prometheus.Counter
	ReconcileRuns        prometheus.Counter
	ReconcileFindings    *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ResultsStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_results_stored_total",
			Help: "Total number of canonical result writes.",
		}),
		ArchiveWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_archive_writes_total",
			Help: "Total number of successful archive snapshot writes.",
		}),
		ArchiveRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_archive_retries_total",
			Help: "Total number of retried archive writes.",
		}),
		ArchiveLag: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_archive_lag_total",
			Help: "Archive writes that exhausted their retry budget.",
		}),
		AuditEventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "psymetric_audit_events_total",
			Help: "Audit events recorded, labelled by action and severity.",
		}, []string{"action", "severity"}),
		AuditBufferDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_audit_buffer_drops_total",
			Help: "Low-severity audit events dropped under buffer pressure.",
		}),
		UnauthorizedAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_unauthorized_attempts_total",
			Help: "Denied operations that produced an UNAUTHORIZED_ATTEMPT event.",
		}),
		ReconcileRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "psymetric_reconcile_runs_total",
			Help: "Completed reconciliation scans.",
		}),
		ReconcileFindings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "psymetric_reconcile_findings_total",
			Help: "Reconciliation findings, labelled by classification.",
		}, []string{"classification"}),
	}
}
