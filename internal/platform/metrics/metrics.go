package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the custody ledger.
type Metrics struct {
	Operations         *prometheus.CounterVec
	PermissionDenials  *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	TransferPhases     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_operations_total",
			Help: "Ledger operations by name and result (success, denied, error).",
		}, []string{"operation", "result"}),
		PermissionDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_permission_denials_total",
			Help: "Permission evaluator denials by role.",
		}, []string{"role"}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_audit_write_failures_total",
			Help: "Audit entries that could not be persisted. Best-effort writes; this is the operator signal.",
		}),
		TransferPhases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_transfer_phases_total",
			Help: "Cross-ledger archival protocol phases by phase name and result.",
		}, []string{"phase", "result"}),
	}
}

// RecordOperation counts one operation outcome. Nil-safe so services can run
// without metrics in tests.
func (m *Metrics) RecordOperation(operation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
}

// RecordDenial counts one permission denial.
func (m *Metrics) RecordDenial(role string) {
	if m == nil {
		return
	}
	m.PermissionDenials.WithLabelValues(role).Inc()
}

// RecordAuditFailure counts one dropped audit write.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

// RecordTransferPhase counts one archival protocol phase outcome.
func (m *Metrics) RecordTransferPhase(phase, result string) {
	if m == nil {
		return
	}
	m.TransferPhases.WithLabelValues(phase, result).Inc()
}
