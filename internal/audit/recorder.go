package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/platform/metrics"
	"custodia/pkg/requestcontext"
)

// Recorder appends audit entries to the ledger.
//
// Writes are best-effort relative to the caller: a failed audit write is
// logged and counted but never fails the operation that produced it. The
// metric is the operator channel for storage trouble on the audit path.
type Recorder struct {
	store   ledger.Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(store ledger.Store, log *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{store: store, log: log, metrics: m}
}

// Record writes one entry for the current transaction.
func (r *Recorder) Record(ctx context.Context, actor identity.Context, action, resource, resourceID string, result Result, reason string) {
	txID := requestcontext.TxID(ctx)
	if txID == "" {
		txID = uuid.NewString()
	}
	entry := Entry{
		ID:            Key(txID),
		RecordType:    RecordType,
		ActorID:       actor.ActorID,
		Action:        action,
		Resource:      resource,
		ResourceID:    resourceID,
		Result:        result,
		Reason:        reason,
		Timestamp:     requestcontext.Now(ctx).Unix(),
		ActorOrg:      actor.Organization,
		TransactionID: txID,
	}

	raw, err := json.Marshal(entry)
	if err == nil {
		err = r.store.Put(ctx, entry.ID, raw)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "audit write failed",
			"action", action,
			"resource_id", resourceID,
			"result", string(result),
			"error", err,
		)
		r.metrics.RecordAuditFailure()
	}
}
