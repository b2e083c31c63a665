package audit

import (
	"context"
	"encoding/json"

	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/rbac"
	dErrors "custodia/pkg/domain-errors"
)

// Service answers audit-trail queries. Any actor may list their own entries;
// listing everything requires the audits view permission (auditor, court and
// the admin bypass).
type Service struct {
	store    ledger.Store
	matrix   rbac.Matrix
	recorder *Recorder
}

func NewService(store ledger.Store, matrix rbac.Matrix, recorder *Recorder) *Service {
	return &Service{store: store, matrix: matrix, recorder: recorder}
}

// ListByActor returns the caller's own audit entries.
func (s *Service) ListByActor(ctx context.Context, actor identity.Context) ([]Entry, error) {
	role := identity.ResolveRole(actor)
	if !s.matrix.AllowsScoped(role, rbac.ResOperateLog, rbac.ActionView, rbac.OwnSelf) {
		s.recorder.Record(ctx, actor, "ListAuditLogs", rbac.ResOperateLog.String(), string(actor.ActorID),
			ResultDenied, "insufficient permissions for role: "+string(role))
		return nil, dErrors.New(dErrors.CodePermissionDenied, "access denied: "+string(role)+" may not view audit logs")
	}
	return s.query(ctx, map[string]string{"record_type": RecordType, "actor_id": string(actor.ActorID)})
}

// ListAll returns the complete audit trail.
func (s *Service) ListAll(ctx context.Context, actor identity.Context) ([]Entry, error) {
	role := identity.ResolveRole(actor)
	if !s.matrix.AllowsScoped(role, rbac.ResOperateLog, rbac.ActionView, rbac.OwnAny) {
		s.recorder.Record(ctx, actor, "ListAuditLogs", rbac.ResOperateLog.String(), "*",
			ResultDenied, "insufficient permissions for role: "+string(role))
		return nil, dErrors.New(dErrors.CodePermissionDenied, "access denied: "+string(role)+" may not view all audit logs")
	}
	return s.query(ctx, map[string]string{"record_type": RecordType})
}

func (s *Service) query(ctx context.Context, selector map[string]string) ([]Entry, error) {
	docs, err := s.store.Query(ctx, selector)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit logs")
	}
	entries := make([]Entry, 0, len(docs))
	for _, raw := range docs {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue // skip non-audit records sharing the selector space
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
