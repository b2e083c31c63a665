package evidence

import (
	"context"
	"encoding/json"
	"errors"

	"custodia/internal/guard"
	"custodia/internal/identity"
	"custodia/internal/investigation"
	"custodia/internal/ledger"
	"custodia/internal/platform/events"
	"custodia/internal/rbac"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Key derives the ledger key for an evidence record.
func Key(evidenceID id.EvidenceID) string { return string(evidenceID) }

// CustodyChainRef derives the custody-chain reference stored on a record.
func CustodyChainRef(evidenceID id.EvidenceID) string { return "custody_" + string(evidenceID) }

// Service runs the evidence lifecycle against one ledger.
type Service struct {
	store  ledger.Store
	guard  *guard.Guard
	events events.Publisher
}

func NewService(store ledger.Store, g *guard.Guard, publisher events.Publisher) *Service {
	return &Service{store: store, guard: g, events: publisher}
}

// CreateParams carry the caller-supplied fields of a new evidence item.
type CreateParams struct {
	ID          id.EvidenceID `json:"id"`
	CaseID      id.CaseID     `json:"case_id"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Hash        string        `json:"hash"`
	IPFSHash    string        `json:"ipfs_hash"`
	Location    string        `json:"location"`
	Metadata    string        `json:"metadata"`
	FileSize    int64         `json:"file_size"`
}

// Create records a new evidence item under an existing case. The record and
// the parent's evidence count land in one atomic batch, so the stored count
// always equals the number of evidence records for the case.
func (s *Service) Create(ctx context.Context, actor identity.Context, params CreateParams) (*Evidence, error) {
	const action = "CreateEvidence"
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResEvidence, rbac.ActionCreate, string(params.ID))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Evidence, error) {
		s.guard.Failure(ctx, span, actor, action, rbac.ResEvidence.String(), string(params.ID), err)
		return nil, err
	}

	if _, err := s.store.Get(ctx, Key(params.ID)); err == nil {
		return fail(dErrors.Newf(dErrors.CodeAlreadyExists, "evidence %s already exists", params.ID))
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to read evidence"))
	}

	now := requestcontext.Now(ctx).Unix()
	ev := Evidence{
		ID:              params.ID,
		RecordType:      RecordType,
		CaseID:          params.CaseID,
		Type:            params.Type,
		Description:     params.Description,
		Hash:            params.Hash,
		IPFSHash:        params.IPFSHash,
		Location:        params.Location,
		Custodian:       string(actor.ActorID),
		CollectedBy:     actor.ActorID,
		Timestamp:       now,
		Status:          StatusCollected,
		Metadata:        params.Metadata,
		FileSize:        params.FileSize,
		ChainType:       ChainHot,
		TransactionID:   requestcontext.TxID(ctx),
		CustodyChainRef: CustodyChainRef(params.ID),
		CreatedBy:       actor.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	evidenceJSON, err := json.Marshal(ev)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal evidence"))
	}

	// The parent's evidence_count increments against the parent's current
	// state, under the store's serialization, in the same commit as the
	// evidence record. Concurrent creates on one case cannot read the same
	// count.
	err = s.store.UpdateBatch(ctx, investigation.Key(params.CaseID),
		func(raw json.RawMessage) (json.RawMessage, map[string]json.RawMessage, error) {
			var parent investigation.Investigation
			if err := json.Unmarshal(raw, &parent); err != nil {
				return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode investigation")
			}
			parent.EvidenceCount++
			parent.UpdatedAt = now
			parentJSON, err := json.Marshal(parent)
			if err != nil {
				return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation")
			}
			return parentJSON, map[string]json.RawMessage{Key(params.ID): evidenceJSON}, nil
		})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Newf(dErrors.CodeNotFound, "case %s does not exist", params.CaseID)
		}
		return fail(err)
	}

	s.events.Publish(ctx, "EvidenceCreated", evidenceJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResEvidence.String(), string(params.ID), "evidence created")
	return &ev, nil
}

// Get returns one evidence record.
func (s *Service) Get(ctx context.Context, actor identity.Context, evidenceID id.EvidenceID) (*Evidence, error) {
	if err := s.guard.Reading(ctx, actor, "ReadEvidence", rbac.ResEvidence, rbac.ActionView, string(evidenceID)); err != nil {
		return nil, err
	}
	return Load(ctx, s.store, evidenceID)
}

// Load fetches and decodes an evidence record without a permission check.
func Load(ctx context.Context, store ledger.Store, evidenceID id.EvidenceID) (*Evidence, error) {
	raw, err := store.Get(ctx, Key(evidenceID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "evidence %s does not exist", evidenceID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read evidence")
	}
	var ev Evidence
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal evidence")
	}
	return &ev, nil
}

// UpdateStatus moves an evidence item to a new handling state.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Context, evidenceID id.EvidenceID, next Status) (*Evidence, error) {
	const action = "UpdateEvidenceStatus"
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResEvidence, rbac.ActionUpdate, string(evidenceID))
	if err != nil {
		return nil, err
	}
	if !next.Valid() {
		err := dErrors.Newf(dErrors.CodeInvalidStatus, "invalid status: %s", next)
		s.guard.Failure(ctx, span, actor, action, rbac.ResEvidence.String(), string(evidenceID), err)
		return nil, err
	}

	var updated Evidence
	err = s.store.Update(ctx, Key(evidenceID), func(raw json.RawMessage) (json.RawMessage, error) {
		var ev Evidence
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal evidence")
		}
		ev.Status = next
		ev.UpdatedAt = requestcontext.Now(ctx).Unix()
		updated = ev
		return json.Marshal(ev)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Newf(dErrors.CodeNotFound, "evidence %s does not exist", evidenceID)
		}
		s.guard.Failure(ctx, span, actor, action, rbac.ResEvidence.String(), string(evidenceID), err)
		return nil, err
	}

	raw, _ := json.Marshal(updated)
	s.events.Publish(ctx, "EvidenceUpdated", raw)
	s.guard.Success(ctx, span, actor, action, rbac.ResEvidence.String(), string(evidenceID), "status updated to "+string(next))
	return &updated, nil
}

// QueryByCase returns all evidence recorded under one case.
func (s *Service) QueryByCase(ctx context.Context, actor identity.Context, caseID id.CaseID) ([]Evidence, error) {
	if err := s.guard.Reading(ctx, actor, "QueryEvidenceByCase", rbac.ResEvidence, rbac.ActionList, string(caseID)); err != nil {
		return nil, err
	}
	return s.query(ctx, map[string]string{"record_type": RecordType, "case_id": string(caseID)})
}

// QueryByCustodian returns all evidence currently held by one custodian.
func (s *Service) QueryByCustodian(ctx context.Context, actor identity.Context, custodian string) ([]Evidence, error) {
	if err := s.guard.Reading(ctx, actor, "QueryEvidenceByCustodian", rbac.ResEvidence, rbac.ActionList, custodian); err != nil {
		return nil, err
	}
	return s.query(ctx, map[string]string{"record_type": RecordType, "custodian": custodian})
}

// QueryByHash returns the evidence item carrying the given content hash.
func (s *Service) QueryByHash(ctx context.Context, actor identity.Context, hash string) (*Evidence, error) {
	if err := s.guard.Reading(ctx, actor, "QueryEvidenceByHash", rbac.ResEvidence, rbac.ActionView, hash); err != nil {
		return nil, err
	}
	results, err := s.query(ctx, map[string]string{"record_type": RecordType, "hash": hash})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "evidence with hash %s not found", hash)
	}
	return &results[0], nil
}

// List returns a page of evidence ordered by key.
func (s *Service) List(ctx context.Context, actor identity.Context, pageSize int, bookmark string) ([]Evidence, string, error) {
	if err := s.guard.Reading(ctx, actor, "ListEvidence", rbac.ResEvidence, rbac.ActionList, "*"); err != nil {
		return nil, "", err
	}
	docs, next, err := s.store.QueryPage(ctx, map[string]string{"record_type": RecordType}, pageSize, bookmark)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to query evidence")
	}
	out, err := decode(docs)
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// HistoryEntry is one version of an evidence record. Deleted versions carry
// no value.
type HistoryEntry struct {
	TxID      string    `json:"tx_id"`
	Timestamp int64     `json:"timestamp"`
	IsDelete  bool      `json:"is_delete"`
	Value     *Evidence `json:"value,omitempty"`
}

// GetHistory returns the full version history of an evidence record, oldest
// first, including delete markers.
func (s *Service) GetHistory(ctx context.Context, actor identity.Context, evidenceID id.EvidenceID) ([]HistoryEntry, error) {
	if err := s.guard.Reading(ctx, actor, "GetEvidenceHistory", rbac.ResEvidence, rbac.ActionHistory, string(evidenceID)); err != nil {
		return nil, err
	}
	versions, err := s.store.History(ctx, Key(evidenceID))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get evidence history")
	}
	history := make([]HistoryEntry, 0, len(versions))
	for _, v := range versions {
		entry := HistoryEntry{TxID: v.TxID, Timestamp: v.Timestamp.Unix(), IsDelete: v.IsDelete}
		if !v.IsDelete {
			var ev Evidence
			if err := json.Unmarshal(v.Value, &ev); err == nil {
				entry.Value = &ev
			}
		}
		history = append(history, entry)
	}
	return history, nil
}

func (s *Service) query(ctx context.Context, selector map[string]string) ([]Evidence, error) {
	docs, err := s.store.Query(ctx, selector)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query evidence")
	}
	return decode(docs)
}

func decode(docs []json.RawMessage) ([]Evidence, error) {
	out := make([]Evidence, 0, len(docs))
	for _, raw := range docs {
		var ev Evidence
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal evidence")
		}
		out = append(out, ev)
	}
	return out, nil
}
