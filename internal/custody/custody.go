// Package custody records evidence custody transfers: who held an item, who
// received it, and under what authority. Transfers are append-only; the
// chain for an item is its full possession record.
package custody

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"custodia/internal/evidence"
	"custodia/internal/guard"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/platform/events"
	"custodia/internal/rbac"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// RecordType discriminates transfer documents for equality-selector queries.
const RecordType = "custody_transfer"

// Transfer statuses. Transfers auto-approve today; the pending and rejected
// states exist for a future approval workflow.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusCompleted = "completed"
	StatusRejected  = "rejected"
)

// Transfer is one completed custody handoff.
type Transfer struct {
	ID            id.TransferID `json:"id"`
	RecordType    string        `json:"record_type"`
	EvidenceID    id.EvidenceID `json:"evidence_id"`
	FromCustodian string        `json:"from_custodian"`
	ToCustodian   string        `json:"to_custodian"`
	Timestamp     int64         `json:"timestamp"`
	Reason        string        `json:"reason"`
	Location      string        `json:"location"`
	PermitHash    string        `json:"permit_hash"`
	TransferredBy id.ActorID    `json:"transferred_by"`
	ApprovedBy    id.ActorID    `json:"approved_by"`
	Status        string        `json:"status"`
}

// Key derives the ledger key for a transfer. The nanosecond component keeps
// keys for the same item in creation order.
func Key(evidenceID id.EvidenceID, nanos int64) string {
	return fmt.Sprintf("transfer_%s_%d", evidenceID, nanos)
}

// Service executes and queries custody transfers against one ledger.
type Service struct {
	store  ledger.Store
	guard  *guard.Guard
	events events.Publisher
}

func NewService(store ledger.Store, g *guard.Guard, publisher events.Publisher) *Service {
	return &Service{store: store, guard: g, events: publisher}
}

// TransferParams carry the caller-supplied fields of a custody handoff.
type TransferParams struct {
	EvidenceID  id.EvidenceID `json:"evidence_id"`
	ToCustodian string        `json:"to_custodian"`
	Reason      string        `json:"reason"`
	Location    string        `json:"location"`
	PermitHash  string        `json:"permit_hash"`
}

// Transfer hands custody of an evidence item to a new custodian. The
// transfer record and the updated evidence custodian commit in one atomic
// batch, so the chain of from_custodian/to_custodian pairs always links up.
// Evidence already designated cold is frozen and cannot change hands.
func (s *Service) Transfer(ctx context.Context, actor identity.Context, params TransferParams) (*Transfer, error) {
	const action = "TransferCustody"
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResCustody, rbac.ActionTransfer, string(params.EvidenceID))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Transfer, error) {
		s.guard.Failure(ctx, span, actor, action, rbac.ResCustody.String(), string(params.EvidenceID), err)
		return nil, err
	}

	now := requestcontext.Now(ctx)

	// from_custodian is read under the store's serialization in the same
	// commit that installs the new custodian, so concurrent transfers on
	// one item always chain instead of both branching off the same
	// custodian.
	var transfer Transfer
	var transferJSON json.RawMessage
	err = s.store.UpdateBatch(ctx, evidence.Key(params.EvidenceID),
		func(raw json.RawMessage) (json.RawMessage, map[string]json.RawMessage, error) {
			var ev evidence.Evidence
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode evidence")
			}
			if ev.ChainType == evidence.ChainCold {
				return nil, nil, dErrors.Newf(dErrors.CodeInvalidStatus,
					"evidence %s is archived and cannot change custody", params.EvidenceID)
			}

			transfer = Transfer{
				ID:            id.TransferID(Key(params.EvidenceID, now.UnixNano())),
				RecordType:    RecordType,
				EvidenceID:    params.EvidenceID,
				FromCustodian: ev.Custodian,
				ToCustodian:   params.ToCustodian,
				Timestamp:     now.Unix(),
				Reason:        params.Reason,
				Location:      params.Location,
				PermitHash:    params.PermitHash,
				TransferredBy: actor.ActorID,
				ApprovedBy:    actor.ActorID,
				Status:        StatusCompleted,
			}

			ev.Custodian = params.ToCustodian
			ev.UpdatedAt = now.Unix()

			var err error
			transferJSON, err = json.Marshal(transfer)
			if err != nil {
				return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal transfer")
			}
			evidenceJSON, err := json.Marshal(ev)
			if err != nil {
				return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal evidence")
			}
			return evidenceJSON, map[string]json.RawMessage{string(transfer.ID): transferJSON}, nil
		})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Newf(dErrors.CodeNotFound, "evidence %s does not exist", params.EvidenceID)
		}
		return fail(err)
	}

	s.events.Publish(ctx, "CustodyTransferred", transferJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResCustody.String(), string(params.EvidenceID),
		"custody transferred to "+params.ToCustodian)
	return &transfer, nil
}

// History returns the custody chain of an evidence item in creation order.
// An item that never changed hands has an empty chain; the item itself must
// exist.
func (s *Service) History(ctx context.Context, actor identity.Context, evidenceID id.EvidenceID) ([]Transfer, error) {
	if err := s.guard.Reading(ctx, actor, "GetCustodyHistory", rbac.ResCustody, rbac.ActionHistory, string(evidenceID)); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, evidence.Key(evidenceID)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "evidence %s does not exist", evidenceID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read evidence")
	}

	docs, err := s.store.Query(ctx, map[string]string{
		"record_type": RecordType,
		"evidence_id": string(evidenceID),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query custody history")
	}
	chain := make([]Transfer, 0, len(docs))
	for _, raw := range docs {
		var t Transfer
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal transfer")
		}
		chain = append(chain, t)
	}
	return chain, nil
}
