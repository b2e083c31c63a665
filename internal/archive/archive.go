// Package archive is the write-once guard of the cold ledger. It accepts
// evidence and case records handed over from the hot ledger, freezes them
// with archival back-references, and answers integrity verification queries
// against the stored archive metadata. A record id already present on cold
// can never be written again.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"custodia/internal/evidence"
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

// Metadata records the provenance of one archived evidence item for later
// integrity verification.
type Metadata struct {
	EvidenceID         id.EvidenceID `json:"evidence_id"`
	OriginalChain      string        `json:"original_chain"`
	OriginalTxID       string        `json:"original_tx_id"`
	ArchivalVerifiedBy id.ActorID    `json:"archival_verified_by"`
	ArchivalTimestamp  int64         `json:"archival_timestamp"`
	IntegrityHash      string        `json:"integrity_hash"`
}

// MetadataKey derives the ledger key for archive metadata.
func MetadataKey(evidenceID id.EvidenceID) string { return "ARCHIVE_META_" + string(evidenceID) }

// IntegrityHash computes the SHA-256 fingerprint of an evidence document as
// it left the hot ledger. Both sides of the handoff compute it over the
// same serialized form.
func IntegrityHash(evidenceJSON json.RawMessage) string {
	sum := sha256.Sum256(evidenceJSON)
	return hex.EncodeToString(sum[:])
}

// Service runs archival writes and integrity checks against the cold ledger.
type Service struct {
	store  ledger.Store
	guard  *guard.Guard
	events events.Publisher
}

func NewService(store ledger.Store, g *guard.Guard, publisher events.Publisher) *Service {
	return &Service{store: store, guard: g, events: publisher}
}

// ArchiveEvidence lands one evidence document from the hot ledger. The
// frozen record and its archive metadata commit in one batch; re-archival
// of the same id fails and leaves the first record untouched.
func (s *Service) ArchiveEvidence(ctx context.Context, actor identity.Context, evidenceJSON json.RawMessage, sourceTxID, integrityHash string) (*evidence.Evidence, error) {
	const action = "ArchiveEvidence"
	var ev evidence.Evidence
	if err := json.Unmarshal(evidenceJSON, &ev); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to unmarshal evidence")
	}

	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResEvidence, rbac.ActionArchive, string(ev.ID))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*evidence.Evidence, error) {
		s.guard.Failure(ctx, span, actor, action, rbac.ResEvidence.String(), string(ev.ID), err)
		return nil, err
	}

	if _, err := s.store.Get(ctx, evidence.Key(ev.ID)); err == nil {
		return fail(dErrors.Newf(dErrors.CodeAlreadyExists, "evidence %s already archived", ev.ID))
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to read evidence"))
	}

	now := requestcontext.Now(ctx).Unix()
	ev.RecordType = evidence.RecordType
	ev.Status = evidence.StatusArchived
	ev.ChainType = evidence.ChainCold
	ev.ArchivedBy = actor.ActorID
	ev.ArchivedAt = now
	ev.SourceChain = string(ledger.ModeHot)
	ev.SourceTxID = sourceTxID
	ev.TransactionID = requestcontext.TxID(ctx)

	meta := Metadata{
		EvidenceID:         ev.ID,
		OriginalChain:      string(ledger.ModeHot),
		OriginalTxID:       sourceTxID,
		ArchivalVerifiedBy: actor.ActorID,
		ArchivalTimestamp:  now,
		IntegrityHash:      integrityHash,
	}

	frozenJSON, err := json.Marshal(ev)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal evidence"))
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal archive metadata"))
	}

	err = s.store.PutBatch(ctx, map[string]json.RawMessage{
		evidence.Key(ev.ID): frozenJSON,
		MetadataKey(ev.ID):  metaJSON,
	})
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to store archived evidence"))
	}

	s.events.Publish(ctx, "EvidenceArchived", frozenJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResEvidence.String(), string(ev.ID),
		"evidence archived from hot chain tx: "+sourceTxID)
	return &ev, nil
}

// ArchiveInvestigation lands one case document from the hot ledger, frozen
// with archival stamps. Re-archival of the same id fails.
func (s *Service) ArchiveInvestigation(ctx context.Context, actor identity.Context, investigationJSON json.RawMessage, sourceTxID string) (*investigation.Investigation, error) {
	const action = "ArchiveInvestigation"
	var inv investigation.Investigation
	if err := json.Unmarshal(investigationJSON, &inv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to unmarshal investigation")
	}

	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, rbac.ActionArchive, string(inv.ID))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*investigation.Investigation, error) {
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(inv.ID), err)
		return nil, err
	}

	now := requestcontext.Now(ctx).Unix()
	inv.RecordType = investigation.RecordType
	inv.Status = investigation.StatusArchived
	inv.ArchivedBy = actor.ActorID
	inv.ArchivedAt = now
	inv.ArchivedDate = now
	inv.UpdatedAt = now

	frozenJSON, err := json.Marshal(inv)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation"))
	}
	if err := s.store.Create(ctx, investigation.Key(inv.ID), frozenJSON); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return fail(dErrors.Newf(dErrors.CodeAlreadyExists, "investigation %s already archived", inv.ID))
		}
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to store archived investigation"))
	}

	s.events.Publish(ctx, "InvestigationArchived", frozenJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(inv.ID),
		"investigation archived from hot chain")
	return &inv, nil
}

// GetMetadata returns the archive provenance record of an evidence item.
func (s *Service) GetMetadata(ctx context.Context, actor identity.Context, evidenceID id.EvidenceID) (*Metadata, error) {
	if err := s.guard.Reading(ctx, actor, "GetArchiveMetadata", rbac.ResEvidence, rbac.ActionView, string(evidenceID)); err != nil {
		return nil, err
	}
	return s.loadMetadata(ctx, evidenceID)
}

func (s *Service) loadMetadata(ctx context.Context, evidenceID id.EvidenceID) (*Metadata, error) {
	raw, err := s.store.Get(ctx, MetadataKey(evidenceID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "archive metadata for %s not found", evidenceID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read archive metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal archive metadata")
	}
	return &meta, nil
}

// VerifyIntegrity checks that an archived item is still what the handoff
// landed: provenance metadata present and pointing at the hot chain, and the
// frozen record unmodified since archival. Deviations fail with an
// integrity_mismatch so callers can distinguish tampering from absence.
func (s *Service) VerifyIntegrity(ctx context.Context, actor identity.Context, evidenceID id.EvidenceID) error {
	const action = "VerifyArchiveIntegrity"
	if err := s.guard.Reading(ctx, actor, action, rbac.ResEvidence, rbac.ActionView, string(evidenceID)); err != nil {
		return err
	}

	ev, err := evidence.Load(ctx, s.store, evidenceID)
	if err != nil {
		return err
	}
	meta, err := s.loadMetadata(ctx, evidenceID)
	if err != nil {
		return err
	}

	if meta.EvidenceID != evidenceID {
		return dErrors.Newf(dErrors.CodeIntegrityMismatch, "archive metadata mismatch for %s", evidenceID)
	}
	if meta.OriginalChain != string(ledger.ModeHot) {
		return dErrors.Newf(dErrors.CodeIntegrityMismatch, "invalid source chain: %s", meta.OriginalChain)
	}
	if ev.Status != evidence.StatusArchived {
		return dErrors.Newf(dErrors.CodeIntegrityMismatch,
			"evidence %s has been modified after archival, status: %s", evidenceID, ev.Status)
	}
	return nil
}
