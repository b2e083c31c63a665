package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"custodia/internal/evidence"
	"custodia/internal/guard"
	"custodia/internal/identity"
	"custodia/internal/investigation"
	"custodia/internal/ledger"
	"custodia/internal/platform/events"
	"custodia/internal/platform/metrics"
	"custodia/internal/rbac"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Service runs one side of the cross-ledger handoff protocol. The same type
// serves both ledgers; Mode determines which phases this instance is the
// source or destination for.
type Service struct {
	store   ledger.Store
	guard   *guard.Guard
	events  events.Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
	mode    ledger.Mode
}

func NewService(store ledger.Store, g *guard.Guard, publisher events.Publisher, m *metrics.Metrics, log *slog.Logger, mode ledger.Mode) *Service {
	return &Service{store: store, guard: g, events: publisher, metrics: m, log: log, mode: mode}
}

func txID(ctx context.Context) string {
	if tx := requestcontext.TxID(ctx); tx != "" {
		return tx
	}
	return uuid.NewString()
}

// ExportCaseForArchive starts the hot→cold handoff: gathers the closed case
// and all its evidence into an export package, parks the case in
// transferring_to_archive, and persists the package as the export record.
// Court only; hot ledger only.
func (s *Service) ExportCaseForArchive(ctx context.Context, actor identity.Context, caseID id.CaseID, courtOrder string) (*CaseExportPackage, error) {
	return s.export(ctx, actor, "ExportCaseForArchive", rbac.ActionArchive, caseID, courtOrder, exportSpec{
		mode:          ledger.ModeHot,
		requiredFrom:  investigation.StatusClosed,
		parkIn:        investigation.StatusTransferringToArchive,
		phase:         "export_archive",
		statusMessage: "can only archive closed investigations",
	})
}

// ExportCaseForReactivation starts the cold→hot handoff: gathers an archived
// case for reactivation and parks it in transferring_to_hot. Court only;
// cold ledger only.
func (s *Service) ExportCaseForReactivation(ctx context.Context, actor identity.Context, caseID id.CaseID, courtOrder string) (*CaseExportPackage, error) {
	return s.export(ctx, actor, "ExportCaseForReactivation", rbac.ActionReopen, caseID, courtOrder, exportSpec{
		mode:          ledger.ModeCold,
		requiredFrom:  investigation.StatusArchived,
		parkIn:        investigation.StatusTransferringToHot,
		phase:         "export_reactivation",
		statusMessage: "can only reactivate archived investigations",
	})
}

type exportSpec struct {
	mode          ledger.Mode
	requiredFrom  investigation.Status
	parkIn        investigation.Status
	phase         string
	statusMessage string
}

func (s *Service) export(ctx context.Context, actor identity.Context, action string, verb rbac.Action, caseID id.CaseID, courtOrder string, spec exportSpec) (*CaseExportPackage, error) {
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, verb, string(caseID))
	if err != nil {
		s.metrics.RecordTransferPhase(spec.phase, "error")
		return nil, err
	}
	fail := func(err error) (*CaseExportPackage, error) {
		s.metrics.RecordTransferPhase(spec.phase, "error")
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}
	if s.mode != spec.mode {
		return fail(dErrors.Newf(dErrors.CodeInvalidTransferState,
			"%s is a %s-ledger operation", action, spec.mode))
	}

	inv, err := investigation.Load(ctx, s.store, caseID)
	if err != nil {
		return fail(err)
	}
	if inv.Status != spec.requiredFrom {
		return fail(dErrors.Newf(dErrors.CodeInvalidStatus,
			"%s, current status: %s", spec.statusMessage, inv.Status))
	}

	items, err := s.caseEvidence(ctx, caseID)
	if err != nil {
		return fail(err)
	}

	now := requestcontext.Now(ctx).Unix()
	tx := txID(ctx)
	pkg := CaseExportPackage{
		Investigation: *inv,
		Evidence:      items,
		CourtOrder:    courtOrder,
		ExportedAt:    now,
		ExportedBy:    actor.ActorID,
		SourceChain:   string(s.mode),
		TransferTxID:  tx,
	}
	pkgJSON, err := json.Marshal(pkg)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal export package"))
	}

	parked := *inv
	parked.Status = spec.parkIn
	parked.UpdatedAt = now
	parkedJSON, err := json.Marshal(parked)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation"))
	}

	err = s.store.PutBatch(ctx, map[string]json.RawMessage{
		investigation.Key(caseID): parkedJSON,
		ExportKey(caseID, tx):     pkgJSON,
	})
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to store export record"))
	}

	s.metrics.RecordTransferPhase(spec.phase, "success")
	s.events.Publish(ctx, "CaseExported", pkgJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
		"case exported, court order: "+courtOrder)
	return &pkg, nil
}

// ImportArchivedCase applies a hot-side export package to the cold ledger:
// the case lands archived, every evidence item lands frozen on cold with
// back-references to its hot-chain origin, and an import record documents
// the application. A case id already present on cold fails with
// already_exists, which a retrying driver treats as applied. Court only;
// cold ledger only.
func (s *Service) ImportArchivedCase(ctx context.Context, actor identity.Context, pkg CaseExportPackage) (*ImportRecord, error) {
	const action = "ImportArchivedCase"
	const phase = "import_archive"
	caseID := pkg.Investigation.ID

	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, rbac.ActionArchive, string(caseID))
	if err != nil {
		s.metrics.RecordTransferPhase(phase, "error")
		return nil, err
	}
	fail := func(err error) (*ImportRecord, error) {
		s.metrics.RecordTransferPhase(phase, "error")
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}
	if s.mode != ledger.ModeCold {
		return fail(dErrors.New(dErrors.CodeInvalidTransferState, "ImportArchivedCase is a cold-ledger operation"))
	}
	if pkg.SourceChain != string(ledger.ModeHot) {
		return fail(dErrors.Newf(dErrors.CodeSourceChainMismatch,
			"invalid source chain: %s, expected %s", pkg.SourceChain, ledger.ModeHot))
	}
	if _, err := s.store.Get(ctx, investigation.Key(caseID)); err == nil {
		return fail(dErrors.Newf(dErrors.CodeAlreadyExists,
			"investigation %s already exists on cold chain", caseID))
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to read investigation"))
	}

	now := requestcontext.Now(ctx).Unix()
	tx := txID(ctx)
	puts := make(map[string]json.RawMessage, len(pkg.Evidence)+2)

	inv := pkg.Investigation
	inv.Status = investigation.StatusArchived
	inv.ArchivedBy = actor.ActorID
	inv.ArchivedAt = now
	inv.ArchivedDate = now
	inv.UpdatedAt = now
	invJSON, err := json.Marshal(inv)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation"))
	}
	puts[investigation.Key(caseID)] = invJSON

	for _, ev := range pkg.Evidence {
		ev.Status = evidence.StatusArchived
		ev.ChainType = evidence.ChainCold
		ev.ArchivedBy = actor.ActorID
		ev.ArchivedAt = now
		ev.SourceChain = pkg.SourceChain
		ev.SourceTxID = pkg.TransferTxID
		ev.UpdatedAt = now
		evJSON, err := json.Marshal(ev)
		if err != nil {
			return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal evidence"))
		}
		puts[evidence.Key(ev.ID)] = evJSON
	}

	record := ImportRecord{
		InvestigationID: caseID,
		SourceChain:     pkg.SourceChain,
		SourceTxID:      pkg.TransferTxID,
		CourtOrder:      pkg.CourtOrder,
		ImportedAt:      now,
		ImportedBy:      actor.ActorID,
		ImportTxID:      tx,
		EvidenceCount:   len(pkg.Evidence),
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal import record"))
	}
	puts[ImportKey(caseID, tx)] = recordJSON

	if err := s.store.PutBatch(ctx, puts); err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply import"))
	}

	s.metrics.RecordTransferPhase(phase, "success")
	s.events.Publish(ctx, "CaseImported", recordJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
		"case imported from hot chain, court order: "+pkg.CourtOrder)
	return &record, nil
}

// ImportReactivatedCase applies a cold-side export package back to the hot
// ledger: the case reopens with its closing date cleared, and every evidence
// item returns to the hot chain in reviewed state. Existing hot records for
// the case are overwritten; the cold copy stays frozen. Court only; hot
// ledger only.
func (s *Service) ImportReactivatedCase(ctx context.Context, actor identity.Context, pkg CaseExportPackage) (*ImportRecord, error) {
	const action = "ImportReactivatedCase"
	const phase = "import_reactivation"
	caseID := pkg.Investigation.ID

	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, rbac.ActionReopen, string(caseID))
	if err != nil {
		s.metrics.RecordTransferPhase(phase, "error")
		return nil, err
	}
	fail := func(err error) (*ImportRecord, error) {
		s.metrics.RecordTransferPhase(phase, "error")
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}
	if s.mode != ledger.ModeHot {
		return fail(dErrors.New(dErrors.CodeInvalidTransferState, "ImportReactivatedCase is a hot-ledger operation"))
	}
	if pkg.SourceChain != string(ledger.ModeCold) {
		return fail(dErrors.Newf(dErrors.CodeSourceChainMismatch,
			"invalid source chain: %s, expected %s", pkg.SourceChain, ledger.ModeCold))
	}

	now := requestcontext.Now(ctx).Unix()
	tx := txID(ctx)
	puts := make(map[string]json.RawMessage, len(pkg.Evidence)+2)

	inv := pkg.Investigation
	inv.Status = investigation.StatusOpen
	inv.ClosedDate = 0
	inv.UpdatedAt = now
	invJSON, err := json.Marshal(inv)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation"))
	}
	puts[investigation.Key(caseID)] = invJSON

	for _, ev := range pkg.Evidence {
		ev.Status = evidence.StatusReviewed
		ev.ChainType = evidence.ChainHot
		ev.UpdatedAt = now
		evJSON, err := json.Marshal(ev)
		if err != nil {
			return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal evidence"))
		}
		puts[evidence.Key(ev.ID)] = evJSON
	}

	record := ImportRecord{
		InvestigationID: caseID,
		SourceChain:     pkg.SourceChain,
		SourceTxID:      pkg.TransferTxID,
		CourtOrder:      pkg.CourtOrder,
		ImportedAt:      now,
		ImportedBy:      actor.ActorID,
		ImportTxID:      tx,
		EvidenceCount:   len(pkg.Evidence),
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal import record"))
	}
	puts[ImportKey(caseID, tx)] = recordJSON

	if err := s.store.PutBatch(ctx, puts); err != nil {
		return fail(dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply import"))
	}

	s.metrics.RecordTransferPhase(phase, "success")
	s.events.Publish(ctx, "CaseReactivated", recordJSON)
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
		"case imported from cold chain, court order: "+pkg.CourtOrder)
	return &record, nil
}

// CompleteArchiveTransfer closes the hot→cold handoff on the hot ledger
// once the cold import landed. Retry-safe: re-running after success returns
// the stored receipt. Court only; hot ledger only.
func (s *Service) CompleteArchiveTransfer(ctx context.Context, actor identity.Context, caseID id.CaseID, coldChainTxID string) (*ArchiveReceipt, error) {
	const action = "CompleteArchiveTransfer"
	const phase = "complete_archive"

	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, rbac.ActionArchive, string(caseID))
	if err != nil {
		s.metrics.RecordTransferPhase(phase, "error")
		return nil, err
	}
	fail := func(err error) (*ArchiveReceipt, error) {
		s.metrics.RecordTransferPhase(phase, "error")
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}
	if s.mode != ledger.ModeHot {
		return fail(dErrors.New(dErrors.CodeInvalidTransferState, "CompleteArchiveTransfer is a hot-ledger operation"))
	}

	inv, err := investigation.Load(ctx, s.store, caseID)
	if err != nil {
		return fail(err)
	}

	if inv.Status == investigation.StatusArchivedOnCold {
		var receipt ArchiveReceipt
		if ok, err := s.loadReceipt(ctx, ArchiveCompleteKey(caseID), &receipt); err != nil {
			return fail(err)
		} else if ok {
			s.metrics.RecordTransferPhase(phase, "success")
			s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
				"archive transfer already completed")
			return &receipt, nil
		}
	}
	if inv.Status != investigation.StatusTransferringToArchive {
		return fail(dErrors.Newf(dErrors.CodeInvalidTransferState,
			"invalid status for completion: %s", inv.Status))
	}

	now := requestcontext.Now(ctx).Unix()
	receipt := ArchiveReceipt{InvestigationID: caseID, ColdChainTxID: coldChainTxID, CompletedAt: now}
	if err := s.complete(ctx, inv, investigation.StatusArchivedOnCold, ArchiveCompleteKey(caseID), receipt, now); err != nil {
		return fail(err)
	}

	s.metrics.RecordTransferPhase(phase, "success")
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
		"archive transfer completed, cold chain tx: "+coldChainTxID)
	return &receipt, nil
}

// CompleteReactivationTransfer closes the cold→hot handoff on the cold
// ledger once the hot import landed. Retry-safe like its mirror. Court only;
// cold ledger only.
func (s *Service) CompleteReactivationTransfer(ctx context.Context, actor identity.Context, caseID id.CaseID, hotChainTxID string) (*ReactivationReceipt, error) {
	const action = "CompleteReactivationTransfer"
	const phase = "complete_reactivation"

	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, rbac.ActionReopen, string(caseID))
	if err != nil {
		s.metrics.RecordTransferPhase(phase, "error")
		return nil, err
	}
	fail := func(err error) (*ReactivationReceipt, error) {
		s.metrics.RecordTransferPhase(phase, "error")
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}
	if s.mode != ledger.ModeCold {
		return fail(dErrors.New(dErrors.CodeInvalidTransferState, "CompleteReactivationTransfer is a cold-ledger operation"))
	}

	inv, err := investigation.Load(ctx, s.store, caseID)
	if err != nil {
		return fail(err)
	}

	if inv.Status == investigation.StatusTransferredToHot {
		var receipt ReactivationReceipt
		if ok, err := s.loadReceipt(ctx, ReactivationCompleteKey(caseID), &receipt); err != nil {
			return fail(err)
		} else if ok {
			s.metrics.RecordTransferPhase(phase, "success")
			s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
				"reactivation transfer already completed")
			return &receipt, nil
		}
	}
	if inv.Status != investigation.StatusTransferringToHot {
		return fail(dErrors.Newf(dErrors.CodeInvalidTransferState,
			"invalid status for completion: %s", inv.Status))
	}

	now := requestcontext.Now(ctx).Unix()
	receipt := ReactivationReceipt{InvestigationID: caseID, HotChainTxID: hotChainTxID, CompletedAt: now}
	if err := s.complete(ctx, inv, investigation.StatusTransferredToHot, ReactivationCompleteKey(caseID), receipt, now); err != nil {
		return fail(err)
	}

	s.metrics.RecordTransferPhase(phase, "success")
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID),
		"reactivation transfer completed, hot chain tx: "+hotChainTxID)
	return &receipt, nil
}

func (s *Service) complete(ctx context.Context, inv *investigation.Investigation, next investigation.Status, receiptKey string, receipt any, now int64) error {
	updated := *inv
	updated.Status = next
	updated.UpdatedAt = now
	invJSON, err := json.Marshal(updated)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation")
	}
	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal completion receipt")
	}
	err = s.store.PutBatch(ctx, map[string]json.RawMessage{
		investigation.Key(inv.ID): invJSON,
		receiptKey:                receiptJSON,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store completion record")
	}
	return nil
}

func (s *Service) loadReceipt(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read completion record")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal completion record")
	}
	return true, nil
}

func (s *Service) caseEvidence(ctx context.Context, caseID id.CaseID) ([]evidence.Evidence, error) {
	docs, err := s.store.Query(ctx, map[string]string{
		"record_type": evidence.RecordType,
		"case_id":     string(caseID),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query case evidence")
	}
	items := make([]evidence.Evidence, 0, len(docs))
	for _, raw := range docs {
		var ev evidence.Evidence
		if err := json.Unmarshal(raw, &ev); err != nil {
			// A malformed record must not sink the export, but its
			// absence from the package has to be visible.
			s.log.WarnContext(ctx, "skipping malformed evidence record",
				"case_id", string(caseID),
				"error", err,
			)
			continue
		}
		items = append(items, ev)
	}
	return items, nil
}
