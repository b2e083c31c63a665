package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/attestation"
	"custodia/internal/audit"
	"custodia/internal/evidence"
	"custodia/internal/guard"
	"custodia/internal/identity"
	"custodia/internal/investigation"
	"custodia/internal/ledger"
	"custodia/internal/platform/events"
	"custodia/internal/platform/logger"
	"custodia/internal/rbac"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

// side bundles one ledger variant's store and services.
type side struct {
	store          *ledger.MemoryStore
	transfers      *Service
	investigations *investigation.Service
	evidences      *evidence.Service
}

type TransferSuite struct {
	suite.Suite
	hot  side
	cold side
	now  time.Time
	step int
}

func TestTransferSuite(t *testing.T) {
	suite.Run(t, new(TransferSuite))
}

func (s *TransferSuite) newSide(mode ledger.Mode) side {
	store := ledger.NewMemoryStore()
	recorder := audit.NewRecorder(store, logger.New(), nil)
	gate := attestation.NewGate(attestation.NewStoreReader(store))
	g := guard.New(gate, rbac.MatrixFor(mode), recorder, nil)
	publisher := events.NewMemory()

	raw, err := json.Marshal(attestation.TrustConfig{
		PublicKey:  "pk",
		VerifiedBy: []string{"Org1", "Org2"},
		ExpiresAt:  s.now.Unix() + 3600,
	})
	s.Require().NoError(err)
	s.Require().NoError(store.Put(context.Background(), attestation.ConfigKey, raw))

	return side{
		store:          store,
		transfers:      NewService(store, g, publisher, nil, logger.New(), mode),
		investigations: investigation.NewService(store, g, publisher),
		evidences:      evidence.NewService(store, g, publisher),
	}
}

func (s *TransferSuite) SetupTest() {
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.step = 0
	s.hot = s.newSide(ledger.ModeHot)
	s.cold = s.newSide(ledger.ModeCold)
}

// ctx advances the clock and assigns a fresh transaction ID per step, the
// way the request middleware does per call.
func (s *TransferSuite) ctx() context.Context {
	s.step++
	ctx := requestcontext.WithTime(context.Background(), s.now.Add(time.Duration(s.step)*time.Minute))
	return requestcontext.WithTxID(ctx, fmt.Sprintf("tx-%03d", s.step))
}

func investigator() identity.Context {
	return identity.Context{ActorID: id.ActorID("inv1"), Organization: "LawEnforcementMSP"}
}

func court() identity.Context {
	return identity.Context{ActorID: id.ActorID("judge1"), Organization: "CourtMSP"}
}

// seedClosedCase builds a closed case with two evidence items on hot.
func (s *TransferSuite) seedClosedCase() {
	_, err := s.hot.investigations.Create(s.ctx(), investigator(), investigation.CreateParams{
		ID:         "INV-1",
		CaseNumber: "CASE-2025-001",
	})
	s.Require().NoError(err)
	for _, evID := range []string{"EVD-1", "EVD-2"} {
		_, err := s.hot.evidences.Create(s.ctx(), investigator(), evidence.CreateParams{
			ID:     id.EvidenceID(evID),
			CaseID: "INV-1",
			Hash:   "sha256-" + evID,
		})
		s.Require().NoError(err)
	}
	_, err = s.hot.investigations.UpdateStatus(s.ctx(), investigator(), "INV-1", investigation.StatusClosed)
	s.Require().NoError(err)
}

func (s *TransferSuite) successAudits(store *ledger.MemoryStore) map[string]int {
	docs, err := store.Query(context.Background(), map[string]string{
		"record_type": audit.RecordType,
		"result":      string(audit.ResultSuccess),
	})
	s.Require().NoError(err)
	byAction := make(map[string]int)
	for _, raw := range docs {
		var entry audit.Entry
		s.Require().NoError(json.Unmarshal(raw, &entry))
		byAction[entry.Action]++
	}
	return byAction
}

func (s *TransferSuite) TestHotToColdArchivalEndToEnd() {
	s.seedClosedCase()

	// Phase 1: export on hot.
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)
	s.Equal("hot", pkg.SourceChain)
	s.Len(pkg.Evidence, 2)
	s.Equal(investigation.StatusClosed, pkg.Investigation.Status)

	hotInv, err := investigation.Load(context.Background(), s.hot.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusTransferringToArchive, hotInv.Status)

	_, err = s.hot.store.Get(context.Background(), ExportKey("INV-1", pkg.TransferTxID))
	s.Require().NoError(err)

	// Phase 2: import on cold.
	record, err := s.cold.transfers.ImportArchivedCase(s.ctx(), court(), *pkg)
	s.Require().NoError(err)
	s.Equal(2, record.EvidenceCount)

	coldInv, err := investigation.Load(context.Background(), s.cold.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusArchived, coldInv.Status)
	s.Equal(id.ActorID("judge1"), coldInv.ArchivedBy)

	for _, evID := range []id.EvidenceID{"EVD-1", "EVD-2"} {
		ev, err := evidence.Load(context.Background(), s.cold.store, evID)
		s.Require().NoError(err)
		s.Equal(evidence.ChainCold, ev.ChainType)
		s.Equal(evidence.StatusArchived, ev.Status)
		s.Equal("hot", ev.SourceChain)
		s.Equal(pkg.TransferTxID, ev.SourceTxID)
	}

	// Phase 3: completion back on hot.
	receipt, err := s.hot.transfers.CompleteArchiveTransfer(s.ctx(), court(), "INV-1", record.ImportTxID)
	s.Require().NoError(err)
	s.Equal(record.ImportTxID, receipt.ColdChainTxID)

	hotInv, err = investigation.Load(context.Background(), s.hot.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusArchivedOnCold, hotInv.Status)

	// One success audit entry per protocol step on the ledger that ran it.
	hotAudits := s.successAudits(s.hot.store)
	s.Equal(1, hotAudits["ExportCaseForArchive"])
	s.Equal(1, hotAudits["CompleteArchiveTransfer"])
	coldAudits := s.successAudits(s.cold.store)
	s.Equal(1, coldAudits["ImportArchivedCase"])
}

func (s *TransferSuite) TestCompleteArchiveTransferIsRetrySafe() {
	s.seedClosedCase()
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)
	record, err := s.cold.transfers.ImportArchivedCase(s.ctx(), court(), *pkg)
	s.Require().NoError(err)

	first, err := s.hot.transfers.CompleteArchiveTransfer(s.ctx(), court(), "INV-1", record.ImportTxID)
	s.Require().NoError(err)

	retried, err := s.hot.transfers.CompleteArchiveTransfer(s.ctx(), court(), "INV-1", record.ImportTxID)
	s.Require().NoError(err)
	s.Equal(first.CompletedAt, retried.CompletedAt)
	s.Equal(first.ColdChainTxID, retried.ColdChainTxID)
}

func (s *TransferSuite) TestCompleteRequiresTransferringState() {
	s.seedClosedCase()
	_, err := s.hot.transfers.CompleteArchiveTransfer(s.ctx(), court(), "INV-1", "cold-tx")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransferState))
}

func (s *TransferSuite) TestExportRequiresClosedCase() {
	_, err := s.hot.investigations.Create(s.ctx(), investigator(), investigation.CreateParams{ID: "INV-1"})
	s.Require().NoError(err)

	_, err = s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStatus))

	inv, err := investigation.Load(context.Background(), s.hot.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusOpen, inv.Status)
}

func (s *TransferSuite) TestExportDeniedForInvestigator() {
	s.seedClosedCase()
	_, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), investigator(), "INV-1", "ORDER-7")
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
}

func (s *TransferSuite) TestImportRejectsWrongSourceChain() {
	s.seedClosedCase()
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)

	tampered := *pkg
	tampered.SourceChain = "cold"
	_, err = s.cold.transfers.ImportArchivedCase(s.ctx(), court(), tampered)
	s.True(dErrors.HasCode(err, dErrors.CodeSourceChainMismatch))
}

func (s *TransferSuite) TestImportRejectsDuplicateCase() {
	s.seedClosedCase()
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)

	_, err = s.cold.transfers.ImportArchivedCase(s.ctx(), court(), *pkg)
	s.Require().NoError(err)
	_, err = s.cold.transfers.ImportArchivedCase(s.ctx(), court(), *pkg)
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
}

func (s *TransferSuite) TestImportRejectedOnWrongLedger() {
	s.seedClosedCase()
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)

	_, err = s.hot.transfers.ImportArchivedCase(s.ctx(), court(), *pkg)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransferState))
}

// archiveCase drives the full hot→cold handoff so reactivation tests start
// from an archived case.
func (s *TransferSuite) archiveCase() {
	s.seedClosedCase()
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)
	record, err := s.cold.transfers.ImportArchivedCase(s.ctx(), court(), *pkg)
	s.Require().NoError(err)
	_, err = s.hot.transfers.CompleteArchiveTransfer(s.ctx(), court(), "INV-1", record.ImportTxID)
	s.Require().NoError(err)
}

func (s *TransferSuite) TestColdToHotReactivationEndToEnd() {
	s.archiveCase()

	pkg, err := s.cold.transfers.ExportCaseForReactivation(s.ctx(), court(), "INV-1", "ORDER-9")
	s.Require().NoError(err)
	s.Equal("cold", pkg.SourceChain)
	s.Len(pkg.Evidence, 2)

	coldInv, err := investigation.Load(context.Background(), s.cold.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusTransferringToHot, coldInv.Status)

	record, err := s.hot.transfers.ImportReactivatedCase(s.ctx(), court(), *pkg)
	s.Require().NoError(err)

	hotInv, err := investigation.Load(context.Background(), s.hot.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusOpen, hotInv.Status)
	s.Zero(hotInv.ClosedDate)

	for _, evID := range []id.EvidenceID{"EVD-1", "EVD-2"} {
		ev, err := evidence.Load(context.Background(), s.hot.store, evID)
		s.Require().NoError(err)
		s.Equal(evidence.ChainHot, ev.ChainType)
		s.Equal(evidence.StatusReviewed, ev.Status)
	}

	receipt, err := s.cold.transfers.CompleteReactivationTransfer(s.ctx(), court(), "INV-1", record.ImportTxID)
	s.Require().NoError(err)
	s.Equal(record.ImportTxID, receipt.HotChainTxID)

	coldInv, err = investigation.Load(context.Background(), s.cold.store, "INV-1")
	s.Require().NoError(err)
	s.Equal(investigation.StatusTransferredToHot, coldInv.Status)
}

func (s *TransferSuite) TestReactivationExportRequiresArchivedCase() {
	s.archiveCase()
	_, err := s.cold.transfers.ExportCaseForReactivation(s.ctx(), court(), "INV-1", "ORDER-9")
	s.Require().NoError(err)

	// Export already parked the case; a second export must fail.
	_, err = s.cold.transfers.ExportCaseForReactivation(s.ctx(), court(), "INV-1", "ORDER-9")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStatus))
}

func (s *TransferSuite) TestReactivationImportRejectsHotPackage() {
	s.seedClosedCase()
	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "ORDER-7")
	s.Require().NoError(err)

	_, err = s.hot.transfers.ImportReactivatedCase(s.ctx(), court(), *pkg)
	s.True(dErrors.HasCode(err, dErrors.CodeSourceChainMismatch))
}

func (s *TransferSuite) TestExportSkipsMalformedEvidenceRecord() {
	s.seedClosedCase()

	// Valid JSON that matches the evidence selector but does not decode as
	// an evidence record.
	corrupt := json.RawMessage(`{"record_type":"evidence","case_id":"INV-1","id":"EVD-X","file_size":"not-a-number"}`)
	s.Require().NoError(s.hot.store.Put(s.ctx(), evidence.Key("EVD-X"), corrupt))

	pkg, err := s.hot.transfers.ExportCaseForArchive(s.ctx(), court(), "INV-1", "CO-77")
	s.Require().NoError(err)
	s.Len(pkg.Evidence, 2)
	for _, ev := range pkg.Evidence {
		s.NotEqual(id.EvidenceID("EVD-X"), ev.ID)
	}
}
