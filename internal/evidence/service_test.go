package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/attestation"
	"custodia/internal/audit"
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

type EvidenceSuite struct {
	suite.Suite
	store          *ledger.MemoryStore
	events         *events.Memory
	service        *Service
	investigations *investigation.Service
	now            time.Time
}

func TestEvidenceSuite(t *testing.T) {
	suite.Run(t, new(EvidenceSuite))
}

func (s *EvidenceSuite) SetupTest() {
	s.store = ledger.NewMemoryStore()
	s.events = events.NewMemory()
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	recorder := audit.NewRecorder(s.store, logger.New(), nil)
	gate := attestation.NewGate(attestation.NewStoreReader(s.store))
	g := guard.New(gate, rbac.MatrixFor(ledger.ModeHot), recorder, nil)
	s.service = NewService(s.store, g, s.events)
	s.investigations = investigation.NewService(s.store, g, s.events)

	raw, err := json.Marshal(attestation.TrustConfig{
		PublicKey:  "pk",
		VerifiedBy: []string{"Org1", "Org2"},
		ExpiresAt:  s.now.Unix() + 3600,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Put(s.ctx(), attestation.ConfigKey, raw))

	_, err = s.investigations.Create(s.ctx(), investigator(), investigation.CreateParams{
		ID:         "INV-1",
		CaseNumber: "CASE-2025-001",
		CaseName:   "Server Intrusion",
	})
	s.Require().NoError(err)
}

func (s *EvidenceSuite) ctx() context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	return requestcontext.WithTxID(ctx, "tx-evidence")
}

func investigator() identity.Context {
	return identity.Context{ActorID: id.ActorID("inv1"), Organization: "LawEnforcementMSP"}
}

func auditor() identity.Context {
	return identity.Context{ActorID: id.ActorID("aud1"), Organization: "AuditorMSP"}
}

func (s *EvidenceSuite) create(evidenceID string) *Evidence {
	ev, err := s.service.Create(s.ctx(), investigator(), CreateParams{
		ID:          id.EvidenceID(evidenceID),
		CaseID:      "INV-1",
		Type:        "disk_image",
		Description: "Forensic image of compromised host",
		Hash:        "sha256-" + evidenceID,
		IPFSHash:    "Qm" + evidenceID,
		Location:    "evidence-locker-3",
		FileSize:    4096,
	})
	s.Require().NoError(err)
	return ev
}

func (s *EvidenceSuite) caseRecord() *investigation.Investigation {
	inv, err := investigation.Load(s.ctx(), s.store, "INV-1")
	s.Require().NoError(err)
	return inv
}

func (s *EvidenceSuite) TestCreateInitializesCollectedRecord() {
	ev := s.create("EVD-1")
	s.Equal(StatusCollected, ev.Status)
	s.Equal(ChainHot, ev.ChainType)
	s.Equal("inv1", ev.Custodian)
	s.Equal(id.ActorID("inv1"), ev.CollectedBy)
	s.Equal("custody_EVD-1", ev.CustodyChainRef)
	s.Equal("tx-evidence", ev.TransactionID)
}

func (s *EvidenceSuite) TestCreateKeepsCountInStepWithRecords() {
	s.create("EVD-1")
	s.create("EVD-2")
	s.create("EVD-3")

	s.Equal(3, s.caseRecord().EvidenceCount)

	items, err := s.service.QueryByCase(s.ctx(), auditor(), "INV-1")
	s.Require().NoError(err)
	s.Len(items, 3)
}

func (s *EvidenceSuite) TestCreateRejectsMissingCase() {
	_, err := s.service.Create(s.ctx(), investigator(), CreateParams{ID: "EVD-1", CaseID: "ghost"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(0, s.caseRecord().EvidenceCount)
}

func (s *EvidenceSuite) TestCreateRejectsDuplicateID() {
	s.create("EVD-1")
	_, err := s.service.Create(s.ctx(), investigator(), CreateParams{ID: "EVD-1", CaseID: "INV-1"})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyExists))
	s.Equal(1, s.caseRecord().EvidenceCount)
}

func (s *EvidenceSuite) TestCreateDeniedForAuditorLeavesCountUntouched() {
	_, err := s.service.Create(s.ctx(), auditor(), CreateParams{ID: "EVD-1", CaseID: "INV-1"})
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	s.Equal(0, s.caseRecord().EvidenceCount)
}

func (s *EvidenceSuite) TestUpdateStatusValidatesMembership() {
	s.create("EVD-1")

	ev, err := s.service.UpdateStatus(s.ctx(), investigator(), "EVD-1", StatusAnalyzed)
	s.Require().NoError(err)
	s.Equal(StatusAnalyzed, ev.Status)

	_, err = s.service.UpdateStatus(s.ctx(), investigator(), "EVD-1", "misplaced")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStatus))
}

func (s *EvidenceSuite) TestQueryByCustodian() {
	s.create("EVD-1")
	s.create("EVD-2")

	items, err := s.service.QueryByCustodian(s.ctx(), auditor(), "inv1")
	s.Require().NoError(err)
	s.Len(items, 2)

	items, err = s.service.QueryByCustodian(s.ctx(), auditor(), "nobody")
	s.Require().NoError(err)
	s.Empty(items)
}

func (s *EvidenceSuite) TestQueryByHash() {
	s.create("EVD-1")

	ev, err := s.service.QueryByHash(s.ctx(), auditor(), "sha256-EVD-1")
	s.Require().NoError(err)
	s.Equal(id.EvidenceID("EVD-1"), ev.ID)

	_, err = s.service.QueryByHash(s.ctx(), auditor(), "sha256-unknown")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EvidenceSuite) TestHistoryTracksVersionsOldestFirst() {
	s.create("EVD-1")
	_, err := s.service.UpdateStatus(s.ctx(), investigator(), "EVD-1", StatusAnalyzed)
	s.Require().NoError(err)
	_, err = s.service.UpdateStatus(s.ctx(), investigator(), "EVD-1", StatusReviewed)
	s.Require().NoError(err)

	history, err := s.service.GetHistory(s.ctx(), auditor(), "EVD-1")
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal(StatusCollected, history[0].Value.Status)
	s.Equal(StatusAnalyzed, history[1].Value.Status)
	s.Equal(StatusReviewed, history[2].Value.Status)
}

func (s *EvidenceSuite) TestListPaginates() {
	s.create("EVD-1")
	s.create("EVD-2")
	s.create("EVD-3")

	page, bookmark, err := s.service.List(s.ctx(), auditor(), 2, "")
	s.Require().NoError(err)
	s.Len(page, 2)
	s.NotEmpty(bookmark)

	rest, bookmark, err := s.service.List(s.ctx(), auditor(), 2, bookmark)
	s.Require().NoError(err)
	s.Len(rest, 1)
	s.Empty(bookmark)
}

func (s *EvidenceSuite) TestConcurrentCreatesKeepCountInStep() {
	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		evidenceID := id.EvidenceID(fmt.Sprintf("EVD-%d", i))
		go func() {
			defer wg.Done()
			_, err := s.service.Create(s.ctx(), investigator(), CreateParams{
				ID:     evidenceID,
				CaseID: "INV-1",
				Type:   "disk_image",
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(writers, s.caseRecord().EvidenceCount)

	items, err := s.service.QueryByCase(s.ctx(), auditor(), "INV-1")
	s.Require().NoError(err)
	s.Len(items, writers)
}
