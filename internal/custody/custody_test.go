package custody

import (
	"context"
	"encoding/json"
	"sync"
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

type CustodySuite struct {
	suite.Suite
	store    *ledger.MemoryStore
	service  *Service
	evidence *evidence.Service
	now      time.Time
}

func TestCustodySuite(t *testing.T) {
	suite.Run(t, new(CustodySuite))
}

func (s *CustodySuite) SetupTest() {
	s.store = ledger.NewMemoryStore()
	s.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	recorder := audit.NewRecorder(s.store, logger.New(), nil)
	gate := attestation.NewGate(attestation.NewStoreReader(s.store))
	g := guard.New(gate, rbac.MatrixFor(ledger.ModeHot), recorder, nil)
	publisher := events.NewMemory()
	s.service = NewService(s.store, g, publisher)
	s.evidence = evidence.NewService(s.store, g, publisher)
	investigations := investigation.NewService(s.store, g, publisher)

	raw, err := json.Marshal(attestation.TrustConfig{
		PublicKey:  "pk",
		VerifiedBy: []string{"Org1", "Org2"},
		ExpiresAt:  s.now.Unix() + 3600,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Put(s.ctx(0), attestation.ConfigKey, raw))

	_, err = investigations.Create(s.ctx(0), investigator(), investigation.CreateParams{ID: "INV-1"})
	s.Require().NoError(err)
	_, err = s.evidence.Create(s.ctx(0), investigator(), evidence.CreateParams{ID: "EVD-1", CaseID: "INV-1"})
	s.Require().NoError(err)
}

// ctx pins the clock at a per-step offset so transfer keys stay unique and
// ordered.
func (s *CustodySuite) ctx(step int) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(time.Duration(step)*time.Second))
}

func investigator() identity.Context {
	return identity.Context{ActorID: id.ActorID("inv1"), Organization: "LawEnforcementMSP"}
}

func auditor() identity.Context {
	return identity.Context{ActorID: id.ActorID("aud1"), Organization: "AuditorMSP"}
}

func (s *CustodySuite) TestTransferChainsCustodians() {
	first, err := s.service.Transfer(s.ctx(1), investigator(), TransferParams{
		EvidenceID:  "EVD-1",
		ToCustodian: "bob",
		Reason:      "lab analysis",
		Location:    "forensics-lab-2",
	})
	s.Require().NoError(err)
	s.Equal("inv1", first.FromCustodian)
	s.Equal("bob", first.ToCustodian)
	s.Equal(StatusCompleted, first.Status)
	s.Equal(first.TransferredBy, first.ApprovedBy)

	second, err := s.service.Transfer(s.ctx(2), investigator(), TransferParams{
		EvidenceID:  "EVD-1",
		ToCustodian: "carol",
		Reason:      "court presentation",
	})
	s.Require().NoError(err)
	s.Equal("bob", second.FromCustodian)
	s.Equal("carol", second.ToCustodian)

	ev, err := evidence.Load(s.ctx(3), s.store, "EVD-1")
	s.Require().NoError(err)
	s.Equal("carol", ev.Custodian)
}

func (s *CustodySuite) TestHistoryInCreationOrder() {
	for step, custodian := range []string{"bob", "carol", "dave"} {
		_, err := s.service.Transfer(s.ctx(step+1), investigator(), TransferParams{
			EvidenceID:  "EVD-1",
			ToCustodian: custodian,
		})
		s.Require().NoError(err)
	}

	chain, err := s.service.History(s.ctx(5), auditor(), "EVD-1")
	s.Require().NoError(err)
	s.Require().Len(chain, 3)
	s.Equal("inv1", chain[0].FromCustodian)
	s.Equal("bob", chain[0].ToCustodian)
	s.Equal("bob", chain[1].FromCustodian)
	s.Equal("carol", chain[1].ToCustodian)
	s.Equal("carol", chain[2].FromCustodian)
	s.Equal("dave", chain[2].ToCustodian)
}

func (s *CustodySuite) TestHistoryEmptyForUntransferredItem() {
	chain, err := s.service.History(s.ctx(1), auditor(), "EVD-1")
	s.Require().NoError(err)
	s.Empty(chain)
}

func (s *CustodySuite) TestHistoryMissingEvidence() {
	_, err := s.service.History(s.ctx(1), auditor(), "ghost")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *CustodySuite) TestTransferRejectsColdEvidence() {
	ev, err := evidence.Load(s.ctx(1), s.store, "EVD-1")
	s.Require().NoError(err)
	ev.ChainType = evidence.ChainCold
	raw, err := json.Marshal(ev)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Put(s.ctx(1), evidence.Key("EVD-1"), raw))

	_, err = s.service.Transfer(s.ctx(2), investigator(), TransferParams{
		EvidenceID:  "EVD-1",
		ToCustodian: "bob",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStatus))
}

func (s *CustodySuite) TestTransferDeniedForAuditor() {
	_, err := s.service.Transfer(s.ctx(1), auditor(), TransferParams{
		EvidenceID:  "EVD-1",
		ToCustodian: "bob",
	})
	s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
}

func (s *CustodySuite) TestTransferMissingEvidence() {
	_, err := s.service.Transfer(s.ctx(1), investigator(), TransferParams{
		EvidenceID:  "ghost",
		ToCustodian: "bob",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *CustodySuite) TestConcurrentTransfersAlwaysChain() {
	var wg sync.WaitGroup
	wg.Add(2)
	transfers := make([]*Transfer, 2)
	for i, to := range []string{"bob", "carol"} {
		go func() {
			defer wg.Done()
			t, err := s.service.Transfer(s.ctx(i+1), investigator(), TransferParams{
				EvidenceID:  "EVD-1",
				ToCustodian: to,
			})
			s.NoError(err)
			transfers[i] = t
		}()
	}
	wg.Wait()

	// Whichever order the store serialized them in, the chain must link:
	// one hop leaves the original custodian, the other leaves the first
	// hop's recipient, and the item ends with the second hop's recipient.
	first, second := transfers[0], transfers[1]
	if second.FromCustodian == "inv1" {
		first, second = second, first
	}
	s.Equal("inv1", first.FromCustodian)
	s.Equal(first.ToCustodian, second.FromCustodian)

	ev, err := evidence.Load(s.ctx(3), s.store, "EVD-1")
	s.Require().NoError(err)
	s.Equal(second.ToCustodian, ev.Custodian)

	chain, err := s.service.History(s.ctx(4), auditor(), "EVD-1")
	s.Require().NoError(err)
	s.Len(chain, 2)
}
