package investigation

import (
	"context"
	"encoding/json"
	"errors"

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

// Key derives the ledger key for a case record.
func Key(caseID id.CaseID) string { return string(caseID) }

// Service runs the investigation lifecycle against one ledger.
type Service struct {
	store  ledger.Store
	guard  *guard.Guard
	events events.Publisher
}

func NewService(store ledger.Store, g *guard.Guard, publisher events.Publisher) *Service {
	return &Service{store: store, guard: g, events: publisher}
}

// CreateParams carry the caller-supplied fields of a new case.
type CreateParams struct {
	ID               id.CaseID `json:"id"`
	CaseNumber       string    `json:"case_number"`
	CaseName         string    `json:"case_name"`
	InvestigatingOrg string    `json:"investigating_org"`
	LeadInvestigator string    `json:"lead_investigator"`
	Description      string    `json:"description"`
}

// Create opens a new investigation with status open and zero evidence.
func (s *Service) Create(ctx context.Context, actor identity.Context, params CreateParams) (*Investigation, error) {
	const action = "CreateInvestigation"
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, rbac.ActionCreate, string(params.ID))
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).Unix()
	inv := Investigation{
		ID:               params.ID,
		RecordType:       RecordType,
		CaseNumber:       params.CaseNumber,
		CaseName:         params.CaseName,
		InvestigatingOrg: params.InvestigatingOrg,
		LeadInvestigator: params.LeadInvestigator,
		Status:           StatusOpen,
		OpenedDate:       now,
		Description:      params.Description,
		CreatedBy:        actor.ActorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	raw, err := json.Marshal(inv)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal investigation")
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(params.ID), err)
		return nil, err
	}
	if err := s.store.Create(ctx, Key(params.ID), raw); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			err = dErrors.Newf(dErrors.CodeAlreadyExists, "investigation %s already exists", params.ID)
		} else {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to store investigation")
		}
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(params.ID), err)
		return nil, err
	}

	s.events.Publish(ctx, "InvestigationCreated", raw)
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(params.ID), "investigation created")
	return &inv, nil
}

// Get returns one investigation.
func (s *Service) Get(ctx context.Context, actor identity.Context, caseID id.CaseID) (*Investigation, error) {
	if err := s.guard.Reading(ctx, actor, "ReadInvestigation", rbac.ResInvestigation, rbac.ActionView, string(caseID)); err != nil {
		return nil, err
	}
	return Load(ctx, s.store, caseID)
}

// Load fetches and decodes a case record without a permission check. Used by
// sibling services that have already passed their own guard.
func Load(ctx context.Context, store ledger.Store, caseID id.CaseID) (*Investigation, error) {
	raw, err := store.Get(ctx, Key(caseID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "investigation %s does not exist", caseID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read investigation")
	}
	var inv Investigation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal investigation")
	}
	return &inv, nil
}

// UpdateStatus moves a case along the lifecycle state machine. Setting
// closed stamps the closing date. The transfer protocol substates cannot be
// entered here.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.Context, caseID id.CaseID, next Status) (*Investigation, error) {
	return s.transition(ctx, actor, "UpdateInvestigationStatus", rbac.ActionUpdate, caseID, next,
		"status updated to "+string(next))
}

// Archive marks a closed case archived. Court only; the court order
// reference lands in the audit trail.
func (s *Service) Archive(ctx context.Context, actor identity.Context, caseID id.CaseID, courtOrder string) (*Investigation, error) {
	return s.transition(ctx, actor, "ArchiveInvestigation", rbac.ActionArchive, caseID, StatusArchived,
		"investigation archived, court order: "+courtOrder)
}

// Reopen returns an archived case to open. Court only.
func (s *Service) Reopen(ctx context.Context, actor identity.Context, caseID id.CaseID, courtOrder string) (*Investigation, error) {
	return s.transition(ctx, actor, "ReopenInvestigation", rbac.ActionReopen, caseID, StatusOpen,
		"investigation reopened, court order: "+courtOrder)
}

func (s *Service) transition(ctx context.Context, actor identity.Context, action string, verb rbac.Action, caseID id.CaseID, next Status, successReason string) (*Investigation, error) {
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResInvestigation, verb, string(caseID))
	if err != nil {
		return nil, err
	}
	if !next.Valid() || isTransferSubstate(next) {
		err := dErrors.Newf(dErrors.CodeInvalidStatus, "invalid status: %s", next)
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}

	var updated Investigation
	err = s.store.Update(ctx, Key(caseID), func(raw json.RawMessage) (json.RawMessage, error) {
		var inv Investigation
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal investigation")
		}
		if verb == rbac.ActionArchive && inv.Status != StatusClosed {
			return nil, dErrors.Newf(dErrors.CodeInvalidStatus,
				"investigation %s must be closed before archiving, current status: %s", caseID, inv.Status)
		}
		if !inv.Status.CanTransitionTo(next) {
			return nil, dErrors.Newf(dErrors.CodeInvalidStatus,
				"cannot transition investigation %s from %s to %s", caseID, inv.Status, next)
		}
		now := requestcontext.Now(ctx).Unix()
		inv.Status = next
		inv.UpdatedAt = now
		if next == StatusClosed {
			inv.ClosedDate = now
		}
		updated = inv
		return json.Marshal(inv)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Newf(dErrors.CodeNotFound, "investigation %s does not exist", caseID)
		}
		s.guard.Failure(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), err)
		return nil, err
	}

	raw, _ := json.Marshal(updated)
	s.events.Publish(ctx, eventFor(action), raw)
	s.guard.Success(ctx, span, actor, action, rbac.ResInvestigation.String(), string(caseID), successReason)
	return &updated, nil
}

func isTransferSubstate(s Status) bool {
	switch s {
	case StatusTransferringToArchive, StatusArchivedOnCold, StatusTransferringToHot, StatusTransferredToHot:
		return true
	}
	return false
}

func eventFor(action string) string {
	switch action {
	case "ArchiveInvestigation":
		return "InvestigationArchived"
	case "ReopenInvestigation":
		return "InvestigationReopened"
	default:
		return "InvestigationUpdated"
	}
}

// List returns a page of investigations ordered by key, with the bookmark
// for the next page. An empty bookmark means the listing is exhausted.
func (s *Service) List(ctx context.Context, actor identity.Context, pageSize int, bookmark string) ([]Investigation, string, error) {
	if err := s.guard.Reading(ctx, actor, "ListInvestigations", rbac.ResInvestigation, rbac.ActionList, "*"); err != nil {
		return nil, "", err
	}
	docs, next, err := s.store.QueryPage(ctx, map[string]string{"record_type": RecordType}, pageSize, bookmark)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to query investigations")
	}
	out := make([]Investigation, 0, len(docs))
	for _, raw := range docs {
		var inv Investigation
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal investigation")
		}
		out = append(out, inv)
	}
	return out, next, nil
}
