// Package guidmap resolves pseudonymous GUIDs to real record identifiers.
// Resolution is a privacy-sensitive operation: court only, attestation
// gated, and every resolution stamps the mapping with who resolved it and
// under which court order.
package guidmap

import (
	"context"
	"encoding/json"
	"errors"

	"custodia/internal/guard"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	"custodia/internal/rbac"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Mapping links a pseudonymous GUID to the real identifier it masks.
type Mapping struct {
	GUID         id.GUID    `json:"guid"`
	RealID       string     `json:"real_id"`
	ResourceType string     `json:"resource_type"`
	ResolvedBy   id.ActorID `json:"resolved_by"`
	ResolvedAt   int64      `json:"resolved_at"`
	CourtOrder   string     `json:"court_order"`
}

// Key derives the ledger key for a mapping.
func Key(guid id.GUID) string { return "GUID_" + string(guid) }

// Service resolves GUID mappings against one ledger.
type Service struct {
	store ledger.Store
	guard *guard.Guard
}

func NewService(store ledger.Store, g *guard.Guard) *Service {
	return &Service{store: store, guard: g}
}

// Resolve unmasks a GUID under a court order, stamping the mapping with the
// resolver, the resolution time, and the order reference.
func (s *Service) Resolve(ctx context.Context, actor identity.Context, guid id.GUID, courtOrder string) (*Mapping, error) {
	const action = "ResolveGUID"
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResGUIDMapping, rbac.ActionResolve, string(guid))
	if err != nil {
		return nil, err
	}

	var resolved Mapping
	err = s.store.Update(ctx, Key(guid), func(raw json.RawMessage) (json.RawMessage, error) {
		var mapping Mapping
		if err := json.Unmarshal(raw, &mapping); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to unmarshal GUID mapping")
		}
		mapping.ResolvedBy = actor.ActorID
		mapping.ResolvedAt = requestcontext.Now(ctx).Unix()
		mapping.CourtOrder = courtOrder
		resolved = mapping
		return json.Marshal(mapping)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.Newf(dErrors.CodeNotFound, "GUID %s not found", guid)
		}
		s.guard.Failure(ctx, span, actor, action, rbac.ResGUIDMapping.String(), string(guid), err)
		return nil, err
	}

	s.guard.Success(ctx, span, actor, action, rbac.ResGUIDMapping.String(), string(guid),
		"GUID resolved by court order: "+courtOrder)
	return &resolved, nil
}

// Register stores a new GUID mapping. Mappings are written by the
// pseudonymization layer when records are created; re-registering an
// existing GUID fails.
func (s *Service) Register(ctx context.Context, actor identity.Context, guid id.GUID, realID, resourceType string) (*Mapping, error) {
	const action = "RegisterGUID"
	ctx, span, err := s.guard.Mutating(ctx, actor, action, rbac.ResGUIDMapping, rbac.ActionCreate, string(guid))
	if err != nil {
		return nil, err
	}

	mapping := Mapping{GUID: guid, RealID: realID, ResourceType: resourceType}
	raw, err := json.Marshal(mapping)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal GUID mapping")
		s.guard.Failure(ctx, span, actor, action, rbac.ResGUIDMapping.String(), string(guid), err)
		return nil, err
	}
	if err := s.store.Create(ctx, Key(guid), raw); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			err = dErrors.Newf(dErrors.CodeAlreadyExists, "GUID %s already registered", guid)
		} else {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to store GUID mapping")
		}
		s.guard.Failure(ctx, span, actor, action, rbac.ResGUIDMapping.String(), string(guid), err)
		return nil, err
	}

	s.guard.Success(ctx, span, actor, action, rbac.ResGUIDMapping.String(), string(guid), "GUID mapping registered")
	return &mapping, nil
}
