// Package rbac evaluates the role×resource×action permission matrix.
//
// The evaluator is pure: it neither reads stores nor writes audit entries.
// Callers (the guard) are responsible for recording denials.
package rbac

import (
	"custodia/internal/identity"
	"custodia/internal/ledger"
)

// Resource is a hierarchical resource tag. Name may be the wildcard "*",
// matching every resource in the domain. Using an explicit tag instead of
// string suffix matching keeps wildcard semantics identical across both
// ledger variants.
type Resource struct {
	Domain string
	Name   string
}

func (r Resource) String() string { return r.Domain + "." + r.Name }

// Matches reports whether an entry tag covers a requested resource.
// A wildcard entry ("audits.*") covers every name within its domain.
func (r Resource) Matches(requested Resource) bool {
	if r.Domain != requested.Domain {
		return false
	}
	return r.Name == Wildcard || r.Name == requested.Name
}

// Action is a verb from the permission matrix.
type Action string

// Wildcard matches any action or resource name in a matrix entry.
const Wildcard = "*"

const (
	ActionCreate   Action = "create"
	ActionView     Action = "view"
	ActionUpdate   Action = "update"
	ActionList     Action = "list"
	ActionHistory  Action = "history"
	ActionTransfer Action = "transfer"
	ActionArchive  Action = "archive"
	ActionReopen   Action = "reopen"
	ActionResolve  Action = "resolve_guid"
	ActionAppend   Action = "append"
)

// Well-known resources.
var (
	ResInvestigation = Resource{Domain: "blockchain", Name: "investigation"}
	ResEvidence      = Resource{Domain: "blockchain", Name: "evidence"}
	ResCustody       = Resource{Domain: "blockchain", Name: "custody"}
	ResTransaction   = Resource{Domain: "blockchain", Name: "transaction"}
	ResCase          = Resource{Domain: "blockchain", Name: "case"}
	ResGUIDMapping   = Resource{Domain: "blockchain", Name: "guidmapping"}
	ResOperateLog    = Resource{Domain: "audits", Name: "operatelog"}
	ResLoginLog      = Resource{Domain: "audits", Name: "userloginlog"}
	ResAuditsAll     = Resource{Domain: "audits", Name: Wildcard}
)

// Ownership scopes a permission to the caller's own records ("self") or to
// any record ("*"). Only audit-log listing distinguishes the two today.
type Ownership string

const (
	OwnAny  Ownership = "*"
	OwnSelf Ownership = "self"
)

type entry struct {
	resource Resource
	actions  []Action
	scope    Ownership
}

// Matrix is a role→entries permission table for one ledger variant.
type Matrix struct {
	entries map[identity.Role][]entry
}

// Allows evaluates role×resource×action. Lookup order: the SystemAdmin
// bypass, wildcard resource-family entries, then exact resource entries.
// Default is deny.
func (m Matrix) Allows(role identity.Role, res Resource, action Action) bool {
	return m.AllowsScoped(role, res, action, OwnAny) || m.AllowsScoped(role, res, action, OwnSelf)
}

// AllowsScoped evaluates with an explicit ownership requirement. An entry
// scoped to "self" does not satisfy a request for any-record access.
func (m Matrix) AllowsScoped(role identity.Role, res Resource, action Action, scope Ownership) bool {
	if role == identity.RoleSystemAdmin {
		return true
	}
	entries, ok := m.entries[role]
	if !ok {
		return false
	}
	// Wildcard resource families first, then exact entries.
	for _, wildcardPass := range []bool{true, false} {
		for _, e := range entries {
			if (e.resource.Name == Wildcard) != wildcardPass {
				continue
			}
			if !e.resource.Matches(res) {
				continue
			}
			if e.scope == OwnSelf && scope == OwnAny {
				continue
			}
			for _, a := range e.actions {
				if a == Action(Wildcard) || a == action {
					return true
				}
			}
		}
	}
	return false
}

// MatrixFor returns the permission matrix for a ledger variant. The cold
// matrix is strictly more restrictive: no creation, no custody transfers,
// no GUID resolution, and court loses archive/reopen since archival there
// happens through the import protocol.
func MatrixFor(mode ledger.Mode) Matrix {
	if mode == ledger.ModeCold {
		return coldMatrix
	}
	return hotMatrix
}

var hotMatrix = Matrix{entries: map[identity.Role][]entry{
	identity.RoleInvestigator: {
		{resource: ResInvestigation, actions: []Action{ActionCreate, ActionView, ActionUpdate, ActionList}, scope: OwnAny},
		{resource: ResEvidence, actions: []Action{ActionCreate, ActionView, ActionUpdate, ActionTransfer, ActionList}, scope: OwnAny},
		{resource: ResCustody, actions: []Action{ActionTransfer, ActionView}, scope: OwnAny},
		{resource: ResTransaction, actions: []Action{ActionCreate, ActionView, ActionAppend}, scope: OwnAny},
		{resource: ResCase, actions: []Action{ActionCreate, ActionView, ActionUpdate}, scope: OwnAny},
		{resource: ResLoginLog, actions: []Action{ActionView}, scope: OwnSelf},
		{resource: ResOperateLog, actions: []Action{ActionView}, scope: OwnSelf},
	},
	identity.RoleAuditor: {
		{resource: ResInvestigation, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResEvidence, actions: []Action{ActionView, ActionList, ActionHistory}, scope: OwnAny},
		{resource: ResCustody, actions: []Action{ActionView, ActionHistory}, scope: OwnAny},
		{resource: ResTransaction, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResCase, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResAuditsAll, actions: []Action{ActionView}, scope: OwnAny},
		{resource: Resource{Domain: "reports", Name: Wildcard}, actions: []Action{ActionView}, scope: OwnAny},
	},
	identity.RoleCourt: {
		{resource: ResInvestigation, actions: []Action{ActionView, ActionList, ActionArchive, ActionReopen}, scope: OwnAny},
		{resource: ResEvidence, actions: []Action{ActionView, ActionList, ActionHistory}, scope: OwnAny},
		{resource: ResCustody, actions: []Action{ActionView, ActionHistory}, scope: OwnAny},
		{resource: ResTransaction, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResCase, actions: []Action{ActionView, ActionList, ActionUpdate}, scope: OwnAny},
		{resource: ResGUIDMapping, actions: []Action{ActionResolve}, scope: OwnAny},
		{resource: ResAuditsAll, actions: []Action{ActionView}, scope: OwnAny},
		{resource: Resource{Domain: "reports", Name: Wildcard}, actions: []Action{ActionView}, scope: OwnAny},
	},
}}

var coldMatrix = Matrix{entries: map[identity.Role][]entry{
	identity.RoleInvestigator: {
		{resource: ResInvestigation, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResEvidence, actions: []Action{ActionView, ActionList, ActionArchive}, scope: OwnAny},
		{resource: ResCustody, actions: []Action{ActionView}, scope: OwnAny},
	},
	identity.RoleAuditor: {
		{resource: ResInvestigation, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResEvidence, actions: []Action{ActionView, ActionList, ActionHistory, ActionArchive}, scope: OwnAny},
		{resource: ResCustody, actions: []Action{ActionView, ActionHistory}, scope: OwnAny},
		{resource: ResTransaction, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResAuditsAll, actions: []Action{ActionView}, scope: OwnAny},
		{resource: Resource{Domain: "reports", Name: Wildcard}, actions: []Action{ActionView}, scope: OwnAny},
	},
	identity.RoleCourt: {
		{resource: ResInvestigation, actions: []Action{ActionView, ActionList, ActionArchive, ActionReopen}, scope: OwnAny},
		{resource: ResEvidence, actions: []Action{ActionView, ActionList, ActionHistory, ActionArchive}, scope: OwnAny},
		{resource: ResCustody, actions: []Action{ActionView, ActionHistory}, scope: OwnAny},
		{resource: ResTransaction, actions: []Action{ActionView, ActionList}, scope: OwnAny},
		{resource: ResAuditsAll, actions: []Action{ActionView}, scope: OwnAny},
		{resource: Resource{Domain: "reports", Name: Wildcard}, actions: []Action{ActionView}, scope: OwnAny},
	},
}}
