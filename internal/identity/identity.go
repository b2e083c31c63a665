// Package identity models the caller's verified identity as supplied by the
// external identity layer. This system consumes identities; it never issues
// or derives them.
package identity

import (
	id "custodia/pkg/domain"
)

// Context carries the verified caller identity into every operation: an
// opaque actor ID, the actor's organizational affiliation, and an optional
// declared role attribute.
type Context struct {
	ActorID      id.ActorID
	Organization string
	DeclaredRole *string
}

// Role is the resolved access-control role of a caller.
type Role string

const (
	RoleInvestigator Role = "BlockchainInvestigator"
	RoleAuditor      Role = "BlockchainAuditor"
	RoleCourt        Role = "BlockchainCourt"
	RoleSystemAdmin  Role = "SystemAdmin"
	RoleUser         Role = "User"
)

// orgRoles is the fixed organization→role table used when no role attribute
// is declared. Organizations not listed resolve to the unprivileged User role.
var orgRoles = map[string]Role{
	"LawEnforcementMSP": RoleInvestigator,
	"ForensicLabMSP":    RoleInvestigator,
	"CourtMSP":          RoleCourt,
	"AuditorMSP":        RoleAuditor,
}

// ResolveRole derives the caller's role. A declared role attribute takes
// precedence over the organization table. Pure function.
func ResolveRole(actor Context) Role {
	if actor.DeclaredRole != nil && *actor.DeclaredRole != "" {
		return Role(*actor.DeclaredRole)
	}
	if role, ok := orgRoles[actor.Organization]; ok {
		return role
	}
	return RoleUser
}
