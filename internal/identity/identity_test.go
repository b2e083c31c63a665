package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	id "custodia/pkg/domain"
)

func TestResolveRole(t *testing.T) {
	courtRole := string(RoleCourt)
	empty := ""

	tests := []struct {
		name  string
		actor Context
		want  Role
	}{
		{
			name:  "law enforcement org maps to investigator",
			actor: Context{ActorID: id.ActorID("alice"), Organization: "LawEnforcementMSP"},
			want:  RoleInvestigator,
		},
		{
			name:  "forensic lab org maps to investigator",
			actor: Context{ActorID: id.ActorID("bob"), Organization: "ForensicLabMSP"},
			want:  RoleInvestigator,
		},
		{
			name:  "court org maps to court",
			actor: Context{ActorID: id.ActorID("judge"), Organization: "CourtMSP"},
			want:  RoleCourt,
		},
		{
			name:  "auditor org maps to auditor",
			actor: Context{ActorID: id.ActorID("audrey"), Organization: "AuditorMSP"},
			want:  RoleAuditor,
		},
		{
			name:  "unknown org maps to user",
			actor: Context{ActorID: id.ActorID("eve"), Organization: "RandomOrg"},
			want:  RoleUser,
		},
		{
			name:  "declared role takes precedence over org",
			actor: Context{ActorID: id.ActorID("alice"), Organization: "LawEnforcementMSP", DeclaredRole: &courtRole},
			want:  RoleCourt,
		},
		{
			name:  "empty declared role falls back to org table",
			actor: Context{ActorID: id.ActorID("alice"), Organization: "AuditorMSP", DeclaredRole: &empty},
			want:  RoleAuditor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveRole(tt.actor))
		})
	}
}
