package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"custodia/internal/identity"
	"custodia/internal/ledger"
)

func TestHotMatrix(t *testing.T) {
	m := MatrixFor(ledger.ModeHot)

	t.Run("investigator can create evidence", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleInvestigator, ResEvidence, ActionCreate))
	})

	t.Run("auditor cannot create evidence", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleAuditor, ResEvidence, ActionCreate))
	})

	t.Run("auditor can view evidence", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleAuditor, ResEvidence, ActionView))
	})

	t.Run("only court resolves GUIDs", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleCourt, ResGUIDMapping, ActionResolve))
		assert.False(t, m.Allows(identity.RoleInvestigator, ResGUIDMapping, ActionResolve))
		assert.False(t, m.Allows(identity.RoleAuditor, ResGUIDMapping, ActionResolve))
	})

	t.Run("only court archives investigations", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleCourt, ResInvestigation, ActionArchive))
		assert.False(t, m.Allows(identity.RoleInvestigator, ResInvestigation, ActionArchive))
	})

	t.Run("system admin bypasses the matrix", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleSystemAdmin, ResGUIDMapping, ActionResolve))
		assert.True(t, m.Allows(identity.RoleSystemAdmin, Resource{Domain: "anything", Name: "else"}, ActionUpdate))
	})

	t.Run("unknown role is denied", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleUser, ResEvidence, ActionView))
		assert.False(t, m.Allows(identity.Role("Intruder"), ResEvidence, ActionView))
	})

	t.Run("no entry means deny", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleInvestigator, Resource{Domain: "reports", Name: "weekly"}, ActionView))
	})
}

func TestWildcardResourceFamilies(t *testing.T) {
	m := MatrixFor(ledger.ModeHot)

	t.Run("audits wildcard covers every audit resource", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleAuditor, ResOperateLog, ActionView))
		assert.True(t, m.Allows(identity.RoleAuditor, ResLoginLog, ActionView))
		assert.True(t, m.Allows(identity.RoleAuditor, Resource{Domain: "audits", Name: "newlog"}, ActionView))
	})

	t.Run("wildcard does not leak across domains", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleAuditor, Resource{Domain: "auditsextra", Name: "log"}, ActionView))
	})
}

func TestSelfScope(t *testing.T) {
	m := MatrixFor(ledger.ModeHot)

	t.Run("investigator views own operate log only", func(t *testing.T) {
		assert.True(t, m.AllowsScoped(identity.RoleInvestigator, ResOperateLog, ActionView, OwnSelf))
		assert.False(t, m.AllowsScoped(identity.RoleInvestigator, ResOperateLog, ActionView, OwnAny))
	})

	t.Run("auditor views all operate logs", func(t *testing.T) {
		assert.True(t, m.AllowsScoped(identity.RoleAuditor, ResOperateLog, ActionView, OwnAny))
	})
}

func TestColdMatrixIsMoreRestrictive(t *testing.T) {
	m := MatrixFor(ledger.ModeCold)

	t.Run("no creation on the archive", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleInvestigator, ResEvidence, ActionCreate))
		assert.False(t, m.Allows(identity.RoleInvestigator, ResInvestigation, ActionCreate))
	})

	t.Run("no custody transfers on the archive", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleInvestigator, ResCustody, ActionTransfer))
		assert.False(t, m.Allows(identity.RoleCourt, ResCustody, ActionTransfer))
	})

	t.Run("no GUID resolution on the archive", func(t *testing.T) {
		assert.False(t, m.Allows(identity.RoleCourt, ResGUIDMapping, ActionResolve))
	})

	t.Run("court drives the transfer protocol", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleCourt, ResInvestigation, ActionArchive))
		assert.True(t, m.Allows(identity.RoleCourt, ResInvestigation, ActionReopen))
	})

	t.Run("reads still allowed", func(t *testing.T) {
		assert.True(t, m.Allows(identity.RoleAuditor, ResEvidence, ActionHistory))
		assert.True(t, m.Allows(identity.RoleInvestigator, ResEvidence, ActionView))
	})
}
