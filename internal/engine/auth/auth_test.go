package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyAdminRoles(t *testing.T) {
	p := Policy{AdminRoles: []string{"admin", "compliance_manager"}}
	assert.True(t, p.Allowed([]string{"Compliance_Manager"}, nil, PermissionSettingsWrite))
	assert.False(t, p.Allowed([]string{"reviewer"}, nil, PermissionSettingsWrite))
	assert.True(t, p.Allowed(nil, []string{PermissionSettingsWrite}, PermissionSettingsWrite))
	assert.True(t, p.Allowed(nil, []string{"*"}, PermissionSettingsWrite))
	assert.False(t, p.Allowed([]string{"admin"}, nil, "items.delete"))
}

func TestPolicyRequire(t *testing.T) {
	p := Policy{AdminRoles: []string{"admin"}}
	err := p.Require("bob", []string{"reviewer"}, nil, PermissionSettingsWrite)
	var forbidden ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, "bob", forbidden.ActorID)
	assert.Equal(t, PermissionSettingsWrite, forbidden.Permission)

	assert.NoError(t, Policy{}.Require("anyone", nil, nil, PermissionSettingsWrite))
}
