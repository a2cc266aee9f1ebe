package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{
		TenantID:    snowflake.ID(42),
		UserID:      "u-1",
		Email:       "qa@example.com",
		Permissions: []string{"uid:write", " PRICE:VIEW "},
	})

	identity, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "qa@example.com", identity.Actor())
	assert.True(t, identity.HasPermission(PermissionPriceView))
	assert.False(t, identity.HasPermission("deployment:write"))

	orgID, ok := OrgIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(42), orgID)
}

func TestOrgIDOnlyContext(t *testing.T) {
	ctx := WithOrgID(context.Background(), 7)

	identity, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(7), identity.TenantID)
	assert.Empty(t, identity.Actor())
}

func TestMissingOrg(t *testing.T) {
	_, ok := OrgIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), 0))
	assert.False(t, ok)
}
