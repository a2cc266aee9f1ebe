package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Permission names carried in the identity context.
const (
	PermissionPriceView    = "price:view"
	PermissionRecallExport = "recall:export"
	PermissionAuditLogView = "audit_log:view"
)

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

type identityContextKey struct{}

// Identity is the caller identity attached by the upstream gateway.
type Identity struct {
	TenantID    snowflake.ID
	TenantCode  string
	UserID      string
	Email       string
	Permissions []string
}

// Actor returns the best human readable label for audit trails.
func (i Identity) Actor() string {
	if v := strings.TrimSpace(i.Email); v != "" {
		return v
	}
	return strings.TrimSpace(i.UserID)
}

func (i Identity) HasPermission(name string) bool {
	name = strings.TrimSpace(name)
	for _, p := range i.Permissions {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// WithIdentity stores the identity and its tenant in the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	ctx = context.WithValue(ctx, OrgContextKey{}, identity.TenantID)
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity attached by WithIdentity. When
// only an org ID is present an identity with just the tenant is returned.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	if identity, ok := ctx.Value(identityContextKey{}).(Identity); ok {
		return identity, true
	}
	orgID, ok := OrgIDFromContext(ctx)
	if !ok {
		return Identity{}, false
	}
	return Identity{TenantID: orgID}, true
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(OrgContextKey{}).(type) {
	case int64:
		return snowflake.ID(typed), typed != 0
	case snowflake.ID:
		return typed, typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}
