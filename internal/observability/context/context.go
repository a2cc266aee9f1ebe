// Package context carries request-scoped correlation values used by logs,
// spans and audit entries.
package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/genealogy/internal/orgcontext"
)

type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

const (
	ActorTypeUser   = "user"
	ActorTypePublic = "public_token"
	ActorTypeSystem = "system"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey{})
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, strings.TrimSpace(ip))
}

func IPAddressFromContext(ctx context.Context) string {
	return stringValue(ctx, ipAddressKey{})
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, strings.TrimSpace(userAgent))
}

func UserAgentFromContext(ctx context.Context) string {
	return stringValue(ctx, userAgentKey{})
}

// OrgIDFromContext returns the tenant id as a string, empty when absent.
func OrgIDFromContext(ctx context.Context) string {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return ""
	}
	return orgID.String()
}

// ActorFromContext resolves the actor type and id from the identity context.
// The id follows Identity.Actor so audit rows and lifecycle events agree.
func ActorFromContext(ctx context.Context) (string, string) {
	identity, ok := orgcontext.IdentityFromContext(ctx)
	if !ok {
		return "", ""
	}
	if actor := identity.Actor(); actor != "" {
		return ActorTypeUser, actor
	}
	return ActorTypeSystem, ""
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
