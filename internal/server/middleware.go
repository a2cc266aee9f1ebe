package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
)

// Identity headers set by the upstream gateway after it has authenticated
// the caller. This service trusts them as is.
const (
	HeaderTenantID    = "X-Tenant-ID"
	HeaderTenantCode  = "X-Tenant-Code"
	HeaderUserID      = "X-User-ID"
	HeaderUserEmail   = "X-User-Email"
	HeaderPermissions = "X-User-Permissions"
)

// IdentityRequired attaches the gateway identity to the request context.
func IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderTenantID)))
		if err != nil || tenantID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity := orgcontext.Identity{
			TenantID:    tenantID,
			TenantCode:  strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderTenantCode))),
			UserID:      userID,
			Email:       strings.TrimSpace(c.GetHeader(HeaderUserEmail)),
			Permissions: splitPermissions(c.GetHeader(HeaderPermissions)),
		}
		c.Request = c.Request.WithContext(orgcontext.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// RequireCapability passes callers holding permission, and otherwise asks
// the enforcer whether the caller's role grants action on object.
func (s *Server) RequireCapability(permission, object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, ok := orgcontext.IdentityFromContext(ctx)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if identity.HasPermission(permission) {
			c.Next()
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(ctx, identity, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func splitPermissions(value string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
