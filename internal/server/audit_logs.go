package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/genealogy/internal/audit/domain"
	"github.com/smallbiznis/genealogy/internal/observability/logger"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
	"go.uber.org/zap"
)

type listAuditLogsQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size"`
	Action       string `form:"action"`
	ActionPrefix string `form:"action_prefix"`
	ActorID      string `form:"actor_id"`
	TargetType   string `form:"target_type"`
	TargetID     string `form:"target_id"`
	ActorType    string `form:"actor_type"`
	StartAt      string `form:"start_at"`
	EndAt        string `form:"end_at"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Action:       strings.TrimSpace(query.Action),
		ActionPrefix: strings.TrimSpace(query.ActionPrefix),
		ActorID:      strings.TrimSpace(query.ActorID),
		TargetType:   strings.TrimSpace(query.TargetType),
		TargetID:     strings.TrimSpace(query.TargetID),
		ActorType:    strings.TrimSpace(query.ActorType),
		StartAt:      startAt,
		EndAt:        endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}

// recordAudit writes an audit entry for a committed change made by the
// calling tenant member. Failures are logged and never reach the client.
func (s *Server) recordAudit(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	ctx := c.Request.Context()
	identity, ok := orgcontext.IdentityFromContext(ctx)
	if !ok {
		return
	}
	orgID := identity.TenantID
	actorID := identity.Actor()
	s.writeAudit(c, &orgID, string(auditdomain.ActorTypeUser), optionalString(actorID), action, targetType, targetID, metadata)
}

func (s *Server) writeAudit(c *gin.Context, orgID *snowflake.ID, actorType string, actorID *string, action, targetType, targetID string, metadata map[string]any) {
	ctx := c.Request.Context()
	if err := s.auditSvc.AuditLog(ctx, orgID, actorType, actorID, action, targetType, optionalString(targetID), metadata); err != nil {
		logger.FromContext(ctx).Warn("audit log write failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
