package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action       string     `form:"action"`
	ActionPrefix string     `form:"action_prefix"`
	ActorID      string     `form:"actor_id"`
	TargetType   string     `form:"target_type"`
	TargetID     string     `form:"target_id"`
	ActorType    string     `form:"actor_type"`
	StartAt      *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt        *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidOrganization = apperror.Validation("invalid_organization")
	ErrInvalidTimeRange    = apperror.Validation("invalid_time_range")
	ErrInvalidAction       = apperror.Validation("invalid_action")
)
