package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser        ActorType = "user"
	ActorTypePublicToken ActorType = "public_token"
	ActorTypeSystem      ActorType = "system"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID      *snowflake.ID     `json:"org_id,omitempty"`
	ActorType  string            `json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type ListFilter struct {
	OrgID  snowflake.ID
	Action string
	// ActionPrefix matches a family such as "deployment." when Action is empty.
	ActionPrefix string
	ActorID      string
	TargetType   string
	TargetID     string
	ActorType    string
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *AuditCursor
	Limit        int
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
