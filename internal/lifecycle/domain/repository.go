package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// LockUnit locks the UID row for the rest of tx. Returns nil, nil when
	// the UID does not exist for the org.
	LockUnit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, uid string) (*UnitRef, error)
	FindUnit(ctx context.Context, db *gorm.DB, orgID snowflake.ID, uid string) (*UnitRef, error)
	// Append assigns the next per-UID seq and inserts event. The caller must
	// hold the UID row lock.
	Append(ctx context.Context, tx *gorm.DB, event *Event) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Event, error)
}

type ListFilter struct {
	OrgID    snowflake.ID
	UIDID    snowflake.ID
	AfterSeq int64
	// Limit of zero returns every event.
	Limit int
}
