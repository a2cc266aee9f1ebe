package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, record *Record) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Record, error)
	// FindByTokenHash is not tenant scoped; the token is the credential.
	FindByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*Record, error)
	LockByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*Record, error)
	// ListByUID orders by deployment date, then creation.
	ListByUID(ctx context.Context, db *gorm.DB, orgID, uidID snowflake.ID) ([]*Record, error)
	Current(ctx context.Context, db *gorm.DB, orgID, uidID snowflake.ID) (*Record, error)
	CurrentByUIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, uidIDs []snowflake.ID) ([]*Record, error)
	// DemoteCurrent clears the current flag for the unit and supersedes the
	// token of the demoted record.
	DemoteCurrent(ctx context.Context, tx *gorm.DB, orgID, uidID snowflake.ID, now time.Time) (int64, error)
	// Promote marks id current and replaces its token.
	Promote(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, tokenHash string, now time.Time) (bool, error)
}
