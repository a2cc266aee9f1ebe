package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/uid"
	"gorm.io/gorm"
)

// Repository methods take the handle to run on so callers choose between a
// transaction and the pool. Lookups return nil, nil when nothing matches.
type Repository interface {
	// NextSequence atomically increments the counter for the key and
	// returns the new value.
	NextSequence(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, plantCode string, entityType uid.EntityType, now time.Time) (int64, error)

	Insert(ctx context.Context, tx *gorm.DB, record *Record) error
	FindByUID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, value string) (*Record, error)
	FindByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*Record, error)
	// LockByUIDs locks the matching rows in id order.
	LockByUIDs(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, values []string) ([]*Record, error)
	LockByIDs(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*Record, error)
	// UpdateState writes status, quality, location and level when the row is
	// still at expectedVersion. It reports whether the row was updated and
	// bumps record.Version on success.
	UpdateState(ctx context.Context, tx *gorm.DB, record *Record, expectedVersion int64) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Record, error)

	InsertEdge(ctx context.Context, tx *gorm.DB, edge *Edge) error
	EdgeExists(ctx context.Context, db *gorm.DB, parentID, childID snowflake.ID) (bool, error)
	NextPosition(ctx context.Context, tx *gorm.DB, childID snowflake.ID) (int, error)
	// ParentEdges returns edges into the given children, ordered by child
	// then position.
	ParentEdges(ctx context.Context, db *gorm.DB, orgID snowflake.ID, childIDs []snowflake.ID) ([]*Edge, error)
	// ChildEdges returns edges out of the given parents, ordered by parent
	// then creation.
	ChildEdges(ctx context.Context, db *gorm.DB, orgID snowflake.ID, parentIDs []snowflake.ID) ([]*Edge, error)
	ParentUIDs(ctx context.Context, db *gorm.DB, childID snowflake.ID) ([]string, error)
	ChildUIDs(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]string, error)

	InsertDefect(ctx context.Context, tx *gorm.DB, note *DefectNote) error
	ListDefects(ctx context.Context, db *gorm.DB, uidID snowflake.ID) ([]DefectNote, error)
}

type ListFilter struct {
	OrgID         snowflake.ID
	EntityType    uid.EntityType
	Status        Status
	QualityStatus QualityStatus
	Cursor        *RecordCursor
	Limit         int
}

type RecordCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
