package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) LockUnit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, uid string) (*domain.UnitRef, error) {
	return r.findUnit(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), orgID, uid)
}

func (r *repo) FindUnit(ctx context.Context, db *gorm.DB, orgID snowflake.ID, uid string) (*domain.UnitRef, error) {
	return r.findUnit(ctx, db, orgID, uid)
}

func (r *repo) findUnit(ctx context.Context, db *gorm.DB, orgID snowflake.ID, uid string) (*domain.UnitRef, error) {
	var ref domain.UnitRef
	err := db.WithContext(ctx).
		Table("uid_records").
		Select("id, org_id, uid").
		Where("org_id = ? AND uid = ?", orgID, uid).
		Limit(1).
		Scan(&ref).Error
	if err != nil {
		return nil, err
	}
	if ref.ID == 0 {
		return nil, nil
	}
	return &ref, nil
}

func (r *repo) Append(ctx context.Context, tx *gorm.DB, event *domain.Event) error {
	var next int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM uid_lifecycle_events WHERE uid_id = ?`,
		event.UIDID,
	).Scan(&next).Error; err != nil {
		return err
	}
	event.Seq = next

	return tx.WithContext(ctx).Exec(
		`INSERT INTO uid_lifecycle_events (
			id, org_id, uid_id, seq, stage, occurred_at, location, reference, actor, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.OrgID,
		event.UIDID,
		event.Seq,
		event.Stage,
		event.OccurredAt,
		event.Location,
		event.Reference,
		event.Actor,
		event.Metadata,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Event, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("org_id = ? AND uid_id = ?", filter.OrgID, filter.UIDID)
	if filter.AfterSeq > 0 {
		stmt = stmt.Where("seq > ?", filter.AfterSeq)
	}
	stmt = stmt.Order("seq asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var events []*domain.Event
	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
