package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/uid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) NextSequence(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, plantCode string, entityType uid.EntityType, now time.Time) (int64, error) {
	var value int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO uid_sequences (org_id, plant_code, entity_type, last_value, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (org_id, plant_code, entity_type)
		DO UPDATE SET last_value = uid_sequences.last_value + 1, updated_at = excluded.updated_at
		RETURNING last_value`,
		orgID, plantCode, string(entityType), now,
	).Scan(&value).Error
	return value, err
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, record *domain.Record) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO uid_records (
			id, org_id, uid, entity_type, entity_id, plant_code, sequence, assembly_level,
			status, quality_status, supplier_id, purchase_order_id, grn_id, location,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.OrgID,
		record.UID,
		record.EntityType,
		record.EntityID,
		record.PlantCode,
		record.Sequence,
		record.AssemblyLevel,
		record.Status,
		record.QualityStatus,
		record.SupplierID,
		record.PurchaseOrderID,
		record.GRNID,
		record.Location,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) FindByUID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, value string) (*domain.Record, error) {
	var records []*domain.Record
	err := db.WithContext(ctx).
		Where("org_id = ? AND uid = ?", orgID, value).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []*domain.Record
	err := db.WithContext(ctx).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Order("id asc").
		Find(&records).Error
	return records, err
}

func (r *repo) LockByUIDs(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, values []string) ([]*domain.Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	var records []*domain.Record
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND uid IN ?", orgID, values).
		Order("id asc").
		Find(&records).Error
	return records, err
}

func (r *repo) LockByIDs(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]*domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []*domain.Record
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Order("id asc").
		Find(&records).Error
	return records, err
}

func (r *repo) UpdateState(ctx context.Context, tx *gorm.DB, record *domain.Record, expectedVersion int64) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE uid_records
		SET status = ?, quality_status = ?, location = ?, assembly_level = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND org_id = ? AND version = ?`,
		record.Status,
		record.QualityStatus,
		record.Location,
		record.AssemblyLevel,
		record.UpdatedAt,
		record.ID,
		record.OrgID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	record.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Record, error) {
	stmt := db.WithContext(ctx).Model(&domain.Record{}).
		Where("org_id = ?", filter.OrgID)

	if filter.EntityType != "" {
		stmt = stmt.Where("entity_type = ?", string(filter.EntityType))
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.QualityStatus != "" {
		stmt = stmt.Where("quality_status = ?", string(filter.QualityStatus))
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var records []*domain.Record
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) InsertEdge(ctx context.Context, tx *gorm.DB, edge *domain.Edge) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO uid_edges (id, org_id, parent_id, child_id, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		edge.ID,
		edge.OrgID,
		edge.ParentID,
		edge.ChildID,
		edge.Position,
		edge.CreatedAt,
	).Error
}

func (r *repo) EdgeExists(ctx context.Context, db *gorm.DB, parentID, childID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Edge{}).
		Where("parent_id = ? AND child_id = ?", parentID, childID).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) NextPosition(ctx context.Context, tx *gorm.DB, childID snowflake.ID) (int, error) {
	var next int
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(position), -1) + 1 FROM uid_edges WHERE child_id = ?`,
		childID,
	).Scan(&next).Error
	return next, err
}

func (r *repo) ParentEdges(ctx context.Context, db *gorm.DB, orgID snowflake.ID, childIDs []snowflake.ID) ([]*domain.Edge, error) {
	if len(childIDs) == 0 {
		return nil, nil
	}
	var edges []*domain.Edge
	err := db.WithContext(ctx).
		Where("org_id = ? AND child_id IN ?", orgID, childIDs).
		Order("child_id asc, position asc").
		Find(&edges).Error
	return edges, err
}

func (r *repo) ChildEdges(ctx context.Context, db *gorm.DB, orgID snowflake.ID, parentIDs []snowflake.ID) ([]*domain.Edge, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var edges []*domain.Edge
	err := db.WithContext(ctx).
		Where("org_id = ? AND parent_id IN ?", orgID, parentIDs).
		Order("parent_id asc, created_at asc, id asc").
		Find(&edges).Error
	return edges, err
}

func (r *repo) ParentUIDs(ctx context.Context, db *gorm.DB, childID snowflake.ID) ([]string, error) {
	var values []string
	err := db.WithContext(ctx).
		Table("uid_edges AS e").
		Joins("JOIN uid_records AS r ON r.id = e.parent_id").
		Where("e.child_id = ?", childID).
		Order("e.position asc").
		Pluck("r.uid", &values).Error
	return values, err
}

func (r *repo) ChildUIDs(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]string, error) {
	var values []string
	err := db.WithContext(ctx).
		Table("uid_edges AS e").
		Joins("JOIN uid_records AS r ON r.id = e.child_id").
		Where("e.parent_id = ?", parentID).
		Order("e.created_at asc, e.id asc").
		Pluck("r.uid", &values).Error
	return values, err
}

func (r *repo) InsertDefect(ctx context.Context, tx *gorm.DB, note *domain.DefectNote) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO uid_defect_notes (id, org_id, uid_id, reason, severity, detected_by, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		note.ID,
		note.OrgID,
		note.UIDID,
		note.Reason,
		note.Severity,
		note.DetectedBy,
		note.DetectedAt,
	).Error
}

func (r *repo) ListDefects(ctx context.Context, db *gorm.DB, uidID snowflake.ID) ([]domain.DefectNote, error) {
	var notes []domain.DefectNote
	err := db.WithContext(ctx).
		Where("uid_id = ?", uidID).
		Order("detected_at asc, id asc").
		Find(&notes).Error
	return notes, err
}
