package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/deployment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const deploymentColumns = `id, org_id, uid_id, uid, deployment_level, organization_name, location_name,
	deployment_date, parent_deployment_id, is_current_location, token_hash, token_issued_at,
	token_superseded_at, verification_email, created_by, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, record *domain.Record) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO uid_deployments (`+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.OrgID,
		record.UIDID,
		record.UID,
		string(record.DeploymentLevel),
		record.OrganizationName,
		record.LocationName,
		record.DeploymentDate,
		record.ParentDeploymentID,
		record.IsCurrentLocation,
		record.TokenHash,
		record.TokenIssuedAt,
		record.TokenSupersededAt,
		record.VerificationEmail,
		record.CreatedBy,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Record, error) {
	var row domain.Record
	if err := db.WithContext(ctx).Raw(
		`SELECT `+deploymentColumns+`
		 FROM uid_deployments
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Record, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	var row domain.Record
	if err := db.WithContext(ctx).Raw(
		`SELECT `+deploymentColumns+`
		 FROM uid_deployments
		 WHERE token_hash = ?
		 LIMIT 1`,
		hash,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) LockByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Record, error) {
	var rows []*domain.Record
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *repo) ListByUID(ctx context.Context, db *gorm.DB, orgID, uidID snowflake.ID) ([]*domain.Record, error) {
	var rows []*domain.Record
	if err := db.WithContext(ctx).
		Where("org_id = ? AND uid_id = ?", orgID, uidID).
		Order("deployment_date asc, created_at asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Current(ctx context.Context, db *gorm.DB, orgID, uidID snowflake.ID) (*domain.Record, error) {
	var row domain.Record
	if err := db.WithContext(ctx).Raw(
		`SELECT `+deploymentColumns+`
		 FROM uid_deployments
		 WHERE org_id = ? AND uid_id = ? AND is_current_location = ?
		 LIMIT 1`,
		orgID,
		uidID,
		true,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) CurrentByUIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, uidIDs []snowflake.ID) ([]*domain.Record, error) {
	if len(uidIDs) == 0 {
		return nil, nil
	}
	var rows []*domain.Record
	if err := db.WithContext(ctx).
		Where("org_id = ? AND uid_id IN ? AND is_current_location = ?", orgID, uidIDs, true).
		Order("uid_id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) DemoteCurrent(ctx context.Context, tx *gorm.DB, orgID, uidID snowflake.ID, now time.Time) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE uid_deployments
		 SET is_current_location = ?, token_superseded_at = COALESCE(token_superseded_at, ?), updated_at = ?
		 WHERE org_id = ? AND uid_id = ? AND is_current_location = ?`,
		false,
		now,
		now,
		orgID,
		uidID,
		true,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Promote(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, tokenHash string, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE uid_deployments
		 SET is_current_location = ?, token_hash = ?, token_issued_at = ?, token_superseded_at = NULL, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		true,
		tokenHash,
		now,
		now,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
