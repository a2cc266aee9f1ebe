package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/genealogy/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert accepts either the pool or the caller's transaction so that an
// entry can commit together with the change it records.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	conds := []string{"org_id = ?"}
	args := []any{filter.OrgID}

	eq := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			conds = append(conds, column+" = ?")
			args = append(args, value)
		}
	}
	eq("target_type", filter.TargetType)
	eq("target_id", filter.TargetID)
	eq("actor_type", filter.ActorType)
	eq("actor_id", filter.ActorID)

	if action := strings.TrimSpace(filter.Action); action != "" {
		conds = append(conds, "action = ?")
		args = append(args, action)
	} else if prefix := strings.TrimSpace(filter.ActionPrefix); prefix != "" {
		conds = append(conds, "action LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(prefix)+"%")
	}
	if filter.StartAt != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		conds = append(conds, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}

	query := `SELECT id, org_id, actor_type, actor_id, action, target_type, target_id,
		metadata, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit+1)
	}

	var logs []*domain.AuditLog
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
