// Package dbtest opens migrated in-memory sqlite databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/genealogy/internal/migration"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh schema per test. The pool is pinned to one
// connection so concurrent transactions serialize the way row locks would
// serialize them on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySchema(context.Background(), db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// TenantContext returns a context carrying a tenant identity.
func TenantContext(tenantID int64, code string, permissions ...string) context.Context {
	return orgcontext.WithIdentity(context.Background(), orgcontext.Identity{
		TenantID:    snowflake.ID(tenantID),
		TenantCode:  code,
		UserID:      fmt.Sprintf("user-%d", tenantID),
		Email:       fmt.Sprintf("operator@%s.example", strings.ToLower(code)),
		Permissions: permissions,
	})
}
