package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/dbtest"
	"github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	"github.com/smallbiznis/genealogy/internal/lifecycle/repository"
	"github.com/smallbiznis/genealogy/internal/uid"
	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenantID = 1001

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  dbtest.Node(t),
		Clock:  clock.NewSteppingFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second),
		Config: config.NewStaticGenealogyConfigHolder(config.DefaultGenealogyConfig()),
		Repo:   repository.Provide(),
	})
	return svc.(*Service), db
}

func seedUnit(t *testing.T, db *gorm.DB, id, orgID int64, seq int64) string {
	t.Helper()
	value, err := uid.Generate("SAIF", "KOL", uid.EntityTypeRawMaterial, seq)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, db.Exec(
		`INSERT INTO uid_records (id, org_id, uid, entity_type, entity_id, plant_code, sequence, assembly_level, status, quality_status, location, version, created_at, updated_at)
		VALUES (?, ?, ?, 'RAW_MATERIAL', 'item-1', 'KOL', ?, 0, 'ACTIVE', 'PENDING', '', 1, ?, ?)`,
		id, orgID, value, seq, now, now,
	).Error)
	return value
}

func TestAppendAssignsSequentialSeqAndServerTime(t *testing.T) {
	svc, db := newTestService(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	value := seedUnit(t, db, 1, tenantID, 1)

	first, err := svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "dispatched", Location: "Dock 4", Reference: "DO-1"})
	require.NoError(t, err)
	second, err := svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "IN_WAREHOUSE", Metadata: map[string]any{"bin": "A-7"}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, domain.Stage("DISPATCHED"), first.Stage)
	assert.True(t, second.OccurredAt.After(first.OccurredAt))
	assert.Equal(t, "operator@saif.example", first.Actor)

	history, err := svc.History(ctx, value)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Dock 4", history[0].Location)
	assert.Equal(t, "A-7", history[1].Metadata["bin"])
	assert.Equal(t, value, history[1].UID)
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	svc, db := newTestService(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	value := seedUnit(t, db, 1, tenantID, 1)

	_, err := svc.Append(ctx, domain.AppendRequest{UID: "UID-BAD", Stage: "DISPATCHED"})
	assert.ErrorIs(t, err, domain.ErrInvalidUID)

	_, err = svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "not a stage"})
	assert.ErrorIs(t, err, domain.ErrInvalidStage)

	_, err = svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "CONSUMED"})
	assert.ErrorIs(t, err, domain.ErrReservedStage)

	_, err = svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "NOTE", Metadata: map[string]any{" ": 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidMetadata)

	_, err = svc.Append(context.Background(), domain.AppendRequest{UID: value, Stage: "NOTE"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	history, err := svc.History(ctx, value)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAppendIsTenantScoped(t *testing.T) {
	svc, db := newTestService(t)
	value := seedUnit(t, db, 1, tenantID, 1)

	other := dbtest.TenantContext(2002, "OTHER")
	_, err := svc.Append(other, domain.AppendRequest{UID: value, Stage: "NOTE"})
	assert.ErrorIs(t, err, domain.ErrUIDNotFound)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	_, err = svc.History(other, value)
	assert.ErrorIs(t, err, domain.ErrUIDNotFound)
}

func TestConcurrentAppendsToOneUIDAreAllRetained(t *testing.T) {
	svc, db := newTestService(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	value := seedUnit(t, db, 1, tenantID, 1)

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "SCAN"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, value)
	require.NoError(t, err)
	require.Len(t, history, writers)
	for i, event := range history {
		assert.Equal(t, int64(i+1), event.Seq)
	}
}

func TestListHistoryPaginates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	value := seedUnit(t, db, 1, tenantID, 1)
	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "SCAN"})
		require.NoError(t, err)
	}

	req := domain.ListHistoryRequest{UID: value}
	req.PageSize = 2

	var seqs []int64
	for pages := 0; pages < 10; pages++ {
		resp, err := svc.ListHistory(ctx, req)
		require.NoError(t, err)
		for _, event := range resp.Events {
			seqs = append(seqs, event.Seq)
		}
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)

	req.PageToken = "not-a-token!"
	_, err := svc.ListHistory(ctx, req)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestEventIDsAreUnique(t *testing.T) {
	svc, db := newTestService(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	value := seedUnit(t, db, 1, tenantID, 1)

	seen := map[snowflake.ID]bool{}
	for i := 0; i < 3; i++ {
		event, err := svc.Append(ctx, domain.AppendRequest{UID: value, Stage: "SCAN"})
		require.NoError(t, err)
		assert.False(t, seen[event.ID])
		seen[event.ID] = true
	}
}
