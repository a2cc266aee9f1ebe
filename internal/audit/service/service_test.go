package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/audit/domain"
	"github.com/smallbiznis/genealogy/internal/audit/repository"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/dbtest"
	obscontext "github.com/smallbiznis/genealogy/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Clock: clock.NewSteppingFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Second),
		Repo:  repository.Provide(),
	})
	return svc.(*Service)
}

func TestAuditLogResolvesContextAndMasksMetadata(t *testing.T) {
	svc := newTestService(t)
	ctx := dbtest.TenantContext(3001, "SAIF")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithIPAddress(ctx, "10.0.0.4")

	target := "UID-SAIF-KOL-RM-000001-MS"
	require.NoError(t, svc.AuditLog(ctx, nil, "", nil, "uid.create", "uid", &target, map[string]any{
		"token":    "c2VjcmV0LXRva2VuLXZhbHVlLTEyMzQ",
		"location": "Dock 1",
	}))

	resp, err := svc.List(ctx, domain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "operator@saif.example", *entry.ActorID)
	require.NotNil(t, entry.OrgID)
	assert.Equal(t, snowflake.ID(3001), *entry.OrgID)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "Dock 1", entry.Metadata["location"])
	assert.NotContains(t, entry.Metadata["token"], "c2VjcmV0")
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.4", *entry.IPAddress)
}

func TestListPaginatesAndFiltersByTenant(t *testing.T) {
	svc := newTestService(t)
	ctx := dbtest.TenantContext(3001, "SAIF")
	other := dbtest.TenantContext(3002, "ACME")

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(ctx, nil, "system", nil, "deployment.create", "deployment", nil, nil))
	}
	require.NoError(t, svc.AuditLog(ctx, nil, "system", nil, "uid.assemble", "uid", nil, nil))
	require.NoError(t, svc.AuditLog(other, nil, "system", nil, "deployment.create", "deployment", nil, nil))

	req := domain.ListAuditLogRequest{Action: "deployment.create"}
	req.PageSize = 2
	total := 0
	for {
		resp, err := svc.List(ctx, req)
		require.NoError(t, err)
		total += len(resp.AuditLogs)
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	assert.Equal(t, 5, total)
}

func TestListRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.List(context.Background(), domain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	ctx := dbtest.TenantContext(3001, "SAIF")
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, domain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)

	err = svc.AuditLog(ctx, nil, "", nil, " ", "uid", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}

func TestListFiltersByActionFamilyAndActor(t *testing.T) {
	svc := newTestService(t)
	ctx := dbtest.TenantContext(3001, "SAIF")

	planner := "planner@saif.example"
	require.NoError(t, svc.AuditLog(ctx, nil, "user", &planner, "deployment.create", "deployment", nil, nil))
	require.NoError(t, svc.AuditLog(ctx, nil, "public_token", nil, "deployment.public_update", "deployment", nil, nil))
	require.NoError(t, svc.AuditLog(ctx, nil, "user", &planner, "uid.create", "uid", nil, nil))
	require.NoError(t, svc.AuditLog(ctx, nil, "user", nil, "deployment_x.noise", "deployment", nil, nil))

	resp, err := svc.List(ctx, domain.ListAuditLogRequest{ActionPrefix: "deployment."})
	require.NoError(t, err)
	actions := make([]string, 0, len(resp.AuditLogs))
	for _, entry := range resp.AuditLogs {
		actions = append(actions, entry.Action)
	}
	assert.ElementsMatch(t, []string{"deployment.create", "deployment.public_update"}, actions)

	resp, err = svc.List(ctx, domain.ListAuditLogRequest{ActorID: planner})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)
}
