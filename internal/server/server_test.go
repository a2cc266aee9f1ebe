package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	assemblyrepository "github.com/smallbiznis/genealogy/internal/assembly/repository"
	assemblyservice "github.com/smallbiznis/genealogy/internal/assembly/service"
	auditdomain "github.com/smallbiznis/genealogy/internal/audit/domain"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/dbtest"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
	lifecycledomain "github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	lifecyclerepository "github.com/smallbiznis/genealogy/internal/lifecycle/repository"
	lifecycleservice "github.com/smallbiznis/genealogy/internal/lifecycle/service"
	"github.com/smallbiznis/genealogy/internal/observability"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/ratelimit"
	traceabilitydomain "github.com/smallbiznis/genealogy/internal/traceability/domain"
	"github.com/smallbiznis/genealogy/internal/uid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type auditCall struct {
	orgID     snowflake.ID
	actorType string
	action    string
	targetID  string
	metadata  map[string]any
}

type fakeAuditService struct {
	mu    sync.Mutex
	calls []auditCall
	err   error
}

func (f *fakeAuditService) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := auditCall{actorType: actorType, action: action, metadata: metadata}
	if orgID != nil {
		call.orgID = *orgID
	}
	if targetID != nil {
		call.targetID = *targetID
	}
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (f *fakeAuditService) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.action)
	}
	return out
}

type fakeAuthz struct {
	allow bool
}

func (f fakeAuthz) Authorize(ctx context.Context, identity orgcontext.Identity, object, action string) error {
	if f.allow {
		return nil
	}
	return ErrForbidden
}

func (f fakeAuthz) CanViewPrice(ctx context.Context, identity orgcontext.Identity) (bool, error) {
	return f.allow, nil
}

func (f fakeAuthz) AssignRole(ctx context.Context, identity orgcontext.Identity, role string) error {
	return nil
}

type fakeTraceability struct {
	tree      *traceabilitydomain.TreeNode
	lastTree  traceabilitydomain.BuildTreeRequest
	reportUID string
	reportErr error
}

func (f *fakeTraceability) FindDescendants(ctx context.Context, uid string) (*traceabilitydomain.Descendants, error) {
	return nil, traceabilitydomain.ErrUIDNotFound
}

func (f *fakeTraceability) TraceToSupplier(ctx context.Context, uid string) ([]traceabilitydomain.SupplierTrace, error) {
	return nil, nil
}

func (f *fakeTraceability) BuildTree(ctx context.Context, req traceabilitydomain.BuildTreeRequest) (*traceabilitydomain.TreeNode, error) {
	f.lastTree = req
	if req.RequirePrices {
		return nil, traceabilitydomain.ErrPriceNotPermitted
	}
	return f.tree, nil
}

func (f *fakeTraceability) RecallImpact(ctx context.Context, uid string) (*traceabilitydomain.RecallImpact, error) {
	return nil, nil
}

func (f *fakeTraceability) RecallReport(ctx context.Context, uid, reason string) ([]byte, error) {
	f.reportUID = uid
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return []byte("%PDF-1.4 test"), nil
}

type fakeDeployments struct {
	updateErr error
	updates   int
}

func (f *fakeDeployments) CreateDeployment(ctx context.Context, req deploymentdomain.CreateRequest) (*deploymentdomain.Issued, error) {
	return nil, deploymentdomain.ErrInvalidLevel
}

func (f *fakeDeployments) SetCurrentLocation(ctx context.Context, req deploymentdomain.SetCurrentRequest) (*deploymentdomain.Issued, error) {
	return nil, deploymentdomain.ErrDeploymentNotFound
}

func (f *fakeDeployments) GetCurrentLocation(ctx context.Context, uid string) (*deploymentdomain.Record, error) {
	return nil, deploymentdomain.ErrDeploymentNotFound
}

func (f *fakeDeployments) GetChain(ctx context.Context, uid string) ([]*deploymentdomain.ChainNode, error) {
	return nil, nil
}

func (f *fakeDeployments) GetByToken(ctx context.Context, raw string) (*deploymentdomain.PublicView, error) {
	switch raw {
	case "stale":
		return nil, deploymentdomain.ErrTokenExpired
	case "live":
		return &deploymentdomain.PublicView{
			Deployment: deploymentdomain.PublicDeployment{LocationName: "Depot 4"},
			Unit:       deploymentdomain.PublicUnit{UID: "UID-ACME-KOL-FG-000001-00"},
			IsCurrent:  true,
		}, nil
	}
	return nil, deploymentdomain.ErrTokenInvalid
}

func (f *fakeDeployments) UpdateViaToken(ctx context.Context, req deploymentdomain.PublicUpdateRequest) (*deploymentdomain.PublicUpdateResult, error) {
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &deploymentdomain.PublicUpdateResult{
		Deployment:   deploymentdomain.PublicDeployment{LocationName: req.LocationName},
		PublicToken:  "next-token",
		OrgID:        snowflake.ID(77),
		UID:          "UID-ACME-KOL-FG-000001-00",
		DeploymentID: snowflake.ID(501),
	}, nil
}

type testServer struct {
	*Server
	audit       *fakeAuditService
	trace       *fakeTraceability
	deployments *fakeDeployments
}

func newTestServer(t *testing.T, allow bool) testServer {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	fakeClock := clock.NewSteppingFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC), time.Millisecond)
	holder := config.NewStaticGenealogyConfigHolder(config.DefaultGenealogyConfig())
	lifecycleRepo := lifecyclerepository.Provide()

	assemblySvc := assemblyservice.New(assemblyservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fakeClock,
		AppConfig: config.Config{UID: config.UIDConfig{DefaultTenantCode: "ACME", DefaultPlantCode: "HQ"}},
		Config:    holder,
		Repo:      assemblyrepository.Provide(),
		Lifecycle: lifecycleRepo,
	})
	lifecycleSvc := lifecycleservice.New(lifecycleservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fakeClock,
		Config: holder,
		Repo:   lifecycleRepo,
	})

	audit := &fakeAuditService{}
	trace := &fakeTraceability{tree: &traceabilitydomain.TreeNode{UID: "UID-ACME-KOL-FG-000001-00"}}
	deployments := &fakeDeployments{}

	srv := NewServer(ServerParams{
		Gin:           NewEngine(observability.Config{}, nil),
		Log:           zap.NewNop(),
		AssemblySvc:   assemblySvc,
		LifecycleSvc:  lifecycleSvc,
		TraceSvc:      trace,
		DeploymentSvc: deployments,
		AuditSvc:      audit,
		AuthzSvc:      fakeAuthz{allow: allow},
	})
	srv.RegisterAPIRoutes()
	srv.RegisterPublicRoutes()
	return testServer{Server: srv, audit: audit, trace: trace, deployments: deployments}
}

func (ts testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.Engine().ServeHTTP(rec, req)
	return rec
}

func tenantHeaders(permissions string) map[string]string {
	return map[string]string{
		HeaderTenantID:    "77",
		HeaderTenantCode:  "acme",
		HeaderUserID:      "u-1",
		HeaderUserEmail:   "planner@acme.example",
		HeaderPermissions: permissions,
	}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error errorPayload    `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPIRequiresIdentity(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/uids", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec).Error.Code)

	headers := tenantHeaders("")
	headers[HeaderTenantID] = "not-a-number"
	rec = ts.do(t, http.MethodGet, "/api/uids", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndFetchUID(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/uids", map[string]any{
		"entity_type": "RAW_MATERIAL",
		"entity_id":   "steel-rod",
		"plant_code":  "KOL",
		"location":    "Receiving",
	}, tenantHeaders(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var unit assemblydomain.Unit
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &unit))
	assert.Equal(t, "KOL", unit.PlantCode)
	assert.Equal(t, []string{"uid.create"}, ts.audit.actions())

	rec = ts.do(t, http.MethodGet, "/api/uids/"+unit.UID, nil, tenantHeaders(""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/uids/"+unit.UID+"/lifecycle", nil, tenantHeaders(""))
	require.Equal(t, http.StatusOK, rec.Code)
	var events []lifecycledomain.Event
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &events))
	require.NotEmpty(t, events)
	assert.Equal(t, lifecycledomain.StageCreated, events[0].Stage)

	rec = ts.do(t, http.MethodPost, "/api/uids/validate", map[string]string{"uid": unit.UID}, tenantHeaders(""))
	require.Equal(t, http.StatusOK, rec.Code)
	var validation validateUIDResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &validation))
	assert.True(t, validation.Valid)
	assert.Equal(t, "ACME", validation.TenantCode)
}

func TestValidationAndNotFoundMapping(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/uids", map[string]any{
		"entity_type": "SPACESHIP",
		"entity_id":   "x",
	}, tenantHeaders(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_entity_type", decode(t, rec).Error.Code)

	missing, err := uid.Generate("ACME", "KOL", uid.EntityTypeRawMaterial, 404)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/api/uids/"+missing, nil, tenantHeaders(""))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/uids/not-a-uid", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/uids/x/descendants", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "uid_not_found", decode(t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/api/uids/x/deployments/current", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ts.audit.actions())
}

func TestValidateReportsBadChecksum(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/uids/validate", map[string]string{"uid": "UID-ACME-KOL-RM-000001-ZZ"}, tenantHeaders(""))
	require.Equal(t, http.StatusOK, rec.Code)
	var validation validateUIDResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &validation))
	assert.False(t, validation.Valid)
	assert.NotEmpty(t, validation.Reason)
}

func TestTreeRequirePrices(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/uids/u/tree", nil, tenantHeaders(""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.trace.lastTree.RequirePrices)

	rec = ts.do(t, http.MethodGet, "/api/uids/u/tree?require_prices=true", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "price_view_not_permitted", decode(t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/api/uids/u/tree?require_prices=maybe", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecallReportDownload(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/uids/UID-ACME-KOL-FG-000001-00/recall/report.pdf?reason=weld", nil, tenantHeaders(orgcontext.PermissionRecallExport))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UID-ACME-KOL-FG-000001-00", ts.trace.reportUID)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "recall-UID-ACME-KOL-FG-000001-00.pdf")
	assert.Equal(t, []string{"recall.export"}, ts.audit.actions())

	ts.trace.reportErr = ErrForbidden
	rec = ts.do(t, http.MethodGet, "/api/uids/x/recall/report.pdf", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// UIDs are case sensitive, so the path value is passed through as given
	ts.trace.reportErr = traceabilitydomain.ErrInvalidUID
	rec = ts.do(t, http.MethodGet, "/api/uids/uid-acme-kol-fg-000001-00/recall/report.pdf", nil, tenantHeaders(orgcontext.PermissionRecallExport))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "uid-acme-kol-fg-000001-00", ts.trace.reportUID)
}

func TestAuditLogsRequireCapability(t *testing.T) {
	denied := newTestServer(t, false)
	rec := denied.do(t, http.MethodGet, "/api/audit-logs", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = denied.do(t, http.MethodGet, "/api/audit-logs", nil, tenantHeaders(orgcontext.PermissionAuditLogView))
	assert.Equal(t, http.StatusOK, rec.Code)

	allowed := newTestServer(t, true)
	rec = allowed.do(t, http.MethodGet, "/api/audit-logs?start_at=2026-01-01", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = allowed.do(t, http.MethodGet, "/api/audit-logs?end_at=yesterday", nil, tenantHeaders(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicTokenRead(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/public/deployments/live", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = ts.do(t, http.MethodGet, "/public/deployments/unknown", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/public/deployments/stale", nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "public_token_expired", decode(t, rec).Error.Code)
}

func TestPublicTokenUpdateAudited(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/public/deployments/live", map[string]string{
		"location_name":      "Depot 5",
		"verification_email": "field@customer.example",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result deploymentdomain.PublicUpdateResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.Equal(t, "next-token", result.PublicToken)
	assert.Equal(t, "Depot 5", result.Deployment.LocationName)

	require.Len(t, ts.audit.calls, 1)
	call := ts.audit.calls[0]
	assert.Equal(t, "deployment.public_update", call.action)
	assert.Equal(t, string(auditdomain.ActorTypePublicToken), call.actorType)
	assert.Equal(t, snowflake.ID(77), call.orgID)
	assert.Equal(t, "501", call.targetID)

	ts.deployments.updateErr = deploymentdomain.ErrTokenSuperseded
	rec = ts.do(t, http.MethodPost, "/public/deployments/live", map[string]string{"location_name": "Depot 6"}, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Len(t, ts.audit.calls, 1)
}

func TestAuditFailureDoesNotFailRequest(t *testing.T) {
	ts := newTestServer(t, false)
	ts.audit.err = errors.New("audit store down")

	rec := ts.do(t, http.MethodPost, "/public/deployments/live", map[string]string{"location_name": "Depot 5"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicRateLimitRejects(t *testing.T) {
	ts := newTestServer(t, false)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	calls := 0
	deny := func(ctx context.Context, client string) (*ratelimit.Result, error) {
		calls++
		if calls > 1 {
			return &ratelimit.Result{Allowed: false, Limit: 1, RetryAfter: 1500 * time.Millisecond}, nil
		}
		return &ratelimit.Result{Allowed: true, Limit: 1}, nil
	}
	engine.GET("/limited", ts.publicRateLimit("test", deny), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := httptest.NewRecorder()
	engine.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := httptest.NewRecorder()
	engine.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))
}

func TestPublicRateLimitFailsOpen(t *testing.T) {
	ts := newTestServer(t, false)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	broken := func(ctx context.Context, client string) (*ratelimit.Result, error) {
		return nil, errors.New("redis: connection refused")
	}
	engine.GET("/limited", ts.publicRateLimit("test", broken), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSplitPermissions(t *testing.T) {
	assert.Equal(t, []string{"price:view", "recall:export"}, splitPermissions(" price:view, recall:export ,"))
	assert.Nil(t, splitPermissions(""))
}
