package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	assemblyrepository "github.com/smallbiznis/genealogy/internal/assembly/repository"
	assemblyservice "github.com/smallbiznis/genealogy/internal/assembly/service"
	"github.com/smallbiznis/genealogy/internal/authorization"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/dbtest"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
	deploymentrepository "github.com/smallbiznis/genealogy/internal/deployment/repository"
	lifecyclerepository "github.com/smallbiznis/genealogy/internal/lifecycle/repository"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"github.com/smallbiznis/genealogy/internal/providers/pdf"
	"github.com/smallbiznis/genealogy/internal/traceability/domain"
	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenantID = 3001

type stubAuthz struct {
	prices bool
	recall bool
}

func (a stubAuthz) Authorize(_ context.Context, _ orgcontext.Identity, object, _ string) error {
	if object == authorization.ObjectRecall && a.recall {
		return nil
	}
	return authorization.ErrForbidden
}

func (a stubAuthz) CanViewPrice(_ context.Context, identity orgcontext.Identity) (bool, error) {
	return a.prices || identity.HasPermission(orgcontext.PermissionPriceView), nil
}

func (stubAuthz) AssignRole(context.Context, orgcontext.Identity, string) error { return nil }

type stubCatalog struct {
	catalog.Noop
	failItems bool
}

func (c stubCatalog) Item(_ context.Context, _ string, id string) (*catalog.Item, error) {
	if c.failItems {
		return nil, errors.New("catalog unavailable")
	}
	return &catalog.Item{ID: id, Code: id, Name: "Item " + id}, nil
}

func (stubCatalog) Vendor(_ context.Context, _ string, id string) (*catalog.Vendor, error) {
	if id == "" {
		return nil, nil
	}
	return &catalog.Vendor{ID: id, Code: id, Name: "Vendor " + id}, nil
}

func (stubCatalog) PurchaseOrder(_ context.Context, _ string, id string) (*catalog.PurchaseOrder, error) {
	if id == "" {
		return nil, nil
	}
	price := decimal.RequireFromString("12.50")
	return &catalog.PurchaseOrder{ID: id, Number: "N-" + id, Currency: "INR", UnitPrice: &price}, nil
}

func (stubCatalog) GRN(_ context.Context, _ string, id string) (*catalog.GRN, error) {
	if id == "" {
		return nil, nil
	}
	qty := decimal.NewFromInt(40)
	return &catalog.GRN{ID: id, Number: "G-" + id, Quantity: &qty}, nil
}

type fixture struct {
	db          *gorm.DB
	units       assemblydomain.Service
	unitRepo    assemblydomain.Repository
	deployments deploymentdomain.Repository
	params      Params
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	holder := config.NewStaticGenealogyConfigHolder(config.DefaultGenealogyConfig())
	clk := clock.NewSteppingFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), time.Millisecond)
	unitRepo := assemblyrepository.Provide()
	deployments := deploymentrepository.Provide()

	units := assemblyservice.New(assemblyservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     dbtest.Node(t),
		Clock:     clk,
		Config:    holder,
		Repo:      unitRepo,
		Lifecycle: lifecyclerepository.Provide(),
	})
	return fixture{
		db:          db,
		units:       units,
		unitRepo:    unitRepo,
		deployments: deployments,
		params: Params{
			DB:          db,
			Log:         zap.NewNop(),
			Clock:       clk,
			Config:      holder,
			Units:       unitRepo,
			Deployments: deployments,
			Catalog:     stubCatalog{},
			Authz:       stubAuthz{},
			PDF:         pdf.New(),
		},
	}
}

func (f fixture) service() domain.Service {
	return New(f.params)
}

func (f fixture) raw(t *testing.T, ctx context.Context, entityID string) *assemblydomain.Unit {
	t.Helper()
	unit, err := f.units.CreateUID(ctx, assemblydomain.CreateUIDRequest{
		EntityType: "RAW_MATERIAL",
		EntityID:   entityID,
		PlantCode:  "PUN",
		Provenance: &assemblydomain.Provenance{SupplierID: "SUP-" + entityID, PurchaseOrderID: "PO-" + entityID, GRNID: "GRN-" + entityID},
	})
	require.NoError(t, err)
	return unit
}

func (f fixture) assemble(t *testing.T, ctx context.Context, entityType, entityID string, inputs ...string) *assemblydomain.Unit {
	t.Helper()
	unit, err := f.units.Assemble(ctx, assemblydomain.AssembleRequest{
		ParentUIDs:       inputs,
		OutputEntityType: entityType,
		OutputEntityID:   entityID,
		PlantCode:        "PUN",
	})
	require.NoError(t, err)
	return unit
}

// bike builds frame(steel, paint) + wheel(rubber) -> bike.
type bike struct {
	steel, paint, rubber, frame, wheel, bike *assemblydomain.Unit
}

func (f fixture) bike(t *testing.T, ctx context.Context) bike {
	t.Helper()
	var b bike
	b.steel = f.raw(t, ctx, "steel")
	b.paint = f.raw(t, ctx, "paint")
	b.rubber = f.raw(t, ctx, "rubber")
	b.frame = f.assemble(t, ctx, "SUB_ASSEMBLY", "frame", b.steel.UID, b.paint.UID)
	b.wheel = f.assemble(t, ctx, "COMPONENT", "wheel", b.rubber.UID)
	b.bike = f.assemble(t, ctx, "FINISHED_GOOD", "bike", b.frame.UID, b.wheel.UID)
	return b
}

func TestFindDescendantsWalksEveryLevel(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)

	got, err := f.service().FindDescendants(ctx, b.steel.UID)
	require.NoError(t, err)
	assert.Equal(t, b.steel.UID, got.UID)
	assert.Equal(t, []string{b.frame.UID, b.bike.UID}, got.UIDs)

	leaf, err := f.service().FindDescendants(ctx, b.bike.UID)
	require.NoError(t, err)
	assert.Empty(t, leaf.UIDs)
}

func TestFindDescendantsToleratesStoredCycles(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)

	// a cycle can only exist through data written outside the service
	require.NoError(t, f.unitRepo.InsertEdge(ctx, f.db, &assemblydomain.Edge{
		ID:        9_000_000_001,
		OrgID:     tenantID,
		ParentID:  b.bike.ID,
		ChildID:   b.steel.ID,
		Position:  99,
		CreatedAt: time.Now(),
	}))

	got, err := f.service().FindDescendants(ctx, b.steel.UID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.frame.UID, b.bike.UID}, got.UIDs)

	tree, err := f.service().BuildTree(ctx, domain.BuildTreeRequest{UID: b.bike.UID})
	require.NoError(t, err)
	frame := tree.Children[0]
	steel := frame.Children[0]
	require.Len(t, steel.Children, 1)
	assert.True(t, steel.Children[0].Cycle)
	assert.Equal(t, b.bike.UID, steel.Children[0].UID)
}

func TestTraversalLimit(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)

	cfg := config.DefaultGenealogyConfig()
	cfg.Traversal.MaxNodes = 1
	f.params.Config = config.NewStaticGenealogyConfigHolder(cfg)

	_, err := f.service().FindDescendants(ctx, b.steel.UID)
	assert.ErrorIs(t, err, domain.ErrTraversalLimit)

	_, err = f.service().BuildTree(ctx, domain.BuildTreeRequest{UID: b.bike.UID})
	assert.ErrorIs(t, err, domain.ErrTraversalLimit)
}

func TestTraceToSupplierReturnsRawMaterialsWithoutPrices(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF", orgcontext.PermissionPriceView)
	b := f.bike(t, ctx)

	traces, err := f.service().TraceToSupplier(ctx, b.bike.UID)
	require.NoError(t, err)
	require.Len(t, traces, 3)

	got := make([]string, 0, len(traces))
	for _, trace := range traces {
		got = append(got, trace.UID)
		require.NotNil(t, trace.Supplier)
		assert.Equal(t, trace.SupplierID, trace.Supplier.ID)
		require.NotNil(t, trace.PurchaseOrder)
		assert.Equal(t, "N-"+trace.PurchaseOrderID, trace.PurchaseOrder.Number)
	}
	assert.ElementsMatch(t, []string{b.steel.UID, b.paint.UID, b.rubber.UID}, got)

	self, err := f.service().TraceToSupplier(ctx, b.steel.UID)
	require.NoError(t, err)
	require.Len(t, self, 1)
	assert.Equal(t, "SUP-steel", self[0].SupplierID)
}

func TestBuildTreeRedactsPricesAtEveryDepth(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)

	tree, err := f.service().BuildTree(ctx, domain.BuildTreeRequest{UID: b.bike.UID})
	require.NoError(t, err)
	assert.Equal(t, b.bike.UID, tree.UID)
	assert.Equal(t, 2, tree.Level)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, b.frame.UID, tree.Children[0].UID)
	assert.Equal(t, b.wheel.UID, tree.Children[1].UID)
	require.NotNil(t, tree.Item)
	assert.Equal(t, "Item bike", tree.Item.Name)

	leaves := 0
	walk(tree, func(node *domain.TreeNode) {
		if node.PurchaseDetails == nil {
			return
		}
		leaves++
		assert.Nil(t, node.PurchaseDetails.Price, node.UID)
		assert.NotEmpty(t, node.PurchaseDetails.PurchaseOrderNumber)
		require.NotNil(t, node.PurchaseDetails.Quantity)
		assert.Equal(t, "40", node.PurchaseDetails.Quantity.String())
	})
	assert.Equal(t, 3, leaves)

	_, err = f.service().BuildTree(ctx, domain.BuildTreeRequest{UID: b.bike.UID, RequirePrices: true})
	assert.ErrorIs(t, err, domain.ErrPriceNotPermitted)
	assert.Equal(t, apperror.KindPermission, apperror.KindOf(err))
}

func TestBuildTreeShowsPricesToPermittedViewer(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF", orgcontext.PermissionPriceView)
	b := f.bike(t, ctx)

	tree, err := f.service().BuildTree(ctx, domain.BuildTreeRequest{UID: b.bike.UID, RequirePrices: true})
	require.NoError(t, err)
	walk(tree, func(node *domain.TreeNode) {
		if node.PurchaseDetails == nil {
			return
		}
		require.NotNil(t, node.PurchaseDetails.Price, node.UID)
		assert.Equal(t, "12.5", node.PurchaseDetails.Price.String())
	})
}

func TestBuildTreeOmitsFailedCatalogLookups(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)
	f.params.Catalog = stubCatalog{failItems: true}

	tree, err := f.service().BuildTree(ctx, domain.BuildTreeRequest{UID: b.bike.UID})
	require.NoError(t, err)
	assert.Nil(t, tree.Item)
	assert.Len(t, tree.Children, 2)
}

func TestRecallImpactListsAffectedUnitsAndFinishedGoods(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)
	bolt := f.raw(t, ctx, "bolt")
	spare := f.assemble(t, ctx, "COMPONENT", "spare", bolt.UID)

	require.NoError(t, f.deployments.Insert(ctx, f.db, &deploymentdomain.Record{
		ID:                9_000_000_002,
		OrgID:             tenantID,
		UIDID:             b.bike.ID,
		UID:               b.bike.UID,
		DeploymentLevel:   deploymentdomain.LevelCustomer,
		OrganizationName:  "Metro Cycles",
		LocationName:      "Pune",
		DeploymentDate:    time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		IsCurrentLocation: true,
		TokenHash:         "hash-1",
		TokenIssuedAt:     time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		CreatedBy:         "user",
		CreatedAt:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		UpdatedAt:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
	}))

	impact, err := f.service().RecallImpact(ctx, b.steel.UID)
	require.NoError(t, err)
	require.Len(t, impact.Affected, 2)
	assert.Equal(t, b.frame.UID, impact.Affected[0].UID)
	assert.Equal(t, 1, impact.Affected[0].Depth)
	assert.Nil(t, impact.Affected[0].CurrentDeployment)
	assert.Equal(t, b.bike.UID, impact.Affected[1].UID)
	assert.Equal(t, 2, impact.Affected[1].Depth)
	require.NotNil(t, impact.Affected[1].CurrentDeployment)
	assert.Equal(t, "Metro Cycles", impact.Affected[1].CurrentDeployment.OrganizationName)
	assert.Equal(t, []string{b.bike.UID}, impact.FinishedGoods)

	// a component nothing consumed further is treated as shipped product
	other, err := f.service().RecallImpact(ctx, bolt.UID)
	require.NoError(t, err)
	require.Len(t, other.Affected, 1)
	assert.Equal(t, []string{spare.UID}, other.FinishedGoods)
}

func TestRecallReportRequiresExportPermission(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)

	_, err := f.service().RecallReport(ctx, b.steel.UID, "crack in weld")
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	allowed := dbtest.TenantContext(tenantID, "SAIF", orgcontext.PermissionRecallExport)
	report, err := f.service().RecallReport(allowed, b.steel.UID, "crack in weld")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(report, []byte("%PDF")))

	f.params.Authz = stubAuthz{recall: true}
	report, err = f.service().RecallReport(ctx, b.steel.UID, "crack in weld")
	require.NoError(t, err)
	assert.NotEmpty(t, report)
}

func TestReadsAreTenantScopedAndValidated(t *testing.T) {
	f := newFixture(t)
	ctx := dbtest.TenantContext(tenantID, "SAIF")
	b := f.bike(t, ctx)

	_, err := f.service().FindDescendants(dbtest.TenantContext(tenantID+1, "OTHR"), b.steel.UID)
	assert.ErrorIs(t, err, domain.ErrUIDNotFound)

	_, err = f.service().FindDescendants(ctx, "UID-BROKEN")
	assert.ErrorIs(t, err, domain.ErrInvalidUID)

	_, err = f.service().RecallImpact(context.Background(), b.steel.UID)
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func walk(node *domain.TreeNode, fn func(*domain.TreeNode)) {
	fn(node)
	for _, child := range node.Children {
		walk(child, fn)
	}
}
