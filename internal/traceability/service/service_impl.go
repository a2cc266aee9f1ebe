package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/authorization"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
	"github.com/smallbiznis/genealogy/internal/observability/logger"
	"github.com/smallbiznis/genealogy/internal/observability/metrics"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"github.com/smallbiznis/genealogy/internal/providers/pdf"
	"github.com/smallbiznis/genealogy/internal/traceability/domain"
	"github.com/smallbiznis/genealogy/internal/uid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Config      *config.GenealogyConfigHolder `optional:"true"`
	Metrics     *metrics.Metrics              `optional:"true"`
	Units       assemblydomain.Repository
	Deployments deploymentdomain.Repository
	Catalog     catalog.Lookup
	Authz       authorization.Service
	PDF         pdf.Provider
}

// Service only ever reads; nothing here opens a transaction.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	config      *config.GenealogyConfigHolder
	metrics     *metrics.Metrics
	units       assemblydomain.Repository
	deployments deploymentdomain.Repository
	catalog     catalog.Lookup
	authz       authorization.Service
	pdf         pdf.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("traceability.service"),
		clock:       p.Clock,
		config:      p.Config,
		metrics:     p.Metrics,
		units:       p.Units,
		deployments: p.Deployments,
		catalog:     p.Catalog,
		authz:       p.Authz,
		pdf:         p.PDF,
	}
}

// visit is one unit reached by a downstream walk.
type visit struct {
	id       snowflake.ID
	depth    int
	hasChild bool
}

func (s *Service) FindDescendants(ctx context.Context, value string) (*domain.Descendants, error) {
	orgID, root, err := s.root(ctx, value)
	if err != nil {
		return nil, err
	}

	visits, err := s.descend(ctx, orgID, root)
	if err != nil {
		return nil, err
	}
	records, err := s.recordsByID(ctx, orgID, visitIDs(visits))
	if err != nil {
		return nil, err
	}

	out := &domain.Descendants{UID: root.UID, UIDs: make([]string, 0, len(visits))}
	for _, v := range visits {
		if record, ok := records[v.id]; ok {
			out.UIDs = append(out.UIDs, record.UID)
		}
	}
	s.metrics.RecordTraversal(ctx, "descendants", len(visits))
	return out, nil
}

func (s *Service) TraceToSupplier(ctx context.Context, value string) ([]domain.SupplierTrace, error) {
	orgID, root, err := s.root(ctx, value)
	if err != nil {
		return nil, err
	}

	raw, visited, err := s.rawAncestors(ctx, orgID, root)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTraversal(ctx, "suppliers", visited)

	tenant := orgID.String()
	traces := make([]domain.SupplierTrace, 0, len(raw))
	for _, record := range raw {
		trace := domain.SupplierTrace{
			UID:             record.UID,
			EntityID:        record.EntityID,
			SupplierID:      deref(record.SupplierID),
			PurchaseOrderID: deref(record.PurchaseOrderID),
			GRNID:           deref(record.GRNID),
		}
		trace.Supplier = s.vendor(ctx, tenant, trace.SupplierID)
		if po := s.purchaseOrder(ctx, tenant, trace.PurchaseOrderID); po != nil {
			trace.PurchaseOrder = &domain.PurchaseOrder{ID: po.ID, Number: po.Number, OrderedAt: po.OrderedAt}
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func (s *Service) BuildTree(ctx context.Context, req domain.BuildTreeRequest) (*domain.TreeNode, error) {
	orgID, root, err := s.root(ctx, req.UID)
	if err != nil {
		return nil, err
	}

	identity, _ := orgcontext.IdentityFromContext(ctx)
	showPrices, err := s.authz.CanViewPrice(ctx, identity)
	if err != nil {
		return nil, err
	}
	if req.RequirePrices && !showPrices {
		return nil, domain.ErrPriceNotPermitted
	}

	b := &treeBuilder{
		svc:        s,
		orgID:      orgID,
		tenant:     orgID.String(),
		showPrices: showPrices,
		budget:     s.config.Get().Traversal.MaxNodes,
		onPath:     map[snowflake.ID]bool{},
	}
	tree, err := b.build(ctx, root)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTraversal(ctx, "tree", b.count)
	return tree, nil
}

func (s *Service) RecallImpact(ctx context.Context, value string) (*domain.RecallImpact, error) {
	orgID, root, err := s.root(ctx, value)
	if err != nil {
		return nil, err
	}

	visits, err := s.descend(ctx, orgID, root)
	if err != nil {
		return nil, err
	}
	ids := visitIDs(visits)
	records, err := s.recordsByID(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}
	currents, err := s.deployments.CurrentByUIDs(ctx, s.db, orgID, ids)
	if err != nil {
		return nil, err
	}
	currentByUID := make(map[snowflake.ID]*deploymentdomain.Record, len(currents))
	for _, current := range currents {
		currentByUID[current.UIDID] = current
	}

	impact := &domain.RecallImpact{
		UID:           root.UID,
		EntityType:    root.EntityType,
		Status:        root.Status,
		Affected:      make([]domain.AffectedUnit, 0, len(visits)),
		FinishedGoods: []string{},
		GeneratedAt:   s.clock.Now().UTC(),
	}
	if root.EntityType == uid.EntityTypeFinishedGood {
		impact.FinishedGoods = append(impact.FinishedGoods, root.UID)
	}
	for _, v := range visits {
		record, ok := records[v.id]
		if !ok {
			continue
		}
		impact.Affected = append(impact.Affected, domain.AffectedUnit{
			UID:               record.UID,
			EntityType:        record.EntityType,
			Status:            record.Status,
			AssemblyLevel:     record.AssemblyLevel,
			Depth:             v.depth,
			Location:          record.Location,
			CurrentDeployment: currentByUID[record.ID],
		})
		if record.EntityType == uid.EntityTypeFinishedGood || !v.hasChild {
			impact.FinishedGoods = append(impact.FinishedGoods, record.UID)
		}
	}

	s.metrics.RecordTraversal(ctx, "recall", len(visits))
	logger.WithContext(ctx, s.log).Info("recall impact computed",
		zap.String("uid", root.UID),
		zap.Int("affected", len(impact.Affected)),
		zap.Int("finished_goods", len(impact.FinishedGoods)),
	)
	return impact, nil
}

func (s *Service) RecallReport(ctx context.Context, value, reason string) ([]byte, error) {
	identity, _ := orgcontext.IdentityFromContext(ctx)
	if !identity.HasPermission(orgcontext.PermissionRecallExport) {
		if err := s.authz.Authorize(ctx, identity, authorization.ObjectRecall, authorization.ActionRecallExport); err != nil {
			return nil, err
		}
	}

	impact, err := s.RecallImpact(ctx, value)
	if err != nil {
		return nil, err
	}

	report := pdf.RecallReportData{
		RootUID:            impact.UID,
		RootEntityType:     string(impact.EntityType),
		RootStatus:         string(impact.Status),
		Reason:             strings.TrimSpace(reason),
		GeneratedAt:        impact.GeneratedAt.Format(time.RFC3339),
		GeneratedBy:        identity.Actor(),
		AffectedCount:      len(impact.Affected),
		FinishedGoodsCount: len(impact.FinishedGoods),
		Rows:               make([]pdf.RecallRow, 0, len(impact.Affected)),
	}
	for _, unit := range impact.Affected {
		location := unit.Location
		if unit.CurrentDeployment != nil {
			location = unit.CurrentDeployment.LocationName
		}
		report.Rows = append(report.Rows, pdf.RecallRow{
			UID:        unit.UID,
			EntityType: string(unit.EntityType),
			Status:     string(unit.Status),
			Depth:      unit.Depth,
			Location:   location,
		})
	}
	return s.pdf.GenerateRecallReport(ctx, report)
}

func (s *Service) root(ctx context.Context, value string) (snowflake.ID, *assemblydomain.Record, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, nil, domain.ErrInvalidOrganization
	}
	value = strings.TrimSpace(value)
	if !uid.Validate(value) {
		return 0, nil, domain.ErrInvalidUID
	}
	record, err := s.units.FindByUID(ctx, s.db, orgID, value)
	if err != nil {
		return 0, nil, err
	}
	if record == nil {
		return 0, nil, domain.ErrUIDNotFound
	}
	return orgID, record, nil
}

// descend walks child edges breadth first. Each unit is reported once, at
// the depth it was first reached, so stored cycles cannot loop.
func (s *Service) descend(ctx context.Context, orgID snowflake.ID, root *assemblydomain.Record) ([]visit, error) {
	budget := s.config.Get().Traversal.MaxNodes
	visited := map[snowflake.ID]struct{}{root.ID: {}}
	frontier := []snowflake.ID{root.ID}
	var visits []visit
	parentIndex := map[snowflake.ID]int{}

	for depth := 1; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		edges, err := s.units.ChildEdges(ctx, s.db, orgID, frontier)
		if err != nil {
			return nil, err
		}
		children := make(map[snowflake.ID][]snowflake.ID, len(frontier))
		for _, edge := range edges {
			children[edge.ParentID] = append(children[edge.ParentID], edge.ChildID)
		}

		var next []snowflake.ID
		for _, parent := range frontier {
			if len(children[parent]) > 0 {
				if idx, ok := parentIndex[parent]; ok {
					visits[idx].hasChild = true
				}
			}
			for _, child := range children[parent] {
				if _, seen := visited[child]; seen {
					continue
				}
				visited[child] = struct{}{}
				if budget > 0 && len(visits) >= budget {
					return nil, domain.ErrTraversalLimit
				}
				parentIndex[child] = len(visits)
				visits = append(visits, visit{id: child, depth: depth})
				next = append(next, child)
			}
		}
		frontier = next
	}
	return visits, nil
}

// rawAncestors walks parent edges up to the units nothing was consumed to
// make, in breadth-first order by input position.
func (s *Service) rawAncestors(ctx context.Context, orgID snowflake.ID, root *assemblydomain.Record) ([]*assemblydomain.Record, int, error) {
	budget := s.config.Get().Traversal.MaxNodes
	visited := map[snowflake.ID]struct{}{root.ID: {}}
	frontier := []snowflake.ID{root.ID}
	var rawIDs []snowflake.ID

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		edges, err := s.units.ParentEdges(ctx, s.db, orgID, frontier)
		if err != nil {
			return nil, 0, err
		}
		parents := make(map[snowflake.ID][]snowflake.ID, len(frontier))
		for _, edge := range edges {
			parents[edge.ChildID] = append(parents[edge.ChildID], edge.ParentID)
		}

		var next []snowflake.ID
		for _, id := range frontier {
			inputs := parents[id]
			if len(inputs) == 0 {
				rawIDs = append(rawIDs, id)
				continue
			}
			for _, parent := range inputs {
				if _, seen := visited[parent]; seen {
					continue
				}
				visited[parent] = struct{}{}
				if budget > 0 && len(visited) > budget {
					return nil, 0, domain.ErrTraversalLimit
				}
				next = append(next, parent)
			}
		}
		frontier = next
	}

	records, err := s.recordsByID(ctx, orgID, rawIDs)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*assemblydomain.Record, 0, len(rawIDs))
	for _, id := range rawIDs {
		if record, ok := records[id]; ok {
			out = append(out, record)
		}
	}
	return out, len(visited), nil
}

func (s *Service) recordsByID(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]*assemblydomain.Record, error) {
	records, err := s.units.FindByIDs(ctx, s.db, orgID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]*assemblydomain.Record, len(records))
	for _, record := range records {
		out[record.ID] = record
	}
	return out, nil
}

func visitIDs(visits []visit) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(visits))
	for _, v := range visits {
		ids = append(ids, v.id)
	}
	return ids
}

// Catalog enrichment is best effort. A failed lookup drops the field and
// is logged; it never fails the traversal.

func (s *Service) item(ctx context.Context, tenant, id string) *catalog.Item {
	item, err := s.catalog.Item(ctx, tenant, id)
	if err != nil {
		s.lookupFailed(ctx, "item", id, err)
		return nil
	}
	return item
}

func (s *Service) vendor(ctx context.Context, tenant, id string) *catalog.Vendor {
	vendor, err := s.catalog.Vendor(ctx, tenant, id)
	if err != nil {
		s.lookupFailed(ctx, "vendor", id, err)
		return nil
	}
	return vendor
}

func (s *Service) purchaseOrder(ctx context.Context, tenant, id string) *catalog.PurchaseOrder {
	po, err := s.catalog.PurchaseOrder(ctx, tenant, id)
	if err != nil {
		s.lookupFailed(ctx, "purchase_order", id, err)
		return nil
	}
	return po
}

func (s *Service) grn(ctx context.Context, tenant, id string) *catalog.GRN {
	grn, err := s.catalog.GRN(ctx, tenant, id)
	if err != nil {
		s.lookupFailed(ctx, "grn", id, err)
		return nil
	}
	return grn
}

func (s *Service) lookupFailed(ctx context.Context, kind, id string, err error) {
	logger.WithContext(ctx, s.log).Warn("catalog lookup failed",
		zap.String("kind", kind),
		zap.String("ref", id),
		zap.Error(err),
	)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
