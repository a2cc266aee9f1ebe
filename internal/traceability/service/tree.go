package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/traceability/domain"
)

type treeBuilder struct {
	svc        *Service
	orgID      snowflake.ID
	tenant     string
	showPrices bool
	budget     int
	count      int
	onPath     map[snowflake.ID]bool
}

func (b *treeBuilder) build(ctx context.Context, record *assemblydomain.Record) (*domain.TreeNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.count++
	if b.budget > 0 && b.count > b.budget {
		return nil, domain.ErrTraversalLimit
	}

	node := &domain.TreeNode{
		UID:           record.UID,
		Level:         record.AssemblyLevel,
		EntityType:    record.EntityType,
		Status:        record.Status,
		QualityStatus: record.QualityStatus,
		Item:          b.svc.item(ctx, b.tenant, record.EntityID),
		Children:      []*domain.TreeNode{},
	}
	if b.onPath[record.ID] {
		node.Cycle = true
		return node, nil
	}

	edges, err := b.svc.units.ParentEdges(ctx, b.svc.db, b.orgID, []snowflake.ID{record.ID})
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 || record.SupplierID != nil || record.PurchaseOrderID != nil {
		b.enrichPurchase(ctx, node, record)
	}
	if len(edges) == 0 {
		return node, nil
	}

	ids := make([]snowflake.ID, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.ParentID)
	}
	inputs, err := b.svc.recordsByID(ctx, b.orgID, ids)
	if err != nil {
		return nil, err
	}

	b.onPath[record.ID] = true
	defer delete(b.onPath, record.ID)
	for _, id := range ids {
		input, ok := inputs[id]
		if !ok {
			continue
		}
		child, err := b.build(ctx, input)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// enrichPurchase fills supplier and purchase data. The price is only
// copied when the viewer may see it, which holds for every depth because
// every node passes through here.
func (b *treeBuilder) enrichPurchase(ctx context.Context, node *domain.TreeNode, record *assemblydomain.Record) {
	node.Supplier = b.svc.vendor(ctx, b.tenant, deref(record.SupplierID))

	poID, grnID := deref(record.PurchaseOrderID), deref(record.GRNID)
	if poID == "" && grnID == "" {
		return
	}
	details := &domain.PurchaseDetails{PurchaseOrderID: poID, GRNID: grnID}
	if po := b.svc.purchaseOrder(ctx, b.tenant, poID); po != nil {
		details.PurchaseOrderNumber = po.Number
		details.Currency = po.Currency
		if b.showPrices && po.UnitPrice != nil {
			price := *po.UnitPrice
			details.Price = &price
		}
	}
	if grn := b.svc.grn(ctx, b.tenant, grnID); grn != nil {
		details.GRNNumber = grn.Number
		details.ReceivedAt = grn.ReceivedAt
		details.Quantity = grn.Quantity
	}
	node.PurchaseDetails = details
}
