// Package catalog resolves item master and purchasing references held by
// the plant's ERP. Results are display data only and never shape the graph.
package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

type Vendor struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
}

type PurchaseOrder struct {
	ID        string           `json:"id"`
	Number    string           `json:"number"`
	VendorID  string           `json:"vendor_id"`
	OrderedAt *time.Time       `json:"ordered_at,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type GRN struct {
	ID              string           `json:"id"`
	Number          string           `json:"number"`
	PurchaseOrderID string           `json:"purchase_order_id"`
	ReceivedAt      *time.Time       `json:"received_at,omitempty"`
	Quantity        *decimal.Decimal `json:"quantity,omitempty"`
}

// Lookup returns nil, nil when the reference is unknown to the catalog.
type Lookup interface {
	Item(ctx context.Context, orgID, id string) (*Item, error)
	Vendor(ctx context.Context, orgID, id string) (*Vendor, error)
	PurchaseOrder(ctx context.Context, orgID, id string) (*PurchaseOrder, error)
	GRN(ctx context.Context, orgID, id string) (*GRN, error)
}

// Noop is used when no catalog is configured.
type Noop struct{}

func (Noop) Item(context.Context, string, string) (*Item, error)     { return nil, nil }
func (Noop) Vendor(context.Context, string, string) (*Vendor, error) { return nil, nil }
func (Noop) PurchaseOrder(context.Context, string, string) (*PurchaseOrder, error) {
	return nil, nil
}
func (Noop) GRN(context.Context, string, string) (*GRN, error) { return nil, nil }
