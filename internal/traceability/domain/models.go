package domain

import (
	"time"

	"github.com/shopspring/decimal"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	deploymentdomain "github.com/smallbiznis/genealogy/internal/deployment/domain"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"github.com/smallbiznis/genealogy/internal/uid"
)

// Descendants lists every unit reachable through consumption, in
// breadth-first discovery order.
type Descendants struct {
	UID  string   `json:"uid"`
	UIDs []string `json:"descendants"`
}

type SupplierTrace struct {
	UID             string          `json:"uid"`
	EntityID        string          `json:"entity_id"`
	SupplierID      string          `json:"supplier_id,omitempty"`
	PurchaseOrderID string          `json:"purchase_order_id,omitempty"`
	GRNID           string          `json:"grn_id,omitempty"`
	Supplier        *catalog.Vendor `json:"supplier,omitempty"`
	PurchaseOrder   *PurchaseOrder  `json:"purchase_order,omitempty"`
}

// PurchaseOrder is the price free view of a catalog purchase order.
type PurchaseOrder struct {
	ID        string     `json:"id"`
	Number    string     `json:"number"`
	OrderedAt *time.Time `json:"ordered_at,omitempty"`
}

type PurchaseDetails struct {
	PurchaseOrderID     string           `json:"purchase_order_id,omitempty"`
	PurchaseOrderNumber string           `json:"purchase_order_number,omitempty"`
	GRNID               string           `json:"grn_id,omitempty"`
	GRNNumber           string           `json:"grn_number,omitempty"`
	ReceivedAt          *time.Time       `json:"received_at,omitempty"`
	Quantity            *decimal.Decimal `json:"quantity,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	// Price is only set for viewers allowed to see purchase prices.
	Price *decimal.Decimal `json:"price,omitempty"`
}

// TreeNode is one unit in a bill-of-materials tree. Children are the
// units consumed to build it.
type TreeNode struct {
	UID             string                       `json:"uid"`
	Level           int                          `json:"level"`
	EntityType      uid.EntityType               `json:"entity_type"`
	Status          assemblydomain.Status        `json:"status"`
	QualityStatus   assemblydomain.QualityStatus `json:"quality_status"`
	Item            *catalog.Item                `json:"item,omitempty"`
	Supplier        *catalog.Vendor              `json:"supplier,omitempty"`
	PurchaseDetails *PurchaseDetails             `json:"purchase_details,omitempty"`
	Children        []*TreeNode                  `json:"children"`
	// Cycle marks a node already present on the path from the root. Its
	// children are not expanded.
	Cycle bool `json:"cycle,omitempty"`
}

type AffectedUnit struct {
	UID               string                   `json:"uid"`
	EntityType        uid.EntityType           `json:"entity_type"`
	Status            assemblydomain.Status    `json:"status"`
	AssemblyLevel     int                      `json:"assembly_level"`
	Depth             int                      `json:"depth"`
	Location          string                   `json:"location"`
	CurrentDeployment *deploymentdomain.Record `json:"current_deployment,omitempty"`
}

// RecallImpact describes everything built from a faulty unit.
type RecallImpact struct {
	UID        string                `json:"uid"`
	EntityType uid.EntityType        `json:"entity_type"`
	Status     assemblydomain.Status `json:"status"`
	Affected   []AffectedUnit        `json:"affected"`
	// FinishedGoods lists affected finished goods plus any affected unit
	// that has not been consumed further.
	FinishedGoods []string  `json:"finished_goods"`
	GeneratedAt   time.Time `json:"generated_at"`
}
