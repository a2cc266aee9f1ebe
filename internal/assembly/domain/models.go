package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/uid"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusConsumed   Status = "CONSUMED"
	StatusInTransit  Status = "IN_TRANSIT"
	StatusDispatched Status = "DISPATCHED"
	StatusDefective  Status = "DEFECTIVE"
	StatusReturned   Status = "RETURNED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusConsumed, StatusInTransit, StatusDispatched, StatusDefective, StatusReturned:
		return true
	}
	return false
}

// Terminal statuses can only be left with an explicit override.
func (s Status) Terminal() bool {
	return s == StatusConsumed || s == StatusReturned
}

type QualityStatus string

const (
	QualityPending QualityStatus = "PENDING"
	QualityPassed  QualityStatus = "PASSED"
	QualityFailed  QualityStatus = "FAILED"
)

func (q QualityStatus) Valid() bool {
	return q == QualityPending || q == QualityPassed || q == QualityFailed
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Record is one physical unit.
type Record struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"column:org_id"`
	UID             string         `json:"uid" gorm:"column:uid"`
	EntityType      uid.EntityType `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	PlantCode       string         `json:"plant_code"`
	Sequence        int64          `json:"sequence"`
	AssemblyLevel   int            `json:"assembly_level"`
	Status          Status         `json:"status"`
	QualityStatus   QualityStatus  `json:"quality_status"`
	SupplierID      *string        `json:"supplier_id,omitempty"`
	PurchaseOrderID *string        `json:"purchase_order_id,omitempty"`
	GRNID           *string        `json:"grn_id,omitempty" gorm:"column:grn_id"`
	Location        string         `json:"location"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Record) TableName() string { return "uid_records" }

// Edge records that Parent was consumed to produce Child.
type Edge struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"column:org_id"`
	ParentID  snowflake.ID `gorm:"column:parent_id"`
	ChildID   snowflake.ID `gorm:"column:child_id"`
	Position  int
	CreatedAt time.Time
}

func (Edge) TableName() string { return "uid_edges" }

type DefectNote struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"-" gorm:"column:org_id"`
	UIDID      snowflake.ID `json:"-" gorm:"column:uid_id"`
	Reason     string       `json:"reason"`
	Severity   Severity     `json:"severity"`
	DetectedBy string       `json:"detected_by"`
	DetectedAt time.Time    `json:"detected_at"`
}

func (DefectNote) TableName() string { return "uid_defect_notes" }

// Provenance identifies where a raw material came from.
type Provenance struct {
	SupplierID      string `json:"supplier_id"`
	PurchaseOrderID string `json:"purchase_order_id"`
	GRNID           string `json:"grn_id"`
}

// Unit is a record with its graph neighbourhood and defect history.
type Unit struct {
	Record
	ParentUIDs  []string     `json:"parent_uids"`
	ChildUIDs   []string     `json:"child_uids"`
	DefectNotes []DefectNote `json:"defect_notes"`
}
