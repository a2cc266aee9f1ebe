package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Level string

const (
	LevelCustomer      Level = "CUSTOMER"
	LevelDepot         Level = "DEPOT"
	LevelEndLocation   Level = "END_LOCATION"
	LevelServiceCenter Level = "SERVICE_CENTER"
	LevelReturned      Level = "RETURNED"
)

func (l Level) Valid() bool {
	switch l {
	case LevelCustomer, LevelDepot, LevelEndLocation, LevelServiceCenter, LevelReturned:
		return true
	}
	return false
}

// Record is one physical placement of a dispatched unit. At most one record
// per unit is current.
type Record struct {
	ID                 snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID              snowflake.ID  `json:"-" gorm:"column:org_id"`
	UIDID              snowflake.ID  `json:"-" gorm:"column:uid_id"`
	UID                string        `json:"uid" gorm:"column:uid"`
	DeploymentLevel    Level         `json:"deployment_level"`
	OrganizationName   string        `json:"organization_name"`
	LocationName       string        `json:"location_name"`
	DeploymentDate     time.Time     `json:"deployment_date"`
	ParentDeploymentID *snowflake.ID `json:"parent_deployment_id,omitempty"`
	IsCurrentLocation  bool          `json:"is_current_location"`
	TokenHash          string        `json:"-"`
	TokenIssuedAt      time.Time     `json:"-"`
	TokenSupersededAt  *time.Time    `json:"-"`
	VerificationEmail  *string       `json:"-"`
	CreatedBy          string        `json:"created_by"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (Record) TableName() string { return "uid_deployments" }

// ChainNode is a deployment with the deployments made from it.
type ChainNode struct {
	Record
	Children []*ChainNode `json:"children"`
}

// Issued carries a deployment together with its raw public token. The raw
// token is only ever returned here.
type Issued struct {
	Deployment  *Record `json:"deployment"`
	PublicToken string  `json:"public_token"`
}

type PublicDeployment struct {
	DeploymentLevel  Level     `json:"deployment_level"`
	OrganizationName string    `json:"organization_name"`
	LocationName     string    `json:"location_name"`
	DeploymentDate   time.Time `json:"deployment_date"`
}

type PublicUnit struct {
	UID        string `json:"uid"`
	EntityType string `json:"entity_type"`
	ItemCode   string `json:"item_code,omitempty"`
	ItemName   string `json:"item_name,omitempty"`
}

// PublicView is what a token holder may see. It never carries tenant ids.
type PublicView struct {
	Deployment PublicDeployment `json:"deployment"`
	Unit       PublicUnit       `json:"unit"`
	IsCurrent  bool             `json:"is_current"`
	Stale      bool             `json:"stale"`
	ReadableAt *time.Time       `json:"readable_until,omitempty"`
}

type PublicUpdateResult struct {
	Deployment  PublicDeployment `json:"deployment"`
	PublicToken string           `json:"public_token"`

	// Owner of the new record, kept off the wire for audit trails.
	OrgID        snowflake.ID `json:"-"`
	UID          string       `json:"-"`
	DeploymentID snowflake.ID `json:"-"`
}

func PublicDeploymentOf(record *Record) PublicDeployment {
	return PublicDeployment{
		DeploymentLevel:  record.DeploymentLevel,
		OrganizationName: record.OrganizationName,
		LocationName:     record.LocationName,
		DeploymentDate:   record.DeploymentDate,
	}
}
