package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Stage string

const (
	StageCreated        Stage = "CREATED"
	StageAssembly       Stage = "ASSEMBLY"
	StageConsumed       Stage = "CONSUMED"
	StageLinked         Stage = "LINKED"
	StageStatusChange   Stage = "STATUS_CHANGE"
	StageQualityCheck   Stage = "QUALITY_CHECK"
	StageDefectReported Stage = "DEFECT_REPORTED"
)

// System stages are written only alongside the state change they describe.
var systemStages = map[Stage]struct{}{
	StageCreated:        {},
	StageAssembly:       {},
	StageConsumed:       {},
	StageLinked:         {},
	StageStatusChange:   {},
	StageQualityCheck:   {},
	StageDefectReported: {},
}

var stagePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)

const maxStageLength = 64

func (s Stage) Valid() bool {
	return len(s) <= maxStageLength && stagePattern.MatchString(string(s))
}

func (s Stage) IsSystem() bool {
	_, ok := systemStages[s]
	return ok
}

// Event is one immutable entry of a unit's timeline.
type Event struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID      `json:"-" gorm:"column:org_id"`
	UIDID      snowflake.ID      `json:"-" gorm:"column:uid_id"`
	UID        string            `json:"uid" gorm:"-"`
	Seq        int64             `json:"seq"`
	Stage      Stage             `json:"stage"`
	OccurredAt time.Time         `json:"timestamp" gorm:"column:occurred_at"`
	Location   string            `json:"location,omitempty"`
	Reference  string            `json:"reference,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
}

func (Event) TableName() string { return "uid_lifecycle_events" }

// UnitRef is the slice of a UID record the log needs to address it.
type UnitRef struct {
	ID    snowflake.ID `gorm:"column:id"`
	OrgID snowflake.ID `gorm:"column:org_id"`
	UID   string       `gorm:"column:uid"`
}
