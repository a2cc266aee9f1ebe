package domain

import (
	"context"

	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
)

type CreateUIDRequest struct {
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	PlantCode  string      `json:"plant_code"`
	Location   string      `json:"location"`
	Provenance *Provenance `json:"provenance"`
}

type AssembleRequest struct {
	ParentUIDs       []string `json:"parent_uids"`
	OutputEntityType string   `json:"output_entity_type"`
	OutputEntityID   string   `json:"output_entity_id"`
	PlantCode        string   `json:"plant_code"`
	Location         string   `json:"location"`
	Workstation      string   `json:"workstation"`
	AssembledBy      string   `json:"assembled_by"`
}

type LinkRequest struct {
	ParentUID string `json:"parent_uid"`
	ChildUID  string `json:"-"`
	LinkedBy  string `json:"linked_by"`
}

type LinkResult struct {
	Created bool  `json:"created"`
	Child   *Unit `json:"child"`
}

type UpdateStatusRequest struct {
	UID      string  `json:"-"`
	Status   string  `json:"status"`
	Location *string `json:"location"`
	Override bool    `json:"override"`
	Reason   string  `json:"reason"`
	Actor    string  `json:"actor"`
}

type MarkDefectiveRequest struct {
	UID        string `json:"-"`
	Reason     string `json:"reason"`
	DetectedBy string `json:"detected_by"`
	Severity   string `json:"severity"`
}

type QualityCheckRequest struct {
	UID       string `json:"-"`
	Result    string `json:"result"`
	Inspector string `json:"inspector"`
	Notes     string `json:"notes"`
}

type ListRequest struct {
	pagination.Pagination
	EntityType    string `form:"entity_type"`
	Status        string `form:"status"`
	QualityStatus string `form:"quality_status"`
}

type ListResponse struct {
	pagination.PageInfo
	UIDs []Record `json:"uids"`
}

type Service interface {
	CreateUID(ctx context.Context, req CreateUIDRequest) (*Unit, error)
	Assemble(ctx context.Context, req AssembleRequest) (*Unit, error)
	Link(ctx context.Context, req LinkRequest) (*LinkResult, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Unit, error)
	MarkDefective(ctx context.Context, req MarkDefectiveRequest) (*DefectNote, error)
	RecordQualityCheck(ctx context.Context, req QualityCheckRequest) (*Unit, error)
	Get(ctx context.Context, value string) (*Unit, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidOrganization  = apperror.Validation("invalid_organization")
	ErrInvalidUID           = apperror.Validation("invalid_uid")
	ErrInvalidEntityType    = apperror.Validation("invalid_entity_type")
	ErrInvalidEntityID      = apperror.Validation("invalid_entity_id")
	ErrInvalidTenantCode    = apperror.Validation("invalid_tenant_code")
	ErrInvalidPlantCode     = apperror.Validation("invalid_plant_code")
	ErrInvalidStatus        = apperror.Validation("invalid_status")
	ErrInvalidQualityResult = apperror.Validation("invalid_quality_result")
	ErrInvalidSeverity      = apperror.Validation("invalid_severity")
	ErrInvalidReason        = apperror.Validation("invalid_reason")
	ErrMissingParents       = apperror.Validation("missing_parent_uids")
	ErrDuplicateParent      = apperror.Validation("duplicate_parent_uid")
	ErrSelfLink             = apperror.Validation("self_link")
	ErrNoopStatusChange     = apperror.Validation("noop_status_change")
	ErrConsumedViaAssembly  = apperror.Validation("consumed_status_requires_assembly")

	ErrUIDNotFound = apperror.NotFound("uid_not_found")

	ErrAlreadyConsumed    = apperror.Conflict("uid_already_consumed")
	ErrTerminalStatus     = apperror.Conflict("terminal_status_requires_override")
	ErrCycleDetected      = apperror.Conflict("link_would_create_cycle")
	ErrGraphTooDeep       = apperror.Conflict("graph_depth_limit_exceeded")
	ErrSequenceExhausted  = apperror.Conflict("uid_sequence_exhausted")
	ErrConcurrentMutation = apperror.Concurrency("concurrent_mutation")
)

// ErrVersionConflict marks a lost optimistic update. It is retried and
// surfaces as ErrConcurrentMutation once attempts run out.
var ErrVersionConflict = apperror.Concurrency("version_conflict")
