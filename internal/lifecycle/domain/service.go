package domain

import (
	"context"

	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
)

type AppendRequest struct {
	UID       string         `json:"-"`
	Stage     string         `json:"stage"`
	Location  string         `json:"location"`
	Reference string         `json:"reference"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata"`
}

type ListHistoryRequest struct {
	pagination.Pagination
	UID string
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

type Service interface {
	Append(ctx context.Context, req AppendRequest) (*Event, error)
	History(ctx context.Context, uid string) ([]Event, error)
	ListHistory(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)
}

var (
	ErrInvalidOrganization = apperror.Validation("invalid_organization")
	ErrInvalidUID          = apperror.Validation("invalid_uid")
	ErrInvalidStage        = apperror.Validation("invalid_stage")
	ErrReservedStage       = apperror.Validation("reserved_stage")
	ErrInvalidMetadata     = apperror.Validation("invalid_metadata")
	ErrUIDNotFound         = apperror.NotFound("uid_not_found")
	ErrAppendContention    = apperror.Concurrency("lifecycle_append_contention")
)
