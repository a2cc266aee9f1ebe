package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/genealogy/pkg/apperror"
)

type CreateRequest struct {
	UID                string     `json:"-"`
	DeploymentLevel    string     `json:"deployment_level"`
	OrganizationName   string     `json:"organization_name"`
	LocationName       string     `json:"location_name"`
	DeploymentDate     *time.Time `json:"deployment_date"`
	ParentDeploymentID string     `json:"parent_deployment_id"`
}

type SetCurrentRequest struct {
	UID          string
	DeploymentID string
}

type PublicUpdateRequest struct {
	Token             string `json:"-"`
	LocationName      string `json:"location_name"`
	OrganizationName  string `json:"organization_name"`
	DeploymentLevel   string `json:"deployment_level"`
	VerificationEmail string `json:"verification_email"`
}

type Service interface {
	CreateDeployment(ctx context.Context, req CreateRequest) (*Issued, error)
	SetCurrentLocation(ctx context.Context, req SetCurrentRequest) (*Issued, error)
	GetCurrentLocation(ctx context.Context, uid string) (*Record, error)
	GetChain(ctx context.Context, uid string) ([]*ChainNode, error)

	GetByToken(ctx context.Context, token string) (*PublicView, error)
	UpdateViaToken(ctx context.Context, req PublicUpdateRequest) (*PublicUpdateResult, error)
}

var (
	ErrInvalidOrganization     = apperror.Validation("invalid_organization")
	ErrInvalidUID              = apperror.Validation("invalid_uid")
	ErrInvalidLevel            = apperror.Validation("invalid_deployment_level")
	ErrInvalidOrganizationName = apperror.Validation("invalid_organization_name")
	ErrInvalidLocation         = apperror.Validation("invalid_location_name")
	ErrInvalidDeploymentID     = apperror.Validation("invalid_deployment_id")
	ErrInvalidEmail            = apperror.Validation("invalid_verification_email")

	ErrUIDNotFound              = apperror.NotFound("uid_not_found")
	ErrDeploymentNotFound       = apperror.NotFound("deployment_not_found")
	ErrParentDeploymentNotFound = apperror.NotFound("parent_deployment_not_found")

	ErrNoDeployments = apperror.Conflict("uid_has_no_deployments")

	ErrConcurrentUpdate = apperror.Concurrency("concurrent_deployment_update")

	ErrTokenInvalid    = apperror.Token("invalid_public_token")
	ErrTokenSuperseded = apperror.TokenStale("public_token_superseded")
	ErrTokenExpired    = apperror.TokenStale("public_token_expired")
)
