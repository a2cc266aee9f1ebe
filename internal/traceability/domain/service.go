package domain

import (
	"context"

	"github.com/smallbiznis/genealogy/pkg/apperror"
)

type BuildTreeRequest struct {
	UID           string
	RequirePrices bool
}

type Service interface {
	FindDescendants(ctx context.Context, uid string) (*Descendants, error)
	TraceToSupplier(ctx context.Context, uid string) ([]SupplierTrace, error)
	BuildTree(ctx context.Context, req BuildTreeRequest) (*TreeNode, error)
	RecallImpact(ctx context.Context, uid string) (*RecallImpact, error)
	RecallReport(ctx context.Context, uid, reason string) ([]byte, error)
}

var (
	ErrInvalidOrganization = apperror.Validation("invalid_organization")
	ErrInvalidUID          = apperror.Validation("invalid_uid")
	ErrUIDNotFound         = apperror.NotFound("uid_not_found")
	ErrTraversalLimit      = apperror.Conflict("traversal_limit_exceeded")
	ErrPriceNotPermitted   = apperror.Permission("price_view_not_permitted")
)
