package authorization

import (
	"context"

	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/pkg/apperror"
)

const (
	ObjectPrice    = "price"
	ObjectAuditLog = "audit_log"
	ObjectRecall   = "recall"

	ActionPriceView    = "price.view"
	ActionAuditLogView = "audit_log.view"
	ActionRecallExport = "recall.export"
)

const (
	RoleOperator   = "operator"
	RoleQuality    = "quality"
	RolePurchasing = "purchasing"
	RoleAdmin      = "admin"
)

// Service answers capability questions for a tenant member.
type Service interface {
	Authorize(ctx context.Context, identity orgcontext.Identity, object, action string) error
	// CanViewPrice reports whether purchase prices may be shown to identity.
	CanViewPrice(ctx context.Context, identity orgcontext.Identity) (bool, error)
	AssignRole(ctx context.Context, identity orgcontext.Identity, role string) error
}

var (
	ErrInvalidActor        = apperror.Validation("invalid_actor")
	ErrInvalidOrganization = apperror.Validation("invalid_organization")
	ErrInvalidObject       = apperror.Validation("invalid_object")
	ErrInvalidAction       = apperror.Validation("invalid_action")
	ErrInvalidRole         = apperror.Validation("invalid_role")
	ErrForbidden           = apperror.Permission("forbidden")
)
