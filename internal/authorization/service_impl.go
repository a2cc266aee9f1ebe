package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/genealogy/internal/audit/domain"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, identity orgcontext.Identity, object, action string) error {
	subject, domain, err := subjectOf(identity)
	if err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, identity, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) CanViewPrice(ctx context.Context, identity orgcontext.Identity) (bool, error) {
	if identity.HasPermission(orgcontext.PermissionPriceView) {
		return true, nil
	}
	subject, domain, err := subjectOf(identity)
	if err != nil {
		// anonymous callers never see prices
		return false, nil
	}
	return s.enforcer.Enforce(subject, domain, ObjectPrice, ActionPriceView)
}

// AssignRole replaces any role identity holds in its tenant.
func (s *ServiceImpl) AssignRole(ctx context.Context, identity orgcontext.Identity, role string) error {
	subject, domain, err := subjectOf(identity)
	if err != nil {
		return err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleOperator, RoleQuality, RolePurchasing, RoleAdmin:
	default:
		return ErrInvalidRole
	}
	roleName := "role:" + role

	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := s.enforcer.AddGroupingPolicy(subject, roleName, domain); err != nil {
		return err
	}
	s.log.Info("role assigned",
		zap.String("subject", subject),
		zap.String("domain", domain),
		zap.String("role", roleName),
	)
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, identity orgcontext.Identity, object, action string) {
	if s.auditSvc == nil {
		return
	}
	orgID := identity.TenantID
	actorID := identity.Actor()
	targetID := "capability"
	if err := s.auditSvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeUser), &actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	}); err != nil {
		s.log.Warn("failed to audit denied authorization", zap.Error(err))
	}
}

func subjectOf(identity orgcontext.Identity) (string, string, error) {
	if identity.TenantID == 0 {
		return "", "", ErrInvalidOrganization
	}
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return "", "", ErrInvalidActor
	}
	return "user:" + userID, fmt.Sprintf("org:%s", identity.TenantID.String()), nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:purchasing", ObjectPrice, ActionPriceView},
		{"role:quality", ObjectRecall, ActionRecallExport},

		{"role:admin", ObjectPrice, ActionPriceView},
		{"role:admin", ObjectRecall, ActionRecallExport},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
