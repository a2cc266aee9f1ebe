package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	assemblydomain "github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/deployment/domain"
	"github.com/smallbiznis/genealogy/internal/deployment/token"
	"github.com/smallbiznis/genealogy/internal/observability/logger"
	"github.com/smallbiznis/genealogy/internal/observability/metrics"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"github.com/smallbiznis/genealogy/internal/uid"
	"github.com/smallbiznis/genealogy/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	createdByPublicToken = "public_token"
	createdBySystem      = "system"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  *config.GenealogyConfigHolder `optional:"true"`
	Metrics *metrics.Metrics              `optional:"true"`
	Repo    domain.Repository
	Units   assemblydomain.Repository
	Catalog catalog.Lookup `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	config  *config.GenealogyConfigHolder
	metrics *metrics.Metrics
	repo    domain.Repository
	units   assemblydomain.Repository
	catalog catalog.Lookup
}

func New(p Params) domain.Service {
	lookup := p.Catalog
	if lookup == nil {
		lookup = catalog.Noop{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("deployment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		config:  p.Config,
		metrics: p.Metrics,
		repo:    p.Repo,
		units:   p.Units,
		catalog: lookup,
	}
}

func (s *Service) CreateDeployment(ctx context.Context, req domain.CreateRequest) (*domain.Issued, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	value, err := validUID(req.UID)
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(req.DeploymentLevel)
	if err != nil {
		return nil, err
	}
	organization := strings.TrimSpace(req.OrganizationName)
	if organization == "" {
		return nil, domain.ErrInvalidOrganizationName
	}
	location := strings.TrimSpace(req.LocationName)
	if location == "" {
		return nil, domain.ErrInvalidLocation
	}
	var parentID *snowflake.ID
	if raw := strings.TrimSpace(req.ParentDeploymentID); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil || parsed == 0 {
			return nil, domain.ErrInvalidDeploymentID
		}
		parentID = &parsed
	}

	var issued *domain.Issued
	err = s.transact(ctx, "create", func(ctx context.Context, tx *gorm.DB) error {
		unit, err := s.lockUnit(ctx, tx, orgID, value)
		if err != nil {
			return err
		}

		current, err := s.repo.Current(ctx, tx, orgID, unit.ID)
		if err != nil {
			return err
		}
		parent := parentID
		if parent != nil {
			found, err := s.repo.FindByID(ctx, tx, orgID, *parent)
			if err != nil {
				return err
			}
			if found == nil || found.UIDID != unit.ID {
				return domain.ErrParentDeploymentNotFound
			}
		} else if current != nil {
			parent = &current.ID
		}

		now := s.clock.Now()
		date := now
		if req.DeploymentDate != nil && !req.DeploymentDate.IsZero() {
			date = *req.DeploymentDate
		}
		if _, err := s.repo.DemoteCurrent(ctx, tx, orgID, unit.ID, now); err != nil {
			return err
		}

		raw, hash, err := token.Generate()
		if err != nil {
			return err
		}
		record := &domain.Record{
			ID:                 s.genID.Generate(),
			OrgID:              orgID,
			UIDID:              unit.ID,
			UID:                unit.UID,
			DeploymentLevel:    level,
			OrganizationName:   organization,
			LocationName:       location,
			DeploymentDate:     date.UTC(),
			ParentDeploymentID: parent,
			IsCurrentLocation:  true,
			TokenHash:          hash,
			TokenIssuedAt:      now,
			CreatedBy:          actorOf(identity),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}
		issued = &domain.Issued{Deployment: record, PublicToken: raw}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDeployment(ctx, string(level))
	logger.WithContext(ctx, s.log).Info("deployment created",
		zap.String("uid", value),
		zap.String("deployment_id", issued.Deployment.ID.String()),
		zap.String("level", string(level)),
	)
	return issued, nil
}

func (s *Service) SetCurrentLocation(ctx context.Context, req domain.SetCurrentRequest) (*domain.Issued, error) {
	orgID, _, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	value, err := validUID(req.UID)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(req.DeploymentID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidDeploymentID
	}

	var issued *domain.Issued
	err = s.transact(ctx, "set_current", func(ctx context.Context, tx *gorm.DB) error {
		unit, err := s.lockUnit(ctx, tx, orgID, value)
		if err != nil {
			return err
		}
		existing, err := s.repo.ListByUID(ctx, tx, orgID, unit.ID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return domain.ErrNoDeployments
		}
		target, err := s.repo.LockByID(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if target == nil || target.UIDID != unit.ID {
			return domain.ErrDeploymentNotFound
		}

		now := s.clock.Now()
		if _, err := s.repo.DemoteCurrent(ctx, tx, orgID, unit.ID, now); err != nil {
			return err
		}
		raw, hash, err := token.Generate()
		if err != nil {
			return err
		}
		promoted, err := s.repo.Promote(ctx, tx, orgID, target.ID, hash, now)
		if err != nil {
			return err
		}
		if !promoted {
			return domain.ErrDeploymentNotFound
		}

		target.IsCurrentLocation = true
		target.TokenHash = hash
		target.TokenIssuedAt = now
		target.TokenSupersededAt = nil
		target.UpdatedAt = now
		issued = &domain.Issued{Deployment: target, PublicToken: raw}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("current location changed",
		zap.String("uid", value),
		zap.String("deployment_id", id.String()),
	)
	return issued, nil
}

func (s *Service) GetCurrentLocation(ctx context.Context, value string) (*domain.Record, error) {
	orgID, _, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	unit, err := s.findUnit(ctx, orgID, value)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.Current(ctx, s.db, orgID, unit.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrDeploymentNotFound
	}
	return current, nil
}

func (s *Service) GetChain(ctx context.Context, value string) ([]*domain.ChainNode, error) {
	orgID, _, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	unit, err := s.findUnit(ctx, orgID, value)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListByUID(ctx, s.db, orgID, unit.ID)
	if err != nil {
		return nil, err
	}
	return buildChain(records), nil
}

func (s *Service) GetByToken(ctx context.Context, raw string) (*domain.PublicView, error) {
	record, err := s.resolveToken(ctx, s.db, raw)
	if err != nil {
		return nil, err
	}

	view := &domain.PublicView{
		Deployment: domain.PublicDeploymentOf(record),
		Unit:       domain.PublicUnit{UID: record.UID},
		IsCurrent:  record.IsCurrentLocation,
		Stale:      !record.IsCurrentLocation,
	}
	if view.Stale {
		until := s.readableUntil(record)
		view.ReadableAt = &until
	}

	units, err := s.units.FindByIDs(ctx, s.db, record.OrgID, []snowflake.ID{record.UIDID})
	if err != nil {
		return nil, err
	}
	if len(units) == 1 {
		view.Unit.EntityType = string(units[0].EntityType)
		item, err := s.catalog.Item(ctx, record.OrgID.String(), units[0].EntityID)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("catalog lookup failed",
				zap.String("kind", "item"),
				zap.String("ref", units[0].EntityID),
				zap.Error(err),
			)
		} else if item != nil {
			view.Unit.ItemCode = item.Code
			view.Unit.ItemName = item.Name
		}
	}
	return view, nil
}

func (s *Service) UpdateViaToken(ctx context.Context, req domain.PublicUpdateRequest) (*domain.PublicUpdateResult, error) {
	location := strings.TrimSpace(req.LocationName)
	if location == "" {
		return nil, domain.ErrInvalidLocation
	}
	var email *string
	if raw := strings.TrimSpace(req.VerificationEmail); raw != "" {
		addr, err := mail.ParseAddress(raw)
		if err != nil || addr.Address != raw {
			return nil, domain.ErrInvalidEmail
		}
		normalized := strings.ToLower(addr.Address)
		email = &normalized
	}
	var level domain.Level
	if strings.TrimSpace(req.DeploymentLevel) != "" {
		parsed, err := parseLevel(req.DeploymentLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var result *domain.PublicUpdateResult
	err := s.transact(ctx, "public_update", func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.resolveToken(ctx, tx, req.Token)
		if err != nil {
			return err
		}
		if !found.IsCurrentLocation {
			return domain.ErrTokenSuperseded
		}
		if _, err := s.lockUnit(ctx, tx, found.OrgID, found.UID); err != nil {
			return err
		}
		// The row may have been superseded while the unit lock was pending.
		record, err := s.repo.LockByID(ctx, tx, found.OrgID, found.ID)
		if err != nil {
			return err
		}
		if record == nil || record.TokenHash != found.TokenHash {
			return domain.ErrTokenInvalid
		}
		if !record.IsCurrentLocation {
			return domain.ErrTokenSuperseded
		}

		now := s.clock.Now()
		if _, err := s.repo.DemoteCurrent(ctx, tx, record.OrgID, record.UIDID, now); err != nil {
			return err
		}
		raw, hash, err := token.Generate()
		if err != nil {
			return err
		}
		child := &domain.Record{
			ID:                 s.genID.Generate(),
			OrgID:              record.OrgID,
			UIDID:              record.UIDID,
			UID:                record.UID,
			DeploymentLevel:    firstLevel(level, record.DeploymentLevel),
			OrganizationName:   firstNonEmpty(req.OrganizationName, record.OrganizationName),
			LocationName:       location,
			DeploymentDate:     now.UTC(),
			ParentDeploymentID: &record.ID,
			IsCurrentLocation:  true,
			TokenHash:          hash,
			TokenIssuedAt:      now,
			VerificationEmail:  email,
			CreatedBy:          createdByPublicToken,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, child); err != nil {
			return err
		}
		result = &domain.PublicUpdateResult{
			Deployment:   domain.PublicDeploymentOf(child),
			PublicToken:  raw,
			OrgID:        child.OrgID,
			UID:          child.UID,
			DeploymentID: child.ID,
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordPublicTokenRejected(ctx, rejectReason(err))
		return nil, err
	}

	s.metrics.RecordPublicTokenUpdate(ctx)
	logger.WithContext(ctx, s.log).Info("deployment updated via public token",
		zap.String("level", string(result.Deployment.DeploymentLevel)),
	)
	return result, nil
}

// resolveToken finds the deployment a raw token was issued for and applies
// the read window of superseded tokens and the optional TTL of current ones.
func (s *Service) resolveToken(ctx context.Context, conn *gorm.DB, raw string) (*domain.Record, error) {
	if !token.WellFormed(raw) {
		return nil, domain.ErrTokenInvalid
	}
	record, err := s.repo.FindByTokenHash(ctx, conn, token.Hash(raw))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrTokenInvalid
	}

	now := s.clock.Now()
	policy := s.config.Get().PublicToken
	if record.IsCurrentLocation {
		if policy.TTL > 0 && now.After(record.TokenIssuedAt.Add(policy.TTL)) {
			return nil, domain.ErrTokenExpired
		}
		return record, nil
	}
	if now.After(s.readableUntil(record)) {
		return nil, domain.ErrTokenExpired
	}
	return record, nil
}

func (s *Service) readableUntil(record *domain.Record) time.Time {
	superseded := record.UpdatedAt
	if record.TokenSupersededAt != nil {
		superseded = *record.TokenSupersededAt
	}
	return superseded.Add(s.config.Get().PublicToken.StaleReadWindow)
}

// transact retries a transaction that lost the race for the current
// location index. Other errors return immediately.
func (s *Service) transact(ctx context.Context, operation string, fn func(ctx context.Context, tx *gorm.DB) error) error {
	attempt := 0
	err := db.WithRetry(ctx, s.config.Get().Mutation.RetryPolicy(), db.IsDuplicateKeyErr, func(ctx context.Context) error {
		attempt++
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, tx)
		})
	})
	if err != nil && (db.IsDuplicateKeyErr(err) || db.IsRetryableTxErr(err)) {
		s.log.Warn("deployment retries exhausted",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return errors.Join(domain.ErrConcurrentUpdate, err)
	}
	return err
}

func (s *Service) lockUnit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, value string) (*assemblydomain.Record, error) {
	locked, err := s.units.LockByUIDs(ctx, tx, orgID, []string{value})
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, domain.ErrUIDNotFound
	}
	return locked[0], nil
}

func (s *Service) findUnit(ctx context.Context, orgID snowflake.ID, raw string) (*assemblydomain.Record, error) {
	value, err := validUID(raw)
	if err != nil {
		return nil, err
	}
	unit, err := s.units.FindByUID(ctx, s.db, orgID, value)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, domain.ErrUIDNotFound
	}
	return unit, nil
}

func (s *Service) identity(ctx context.Context) (snowflake.ID, orgcontext.Identity, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, orgcontext.Identity{}, domain.ErrInvalidOrganization
	}
	identity, _ := orgcontext.IdentityFromContext(ctx)
	return orgID, identity, nil
}

// buildChain arranges records into trees by parent deployment. Records whose
// parent is unknown, or whose ancestry loops, become roots.
func buildChain(records []*domain.Record) []*domain.ChainNode {
	byID := make(map[snowflake.ID]*domain.Record, len(records))
	nodes := make(map[snowflake.ID]*domain.ChainNode, len(records))
	for _, record := range records {
		byID[record.ID] = record
		nodes[record.ID] = &domain.ChainNode{Record: *record, Children: []*domain.ChainNode{}}
	}

	roots := []*domain.ChainNode{}
	for _, record := range records {
		node := nodes[record.ID]
		if record.ParentDeploymentID == nil || loops(byID, record) {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*record.ParentDeploymentID]
		if !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// loops reports whether following parents from record returns to it.
func loops(byID map[snowflake.ID]*domain.Record, record *domain.Record) bool {
	seen := map[snowflake.ID]struct{}{}
	for cur := record; cur.ParentDeploymentID != nil; {
		next, ok := byID[*cur.ParentDeploymentID]
		if !ok {
			return false
		}
		if next.ID == record.ID {
			return true
		}
		if _, dup := seen[next.ID]; dup {
			// a loop above record; the first member reached is the root
			return false
		}
		seen[next.ID] = struct{}{}
		cur = next
	}
	return false
}

func validUID(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if !uid.Validate(value) {
		return "", domain.ErrInvalidUID
	}
	return value, nil
}

func parseLevel(raw string) (domain.Level, error) {
	level := domain.Level(strings.ToUpper(strings.TrimSpace(raw)))
	if !level.Valid() {
		return "", domain.ErrInvalidLevel
	}
	return level, nil
}

func actorOf(identity orgcontext.Identity) string {
	if actor := identity.Actor(); actor != "" {
		return actor
	}
	return createdBySystem
}

func firstLevel(values ...domain.Level) domain.Level {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrTokenSuperseded):
		return "superseded"
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	default:
		return "error"
	}
}
