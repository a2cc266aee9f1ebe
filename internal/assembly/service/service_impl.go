package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/assembly/domain"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	lifecycledomain "github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	"github.com/smallbiznis/genealogy/internal/observability/logger"
	"github.com/smallbiznis/genealogy/internal/observability/metrics"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/uid"
	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/smallbiznis/genealogy/pkg/db"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	AppConfig config.Config
	Config    *config.GenealogyConfigHolder `optional:"true"`
	Metrics   *metrics.Metrics              `optional:"true"`
	Repo      domain.Repository
	Lifecycle lifecycledomain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	codes     config.UIDConfig
	config    *config.GenealogyConfigHolder
	metrics   *metrics.Metrics
	repo      domain.Repository
	lifecycle lifecycledomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("assembly.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		codes:     p.AppConfig.UID,
		config:    p.Config,
		metrics:   p.Metrics,
		repo:      p.Repo,
		lifecycle: p.Lifecycle,
	}
}

func (s *Service) CreateUID(ctx context.Context, req domain.CreateUIDRequest) (*domain.Unit, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	entityType, err := uid.ParseEntityType(req.EntityType)
	if err != nil {
		return nil, domain.ErrInvalidEntityType
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, domain.ErrInvalidEntityID
	}
	tenantCode, err := s.tenantCode(identity, "")
	if err != nil {
		return nil, err
	}
	plantCode, err := s.plantCode(req.PlantCode, "")
	if err != nil {
		return nil, err
	}
	location := strings.TrimSpace(req.Location)
	provenance := normalizeProvenance(req.Provenance)

	var unit *domain.Unit
	err = s.mutate(ctx, "create_uid", func(ctx context.Context, tx *gorm.DB) error {
		record, err := s.newRecord(ctx, tx, orgID, tenantCode, plantCode, entityType, entityID, location, 0)
		if err != nil {
			return err
		}
		if provenance != nil {
			record.SupplierID = optional(provenance.SupplierID)
			record.PurchaseOrderID = optional(provenance.PurchaseOrderID)
			record.GRNID = optional(provenance.GRNID)
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}

		metadata := map[string]any{
			"entity_type": string(entityType),
			"entity_id":   entityID,
		}
		if provenance != nil {
			metadata["supplier_id"] = provenance.SupplierID
			metadata["purchase_order_id"] = provenance.PurchaseOrderID
			metadata["grn_id"] = provenance.GRNID
		}
		if err := s.appendEvent(ctx, tx, record, lifecycledomain.StageCreated, location, entityID, identity.Actor(), metadata); err != nil {
			return err
		}

		unit = newUnit(record)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUIDCreated(ctx, orgID.String(), string(entityType))
	logger.WithContext(ctx, s.log).Info("uid created",
		zap.String("uid", unit.UID),
		zap.String("entity_type", string(entityType)),
	)
	return unit, nil
}

func (s *Service) Assemble(ctx context.Context, req domain.AssembleRequest) (*domain.Unit, error) {
	unit, err := s.assemble(ctx, req)
	s.metrics.RecordAssembly(ctx, "assemble", outcome(err))
	return unit, err
}

func (s *Service) assemble(ctx context.Context, req domain.AssembleRequest) (*domain.Unit, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	parentUIDs, err := normalizeParents(req.ParentUIDs)
	if err != nil {
		return nil, err
	}
	entityType, err := uid.ParseEntityType(req.OutputEntityType)
	if err != nil {
		return nil, domain.ErrInvalidEntityType
	}
	entityID := strings.TrimSpace(req.OutputEntityID)
	if entityID == "" {
		return nil, domain.ErrInvalidEntityID
	}
	workstation := strings.TrimSpace(req.Workstation)
	location := strings.TrimSpace(req.Location)
	actor := firstNonEmpty(req.AssembledBy, identity.Actor())

	var unit *domain.Unit
	err = s.mutate(ctx, "assemble", func(ctx context.Context, tx *gorm.DB) error {
		locked, err := s.repo.LockByUIDs(ctx, tx, orgID, parentUIDs)
		if err != nil {
			return err
		}
		parents, err := inRequestOrder(locked, parentUIDs)
		if err != nil {
			return err
		}

		level := 0
		for _, parent := range parents {
			if parent.Status == domain.StatusConsumed {
				return fmt.Errorf("%w: %s", domain.ErrAlreadyConsumed, parent.UID)
			}
			level = max(level, parent.AssemblyLevel+1)
		}

		first, _ := uid.Parse(parents[0].UID)
		tenantCode, err := s.tenantCode(identity, first.TenantCode)
		if err != nil {
			return err
		}
		plantCode, err := s.plantCode(req.PlantCode, parents[0].PlantCode)
		if err != nil {
			return err
		}

		child, err := s.newRecord(ctx, tx, orgID, tenantCode, plantCode, entityType, entityID, location, level)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, child); err != nil {
			return err
		}
		for position, parent := range parents {
			if err := s.repo.InsertEdge(ctx, tx, &domain.Edge{
				ID:        s.genID.Generate(),
				OrgID:     orgID,
				ParentID:  parent.ID,
				ChildID:   child.ID,
				Position:  position,
				CreatedAt: child.CreatedAt,
			}); err != nil {
				return err
			}
		}
		if err := s.appendEvent(ctx, tx, child, lifecycledomain.StageAssembly, location, workstation, actor, map[string]any{
			"parent_uids": parentUIDs,
			"workstation": workstation,
		}); err != nil {
			return err
		}

		for _, parent := range parents {
			if err := s.consume(ctx, tx, parent, child, actor, map[string]any{
				"consumed_by": child.UID,
				"workstation": workstation,
			}); err != nil {
				return err
			}
		}

		unit = newUnit(child)
		unit.ParentUIDs = parentUIDs
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("assembled",
		zap.String("uid", unit.UID),
		zap.Int("parents", len(parentUIDs)),
		zap.Int("assembly_level", unit.AssemblyLevel),
	)
	return unit, nil
}

func (s *Service) Link(ctx context.Context, req domain.LinkRequest) (*domain.LinkResult, error) {
	result, err := s.link(ctx, req)
	s.metrics.RecordAssembly(ctx, "link", outcome(err))
	return result, err
}

func (s *Service) link(ctx context.Context, req domain.LinkRequest) (*domain.LinkResult, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	parentUID := strings.TrimSpace(req.ParentUID)
	childUID := strings.TrimSpace(req.ChildUID)
	if !uid.Validate(parentUID) || !uid.Validate(childUID) {
		return nil, domain.ErrInvalidUID
	}
	if parentUID == childUID {
		return nil, domain.ErrSelfLink
	}
	actor := firstNonEmpty(req.LinkedBy, identity.Actor())

	result := &domain.LinkResult{}
	err = s.mutate(ctx, "link", func(ctx context.Context, tx *gorm.DB) error {
		locked, err := s.repo.LockByUIDs(ctx, tx, orgID, []string{parentUID, childUID})
		if err != nil {
			return err
		}
		pair, err := inRequestOrder(locked, []string{parentUID, childUID})
		if err != nil {
			return err
		}
		parent, child := pair[0], pair[1]

		exists, err := s.repo.EdgeExists(ctx, tx, parent.ID, child.ID)
		if err != nil {
			return err
		}
		if exists {
			result.Created = false
			result.Child, err = s.loadUnit(ctx, tx, child)
			return err
		}

		if parent.Status == domain.StatusConsumed {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyConsumed, parent.UID)
		}
		if err := s.ensureAcyclic(ctx, tx, orgID, parent, child); err != nil {
			return err
		}

		position, err := s.repo.NextPosition(ctx, tx, child.ID)
		if err != nil {
			return err
		}
		if err := s.repo.InsertEdge(ctx, tx, &domain.Edge{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			ParentID:  parent.ID,
			ChildID:   child.ID,
			Position:  position,
			CreatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}
		if err := s.consume(ctx, tx, parent, child, actor, map[string]any{
			"consumed_by": child.UID,
			"manual_link": true,
		}); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, child, lifecycledomain.StageLinked, child.Location, parent.UID, actor, map[string]any{
			"parent_uid": parent.UID,
			"position":   position,
		}); err != nil {
			return err
		}
		if err := s.propagateLevels(ctx, tx, orgID, child.ID, parent.AssemblyLevel+1); err != nil {
			return err
		}

		result.Created = true
		result.Child, err = s.loadUnit(ctx, tx, child)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.Unit, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	value, err := validUID(req.UID)
	if err != nil {
		return nil, err
	}
	status := domain.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if status == domain.StatusConsumed {
		return nil, domain.ErrConsumedViaAssembly
	}
	actor := firstNonEmpty(req.Actor, identity.Actor())
	reason := strings.TrimSpace(req.Reason)

	var unit *domain.Unit
	err = s.mutate(ctx, "update_status", func(ctx context.Context, tx *gorm.DB) error {
		record, err := s.lockOne(ctx, tx, orgID, value)
		if err != nil {
			return err
		}

		location := record.Location
		if req.Location != nil {
			location = strings.TrimSpace(*req.Location)
		}
		if record.Status == status && location == record.Location {
			return domain.ErrNoopStatusChange
		}
		if record.Status.Terminal() && !req.Override {
			return fmt.Errorf("%w: %s", domain.ErrTerminalStatus, record.Status)
		}

		from := record.Status
		expected := record.Version
		record.Status = status
		record.Location = location
		record.UpdatedAt = s.clock.Now()
		if err := s.updateState(ctx, tx, record, expected); err != nil {
			return err
		}

		metadata := map[string]any{
			"from":     string(from),
			"to":       string(status),
			"override": req.Override,
		}
		if reason != "" {
			metadata["reason"] = reason
		}
		if err := s.appendEvent(ctx, tx, record, lifecycledomain.StageStatusChange, location, reason, actor, metadata); err != nil {
			return err
		}

		unit, err = s.loadUnit(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func (s *Service) MarkDefective(ctx context.Context, req domain.MarkDefectiveRequest) (*domain.DefectNote, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	value, err := validUID(req.UID)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	severity := domain.Severity(strings.ToUpper(strings.TrimSpace(req.Severity)))
	if !severity.Valid() {
		return nil, domain.ErrInvalidSeverity
	}
	detectedBy := firstNonEmpty(req.DetectedBy, identity.Actor())

	var note *domain.DefectNote
	err = s.mutate(ctx, "mark_defective", func(ctx context.Context, tx *gorm.DB) error {
		record, err := s.lockOne(ctx, tx, orgID, value)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		expected := record.Version
		record.QualityStatus = domain.QualityFailed
		record.UpdatedAt = now
		if err := s.updateState(ctx, tx, record, expected); err != nil {
			return err
		}

		created := &domain.DefectNote{
			ID:         s.genID.Generate(),
			OrgID:      orgID,
			UIDID:      record.ID,
			Reason:     reason,
			Severity:   severity,
			DetectedBy: detectedBy,
			DetectedAt: now,
		}
		if err := s.repo.InsertDefect(ctx, tx, created); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, record, lifecycledomain.StageDefectReported, record.Location, created.ID.String(), detectedBy, map[string]any{
			"defect_id": created.ID.String(),
			"reason":    reason,
			"severity":  string(severity),
		}); err != nil {
			return err
		}
		note = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("defect reported",
		zap.String("uid", value),
		zap.String("severity", string(severity)),
	)
	return note, nil
}

func (s *Service) RecordQualityCheck(ctx context.Context, req domain.QualityCheckRequest) (*domain.Unit, error) {
	orgID, identity, err := s.identity(ctx)
	if err != nil {
		return nil, err
	}
	value, err := validUID(req.UID)
	if err != nil {
		return nil, err
	}
	result := domain.QualityStatus(strings.ToUpper(strings.TrimSpace(req.Result)))
	if result != domain.QualityPassed && result != domain.QualityFailed {
		return nil, domain.ErrInvalidQualityResult
	}
	inspector := firstNonEmpty(req.Inspector, identity.Actor())
	notes := strings.TrimSpace(req.Notes)

	var unit *domain.Unit
	err = s.mutate(ctx, "quality_check", func(ctx context.Context, tx *gorm.DB) error {
		record, err := s.lockOne(ctx, tx, orgID, value)
		if err != nil {
			return err
		}

		previous := record.QualityStatus
		expected := record.Version
		record.QualityStatus = result
		record.UpdatedAt = s.clock.Now()
		if err := s.updateState(ctx, tx, record, expected); err != nil {
			return err
		}

		metadata := map[string]any{
			"result":   string(result),
			"previous": string(previous),
		}
		if notes != "" {
			metadata["notes"] = notes
		}
		if err := s.appendEvent(ctx, tx, record, lifecycledomain.StageQualityCheck, record.Location, "", inspector, metadata); err != nil {
			return err
		}

		unit, err = s.loadUnit(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func (s *Service) Get(ctx context.Context, value string) (*domain.Unit, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	value, err := validUID(value)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindByUID(ctx, s.db, orgID, value)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrUIDNotFound
	}
	return s.loadUnit(ctx, s.db, record)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}

	filter := domain.ListFilter{OrgID: orgID, Limit: req.Limit()}
	if v := strings.TrimSpace(req.EntityType); v != "" {
		entityType, err := uid.ParseEntityType(v)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidEntityType
		}
		filter.EntityType = entityType
	}
	if v := strings.TrimSpace(req.Status); v != "" {
		filter.Status = domain.Status(strings.ToUpper(v))
		if !filter.Status.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidStatus
		}
	}
	if v := strings.TrimSpace(req.QualityStatus); v != "" {
		filter.QualityStatus = domain.QualityStatus(strings.ToUpper(v))
		if !filter.QualityStatus.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidQualityResult
		}
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}
	if cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, pagination.ErrInvalidPageToken
		}
		filter.Cursor = &domain.RecordCursor{ID: id, CreatedAt: createdAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *domain.Record) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if item != nil {
			records = append(records, *item)
		}
	}
	return domain.ListResponse{PageInfo: pageInfo, UIDs: records}, nil
}

// mutate runs fn in a transaction, replaying it when an optimistic update
// lost a race.
func (s *Service) mutate(ctx context.Context, operation string, fn func(ctx context.Context, tx *gorm.DB) error) error {
	attempt := 0
	err := db.WithRetry(ctx, s.config.Get().Mutation.RetryPolicy(), isVersionConflict, func(ctx context.Context) error {
		if attempt > 0 {
			s.metrics.RecordMutationRetry(ctx, operation)
		}
		attempt++
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, tx)
		})
	})
	if err != nil && (isVersionConflict(err) || db.IsRetryableTxErr(err)) {
		s.log.Warn("mutation retries exhausted",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return errors.Join(domain.ErrConcurrentMutation, err)
	}
	return err
}

func isVersionConflict(err error) bool {
	return errors.Is(err, domain.ErrVersionConflict)
}

func (s *Service) newRecord(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, tenantCode, plantCode string, entityType uid.EntityType, entityID, location string, level int) (*domain.Record, error) {
	now := s.clock.Now()
	sequence, err := s.repo.NextSequence(ctx, tx, orgID, plantCode, entityType, now)
	if err != nil {
		return nil, err
	}
	if sequence > uid.MaxSequence {
		return nil, domain.ErrSequenceExhausted
	}
	value, err := uid.Generate(tenantCode, plantCode, entityType, sequence)
	if err != nil {
		return nil, err
	}

	return &domain.Record{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		UID:           value,
		EntityType:    entityType,
		EntityID:      entityID,
		PlantCode:     plantCode,
		Sequence:      sequence,
		AssemblyLevel: level,
		Status:        domain.StatusActive,
		QualityStatus: domain.QualityPending,
		Location:      location,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// consume marks parent as consumed into child and logs it on the parent.
func (s *Service) consume(ctx context.Context, tx *gorm.DB, parent, child *domain.Record, actor string, metadata map[string]any) error {
	expected := parent.Version
	parent.Status = domain.StatusConsumed
	parent.UpdatedAt = s.clock.Now()
	if err := s.updateState(ctx, tx, parent, expected); err != nil {
		return err
	}
	return s.appendEvent(ctx, tx, parent, lifecycledomain.StageConsumed, parent.Location, child.UID, actor, metadata)
}

func (s *Service) updateState(ctx context.Context, tx *gorm.DB, record *domain.Record, expected int64) error {
	ok, err := s.repo.UpdateState(ctx, tx, record, expected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrVersionConflict, record.UID)
	}
	return nil
}

// ensureAcyclic refuses parent -> child when parent is already reachable
// from child.
func (s *Service) ensureAcyclic(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, parent, child *domain.Record) error {
	maxDepth := s.config.Get().Traversal.MaxDepth
	visited := map[snowflake.ID]struct{}{child.ID: {}}
	frontier := []snowflake.ID{child.ID}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return domain.ErrGraphTooDeep
		}
		edges, err := s.repo.ChildEdges(ctx, tx, orgID, frontier)
		if err != nil {
			return err
		}
		next := make([]snowflake.ID, 0, len(edges))
		for _, edge := range edges {
			if edge.ChildID == parent.ID {
				return fmt.Errorf("%w: %s is downstream of %s", domain.ErrCycleDetected, parent.UID, child.UID)
			}
			if _, seen := visited[edge.ChildID]; seen {
				continue
			}
			visited[edge.ChildID] = struct{}{}
			next = append(next, edge.ChildID)
		}
		frontier = next
	}
	return nil
}

// propagateLevels raises the level of start to at least minLevel and pushes
// the increase through its descendants. Levels only grow when an edge is
// added, so each node settles at 1 + max(parent levels).
func (s *Service) propagateLevels(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, start snowflake.ID, minLevel int) error {
	type pending struct {
		id       snowflake.ID
		minLevel int
	}
	budget := s.config.Get().Traversal.MaxNodes
	queue := []pending{{id: start, minLevel: minLevel}}

	for processed := 0; len(queue) > 0; processed++ {
		if budget > 0 && processed >= budget {
			return domain.ErrGraphTooDeep
		}
		item := queue[0]
		queue = queue[1:]

		locked, err := s.repo.LockByIDs(ctx, tx, orgID, []snowflake.ID{item.id})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			continue
		}
		record := locked[0]
		if record.AssemblyLevel >= item.minLevel {
			continue
		}

		expected := record.Version
		record.AssemblyLevel = item.minLevel
		record.UpdatedAt = s.clock.Now()
		if err := s.updateState(ctx, tx, record, expected); err != nil {
			return err
		}

		edges, err := s.repo.ChildEdges(ctx, tx, orgID, []snowflake.ID{record.ID})
		if err != nil {
			return err
		}
		for _, edge := range edges {
			queue = append(queue, pending{id: edge.ChildID, minLevel: record.AssemblyLevel + 1})
		}
	}
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, record *domain.Record, stage lifecycledomain.Stage, location, reference, actor string, metadata map[string]any) error {
	normalized, err := lifecycledomain.NormalizeMetadata(metadata)
	if err != nil {
		return err
	}
	return s.lifecycle.Append(ctx, tx, &lifecycledomain.Event{
		ID:         s.genID.Generate(),
		OrgID:      record.OrgID,
		UIDID:      record.ID,
		UID:        record.UID,
		Stage:      stage,
		OccurredAt: s.clock.Now(),
		Location:   location,
		Reference:  reference,
		Actor:      actor,
		Metadata:   normalized,
	})
}

func (s *Service) lockOne(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, value string) (*domain.Record, error) {
	locked, err := s.repo.LockByUIDs(ctx, tx, orgID, []string{value})
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUIDNotFound, value)
	}
	return locked[0], nil
}

// loadUnit must be given the active transaction when called inside one.
func (s *Service) loadUnit(ctx context.Context, conn *gorm.DB, record *domain.Record) (*domain.Unit, error) {
	fresh, err := s.repo.FindByUID(ctx, conn, record.OrgID, record.UID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, domain.ErrUIDNotFound
	}
	unit := newUnit(fresh)

	if unit.ParentUIDs, err = s.repo.ParentUIDs(ctx, conn, fresh.ID); err != nil {
		return nil, err
	}
	if unit.ChildUIDs, err = s.repo.ChildUIDs(ctx, conn, fresh.ID); err != nil {
		return nil, err
	}
	if unit.DefectNotes, err = s.repo.ListDefects(ctx, conn, fresh.ID); err != nil {
		return nil, err
	}
	if unit.ParentUIDs == nil {
		unit.ParentUIDs = []string{}
	}
	if unit.ChildUIDs == nil {
		unit.ChildUIDs = []string{}
	}
	if unit.DefectNotes == nil {
		unit.DefectNotes = []domain.DefectNote{}
	}
	return unit, nil
}

func (s *Service) identity(ctx context.Context) (snowflake.ID, orgcontext.Identity, error) {
	identity, ok := orgcontext.IdentityFromContext(ctx)
	if !ok || identity.TenantID == 0 {
		return 0, orgcontext.Identity{}, domain.ErrInvalidOrganization
	}
	return identity.TenantID, identity, nil
}

func (s *Service) tenantCode(identity orgcontext.Identity, fallback string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(firstNonEmpty(identity.TenantCode, s.codes.DefaultTenantCode, fallback)))
	if !uid.ValidTenantCode(code) {
		return "", domain.ErrInvalidTenantCode
	}
	return code, nil
}

func (s *Service) plantCode(requested, fallback string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(firstNonEmpty(requested, fallback, s.codes.DefaultPlantCode)))
	if !uid.ValidPlantCode(code) {
		return "", domain.ErrInvalidPlantCode
	}
	return code, nil
}

func newUnit(record *domain.Record) *domain.Unit {
	return &domain.Unit{
		Record:      *record,
		ParentUIDs:  []string{},
		ChildUIDs:   []string{},
		DefectNotes: []domain.DefectNote{},
	}
}

func normalizeParents(values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, domain.ErrMissingParents
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if !uid.Validate(value) {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidUID, value)
		}
		if _, dup := seen[value]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateParent, value)
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out, nil
}

// inRequestOrder maps locked rows back onto the requested order and fails
// with not found when any value is missing.
func inRequestOrder(records []*domain.Record, values []string) ([]*domain.Record, error) {
	byUID := make(map[string]*domain.Record, len(records))
	for _, record := range records {
		byUID[record.UID] = record
	}
	ordered := make([]*domain.Record, 0, len(values))
	var missing []string
	for _, value := range values {
		record, ok := byUID[value]
		if !ok {
			missing = append(missing, value)
			continue
		}
		ordered = append(ordered, record)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUIDNotFound, strings.Join(missing, ", "))
	}
	return ordered, nil
}

func validUID(value string) (string, error) {
	value = strings.TrimSpace(value)
	if !uid.Validate(value) {
		return "", domain.ErrInvalidUID
	}
	return value, nil
}

func normalizeProvenance(p *domain.Provenance) *domain.Provenance {
	if p == nil {
		return nil
	}
	out := &domain.Provenance{
		SupplierID:      strings.TrimSpace(p.SupplierID),
		PurchaseOrderID: strings.TrimSpace(p.PurchaseOrderID),
		GRNID:           strings.TrimSpace(p.GRNID),
	}
	if out.SupplierID == "" && out.PurchaseOrderID == "" && out.GRNID == "" {
		return nil
	}
	return out
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

func outcome(err error) string {
	switch apperror.KindOf(err) {
	case apperror.KindUnknown:
		if err == nil {
			return "ok"
		}
		return "error"
	case apperror.KindConflict:
		return "conflict"
	case apperror.KindConcurrency:
		return "concurrency"
	default:
		return "rejected"
	}
}
