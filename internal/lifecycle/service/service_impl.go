package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/lifecycle/domain"
	"github.com/smallbiznis/genealogy/internal/orgcontext"
	"github.com/smallbiznis/genealogy/internal/uid"
	"github.com/smallbiznis/genealogy/pkg/db"
	"github.com/smallbiznis/genealogy/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config *config.GenealogyConfigHolder `optional:"true"`
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	config *config.GenealogyConfigHolder
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("lifecycle.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		config: p.Config,
		repo:   p.Repo,
	}
}

func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (*domain.Event, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	value := strings.TrimSpace(req.UID)
	if !uid.Validate(value) {
		return nil, domain.ErrInvalidUID
	}

	stage := domain.Stage(strings.ToUpper(strings.TrimSpace(req.Stage)))
	if !stage.Valid() {
		return nil, domain.ErrInvalidStage
	}
	if stage.IsSystem() {
		return nil, domain.ErrReservedStage
	}

	metadata, err := domain.NormalizeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		if identity, ok := orgcontext.IdentityFromContext(ctx); ok {
			actor = identity.Actor()
		}
	}

	var appended *domain.Event
	err = db.WithRetry(ctx, s.config.Get().Mutation.RetryPolicy(), db.IsDuplicateKeyErr, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ref, err := s.repo.LockUnit(ctx, tx, orgID, value)
			if err != nil {
				return err
			}
			if ref == nil {
				return domain.ErrUIDNotFound
			}

			event := &domain.Event{
				ID:         s.genID.Generate(),
				OrgID:      orgID,
				UIDID:      ref.ID,
				UID:        ref.UID,
				Stage:      stage,
				OccurredAt: s.clock.Now(),
				Location:   strings.TrimSpace(req.Location),
				Reference:  strings.TrimSpace(req.Reference),
				Actor:      actor,
				Metadata:   metadata,
			}
			if err := s.repo.Append(ctx, tx, event); err != nil {
				return err
			}
			appended = event
			return nil
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			s.log.Warn("lifecycle append contention", zap.String("uid", value), zap.Error(err))
			return nil, errors.Join(domain.ErrAppendContention, err)
		}
		return nil, err
	}
	return appended, nil
}

func (s *Service) History(ctx context.Context, value string) ([]domain.Event, error) {
	orgID, ref, err := s.resolve(ctx, value)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{OrgID: orgID, UIDID: ref.ID})
	if err != nil {
		return nil, err
	}
	return flatten(items, ref.UID), nil
}

func (s *Service) ListHistory(ctx context.Context, req domain.ListHistoryRequest) (domain.ListHistoryResponse, error) {
	orgID, ref, err := s.resolve(ctx, req.UID)
	if err != nil {
		return domain.ListHistoryResponse{}, err
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListHistoryResponse{}, err
	}
	var afterSeq int64
	if cursor != nil {
		afterSeq = cursor.Seq
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		OrgID:    orgID,
		UIDID:    ref.ID,
		AfterSeq: afterSeq,
		Limit:    limit,
	})
	if err != nil {
		return domain.ListHistoryResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Event) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{Seq: item.Seq})
		return token
	})
	return domain.ListHistoryResponse{
		PageInfo: pageInfo,
		Events:   flatten(items, ref.UID),
	}, nil
}

func (s *Service) resolve(ctx context.Context, value string) (snowflake.ID, *domain.UnitRef, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, nil, domain.ErrInvalidOrganization
	}
	value = strings.TrimSpace(value)
	if !uid.Validate(value) {
		return 0, nil, domain.ErrInvalidUID
	}
	ref, err := s.repo.FindUnit(ctx, s.db, orgID, value)
	if err != nil {
		return 0, nil, err
	}
	if ref == nil {
		return 0, nil, domain.ErrUIDNotFound
	}
	return orgID, ref, nil
}

func flatten(items []*domain.Event, value string) []domain.Event {
	events := make([]domain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		item.UID = value
		events = append(events, *item)
	}
	return events
}
