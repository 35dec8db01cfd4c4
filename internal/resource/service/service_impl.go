package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) resourcedomain.Store {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("resource.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Attach(ctx context.Context, entryID snowflake.ID, req resourcedomain.AttachRequest) (resourcedomain.EntryResource, error) {
	ref := strings.TrimSpace(req.Ref)
	if ref == "" {
		return resourcedomain.EntryResource{}, resourcedomain.ErrInvalidRef
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = "link"
	}

	resource := resourcedomain.EntryResource{
		ID:        s.genID.Generate(),
		EntryID:   entryID,
		Kind:      kind,
		Ref:       ref,
		Label:     strings.TrimSpace(req.Label),
		CreatedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&resource).Error; err != nil {
		return resourcedomain.EntryResource{}, err
	}
	return resource, nil
}

func (s *Service) Detach(ctx context.Context, entryID, resourceID snowflake.ID) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND entry_id = ?", resourceID, entryID).
		Delete(&resourcedomain.EntryResource{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return resourcedomain.ErrNotFound
	}
	return nil
}

func (s *Service) ListForEntry(ctx context.Context, entryID snowflake.ID) ([]resourcedomain.EntryResource, error) {
	var resources []resourcedomain.EntryResource
	err := s.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("created_at asc").
		Find(&resources).Error
	return resources, err
}
