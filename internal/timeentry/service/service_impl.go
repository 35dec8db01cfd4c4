package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	"github.com/hourbill/hourbill/internal/events"
	"github.com/hourbill/hourbill/internal/observability/metrics"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	"github.com/hourbill/hourbill/internal/timeentry/domain"
	"github.com/hourbill/hourbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Directory   directorydomain.Service
	Resources   resourcedomain.Store
	Broadcaster *events.Broadcaster
	Metrics     *metrics.Metrics
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	directory   directorydomain.Service
	resources   resourcedomain.Store
	broadcaster *events.Broadcaster
	metrics     *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("timeentry.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		directory:   p.Directory,
		resources:   p.Resources,
		broadcaster: p.Broadcaster,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateEntryRequest) (domain.TimeEntry, error) {
	if strings.TrimSpace(req.Title) == "" {
		return domain.TimeEntry{}, domain.ErrMissingTitle
	}
	if req.Date.IsZero() {
		return domain.TimeEntry{}, domain.ErrInvalidDate
	}

	hours := domain.RoundDuration(req.Hours)
	if !domain.ValidDuration(hours) {
		return domain.TimeEntry{}, domain.ErrInvalidDuration
	}

	exists, err := s.directory.ClientExists(ctx, req.ClientID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if !exists {
		return domain.TimeEntry{}, directorydomain.ErrClientNotFound
	}
	if req.ProjectID != nil {
		ok, err := s.directory.ProjectBelongsTo(ctx, *req.ProjectID, req.ClientID)
		if err != nil {
			return domain.TimeEntry{}, err
		}
		if !ok {
			return domain.TimeEntry{}, directorydomain.ErrProjectMismatch
		}
	}

	now := s.clock.Now()
	entry := domain.TimeEntry{
		ID:           s.genID.Generate(),
		ClientID:     req.ClientID,
		ProjectID:    req.ProjectID,
		Date:         req.Date,
		StartTime:    req.StartTime,
		Hours:        hours,
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		InternalNote: strings.TrimSpace(req.InternalNote),
		Billable:     req.Billable,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return domain.TimeEntry{}, err
	}

	s.metrics.RecordTimeEntry(ctx, "create")
	if err := s.resolveRate(ctx, &entry); err != nil {
		s.log.Warn("resolve effective rate", zap.Error(err))
	}
	s.broadcaster.EntryCreated(ctx, entry)
	return entry, nil
}

// Update patches an open entry. The row stays locked for the duration of the
// transaction and the final write only applies while the row is still
// unbilled; an entry claimed by an aggregation in between reads as locked.
func (s *Service) Update(ctx context.Context, id snowflake.ID, patch domain.UpdateEntryRequest) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = loadForUpdate(tx, id)
		if err != nil {
			return err
		}
		if entry.Locked() {
			return domain.ErrLocked
		}

		if patch.ProjectID != nil {
			if *patch.ProjectID != 0 {
				ok, err := s.directory.ProjectBelongsTo(ctx, *patch.ProjectID, entry.ClientID)
				if err != nil {
					return err
				}
				if !ok {
					return directorydomain.ErrProjectMismatch
				}
				entry.ProjectID = patch.ProjectID
			} else {
				entry.ProjectID = nil
			}
		}
		if patch.Date != nil {
			if patch.Date.IsZero() {
				return domain.ErrInvalidDate
			}
			entry.Date = *patch.Date
		}
		if patch.StartTime != nil {
			entry.StartTime = patch.StartTime
		}
		if patch.Hours != nil {
			hours := domain.RoundDuration(*patch.Hours)
			if !domain.ValidDuration(hours) {
				return domain.ErrInvalidDuration
			}
			entry.Hours = hours
		}
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return domain.ErrMissingTitle
			}
			entry.Title = title
		}
		if patch.Description != nil {
			entry.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.InternalNote != nil {
			entry.InternalNote = strings.TrimSpace(*patch.InternalNote)
		}
		if patch.Billable != nil {
			entry.Billable = *patch.Billable
		}

		entry.UpdatedAt = s.clock.Now()
		res := tx.Model(&domain.TimeEntry{}).
			Where("id = ? AND invoiced = ?", id, false).
			Updates(map[string]any{
				"project_id":    entry.ProjectID,
				"date":          entry.Date,
				"start_time":    entry.StartTime,
				"hours":         entry.Hours,
				"title":         entry.Title,
				"description":   entry.Description,
				"internal_note": entry.InternalNote,
				"billable":      entry.Billable,
				"updated_at":    entry.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return domain.ErrLocked
		}
		return nil
	})
	if err != nil {
		return domain.TimeEntry{}, err
	}

	s.metrics.RecordTimeEntry(ctx, "update")
	if err := s.resolveRate(ctx, &entry); err != nil {
		s.log.Warn("resolve effective rate", zap.Error(err))
	}
	s.broadcaster.EntryUpdated(ctx, entry)
	return entry, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	var entry domain.TimeEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = loadForUpdate(tx, id)
		if err != nil {
			return err
		}
		if entry.Locked() {
			return domain.ErrLocked
		}

		if err := tx.Where("entry_id = ?", id).Delete(&resourcedomain.EntryResource{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND invoiced = ?", id, false).Delete(&domain.TimeEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return domain.ErrLocked
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordTimeEntry(ctx, "delete")
	s.broadcaster.EntryDeleted(ctx, entry)
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.TimeEntry, error) {
	entry, err := s.load(ctx, id)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if err := s.resolveRate(ctx, &entry); err != nil {
		s.log.Warn("resolve effective rate", zap.Error(err))
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req domain.ListEntriesRequest) ([]domain.TimeEntry, error) {
	query := s.db.WithContext(ctx).Model(&domain.TimeEntry{})
	if req.ClientID != nil {
		query = query.Where("client_id = ?", *req.ClientID)
	}
	if req.ProjectID != nil {
		query = query.Where("project_id = ?", *req.ProjectID)
	}
	if req.Invoiced != nil {
		query = query.Where("invoiced = ?", *req.Invoiced)
	}
	if req.From != nil {
		query = query.Where("date >= ?", *req.From)
	}
	if req.To != nil {
		query = query.Where("date <= ?", *req.To)
	}

	var entries []domain.TimeEntry
	if err := query.Order("date DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	for i := range entries {
		if err := s.resolveRate(ctx, &entries[i]); err != nil {
			s.log.Warn("resolve effective rate", zap.Error(err))
		}
	}
	return entries, nil
}

func (s *Service) AddResource(ctx context.Context, id snowflake.ID, req resourcedomain.AttachRequest) (resourcedomain.EntryResource, error) {
	entry, err := s.load(ctx, id)
	if err != nil {
		return resourcedomain.EntryResource{}, err
	}
	if entry.Locked() {
		return resourcedomain.EntryResource{}, domain.ErrLocked
	}

	res, err := s.resources.Attach(ctx, id, req)
	if err != nil {
		return resourcedomain.EntryResource{}, err
	}
	s.broadcaster.EntryUpdated(ctx, entry)
	return res, nil
}

func (s *Service) RemoveResource(ctx context.Context, id, resourceID snowflake.ID) error {
	entry, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if entry.Locked() {
		return domain.ErrLocked
	}

	if err := s.resources.Detach(ctx, id, resourceID); err != nil {
		return err
	}
	s.broadcaster.EntryUpdated(ctx, entry)
	return nil
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TimeEntry{}, domain.ErrNotFound
		}
		return domain.TimeEntry{}, err
	}
	return entry, nil
}

// loadForUpdate reads an entry under a row lock inside the caller's
// transaction, so the locked check stays valid until commit.
func loadForUpdate(tx *gorm.DB, id snowflake.ID) (domain.TimeEntry, error) {
	var entry domain.TimeEntry
	err := db.ForUpdate(tx).First(&entry, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TimeEntry{}, domain.ErrNotFound
		}
		return domain.TimeEntry{}, err
	}
	return entry, nil
}

// resolveRate fills the transient effective rate. Locked entries keep the
// rate frozen at aggregation time.
func (s *Service) resolveRate(ctx context.Context, entry *domain.TimeEntry) error {
	if entry.BilledRate != nil {
		entry.EffectiveRate = *entry.BilledRate
		return nil
	}
	rate, err := s.directory.EffectiveRate(ctx, entry.ClientID, entry.ProjectID)
	if err != nil {
		return err
	}
	entry.EffectiveRate = rate
	return nil
}
