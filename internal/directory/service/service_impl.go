package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
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

func NewService(p ServiceParam) directorydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("directory.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateClient(ctx context.Context, req directorydomain.CreateClientRequest) (directorydomain.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return directorydomain.Client{}, directorydomain.ErrInvalidName
	}
	email := strings.TrimSpace(req.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return directorydomain.Client{}, directorydomain.ErrInvalidEmail
		}
	}
	if req.HourlyRate < 0 {
		return directorydomain.Client{}, directorydomain.ErrInvalidRate
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "EUR"
	}

	now := s.clock.Now()
	client := directorydomain.Client{
		ID:         s.genID.Generate(),
		Name:       name,
		Email:      email,
		HourlyRate: req.HourlyRate,
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&client).Error; err != nil {
		return directorydomain.Client{}, err
	}
	return client, nil
}

func (s *Service) ListClients(ctx context.Context) ([]directorydomain.Client, error) {
	var clients []directorydomain.Client
	err := s.db.WithContext(ctx).Order("name asc").Find(&clients).Error
	return clients, err
}

func (s *Service) GetClient(ctx context.Context, id snowflake.ID) (directorydomain.Client, error) {
	var client directorydomain.Client
	err := s.db.WithContext(ctx).First(&client, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return directorydomain.Client{}, directorydomain.ErrClientNotFound
		}
		return directorydomain.Client{}, err
	}
	return client, nil
}

func (s *Service) CreateProject(ctx context.Context, req directorydomain.CreateProjectRequest) (directorydomain.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return directorydomain.Project{}, directorydomain.ErrInvalidName
	}
	if req.HourlyRate != nil && *req.HourlyRate < 0 {
		return directorydomain.Project{}, directorydomain.ErrInvalidRate
	}

	exists, err := s.ClientExists(ctx, req.ClientID)
	if err != nil {
		return directorydomain.Project{}, err
	}
	if !exists {
		return directorydomain.Project{}, directorydomain.ErrClientNotFound
	}

	now := s.clock.Now()
	project := directorydomain.Project{
		ID:         s.genID.Generate(),
		ClientID:   req.ClientID,
		Name:       name,
		HourlyRate: req.HourlyRate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		return directorydomain.Project{}, err
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, clientID snowflake.ID) ([]directorydomain.Project, error) {
	var projects []directorydomain.Project
	stmt := s.db.WithContext(ctx).Order("name asc")
	if clientID != 0 {
		stmt = stmt.Where("client_id = ?", clientID)
	}
	err := stmt.Find(&projects).Error
	return projects, err
}

func (s *Service) ClientExists(ctx context.Context, id snowflake.ID) (bool, error) {
	if id == 0 {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&directorydomain.Client{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (s *Service) ProjectBelongsTo(ctx context.Context, projectID, clientID snowflake.ID) (bool, error) {
	if projectID == 0 || clientID == 0 {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&directorydomain.Project{}).
		Where("id = ? AND client_id = ?", projectID, clientID).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) EffectiveRate(ctx context.Context, clientID snowflake.ID, projectID *snowflake.ID) (float64, error) {
	if projectID != nil && *projectID != 0 {
		var project directorydomain.Project
		err := s.db.WithContext(ctx).First(&project, "id = ?", *projectID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, directorydomain.ErrProjectNotFound
			}
			return 0, err
		}
		if project.ClientID != clientID {
			return 0, directorydomain.ErrProjectMismatch
		}
		if project.HourlyRate != nil {
			return *project.HourlyRate, nil
		}
	}

	var client directorydomain.Client
	err := s.db.WithContext(ctx).First(&client, "id = ?", clientID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, directorydomain.ErrClientNotFound
		}
		return 0, err
	}
	return client.HourlyRate, nil
}
