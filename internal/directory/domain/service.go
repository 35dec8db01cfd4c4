package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateClientRequest struct {
	Name       string
	Email      string
	HourlyRate float64
	Currency   string
}

type CreateProjectRequest struct {
	ClientID   snowflake.ID
	Name       string
	HourlyRate *float64
}

// Service is the directory contract consumed by the billing core.
type Service interface {
	CreateClient(ctx context.Context, req CreateClientRequest) (Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	GetClient(ctx context.Context, id snowflake.ID) (Client, error)
	CreateProject(ctx context.Context, req CreateProjectRequest) (Project, error)
	ListProjects(ctx context.Context, clientID snowflake.ID) ([]Project, error)

	ClientExists(ctx context.Context, id snowflake.ID) (bool, error)
	ProjectBelongsTo(ctx context.Context, projectID, clientID snowflake.ID) (bool, error)
	// EffectiveRate resolves the billing rate: project rate if set, else
	// client rate, else zero.
	EffectiveRate(ctx context.Context, clientID snowflake.ID, projectID *snowflake.ID) (float64, error)
}

var (
	ErrClientNotFound  = errors.New("client_not_found")
	ErrProjectNotFound = errors.New("project_not_found")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidRate     = errors.New("invalid_rate")
	ErrProjectMismatch = errors.New("project_client_mismatch")
)
