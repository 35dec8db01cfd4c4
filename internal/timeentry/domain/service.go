package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
)

type CreateEntryRequest struct {
	ClientID     snowflake.ID
	ProjectID    *snowflake.ID
	Date         time.Time
	StartTime    *string
	Hours        float64
	Title        string
	Description  string
	InternalNote string
	Billable     bool
}

// UpdateEntryRequest is a partial patch; nil fields are left untouched.
type UpdateEntryRequest struct {
	ProjectID    *snowflake.ID
	Date         *time.Time
	StartTime    *string
	Hours        *float64
	Title        *string
	Description  *string
	InternalNote *string
	Billable     *bool
}

type ListEntriesRequest struct {
	ClientID  *snowflake.ID
	ProjectID *snowflake.ID
	Invoiced  *bool
	From      *time.Time
	To        *time.Time
}

// Service is the staff-facing ledger of billable work.
type Service interface {
	Create(ctx context.Context, req CreateEntryRequest) (TimeEntry, error)
	Update(ctx context.Context, id snowflake.ID, patch UpdateEntryRequest) (TimeEntry, error)
	Delete(ctx context.Context, id snowflake.ID) error
	Get(ctx context.Context, id snowflake.ID) (TimeEntry, error)
	List(ctx context.Context, req ListEntriesRequest) ([]TimeEntry, error)

	AddResource(ctx context.Context, id snowflake.ID, req resourcedomain.AttachRequest) (resourcedomain.EntryResource, error)
	RemoveResource(ctx context.Context, id, resourceID snowflake.ID) error
}

var (
	ErrNotFound        = errors.New("entry_not_found")
	ErrLocked          = errors.New("entry_locked")
	ErrInvalidDuration = errors.New("invalid_duration")
	ErrMissingTitle    = errors.New("missing_title")
	ErrInvalidDate     = errors.New("invalid_date")
)
