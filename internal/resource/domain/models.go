// Package domain contains persistence models for entry attachments.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryResource is an opaque attachment reference on a time entry. The body
// lives elsewhere; only the reference is persisted here.
type EntryResource struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	EntryID   snowflake.ID `gorm:"not null;index" json:"entry_id"`
	Kind      string       `gorm:"type:text;not null" json:"kind"`
	Ref       string       `gorm:"type:text;not null" json:"ref"`
	Label     string       `gorm:"type:text" json:"label,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (EntryResource) TableName() string { return "entry_resources" }

type AttachRequest struct {
	Kind  string
	Ref   string
	Label string
}

// Store persists attachment references for time entries.
type Store interface {
	Attach(ctx context.Context, entryID snowflake.ID, req AttachRequest) (EntryResource, error)
	Detach(ctx context.Context, entryID, resourceID snowflake.ID) error
	ListForEntry(ctx context.Context, entryID snowflake.ID) ([]EntryResource, error)
}

var (
	ErrNotFound   = errors.New("resource_not_found")
	ErrInvalidRef = errors.New("invalid_resource_ref")
)
