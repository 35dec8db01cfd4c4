// Package domain contains persistence models for the client directory.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Client is a billable customer of the agency.
type Client struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name       string            `gorm:"not null" json:"name"`
	Email      string            `gorm:"not null" json:"email"`
	HourlyRate float64           `gorm:"not null;default:0" json:"hourly_rate"`
	Currency   string            `gorm:"type:text;not null;default:'EUR'" json:"currency"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

// Project groups time entries under a client; its rate overrides the client rate.
type Project struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	ClientID   snowflake.ID `gorm:"not null;index" json:"client_id"`
	Name       string       `gorm:"not null" json:"name"`
	HourlyRate *float64     `gorm:"" json:"hourly_rate,omitempty"`
	Archived   bool         `gorm:"not null;default:false" json:"archived"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }
