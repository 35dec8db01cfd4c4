// Package domain contains identity models for the credential store.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PrincipalKind distinguishes internal staff from client-portal identities.
type PrincipalKind string

const (
	PrincipalStaff  PrincipalKind = "staff"
	PrincipalClient PrincipalKind = "client"
)

// Principal is the authenticated identity attached to a request or a live
// connection. A client principal is bound to exactly one directory client.
type Principal struct {
	Kind     PrincipalKind
	UserID   snowflake.ID
	ClientID snowflake.ID
}

func (p Principal) IsStaff() bool {
	return p.Kind == PrincipalStaff
}

// Key returns the registry key for this principal.
func (p Principal) Key() string {
	if p.Kind == PrincipalClient {
		return "client:" + p.ClientID.String()
	}
	return "staff:" + p.UserID.String()
}

// User is a local account. Staff users have no client binding; portal users
// carry the client they act for.
type User struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	Kind         PrincipalKind `gorm:"type:text;not null;default:'staff'" json:"kind"`
	ClientID     *snowflake.ID `gorm:"index" json:"client_id,omitempty"`
	DisplayName  string        `gorm:"not null" json:"display_name"`
	Email        string        `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash string        `gorm:"not null" json:"-"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Session is an opaque server-side session. Only the token hash is stored.
type Session struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;index" json:"user_id"`
	TokenHash string       `gorm:"not null;uniqueIndex" json:"-"`
	UserAgent string       `gorm:"type:text" json:"user_agent,omitempty"`
	IPAddress string       `gorm:"type:text" json:"ip_address,omitempty"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time   `gorm:"" json:"revoked_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }
