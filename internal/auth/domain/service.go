package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateUserRequest struct {
	Kind        PrincipalKind
	ClientID    *snowflake.ID
	DisplayName string
	Email       string
	Password    string
}

type LoginRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

type LoginResult struct {
	Token     string
	Principal Principal
	Session   Session
}

// Service issues and verifies credentials and sessions. The billing core
// trusts the Principal it resolves without re-verifying anything.
type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Authenticate(ctx context.Context, token string) (Principal, error)
	Logout(ctx context.Context, token string) error
}

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidSession     = errors.New("invalid_session")
	ErrSessionExpired     = errors.New("session_expired")
	ErrUserExists         = errors.New("user_exists")
	ErrUserNotFound       = errors.New("user_not_found")
)
