package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	"github.com/hourbill/hourbill/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	sessionTokenBytes = 32
	sessionTTL        = 7 * 24 * time.Hour

	minPasswordLength = 8
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

func NewService(p ServiceParam) authdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("auth.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateUser(ctx context.Context, req authdomain.CreateUserRequest) (*authdomain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, authdomain.ErrInvalidCredentials
	}
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, authdomain.ErrInvalidCredentials
	}

	kind := req.Kind
	if kind == "" {
		kind = authdomain.PrincipalStaff
	}
	if kind == authdomain.PrincipalClient && (req.ClientID == nil || *req.ClientID == 0) {
		return nil, authdomain.ErrInvalidCredentials
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&authdomain.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, authdomain.ErrUserExists
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}

	now := s.clock.Now()
	user := &authdomain.User{
		ID:           s.genID.Generate(),
		Kind:         kind,
		ClientID:     req.ClientID,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, authdomain.ErrInvalidCredentials
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, authdomain.ErrInvalidCredentials
	}

	var user authdomain.User
	err = s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authdomain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		return nil, authdomain.ErrInvalidCredentials
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := authdomain.Session{
		ID:        s.genID.Generate(),
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		UserAgent: strings.TrimSpace(req.UserAgent),
		IPAddress: strings.TrimSpace(req.IPAddress),
		ExpiresAt: now.Add(sessionTTL),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}

	return &authdomain.LoginResult{
		Token:     rawToken,
		Principal: principalOf(user),
		Session:   session,
	}, nil
}

func (s *Service) Authenticate(ctx context.Context, token string) (authdomain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return authdomain.Principal{}, authdomain.ErrInvalidSession
	}

	var session authdomain.Session
	err := s.db.WithContext(ctx).First(&session, "token_hash = ?", hashToken(token)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authdomain.Principal{}, authdomain.ErrInvalidSession
		}
		return authdomain.Principal{}, err
	}
	if session.RevokedAt != nil {
		return authdomain.Principal{}, authdomain.ErrInvalidSession
	}
	if s.clock.Now().After(session.ExpiresAt) {
		return authdomain.Principal{}, authdomain.ErrSessionExpired
	}

	var user authdomain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authdomain.Principal{}, authdomain.ErrInvalidSession
		}
		return authdomain.Principal{}, err
	}

	return principalOf(user), nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	now := s.clock.Now()
	return s.db.WithContext(ctx).Model(&authdomain.Session{}).
		Where("token_hash = ? AND revoked_at IS NULL", hashToken(token)).
		Update("revoked_at", now).Error
}

func principalOf(user authdomain.User) authdomain.Principal {
	p := authdomain.Principal{
		Kind:   user.Kind,
		UserID: user.ID,
	}
	if user.Kind == authdomain.PrincipalClient && user.ClientID != nil {
		p.ClientID = *user.ClientID
	}
	return p
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", errors.New("empty email")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", err
	}
	return email, nil
}

func defaultDisplayName(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("argon2id$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
