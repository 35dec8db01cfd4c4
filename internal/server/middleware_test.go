package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	"github.com/hourbill/hourbill/internal/auth/session"
	"github.com/hourbill/hourbill/internal/config"
	"github.com/stretchr/testify/assert"
)

type fakeAuthService struct {
	principals map[string]authdomain.Principal
}

func (f *fakeAuthService) CreateUser(ctx context.Context, req authdomain.CreateUserRequest) (*authdomain.User, error) {
	return nil, authdomain.ErrUserExists
}

func (f *fakeAuthService) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	return nil, authdomain.ErrInvalidCredentials
}

func (f *fakeAuthService) Authenticate(ctx context.Context, token string) (authdomain.Principal, error) {
	principal, ok := f.principals[token]
	if !ok {
		return authdomain.Principal{}, authdomain.ErrInvalidSession
	}
	return principal, nil
}

func (f *fakeAuthService) Logout(ctx context.Context, token string) error {
	return nil
}

func newGateFixture(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	return &Server{
		cfg:      config.Config{},
		sessions: session.NewManager(config.Config{}),
		authsvc: &fakeAuthService{principals: map[string]authdomain.Principal{
			"staff-token": {Kind: authdomain.PrincipalStaff, UserID: snowflake.ID(1)},
			"client-token": {
				Kind:     authdomain.PrincipalClient,
				UserID:   snowflake.ID(2),
				ClientID: snowflake.ID(100),
			},
		}},
	}
}

func performWithCookie(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: token, Expires: time.Now().Add(time.Hour)})
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStaffGate(t *testing.T) {
	s := newGateFixture(t)

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/admin/ping", s.StaffRequired(), func(c *gin.Context) {
		principal, ok := principalFrom(c)
		assert.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user": principal.UserID})
	})

	rec := performWithCookie(r, http.MethodGet, "/admin/ping", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = performWithCookie(r, http.MethodGet, "/admin/ping", "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = performWithCookie(r, http.MethodGet, "/admin/ping", "client-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = performWithCookie(r, http.MethodGet, "/admin/ping", "staff-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPortalGate(t *testing.T) {
	s := newGateFixture(t)

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/portal/ping", s.PortalAuthRequired(), func(c *gin.Context) {
		principal, _ := principalFrom(c)
		c.JSON(http.StatusOK, gin.H{"client": principal.ClientID})
	})

	rec := performWithCookie(r, http.MethodGet, "/portal/ping", "staff-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = performWithCookie(r, http.MethodGet, "/portal/ping", "client-token")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "100")
}
