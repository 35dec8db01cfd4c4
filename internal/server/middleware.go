package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	obscontext "github.com/hourbill/hourbill/internal/observability/obscontext"
)

const principalContextKey = "principal"

// StaffRequired gates the admin surface. Client-portal sessions get 403, not
// a redirect; the portal has its own routes.
func (s *Server) StaffRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.resolvePrincipal(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !principal.IsStaff() {
			AbortWithError(c, ErrForbidden)
			return
		}
		s.setPrincipal(c, principal)
		c.Next()
	}
}

// PortalAuthRequired gates the client portal to client-bound sessions.
func (s *Server) PortalAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.resolvePrincipal(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if principal.Kind != authdomain.PrincipalClient || principal.ClientID == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}
		s.setPrincipal(c, principal)
		c.Next()
	}
}

func (s *Server) resolvePrincipal(c *gin.Context) (authdomain.Principal, error) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		return authdomain.Principal{}, ErrUnauthorized
	}
	principal, err := s.authsvc.Authenticate(c.Request.Context(), token)
	if err != nil {
		return authdomain.Principal{}, err
	}
	return principal, nil
}

func (s *Server) setPrincipal(c *gin.Context, principal authdomain.Principal) {
	c.Set(principalContextKey, principal)
	ctx := obscontext.WithActor(c.Request.Context(), string(principal.Kind), fmt.Sprint(principal.UserID))
	c.Request = c.Request.WithContext(ctx)
}

func principalFrom(c *gin.Context) (authdomain.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return authdomain.Principal{}, false
	}
	principal, ok := value.(authdomain.Principal)
	return principal, ok
}
