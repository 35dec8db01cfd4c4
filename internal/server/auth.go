package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Email:     strings.TrimSpace(req.Email),
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, result.Token, result.Session.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"kind":      result.Principal.Kind,
		"user_id":   result.Principal.UserID,
		"client_id": result.Principal.ClientID,
	}})
}

func (s *Server) Logout(c *gin.Context) {
	if token, ok := s.sessions.ReadToken(c); ok {
		if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	s.sessions.Clear(c)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "logged_out"}})
}

func (s *Server) Me(c *gin.Context) {
	principal, err := s.resolvePrincipal(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"kind":      principal.Kind,
		"user_id":   principal.UserID,
		"client_id": principal.ClientID,
	}})
}
