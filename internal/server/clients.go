package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
)

type createClientRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	HourlyRate float64 `json:"hourly_rate"`
	Currency   string  `json:"currency"`
}

func (s *Server) CreateClient(c *gin.Context) {
	var req createClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.directorySvc.CreateClient(c.Request.Context(), directorydomain.CreateClientRequest{
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		HourlyRate: req.HourlyRate,
		Currency:   strings.TrimSpace(req.Currency),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListClients(c *gin.Context) {
	resp, err := s.directorySvc.ListClients(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetClientByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.directorySvc.GetClient(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createProjectRequest struct {
	Name       string   `json:"name"`
	HourlyRate *float64 `json:"hourly_rate"`
}

func (s *Server) CreateProject(c *gin.Context) {
	clientID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.directorySvc.CreateProject(c.Request.Context(), directorydomain.CreateProjectRequest{
		ClientID:   clientID,
		Name:       strings.TrimSpace(req.Name),
		HourlyRate: req.HourlyRate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListProjects(c *gin.Context) {
	clientID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.directorySvc.ListProjects(c.Request.Context(), clientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
