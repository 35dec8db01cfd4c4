package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	resourcedomain "github.com/hourbill/hourbill/internal/resource/domain"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
)

type createEntryRequest struct {
	ClientID     string  `json:"client_id"`
	ProjectID    string  `json:"project_id"`
	Date         string  `json:"date"`
	StartTime    *string `json:"start_time"`
	Hours        float64 `json:"hours"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	InternalNote string  `json:"internal_note"`
	Billable     *bool   `json:"billable"`
}

func (s *Server) CreateEntry(c *gin.Context) {
	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid identifier"))
		return
	}
	var projectID *snowflake.ID
	if strings.TrimSpace(req.ProjectID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(req.ProjectID))
		if err != nil {
			AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid identifier"))
			return
		}
		projectID = &parsed
	}

	date, err := parseDate(req.Date)
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "expected YYYY-MM-DD"))
		return
	}

	billable := true
	if req.Billable != nil {
		billable = *req.Billable
	}

	resp, err := s.entrySvc.Create(c.Request.Context(), timeentrydomain.CreateEntryRequest{
		ClientID:     clientID,
		ProjectID:    projectID,
		Date:         date,
		StartTime:    req.StartTime,
		Hours:        req.Hours,
		Title:        req.Title,
		Description:  req.Description,
		InternalNote: req.InternalNote,
		Billable:     billable,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateEntryRequest struct {
	ProjectID    *string  `json:"project_id"`
	Date         *string  `json:"date"`
	StartTime    *string  `json:"start_time"`
	Hours        *float64 `json:"hours"`
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	InternalNote *string  `json:"internal_note"`
	Billable     *bool    `json:"billable"`
}

func (s *Server) UpdateEntry(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	patch := timeentrydomain.UpdateEntryRequest{
		StartTime:    req.StartTime,
		Hours:        req.Hours,
		Title:        req.Title,
		Description:  req.Description,
		InternalNote: req.InternalNote,
		Billable:     req.Billable,
	}
	if req.ProjectID != nil {
		// An empty string clears the project assignment.
		if strings.TrimSpace(*req.ProjectID) == "" {
			zero := snowflake.ID(0)
			patch.ProjectID = &zero
		} else {
			parsed, err := snowflake.ParseString(strings.TrimSpace(*req.ProjectID))
			if err != nil {
				AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid identifier"))
				return
			}
			patch.ProjectID = &parsed
		}
	}
	if req.Date != nil {
		parsed, err := parseDate(*req.Date)
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "expected YYYY-MM-DD"))
			return
		}
		patch.Date = &parsed
	}

	resp, err := s.entrySvc.Update(c.Request.Context(), id, patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteEntry(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.entrySvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "deleted"}})
}

func (s *Server) GetEntryByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.entrySvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListEntries(c *gin.Context) {
	var query struct {
		ClientID  string `form:"client_id"`
		ProjectID string `form:"project_id"`
		Invoiced  string `form:"invoiced"`
		From      string `form:"from"`
		To        string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := timeentrydomain.ListEntriesRequest{}
	if strings.TrimSpace(query.ClientID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(query.ClientID))
		if err != nil {
			AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid identifier"))
			return
		}
		req.ClientID = &parsed
	}
	if strings.TrimSpace(query.ProjectID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(query.ProjectID))
		if err != nil {
			AbortWithError(c, newValidationError("project_id", "invalid_project_id", "invalid identifier"))
			return
		}
		req.ProjectID = &parsed
	}
	switch strings.ToLower(strings.TrimSpace(query.Invoiced)) {
	case "":
	case "true", "1":
		invoiced := true
		req.Invoiced = &invoiced
	case "false", "0":
		invoiced := false
		req.Invoiced = &invoiced
	default:
		AbortWithError(c, newValidationError("invoiced", "invalid_invoiced", "expected true or false"))
		return
	}

	from, err := parseOptionalDate(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "expected YYYY-MM-DD"))
		return
	}
	to, err := parseOptionalDate(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "expected YYYY-MM-DD"))
		return
	}
	req.From = from
	req.To = to

	resp, err := s.entrySvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type attachResourceRequest struct {
	Kind  string `json:"kind"`
	Ref   string `json:"ref"`
	Label string `json:"label"`
}

func (s *Server) AttachEntryResource(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req attachResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.entrySvc.AddResource(c.Request.Context(), id, resourcedomain.AttachRequest{
		Kind:  strings.TrimSpace(req.Kind),
		Ref:   strings.TrimSpace(req.Ref),
		Label: strings.TrimSpace(req.Label),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DetachEntryResource(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resourceID, err := pathID(c, "resourceId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.entrySvc.RemoveResource(c.Request.Context(), id, resourceID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "detached"}})
}

func (s *Server) ListEntryResources(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.entrySvc.Get(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.resourceSvc.ListForEntry(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
