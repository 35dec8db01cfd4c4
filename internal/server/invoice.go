package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
)

type createInvoiceRequest struct {
	ClientID    string                 `json:"client_id"`
	EntryIDs    []string               `json:"entry_ids"`
	ManualItems []invoiceLineItemInput `json:"manual_items"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	IssueDate   string                 `json:"issue_date"`
	DueDate     string                 `json:"due_date"`
	TaxRate     float64                `json:"tax_rate"`
	Notes       string                 `json:"notes"`
}

type invoiceLineItemInput struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clientID, err := snowflake.ParseString(strings.TrimSpace(req.ClientID))
	if err != nil {
		AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid identifier"))
		return
	}

	entryIDs := make([]snowflake.ID, 0, len(req.EntryIDs))
	for _, raw := range req.EntryIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, newValidationError("entry_ids", "invalid_entry_ids", "invalid identifier"))
			return
		}
		entryIDs = append(entryIDs, id)
	}

	manualItems := make([]invoicedomain.AddLineItemRequest, 0, len(req.ManualItems))
	for _, item := range req.ManualItems {
		manualItems = append(manualItems, invoicedomain.AddLineItemRequest{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	from, err := parseOptionalDate(req.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "expected YYYY-MM-DD"))
		return
	}
	to, err := parseOptionalDate(req.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "expected YYYY-MM-DD"))
		return
	}
	issueDate, err := parseOptionalDate(req.IssueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("issue_date", "invalid_issue_date", "expected YYYY-MM-DD"))
		return
	}
	dueDate, err := parseOptionalDate(req.DueDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "expected YYYY-MM-DD"))
		return
	}

	resp, err := s.invoiceSvc.Create(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		ClientID:    clientID,
		EntryIDs:    entryIDs,
		ManualItems: manualItems,
		From:        from,
		To:          to,
		IssueDate:   issueDate,
		DueDate:     dueDate,
		TaxRate:     req.TaxRate,
		Notes:       req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		ClientID string `form:"client_id"`
		Status   string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := invoicedomain.ListInvoicesRequest{}
	if strings.TrimSpace(query.ClientID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(query.ClientID))
		if err != nil {
			AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid identifier"))
			return
		}
		req.ClientID = &parsed
	}
	if strings.TrimSpace(query.Status) != "" {
		status := invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(query.Status)))
		switch status {
		case invoicedomain.StatusDraft, invoicedomain.StatusSent, invoicedomain.StatusPaid, invoicedomain.StatusOverdue:
			req.Status = &status
		default:
			AbortWithError(c, newValidationError("status", "invalid_status", "unknown status"))
			return
		}
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateDraftRequest struct {
	IssueDate *string  `json:"issue_date"`
	DueDate   *string  `json:"due_date"`
	TaxRate   *float64 `json:"tax_rate"`
	Notes     *string  `json:"notes"`
}

func (s *Server) UpdateDraftInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	patch := invoicedomain.UpdateDraftRequest{
		TaxRate: req.TaxRate,
		Notes:   req.Notes,
	}
	if req.IssueDate != nil {
		parsed, err := parseDate(*req.IssueDate)
		if err != nil {
			AbortWithError(c, newValidationError("issue_date", "invalid_issue_date", "expected YYYY-MM-DD"))
			return
		}
		patch.IssueDate = &parsed
	}
	if req.DueDate != nil {
		parsed, err := parseDate(*req.DueDate)
		if err != nil {
			AbortWithError(c, newValidationError("due_date", "invalid_due_date", "expected YYYY-MM-DD"))
			return
		}
		patch.DueDate = &parsed
	}

	resp, err := s.invoiceSvc.UpdateDraft(c.Request.Context(), id, patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invoiceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "deleted"}})
}

type addLineItemRequest struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

func (s *Server) AddInvoiceLineItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addLineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.invoiceSvc.AddLineItem(c.Request.Context(), id, invoicedomain.AddLineItemRequest{
		Description: req.Description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RemoveInvoiceLineItem(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemID, err := pathID(c, "itemId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.RemoveLineItem(c.Request.Context(), id, itemID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SendInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.Send(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkInvoicePaid(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.invoiceSvc.MarkPaid(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RenderInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.invoiceSvc.RenderPDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", doc)
}
