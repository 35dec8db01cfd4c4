package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hourbill/hourbill/internal/events"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
)

// PortalListEntries serves the client's own ledger through the redacted
// projection; staff-only fields never reach this surface.
func (s *Server) PortalListEntries(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		From string `form:"from"`
		To   string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
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

	entries, err := s.entrySvc.List(c.Request.Context(), timeentrydomain.ListEntriesRequest{
		ClientID: &principal.ClientID,
		From:     from,
		To:       to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]events.ClientEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, events.NewClientEntryView(entry))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// PortalListInvoices lists the client's invoices. Drafts are internal and
// excluded.
func (s *Server) PortalListInvoices(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := invoicedomain.ListInvoicesRequest{ClientID: &principal.ClientID}
	if strings.TrimSpace(query.Status) != "" {
		status := invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(query.Status)))
		switch status {
		case invoicedomain.StatusSent, invoicedomain.StatusPaid, invoicedomain.StatusOverdue:
			req.Status = &status
		default:
			AbortWithError(c, newValidationError("status", "invalid_status", "unknown status"))
			return
		}
	}

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	now := s.clock.Now()
	views := make([]events.ClientInvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		if inv.Status == invoicedomain.StatusDraft {
			continue
		}
		views = append(views, events.NewClientInvoiceView(inv, now))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) PortalGetInvoice(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.portalInvoice(c, id, principal.ClientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events.NewClientInvoiceView(inv, s.clock.Now())})
}

func (s *Server) PortalRenderInvoice(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.portalInvoice(c, id, principal.ClientID); err != nil {
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

// portalInvoice loads an invoice if it belongs to the client and has left
// draft. Anything else reads as not found, not forbidden, so the portal
// cannot probe for drafts.
func (s *Server) portalInvoice(c *gin.Context, id, clientID snowflake.ID) (invoicedomain.Invoice, error) {
	inv, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv.ClientID != clientID || inv.Status == invoicedomain.StatusDraft {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}
	return inv, nil
}
