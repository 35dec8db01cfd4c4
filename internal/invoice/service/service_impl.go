package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	"github.com/hourbill/hourbill/internal/events"
	"github.com/hourbill/hourbill/internal/invoice/domain"
	"github.com/hourbill/hourbill/internal/observability/metrics"
	"github.com/hourbill/hourbill/internal/providers/pdf"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"github.com/hourbill/hourbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPaymentTermDays = 14

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Directory   directorydomain.Service
	Broadcaster *events.Broadcaster
	Metrics     *metrics.Metrics
	Renderer    pdf.Renderer
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	directory   directorydomain.Service
	broadcaster *events.Broadcaster
	metrics     *metrics.Metrics
	renderer    pdf.Renderer
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		directory:   p.Directory,
		broadcaster: p.Broadcaster,
		metrics:     p.Metrics,
		renderer:    p.Renderer,
	}
}

// Create builds a draft from the requested entries, or from every open
// billable entry of the client when no explicit selection was given. Entry
// verification, numbering, money math and entry locking all happen in one
// transaction; a concurrent aggregation over the same entries loses on the
// guarded lock update and the whole draft rolls back.
func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (domain.Invoice, error) {
	if req.TaxRate < 0 || req.TaxRate > 100 {
		return domain.Invoice{}, domain.ErrInvalidTaxRate
	}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return domain.Invoice{}, domain.ErrInvalidPeriod
	}
	for _, manual := range req.ManualItems {
		if strings.TrimSpace(manual.Description) == "" || manual.Quantity <= 0 || manual.UnitPrice < 0 {
			return domain.Invoice{}, domain.ErrInvalidLineItem
		}
	}

	client, err := s.directory.GetClient(ctx, req.ClientID)
	if err != nil {
		return domain.Invoice{}, err
	}

	now := s.clock.Now()
	issueDate := now
	if req.IssueDate != nil {
		issueDate = *req.IssueDate
	}
	dueDate := issueDate.AddDate(0, 0, defaultPaymentTermDays)
	if req.DueDate != nil {
		dueDate = *req.DueDate
	}

	var invoice domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []timeentrydomain.TimeEntry
		if len(req.EntryIDs) > 0 {
			entries, err = s.loadSelectedEntriesForUpdate(tx, req.ClientID, req.EntryIDs)
		} else {
			entries, err = s.loadOpenEntriesForUpdate(tx, req.ClientID, req.From, req.To)
		}
		if err != nil {
			return err
		}
		if len(entries) == 0 && len(req.ManualItems) == 0 {
			return domain.ErrNoBillableEntries
		}

		number, err := nextInvoiceNumber(tx, issueDate.Year())
		if err != nil {
			return err
		}

		invoice = domain.Invoice{
			ID:        s.genID.Generate(),
			ClientID:  req.ClientID,
			Number:    number,
			Status:    domain.StatusDraft,
			IssueDate: issueDate,
			DueDate:   dueDate,
			Currency:  client.Currency,
			TaxRate:   req.TaxRate,
			Notes:     strings.TrimSpace(req.Notes),
			CreatedAt: now,
			UpdatedAt: now,
		}

		subtotal := 0.0
		items := make([]domain.LineItem, 0, len(entries))
		for i := range entries {
			entry := &entries[i]
			rate, err := s.directory.EffectiveRate(ctx, entry.ClientID, entry.ProjectID)
			if err != nil {
				return err
			}
			amount := round2(entry.Hours * rate)
			subtotal += amount

			entryID := entry.ID
			items = append(items, domain.LineItem{
				ID:          s.genID.Generate(),
				InvoiceID:   invoice.ID,
				EntryID:     &entryID,
				Description: lineDescription(*entry),
				Quantity:    entry.Hours,
				UnitPrice:   rate,
				Amount:      amount,
				Position:    i,
				CreatedAt:   now,
			})

			// Guarded lock: anyone who invoiced this entry between our
			// read and here wins, and we roll the whole draft back.
			res := tx.Model(&timeentrydomain.TimeEntry{}).
				Where("id = ? AND invoiced = ?", entry.ID, false).
				Updates(map[string]any{
					"invoiced":    true,
					"invoice_id":  invoice.ID,
					"billed_rate": rate,
					"updated_at":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return domain.ErrEntriesConflict
			}
		}

		for _, manual := range req.ManualItems {
			amount := round2(manual.Quantity * manual.UnitPrice)
			subtotal += amount
			items = append(items, domain.LineItem{
				ID:          s.genID.Generate(),
				InvoiceID:   invoice.ID,
				Description: strings.TrimSpace(manual.Description),
				Quantity:    manual.Quantity,
				UnitPrice:   manual.UnitPrice,
				Amount:      amount,
				Position:    len(items),
				CreatedAt:   now,
			})
		}

		invoice.Subtotal = round2(subtotal)
		invoice.TaxAmount = round2(invoice.Subtotal * invoice.TaxRate / 100)
		invoice.Total = round2(invoice.Subtotal + invoice.TaxAmount)
		invoice.LineItems = items

		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Concurrent aggregation claimed the same invoice number.
			return domain.Invoice{}, domain.ErrEntriesConflict
		}
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoice(ctx, "create")
	s.broadcaster.InvoiceCreated(ctx, invoice)
	return invoice, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	invoice, err := s.load(ctx, id, true)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice.Status = invoice.EffectiveStatus(s.clock.Now())
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoicesRequest) ([]domain.Invoice, error) {
	now := s.clock.Now()
	query := s.db.WithContext(ctx).Model(&domain.Invoice{}).Preload("LineItems")
	if req.ClientID != nil {
		query = query.Where("client_id = ?", *req.ClientID)
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.StatusOverdue:
			query = query.Where("status = ? AND due_date < ?", domain.StatusSent, now)
		default:
			query = query.Where("status = ?", *req.Status)
			if *req.Status == domain.StatusSent {
				query = query.Where("due_date >= ?", now)
			}
		}
	}

	var invoices []domain.Invoice
	if err := query.Order("number DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Status = invoices[i].EffectiveStatus(now)
	}
	return invoices, nil
}

func (s *Service) UpdateDraft(ctx context.Context, id snowflake.ID, patch domain.UpdateDraftRequest) (domain.Invoice, error) {
	invoice, err := s.load(ctx, id, true)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.Status != domain.StatusDraft {
		return domain.Invoice{}, domain.ErrNotDraft
	}

	if patch.IssueDate != nil {
		invoice.IssueDate = *patch.IssueDate
	}
	if patch.DueDate != nil {
		invoice.DueDate = *patch.DueDate
	}
	if patch.TaxRate != nil {
		if *patch.TaxRate < 0 || *patch.TaxRate > 100 {
			return domain.Invoice{}, domain.ErrInvalidTaxRate
		}
		invoice.TaxRate = *patch.TaxRate
	}
	if patch.Notes != nil {
		invoice.Notes = strings.TrimSpace(*patch.Notes)
	}
	if invoice.IssueDate.After(invoice.DueDate) {
		return domain.Invoice{}, domain.ErrInvalidPeriod
	}

	recomputeTotals(&invoice)
	invoice.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Omit("LineItems").Save(&invoice).Error; err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoice(ctx, "update")
	s.broadcaster.InvoiceUpdated(ctx, invoice)
	return invoice, nil
}

func (s *Service) AddLineItem(ctx context.Context, id snowflake.ID, req domain.AddLineItemRequest) (domain.Invoice, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" || req.Quantity <= 0 || req.UnitPrice < 0 {
		return domain.Invoice{}, domain.ErrInvalidLineItem
	}

	invoice, err := s.load(ctx, id, true)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.Status != domain.StatusDraft {
		return domain.Invoice{}, domain.ErrNotDraft
	}

	item := domain.LineItem{
		ID:          s.genID.Generate(),
		InvoiceID:   invoice.ID,
		Description: description,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
		Amount:      round2(req.Quantity * req.UnitPrice),
		Position:    len(invoice.LineItems),
		CreatedAt:   s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		invoice.LineItems = append(invoice.LineItems, item)
		recomputeTotals(&invoice)
		invoice.UpdatedAt = item.CreatedAt
		return tx.Omit("LineItems").Save(&invoice).Error
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoice(ctx, "update")
	s.broadcaster.InvoiceUpdated(ctx, invoice)
	return invoice, nil
}

// RemoveLineItem drops a row from a draft. A row that came from the ledger
// also releases its entry back to the open pool.
func (s *Service) RemoveLineItem(ctx context.Context, id, itemID snowflake.ID) (domain.Invoice, error) {
	invoice, err := s.load(ctx, id, true)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.Status != domain.StatusDraft {
		return domain.Invoice{}, domain.ErrNotDraft
	}

	idx := -1
	for i, item := range invoice.LineItems {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Invoice{}, domain.ErrLineItemNotFound
	}
	removed := invoice.LineItems[idx]

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.LineItem{}, "id = ?", removed.ID).Error; err != nil {
			return err
		}
		if removed.EntryID != nil {
			if err := unlockEntries(tx, invoice.ID, now, *removed.EntryID); err != nil {
				return err
			}
		}
		invoice.LineItems = append(invoice.LineItems[:idx], invoice.LineItems[idx+1:]...)
		recomputeTotals(&invoice)
		invoice.UpdatedAt = now
		return tx.Omit("LineItems").Save(&invoice).Error
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoice(ctx, "update")
	s.broadcaster.InvoiceUpdated(ctx, invoice)
	if removed.EntryID != nil {
		s.emitEntryUpdated(ctx, *removed.EntryID)
	}
	return invoice, nil
}

func (s *Service) Send(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	invoice, err := s.load(ctx, id, true)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.Status != domain.StatusDraft {
		return domain.Invoice{}, domain.ErrInvalidTransition
	}
	if len(invoice.LineItems) == 0 {
		return domain.Invoice{}, domain.ErrNoBillableEntries
	}

	now := s.clock.Now()
	invoice.Status = domain.StatusSent
	invoice.SentAt = &now
	invoice.UpdatedAt = now
	if err := s.db.WithContext(ctx).Omit("LineItems").Save(&invoice).Error; err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoice(ctx, "send")
	s.broadcaster.InvoiceSent(ctx, invoice)
	return invoice, nil
}

// MarkPaid accepts any sent invoice, overdue included; overdue is only a
// read-time presentation of sent.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	invoice, err := s.load(ctx, id, true)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.Status != domain.StatusSent {
		return domain.Invoice{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	invoice.Status = domain.StatusPaid
	invoice.PaidAt = &now
	invoice.UpdatedAt = now
	if err := s.db.WithContext(ctx).Omit("LineItems").Save(&invoice).Error; err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoice(ctx, "paid")
	s.broadcaster.InvoiceUpdated(ctx, invoice)
	return invoice, nil
}

// Delete removes a draft and releases every entry it had locked. Sent and
// paid invoices are immutable history and cannot be deleted.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	invoice, err := s.load(ctx, id, false)
	if err != nil {
		return err
	}
	if invoice.Status != domain.StatusDraft {
		return domain.ErrNotDraft
	}

	now := s.clock.Now()
	var freed []snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&timeentrydomain.TimeEntry{}).
			Where("invoice_id = ?", invoice.ID).
			Pluck("id", &freed).Error; err != nil {
			return err
		}
		if err := unlockEntries(tx, invoice.ID, now, freed...); err != nil {
			return err
		}
		if err := tx.Delete(&domain.LineItem{}, "invoice_id = ?", invoice.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Invoice{}, "id = ?", invoice.ID).Error
	})
	if err != nil {
		return err
	}

	s.metrics.RecordInvoice(ctx, "delete")
	for _, entryID := range freed {
		s.emitEntryUpdated(ctx, entryID)
	}
	return nil
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	client, err := s.directory.GetClient(ctx, invoice.ClientID)
	if err != nil {
		return nil, err
	}
	return s.renderer.RenderInvoice(invoice, client)
}

func (s *Service) load(ctx context.Context, id snowflake.ID, withItems bool) (domain.Invoice, error) {
	query := s.db.WithContext(ctx)
	if withItems {
		query = query.Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position asc")
		})
	}

	var invoice domain.Invoice
	err := query.First(&invoice, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invoice{}, domain.ErrNotFound
		}
		return domain.Invoice{}, err
	}
	return invoice, nil
}

// loadSelectedEntriesForUpdate row-locks an explicit entry selection. An id
// that is unknown, owned by another client or already invoiced fails the
// whole selection; the caller's transaction rolls back.
func (s *Service) loadSelectedEntriesForUpdate(tx *gorm.DB, clientID snowflake.ID, ids []snowflake.ID) ([]timeentrydomain.TimeEntry, error) {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	unique := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	var entries []timeentrydomain.TimeEntry
	err := db.ForUpdate(tx).
		Where("id IN ?", unique).
		Order("date asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) != len(unique) {
		return nil, domain.ErrEntriesConflict
	}
	for _, entry := range entries {
		if entry.ClientID != clientID || entry.Invoiced {
			return nil, domain.ErrEntriesConflict
		}
	}
	return entries, nil
}

func (s *Service) loadOpenEntriesForUpdate(tx *gorm.DB, clientID snowflake.ID, from, to *time.Time) ([]timeentrydomain.TimeEntry, error) {
	query := db.ForUpdate(tx).
		Where("client_id = ? AND billable = ? AND invoiced = ?", clientID, true, false)
	if from != nil {
		query = query.Where("date >= ?", *from)
	}
	if to != nil {
		query = query.Where("date <= ?", *to)
	}

	var entries []timeentrydomain.TimeEntry
	err := query.Order("date asc, id asc").Find(&entries).Error
	return entries, err
}

// emitEntryUpdated reloads a freed entry and broadcasts its new open state.
func (s *Service) emitEntryUpdated(ctx context.Context, entryID snowflake.ID) {
	var entry timeentrydomain.TimeEntry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", entryID).Error; err != nil {
		s.log.Warn("reload freed entry", zap.Error(err))
		return
	}
	rate, err := s.directory.EffectiveRate(ctx, entry.ClientID, entry.ProjectID)
	if err == nil {
		entry.EffectiveRate = rate
	}
	s.broadcaster.EntryUpdated(ctx, entry)
}

func unlockEntries(tx *gorm.DB, invoiceID snowflake.ID, now time.Time, entryIDs ...snowflake.ID) error {
	if len(entryIDs) == 0 {
		return nil
	}
	return tx.Model(&timeentrydomain.TimeEntry{}).
		Where("id IN ? AND invoice_id = ?", entryIDs, invoiceID).
		Updates(map[string]any{
			"invoiced":    false,
			"invoice_id":  nil,
			"billed_rate": nil,
			"updated_at":  now,
		}).Error
}

// nextInvoiceNumber computes the next YYYY-NNNN number inside the caller's
// transaction. The sequence restarts each calendar year; the unique index on
// the column backstops concurrent writers.
func nextInvoiceNumber(tx *gorm.DB, year int) (string, error) {
	prefix := fmt.Sprintf("%04d-", year)

	var numbers []string
	err := tx.Model(&domain.Invoice{}).
		Where("number LIKE ?", prefix+"%").
		Order("number DESC").
		Limit(1).
		Pluck("number", &numbers).Error
	if err != nil {
		return "", err
	}

	seq := 0
	if len(numbers) > 0 {
		parsed, err := strconv.Atoi(strings.TrimPrefix(numbers[0], prefix))
		if err != nil {
			return "", fmt.Errorf("malformed invoice number %q: %w", numbers[0], err)
		}
		seq = parsed
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}

func lineDescription(entry timeentrydomain.TimeEntry) string {
	desc := entry.Title
	if !entry.Date.IsZero() {
		desc = fmt.Sprintf("%s (%s)", entry.Title, entry.Date.Format("2006-01-02"))
	}
	return desc
}

func recomputeTotals(invoice *domain.Invoice) {
	subtotal := 0.0
	for _, item := range invoice.LineItems {
		subtotal += item.Amount
	}
	invoice.Subtotal = round2(subtotal)
	invoice.TaxAmount = round2(invoice.Subtotal * invoice.TaxRate / 100)
	invoice.Total = round2(invoice.Subtotal + invoice.TaxAmount)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
