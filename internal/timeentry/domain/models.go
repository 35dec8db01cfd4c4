// Package domain contains persistence models for the time entry ledger.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DurationStep is the billing granularity in hours.
const DurationStep = 0.1

// TimeEntry is a single unit of tracked work. Once attached to an invoice it
// is locked: immutable and undeletable until that invoice is deleted while
// still in draft.
type TimeEntry struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID     snowflake.ID  `gorm:"not null;index" json:"client_id"`
	ProjectID    *snowflake.ID `gorm:"index" json:"project_id,omitempty"`
	Date         time.Time     `gorm:"not null;index" json:"date"`
	StartTime    *string       `gorm:"type:text" json:"start_time,omitempty"`
	Hours        float64       `gorm:"not null" json:"hours"`
	Title        string        `gorm:"not null" json:"title"`
	Description  string        `gorm:"type:text" json:"description,omitempty"`
	InternalNote string        `gorm:"type:text" json:"internal_note,omitempty"`
	Billable     bool          `gorm:"not null;default:true" json:"billable"`
	Invoiced     bool          `gorm:"not null;default:false;index" json:"invoiced"`
	InvoiceID    *snowflake.ID `gorm:"index" json:"invoice_id,omitempty"`
	// BilledRate freezes the effective rate the moment the entry is locked
	// onto an invoice, so later directory rate edits cannot change money
	// already aggregated. Cleared when the entry is unlocked.
	BilledRate *float64  `gorm:"" json:"billed_rate,omitempty"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// EffectiveRate is resolved from the directory on read, never stored.
	EffectiveRate float64 `gorm:"-" json:"effective_rate"`
}

// TableName sets the database table name.
func (TimeEntry) TableName() string { return "time_entries" }

// Locked reports whether the entry is attached to an invoice.
func (e TimeEntry) Locked() bool {
	return e.Invoiced
}

// RoundDuration quantizes hours to the nearest 0.1 step, half-up.
func RoundDuration(hours float64) float64 {
	return math.Floor(hours*10+0.5) / 10
}

// ValidDuration reports whether hours is positive and on the 0.1 grid
// within floating-point tolerance.
func ValidDuration(hours float64) bool {
	if hours <= 0 {
		return false
	}
	scaled := hours * 10
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}
