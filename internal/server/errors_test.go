package server

import (
	"net/http"
	"testing"

	authdomain "github.com/hourbill/hourbill/internal/auth/domain"
	directorydomain "github.com/hourbill/hourbill/internal/directory/domain"
	invoicedomain "github.com/hourbill/hourbill/internal/invoice/domain"
	timeentrydomain "github.com/hourbill/hourbill/internal/timeentry/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"locked entry", timeentrydomain.ErrLocked, http.StatusLocked},
		{"entries conflict", invoicedomain.ErrEntriesConflict, http.StatusConflict},
		{"invalid transition", invoicedomain.ErrInvalidTransition, http.StatusConflict},
		{"not draft", invoicedomain.ErrNotDraft, http.StatusConflict},
		{"user exists", authdomain.ErrUserExists, http.StatusConflict},
		{"invalid duration", timeentrydomain.ErrInvalidDuration, http.StatusBadRequest},
		{"missing title", timeentrydomain.ErrMissingTitle, http.StatusBadRequest},
		{"no billable entries", invoicedomain.ErrNoBillableEntries, http.StatusBadRequest},
		{"project mismatch", directorydomain.ErrProjectMismatch, http.StatusBadRequest},
		{"entry not found", timeentrydomain.ErrNotFound, http.StatusNotFound},
		{"invoice not found", invoicedomain.ErrNotFound, http.StatusNotFound},
		{"client not found", directorydomain.ErrClientNotFound, http.StatusNotFound},
		{"gorm not found", gorm.ErrRecordNotFound, http.StatusNotFound},
		{"invalid session", authdomain.ErrInvalidSession, http.StatusUnauthorized},
		{"expired session", authdomain.ErrSessionExpired, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"unknown", assertionError{}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := mapError(tc.err)
			assert.Equal(t, tc.status, status)
		})
	}
}

type assertionError struct{}

func (assertionError) Error() string { return "boom" }

func TestValidationPayloadCarriesFieldAndCode(t *testing.T) {
	status, payload := mapError(timeentrydomain.ErrInvalidDuration)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "invalid_duration", payload.Errors[0].Code)
		assert.Equal(t, "duration", payload.Errors[0].Field)
	}
}
