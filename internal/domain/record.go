package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one expense reported by a user. It is the unit the ledger
// persists and the report package aggregates. Records are never edited
// after they are appended; a correction is a new record.
type Record struct {
	OccurredAt  time.Time       // ingestion time unless the source carried a date
	Category    string          // canonical, lower-case taxonomy key
	Subcategory string          // empty when extraction did not settle on one
	Amount      decimal.Decimal // magnitude, always > 0 once stored
	Description string
	SourceUser  string // phone number or account id; the storage scope
}

// RecordID identifies a stored record.
type RecordID string

var (
	// ErrInvalidRecord marks a candidate that violates a ledger invariant.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrStoreUnavailable marks a persistence backend failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Validate checks the invariants that do not depend on the taxonomy.
func (r Record) Validate() error {
	if strings.TrimSpace(r.SourceUser) == "" {
		return fmt.Errorf("%w: missing source user", ErrInvalidRecord)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRecord, r.Amount.String())
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	if r.Category == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidRecord)
	}
	return nil
}

// Equal reports whether two records carry the same data. Timestamps are
// compared as instants so a record read back in another location still matches.
func (r Record) Equal(o Record) bool {
	return r.OccurredAt.Equal(o.OccurredAt) &&
		r.Category == o.Category &&
		r.Subcategory == o.Subcategory &&
		r.Amount.Equal(o.Amount) &&
		r.Description == o.Description &&
		r.SourceUser == o.SourceUser
}
