package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// Header is the first row of every file or sheet tab a backend writes.
var Header = []string{"timestamp", "category", "subcategory", "amount", "description"}

// EncodeRow renders rec in the five column layout shared by the CSV and
// Sheets backends. The user is implied by the file or tab.
func EncodeRow(rec domain.Record) []string {
	return []string{
		rec.OccurredAt.Format(time.RFC3339Nano),
		rec.Category,
		rec.Subcategory,
		rec.Amount.String(),
		rec.Description,
	}
}

// DecodeRow parses a row written by EncodeRow.
func DecodeRow(user string, row []string) (domain.Record, error) {
	if len(row) < len(Header) {
		return domain.Record{}, fmt.Errorf("row has %d columns, want %d", len(row), len(Header))
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(row[0]))
	if err != nil {
		return domain.Record{}, fmt.Errorf("parse timestamp %q: %w", row[0], err)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(row[3]))
	if err != nil {
		return domain.Record{}, fmt.Errorf("parse amount %q: %w", row[3], err)
	}
	return domain.Record{
		OccurredAt:  ts,
		Category:    row[1],
		Subcategory: row[2],
		Amount:      amount,
		Description: row[4],
		SourceUser:  user,
	}, nil
}

// IsHeader reports whether row is the header row.
func IsHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), Header[0])
}

// Filter keeps the records inside period; nil keeps everything.
func Filter(recs []domain.Record, period *domain.Period) []domain.Record {
	if period == nil {
		return recs
	}
	out := recs[:0:0]
	for _, r := range recs {
		if period.Contains(r.OccurredAt) {
			out = append(out, r)
		}
	}
	return out
}

// SortChronological orders records by OccurredAt, keeping insertion order
// for equal instants.
func SortChronological(recs []domain.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].OccurredAt.Before(recs[j].OccurredAt)
	})
}
