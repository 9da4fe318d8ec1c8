package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecord_Validate(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 30, 0, 0, time.UTC)
	valid := Record{
		OccurredAt: now,
		Category:   "food",
		Amount:     decimal.RequireFromString("50.00"),
		SourceUser: "5511999990000",
	}

	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *Record) {}},
		{name: "zero amount", mutate: func(r *Record) { r.Amount = decimal.Zero }, wantErr: true},
		{name: "negative amount", mutate: func(r *Record) { r.Amount = decimal.NewFromInt(-3) }, wantErr: true},
		{name: "missing user", mutate: func(r *Record) { r.SourceUser = "  " }, wantErr: true},
		{name: "missing timestamp", mutate: func(r *Record) { r.OccurredAt = time.Time{} }, wantErr: true},
		{name: "missing category", mutate: func(r *Record) { r.Category = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestRecord_EqualAcrossLocations(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	a := Record{OccurredAt: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), Category: "food", Amount: decimal.RequireFromString("10.5"), SourceUser: "u"}
	b := a
	b.OccurredAt = a.OccurredAt.In(loc)
	b.Amount = decimal.RequireFromString("10.50")

	if !a.Equal(b) {
		t.Error("records differing only in location and amount scale should be equal")
	}
}

func TestMonthOf(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	p := MonthOf(time.Date(2026, 12, 31, 23, 59, 0, 0, loc))

	if !p.Start.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("unexpected start %v", p.Start)
	}
	if !p.End.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("unexpected end %v", p.End)
	}
	if p.Contains(p.End) {
		t.Error("period end must be exclusive")
	}
	if !p.Contains(p.Start) {
		t.Error("period start must be inclusive")
	}
}

func TestParseMonth(t *testing.T) {
	p, err := ParseMonth("2026-02", time.UTC)
	if err != nil {
		t.Fatalf("ParseMonth failed: %v", err)
	}
	if got := p.End.Sub(p.Start); got != 28*24*time.Hour {
		t.Errorf("February 2026 should span 28 days, got %v", got)
	}
	if _, err := ParseMonth("2026/02", time.UTC); err == nil {
		t.Error("expected error for malformed month")
	}
}
