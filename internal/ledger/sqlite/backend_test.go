package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/ledger"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/shopspring/decimal"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackend_InsertAndQuery(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	brt := time.FixedZone("BRT", -3*3600)

	recs := []domain.Record{
		{OccurredAt: time.Date(2025, 3, 31, 22, 0, 0, 0, brt), Category: "food", Amount: decimal.RequireFromString("10.5"), Description: "a", SourceUser: "u1"},
		{OccurredAt: time.Date(2025, 3, 2, 9, 0, 0, 0, brt), Category: "health", Subcategory: "pharmacy", Amount: decimal.RequireFromString("42.10"), Description: "b", SourceUser: "u1"},
		{OccurredAt: time.Date(2025, 4, 1, 0, 0, 0, 0, brt), Category: "food", Amount: decimal.NewFromInt(7), Description: "c", SourceUser: "u1"},
		{OccurredAt: time.Date(2025, 3, 5, 9, 0, 0, 0, brt), Category: "food", Amount: decimal.NewFromInt(1), Description: "d", SourceUser: "u2"},
	}
	for i, rec := range recs {
		created, err := b.Insert(ctx, domain.RecordID(string(rune('a'+i))), rec)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if !created {
			t.Errorf("record %d: expected created", i)
		}
	}

	march := domain.MonthOf(time.Date(2025, 3, 15, 0, 0, 0, 0, brt))
	got, err := b.Query(ctx, "u1", &march)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if !got[0].Equal(recs[1]) || !got[1].Equal(recs[0]) {
		t.Errorf("unexpected records: %+v", got)
	}

	n, err := b.Count(ctx, "u1")
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v; want 3", n, err)
	}
}

func TestBackend_DuplicateID(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t)
	rec := domain.Record{OccurredAt: time.Now(), Category: "food", Amount: decimal.NewFromInt(3), SourceUser: "u1"}

	if created, err := b.Insert(ctx, "same", rec); err != nil || !created {
		t.Fatalf("first Insert = %v, %v", created, err)
	}
	if created, err := b.Insert(ctx, "same", rec); err != nil || created {
		t.Fatalf("second Insert = %v, %v; want not created", created, err)
	}
	if n, _ := b.Count(ctx, "u1"); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestBackend_WithLedger(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(openTestBackend(t), taxonomy.MustDefault())

	empty, err := l.IsEmpty(ctx, "u1")
	if err != nil || !empty {
		t.Fatalf("IsEmpty = %v, %v; want true", empty, err)
	}

	rec := domain.Record{Category: "Transporte", Amount: decimal.RequireFromString("25"), Description: "uber", SourceUser: "u1"}
	if _, err := l.AppendOnce(ctx, "msg-1#0", rec); err != nil {
		t.Fatalf("AppendOnce failed: %v", err)
	}
	if _, err := l.AppendOnce(ctx, "msg-1#0", rec); err != nil {
		t.Fatalf("AppendOnce failed: %v", err)
	}

	got, err := l.Query(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Category != "transport" {
		t.Errorf("unexpected records: %+v", got)
	}
}
