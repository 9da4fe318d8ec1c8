package sheets

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/ledger"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
)

// fakeSpreadsheet keeps tabs in memory and can fail a number of calls.
type fakeSpreadsheet struct {
	mu         sync.Mutex
	tabs       map[string][][]interface{}
	failAppend []error
	calls      int
}

func newFakeSpreadsheet() *fakeSpreadsheet {
	return &fakeSpreadsheet{tabs: map[string][][]interface{}{"Sheet1": nil}}
}

func tabFromRange(a1 string) string {
	name := a1[:strings.LastIndex(a1, "!")]
	name = strings.TrimPrefix(strings.TrimSuffix(name, "'"), "'")
	return strings.ReplaceAll(name, "''", "'")
}

func (f *fakeSpreadsheet) ListTabs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for t := range f.tabs {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeSpreadsheet) AddTab(ctx context.Context, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tabs[title]; ok {
		return errors.New("tab exists")
	}
	f.tabs[title] = nil
	return nil
}

func (f *fakeSpreadsheet) Append(ctx context.Context, a1Range string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failAppend) > 0 {
		err := f.failAppend[0]
		f.failAppend = f.failAppend[1:]
		return err
	}
	tab := tabFromRange(a1Range)
	f.tabs[tab] = append(f.tabs[tab], rows...)
	return nil
}

func (f *fakeSpreadsheet) Get(ctx context.Context, a1Range string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[tabFromRange(a1Range)], nil
}

func TestBackend_InsertCreatesTabWithHeader(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSpreadsheet()
	b := newBackend(fake, time.Millisecond)

	rec := domain.Record{
		OccurredAt:  time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		Category:    "food",
		Subcategory: "groceries",
		Amount:      decimal.RequireFromString("123.45"),
		Description: "mercado",
		SourceUser:  "user's/phone",
	}
	if _, err := b.Insert(ctx, "id-1", rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	rows := fake.tabs[tabTitle("user's/phone")]
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][4] != "description" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][3] != "123.45" {
		t.Errorf("amount cell = %v, want 123.45", rows[1][3])
	}

	got, err := b.Query(ctx, "user's/phone", nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(rec) {
		t.Errorf("Query returned %+v", got)
	}
}

func TestBackend_RetriesRateLimit(t *testing.T) {
	fake := newFakeSpreadsheet()
	fake.tabs["u1"] = [][]interface{}{{"timestamp", "category", "subcategory", "amount", "description"}}
	fake.failAppend = []error{&googleapi.Error{Code: http.StatusTooManyRequests}}
	b := newBackend(fake, time.Millisecond)

	rec := domain.Record{OccurredAt: time.Now(), Category: "food", Amount: decimal.NewFromInt(1), SourceUser: "u1"}
	if _, err := b.Insert(context.Background(), "id", rec); err != nil {
		t.Fatalf("Insert failed after retry: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("Append called %d times, want 2", fake.calls)
	}
}

func TestBackend_DoesNotRetryOtherErrors(t *testing.T) {
	fake := newFakeSpreadsheet()
	fake.tabs["u1"] = nil
	fake.failAppend = []error{&googleapi.Error{Code: http.StatusForbidden}}
	b := newBackend(fake, time.Millisecond)

	rec := domain.Record{OccurredAt: time.Now(), Category: "food", Amount: decimal.NewFromInt(1), SourceUser: "u1"}
	if _, err := b.Insert(context.Background(), "id", rec); err == nil {
		t.Fatal("expected error")
	}
	if fake.calls != 1 {
		t.Errorf("Append called %d times, want 1", fake.calls)
	}
}

func TestBackend_WithLedger(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(newBackend(newFakeSpreadsheet(), time.Millisecond), taxonomy.MustDefault())

	empty, err := l.IsEmpty(ctx, "5511")
	if err != nil || !empty {
		t.Fatalf("IsEmpty = %v, %v", empty, err)
	}

	rec := domain.Record{Category: "lazer", Amount: decimal.NewFromInt(40), Description: "cinema", SourceUser: "5511"}
	for i := 0; i < 2; i++ {
		if _, err := l.AppendOnce(ctx, "wamid.X#0", rec); err != nil {
			t.Fatalf("AppendOnce failed: %v", err)
		}
	}

	got, err := l.Query(ctx, "5511", nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Category != "leisure" {
		t.Errorf("unexpected records: %+v", got)
	}
}

func TestBackend_HeaderFailureDoesNotBlockTab(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSpreadsheet()
	fake.failAppend = []error{&googleapi.Error{Code: http.StatusInternalServerError}}
	b := newBackend(fake, time.Millisecond)

	rec := domain.Record{
		OccurredAt: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		Category:   "food",
		Amount:     decimal.NewFromInt(12),
		SourceUser: "u1",
	}
	if _, err := b.Insert(ctx, "id-1", rec); err == nil {
		t.Fatal("expected the first insert to fail")
	}
	if _, err := b.Insert(ctx, "id-2", rec); err != nil {
		t.Fatalf("Insert after recovery failed: %v", err)
	}

	rows := fake.tabs["u1"]
	if len(rows) != 2 || rows[0][0] != "timestamp" {
		t.Fatalf("got rows %v, want header + 1", rows)
	}
	got, err := b.Query(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d records, want 1", len(got))
	}
}

func TestBackend_SkipsRepeatedHeaderRows(t *testing.T) {
	fake := newFakeSpreadsheet()
	header := []interface{}{"timestamp", "category", "subcategory", "amount", "description"}
	fake.tabs["u1"] = [][]interface{}{
		header,
		header,
		{"2025-07-01T12:00:00Z", "food", "", "5", "pão"},
	}
	b := newBackend(fake, time.Millisecond)

	got, err := b.Query(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Description != "pão" {
		t.Errorf("unexpected records: %+v", got)
	}
}

func TestBackend_UsersDoNotShareTabs(t *testing.T) {
	ctx := context.Background()
	b := newBackend(newFakeSpreadsheet(), time.Millisecond)

	rec := domain.Record{OccurredAt: time.Now(), Category: "food", Amount: decimal.NewFromInt(1), SourceUser: "acct/1"}
	if _, err := b.Insert(ctx, "id", rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	for _, user := range []string{"acct_1", "ACCT/1", "acct/1~"} {
		got, err := b.Query(ctx, user, nil)
		if err != nil {
			t.Fatalf("Query(%q) failed: %v", user, err)
		}
		if len(got) != 0 {
			t.Errorf("Query(%q) returned %d records of another user", user, len(got))
		}
	}
	got, err := b.Query(ctx, "acct/1", nil)
	if err != nil || len(got) != 1 {
		t.Errorf("Query(acct/1) = %d records, %v", len(got), err)
	}
}

func TestTabTitle(t *testing.T) {
	long := strings.Repeat("á", 120)

	tests := []struct {
		name string
		a, b string
	}{
		{"replaced characters", "acct/1", "acct_1"},
		{"case", "Ana", "ana"},
		{"suffix marker", "acct_1~", "acct_1"},
		{"shared long prefix", long + "x", long + "y"},
		{"surrounding spaces", " acct ", "acct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta, tb := tabTitle(tt.a), tabTitle(tt.b)
			if strings.EqualFold(ta, tb) {
				t.Errorf("tabTitle(%q) and tabTitle(%q) both map to %q", tt.a, tt.b, ta)
			}
			for _, title := range []string{ta, tb} {
				if !utf8.ValidString(title) || utf8.RuneCountInString(title) > 100 {
					t.Errorf("invalid title %q", title)
				}
				if strings.ContainsAny(title, "[]*?/\\:") {
					t.Errorf("title %q has characters Sheets rejects", title)
				}
			}
		})
	}

	if got := tabTitle("5511999990000"); got != "5511999990000" {
		t.Errorf("tabTitle(phone) = %q, want the number unchanged", got)
	}
}

func TestBackend_RetryStopsOnCancel(t *testing.T) {
	fake := newFakeSpreadsheet()
	fake.tabs["u1"] = nil
	fake.failAppend = []error{
		&googleapi.Error{Code: http.StatusTooManyRequests},
		&googleapi.Error{Code: http.StatusTooManyRequests},
		&googleapi.Error{Code: http.StatusTooManyRequests},
	}
	b := newBackend(fake, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := domain.Record{OccurredAt: time.Now(), Category: "food", Amount: decimal.NewFromInt(1), SourceUser: "u1"}
	start := time.Now()
	if _, err := b.Insert(ctx, "id", rec); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Insert waited %v after the context was done", elapsed)
	}
}
