package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// MockNarrator is a mock implementation of Narrator for testing.
type MockNarrator struct {
	NarrateFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *MockNarrator) Narrate(ctx context.Context, prompt string) (string, error) {
	return m.NarrateFunc(ctx, prompt)
}

var brt = time.FixedZone("BRT", -3*3600)

func rec(category, amount string, at time.Time) domain.Record {
	return domain.Record{
		OccurredAt: at,
		Category:   category,
		Amount:     decimal.RequireFromString(amount),
		SourceUser: "u1",
	}
}

func TestSummarize_TwoCategories(t *testing.T) {
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, brt)
	period := domain.MonthOf(day)
	records := []domain.Record{
		rec("food", "30", day),
		rec("transport", "20", day.Add(time.Hour)),
	}

	s, err := Summarize(records, period)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if !s.Total.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Total = %s, want 50", s.Total)
	}
	want := map[string][2]int64{"food": {30, 60}, "transport": {20, 40}}
	if len(s.ByCategory) != len(want) {
		t.Fatalf("got %d categories, want %d", len(s.ByCategory), len(want))
	}
	for name, w := range want {
		c, ok := s.Category(name)
		if !ok {
			t.Fatalf("missing category %s", name)
		}
		if !c.Sum.Equal(decimal.NewFromInt(w[0])) || !c.Percent.Equal(decimal.NewFromInt(w[1])) || c.Count != 1 {
			t.Errorf("%s = %+v, want sum %d percent %d", name, c, w[0], w[1])
		}
	}
	if s.ByCategory[0].Category != "food" {
		t.Errorf("largest category first, got %s", s.ByCategory[0].Category)
	}
	if !s.DailyAverage.Equal(decimal.NewFromInt(50)) || s.ActiveDays != 1 {
		t.Errorf("DailyAverage = %s over %d days, want 50 over 1", s.DailyAverage, s.ActiveDays)
	}
}

func TestSummarize_NoData(t *testing.T) {
	period := domain.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, brt))
	tests := []struct {
		name    string
		records []domain.Record
	}{
		{"nil", nil},
		{"empty", []domain.Record{}},
		{"outside period", []domain.Record{rec("food", "10", time.Date(2025, 2, 28, 12, 0, 0, 0, brt))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Summarize(tt.records, period)
			if !errors.Is(err, ErrNoData) {
				t.Errorf("expected ErrNoData, got %v", err)
			}
		})
	}
}

func TestSummarize_PercentagesSumToHundred(t *testing.T) {
	day := time.Date(2025, 5, 1, 9, 0, 0, 0, brt)
	records := []domain.Record{
		rec("food", "10", day),
		rec("transport", "10", day),
		rec("leisure", "10", day),
		rec("health", "0.01", day),
		rec("housing", "1234.56", day),
		rec("food", "7.77", day),
	}
	s, err := Summarize(records, domain.Period{})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	sum := decimal.Zero
	for _, c := range s.ByCategory {
		sum = sum.Add(c.Percent)
	}
	if diff := sum.Sub(hundred).Abs(); diff.GreaterThan(decimal.RequireFromString("0.0001")) {
		t.Errorf("percentages sum to %s", sum)
	}
}

func TestSummarize_DailyAverageUsesDistinctDays(t *testing.T) {
	period := domain.MonthOf(time.Date(2025, 3, 1, 0, 0, 0, 0, brt))
	records := []domain.Record{
		rec("food", "10", time.Date(2025, 3, 1, 8, 0, 0, 0, brt)),
		rec("food", "20", time.Date(2025, 3, 1, 22, 0, 0, 0, brt)),
		// 01:30 UTC on the 3rd is still the 2nd in BRT.
		rec("food", "30", time.Date(2025, 3, 3, 1, 30, 0, 0, time.UTC)),
	}
	s, err := Summarize(records, period)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.ActiveDays != 2 {
		t.Errorf("ActiveDays = %d, want 2", s.ActiveDays)
	}
	if !s.DailyAverage.Equal(decimal.NewFromInt(30)) {
		t.Errorf("DailyAverage = %s, want 30", s.DailyAverage)
	}
	if len(s.ByCategory) != 1 || s.ByCategory[0].Count != 3 {
		t.Errorf("unexpected categories %+v", s.ByCategory)
	}
}

func TestSummarize_Idempotent(t *testing.T) {
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, brt)
	records := []domain.Record{rec("food", "30", day), rec("transport", "20", day)}
	snapshot := append([]domain.Record(nil), records...)

	first, err1 := Summarize(records, domain.MonthOf(day))
	second, err2 := Summarize(records, domain.MonthOf(day))
	if err1 != nil || err2 != nil {
		t.Fatalf("Summarize failed: %v, %v", err1, err2)
	}
	if FormatSummary(first, nil) != FormatSummary(second, nil) {
		t.Error("repeated Summarize produced different output")
	}
	for i := range records {
		if !records[i].Equal(snapshot[i]) {
			t.Errorf("record %d modified", i)
		}
	}
}

func TestFormatSummary(t *testing.T) {
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, brt)
	s, err := Summarize([]domain.Record{rec("food", "30", day), rec("transport", "20", day)}, domain.MonthOf(day))
	if err != nil {
		t.Fatal(err)
	}

	labels := map[string]string{"food": "Alimentação"}
	text := FormatSummary(s, func(c string) string {
		if l, ok := labels[c]; ok {
			return l
		}
		return c
	})

	for _, want := range []string{
		"Total Gasto: R$ 50.00",
		"Média Diária: R$ 50.00",
		"- Alimentação: R$ 30.00 (60.0%)",
		"- transport: R$ 20.00 (40.0%)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary text missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "Alimentação") > strings.Index(text, "transport") {
		t.Error("categories must be listed largest first")
	}

	if got := FormatSummary(s, nil); !strings.Contains(got, "- Food: R$ 30.00") {
		t.Errorf("default label not capitalized:\n%s", got)
	}
}

func TestBuildDigest(t *testing.T) {
	records := []domain.Record{
		rec("food", "10", time.Date(2025, 1, 31, 23, 0, 0, 0, brt)),
		rec("food", "20", time.Date(2025, 2, 1, 1, 0, 0, 0, brt)),
		rec("transport", "5.5", time.Date(2025, 2, 3, 1, 0, 0, 0, brt)),
	}
	d := BuildDigest(records, brt)

	if len(d.ByCategory) != 2 || d.ByCategory[0].Category != "food" {
		t.Fatalf("unexpected categories %+v", d.ByCategory)
	}
	food := d.ByCategory[0]
	if !food.Sum.Equal(decimal.NewFromInt(30)) || food.Count != 2 || !food.Mean.Equal(decimal.NewFromInt(15)) {
		t.Errorf("food stats = %+v", food)
	}
	if len(d.ByMonth) != 2 || d.ByMonth[0].Month != "2025-01" || !d.ByMonth[1].Sum.Equal(decimal.RequireFromString("25.5")) {
		t.Errorf("monthly totals = %+v", d.ByMonth)
	}
	if !strings.Contains(AnalysisPrompt(d), "Sugestões específicas de economia") {
		t.Error("prompt must ask for savings suggestions")
	}
}

func TestTrendAnalysis(t *testing.T) {
	records := []domain.Record{rec("food", "10", time.Now())}

	tests := []struct {
		name     string
		narrator Narrator
		records  []domain.Record
		timeout  time.Duration
		want     string
	}{
		{
			name:    "no records",
			records: nil,
			want:    NotEnoughDataText,
		},
		{
			name: "narration",
			narrator: &MockNarrator{NarrateFunc: func(ctx context.Context, prompt string) (string, error) {
				if !strings.Contains(prompt, "food") {
					t.Error("prompt must include the digest")
				}
				return "Gaste menos com comida.", nil
			}},
			records: records,
			want:    "Gaste menos com comida.",
		},
		{
			name: "narrator error",
			narrator: &MockNarrator{NarrateFunc: func(ctx context.Context, prompt string) (string, error) {
				return "", errors.New("quota exceeded")
			}},
			records: records,
			want:    Apology,
		},
		{
			name: "narrator hangs",
			narrator: &MockNarrator{NarrateFunc: func(ctx context.Context, prompt string) (string, error) {
				time.Sleep(500 * time.Millisecond)
				return "late", nil
			}},
			records: records,
			timeout: 20 * time.Millisecond,
			want:    Apology,
		},
		{
			name: "narrator panics",
			narrator: &MockNarrator{NarrateFunc: func(ctx context.Context, prompt string) (string, error) {
				panic("boom")
			}},
			records: records,
			want:    Apology,
		},
		{
			name:    "no narrator",
			records: records,
			want:    Apology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			if got := TrendAnalysis(ctx, tt.narrator, tt.records, brt); got != tt.want {
				t.Errorf("TrendAnalysis() = %q, want %q", got, tt.want)
			}
		})
	}
}
