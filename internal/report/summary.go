// Package report aggregates ledger records into period summaries and
// narrated trend analyses.
package report

import (
	"errors"
	"sort"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNoData is returned when there is nothing to summarize. It is an empty
// state, not a failure.
var ErrNoData = errors.New("no records in period")

var hundred = decimal.NewFromInt(100)

// percentPlaces bounds percentage precision; the rounding error across
// categories stays far below 0.01.
const percentPlaces = 6

// CategoryTotal is one category's share of a period.
type CategoryTotal struct {
	Category string          `json:"category"`
	Sum      decimal.Decimal `json:"sum"`
	Count    int             `json:"count"`
	Percent  decimal.Decimal `json:"percent"`
}

// Summary aggregates the records of one period.
type Summary struct {
	Period       domain.Period   `json:"-"`
	Total        decimal.Decimal `json:"total"`
	DailyAverage decimal.Decimal `json:"daily_average"`
	ActiveDays   int             `json:"active_days"`
	Count        int             `json:"count"`
	// ByCategory is ordered by Sum descending, then name. Categories without
	// records are absent.
	ByCategory []CategoryTotal `json:"by_category"`
}

// Category looks up one category's total.
func (s Summary) Category(name string) (CategoryTotal, bool) {
	for _, c := range s.ByCategory {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryTotal{}, false
}

// Summarize aggregates records inside period. A zero period includes every
// record. Days are counted in the period's location. Summarize does not
// modify records.
func Summarize(records []domain.Record, period domain.Period) (Summary, error) {
	loc := period.Location()
	all := period.Start.IsZero() && period.End.IsZero()

	type acc struct {
		sum   decimal.Decimal
		count int
	}
	byCat := make(map[string]*acc)
	days := make(map[string]struct{})
	total := decimal.Zero
	count := 0

	for _, r := range records {
		if !all && !period.Contains(r.OccurredAt) {
			continue
		}
		a, ok := byCat[r.Category]
		if !ok {
			a = &acc{}
			byCat[r.Category] = a
		}
		a.sum = a.sum.Add(r.Amount)
		a.count++
		total = total.Add(r.Amount)
		count++
		days[r.OccurredAt.In(loc).Format("2006-01-02")] = struct{}{}
	}

	if count == 0 {
		return Summary{Period: period}, ErrNoData
	}

	s := Summary{
		Period:     period,
		Total:      total,
		ActiveDays: len(days),
		Count:      count,
		ByCategory: make([]CategoryTotal, 0, len(byCat)),
	}
	s.DailyAverage = total.DivRound(decimal.NewFromInt(int64(len(days))), 2)

	for name, a := range byCat {
		ct := CategoryTotal{Category: name, Sum: a.sum, Count: a.count}
		if total.IsPositive() {
			ct.Percent = a.sum.Mul(hundred).DivRound(total, percentPlaces)
		}
		s.ByCategory = append(s.ByCategory, ct)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		a, b := s.ByCategory[i], s.ByCategory[j]
		if c := a.Sum.Cmp(b.Sum); c != 0 {
			return c > 0
		}
		return a.Category < b.Category
	})

	return s, nil
}
