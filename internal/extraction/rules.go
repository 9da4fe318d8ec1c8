package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/shopspring/decimal"
)

// Rules is an offline extractor: it finds amounts with a pattern and
// categories with taxonomy keywords. It reads text and tabular input only.
type Rules struct{}

// NewRules returns the offline extractor.
func NewRules() *Rules { return &Rules{} }

var (
	amountPattern  = regexp.MustCompile(`(?i)(?:r\$\s*)?(-?\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|-?\d+(?:[.,]\d{1,2})?)`)
	clauseSplitter = regexp.MustCompile(`(?i)\s*(?:[;\n]|\s+e\s+|,\s+e\s+|\s+mais\s+)\s*`)
)

// Extract implements Extractor.
func (r *Rules) Extract(ctx context.Context, in Input, tax *taxonomy.Taxonomy) Result {
	log := logger.FromContext(ctx).With().Str("extractor", "rules").Str("kind", in.Kind.String()).Logger()

	var records []domain.Record
	switch in.Kind {
	case KindText:
		records = r.fromText(in, tax)
	case KindTabular:
		records = r.fromTable(in, tax)
	default:
		return Failure(UnsupportedReason)
	}
	if len(records) == 0 {
		return Failure(NotAnExpenseReason)
	}
	for _, rec := range records {
		if rec.Category == "" {
			return Failure(CategoryReason)
		}
	}

	log.Info().Int("candidates", len(records)).Msg("Extraction succeeded")
	return Success(records)
}

func (r *Rules) fromText(in Input, tax *taxonomy.Taxonomy) []domain.Record {
	text := strings.TrimSpace(in.Text)
	clauses := clauseSplitter.Split(text, -1)

	var records []domain.Record
	for _, clause := range clauses {
		amount, ok := findAmount(clause)
		if !ok {
			continue
		}
		cat, sub, _ := tax.MatchKeywords(clause)
		if cat == "" {
			cat = tax.Fallback()
		}
		records = append(records, domain.Record{
			OccurredAt:  in.ReceivedAt,
			Category:    cat,
			Subcategory: sub,
			Amount:      amount,
			Description: strings.TrimSpace(clause),
		})
	}
	// A single expense keeps the whole message as its description.
	if len(records) == 1 {
		records[0].Description = text
	}
	return records
}

func findAmount(s string) (decimal.Decimal, bool) {
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, false
	}
	d, err := ParseAmount(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// fromTable maps recognizable columns. When the sheet mixes signs, only
// negative rows (money out) are kept, as magnitudes.
func (r *Rules) fromTable(in Input, tax *taxonomy.Taxonomy) []domain.Record {
	cols := detectColumns(in.Header)
	if cols.amount < 0 {
		return nil
	}

	type parsedRow struct {
		row    []string
		amount decimal.Decimal
	}
	var parsed []parsedRow
	hasNegative := false
	for _, row := range in.Rows {
		if cols.amount >= len(row) {
			continue
		}
		amount, err := ParseAmount(row[cols.amount])
		if err != nil || amount.IsZero() {
			continue
		}
		if amount.IsNegative() {
			hasNegative = true
		}
		parsed = append(parsed, parsedRow{row: row, amount: amount})
	}

	var records []domain.Record
	for _, p := range parsed {
		if hasNegative && p.amount.IsPositive() {
			continue
		}
		desc := cell(p.row, cols.description)
		cat, sub := "", ""
		if c := cell(p.row, cols.category); c != "" {
			cat, sub, _ = tax.Resolve(c, cell(p.row, cols.subcategory))
		}
		if cat == "" {
			cat, sub, _ = tax.MatchKeywords(desc)
		}
		if cat == "" {
			cat = tax.Fallback()
		}

		occurredAt := in.ReceivedAt
		if d := cell(p.row, cols.date); d != "" {
			if t, ok := parseTableDate(d, in); ok {
				occurredAt = t
			}
		}

		records = append(records, domain.Record{
			OccurredAt:  occurredAt,
			Category:    cat,
			Subcategory: sub,
			Amount:      p.amount.Abs(),
			Description: desc,
		})
	}
	return records
}

type columns struct {
	date, description, amount, category, subcategory int
}

var columnNames = map[string][]string{
	"date":        {"date", "data", "dt"},
	"description": {"description", "descricao", "descrição", "historico", "histórico", "lancamento", "lançamento", "memo"},
	"amount":      {"amount", "valor", "value", "quantia"},
	"category":    {"category", "categoria"},
	"subcategory": {"subcategory", "subcategoria"},
}

func detectColumns(header []string) columns {
	c := columns{-1, -1, -1, -1, -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, names := range columnNames {
			for _, n := range names {
				if h != n {
					continue
				}
				switch field {
				case "date":
					c.date = i
				case "description":
					c.description = i
				case "amount":
					c.amount = i
				case "category":
					c.category = i
				case "subcategory":
					c.subcategory = i
				}
			}
		}
	}
	return c
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
