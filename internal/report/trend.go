package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/shopspring/decimal"
)

// Fixed analysis replies.
const (
	NotEnoughDataText = "Ainda não há dados suficientes para análise."
	Apology           = "Desculpe, não consegui gerar a análise agora. Tente novamente mais tarde."
)

// Narrator answers free-form analysis prompts.
type Narrator interface {
	Narrate(ctx context.Context, prompt string) (string, error)
}

// CategoryStats is one digest line per category.
type CategoryStats struct {
	Category string          `json:"category"`
	Sum      decimal.Decimal `json:"sum"`
	Count    int             `json:"count"`
	Mean     decimal.Decimal `json:"mean"`
}

// MonthTotal is the spending of one calendar month ("2006-01").
type MonthTotal struct {
	Month string          `json:"month"`
	Sum   decimal.Decimal `json:"sum"`
}

// Digest is the compact statistical view sent to the narrator.
type Digest struct {
	ByCategory []CategoryStats `json:"by_category"`
	ByMonth    []MonthTotal    `json:"by_month"`
}

// BuildDigest computes per-category sum, count and mean, and per-month sums
// with months taken in loc.
func BuildDigest(records []domain.Record, loc *time.Location) Digest {
	if loc == nil {
		loc = time.UTC
	}
	cats := make(map[string]*CategoryStats)
	months := make(map[string]decimal.Decimal)
	for _, r := range records {
		c, ok := cats[r.Category]
		if !ok {
			c = &CategoryStats{Category: r.Category}
			cats[r.Category] = c
		}
		c.Sum = c.Sum.Add(r.Amount)
		c.Count++

		m := r.OccurredAt.In(loc).Format("2006-01")
		months[m] = months[m].Add(r.Amount)
	}

	var d Digest
	for _, c := range cats {
		c.Mean = c.Sum.DivRound(decimal.NewFromInt(int64(c.Count)), 2)
		d.ByCategory = append(d.ByCategory, *c)
	}
	sort.Slice(d.ByCategory, func(i, j int) bool { return d.ByCategory[i].Category < d.ByCategory[j].Category })

	for m, sum := range months {
		d.ByMonth = append(d.ByMonth, MonthTotal{Month: m, Sum: sum})
	}
	sort.Slice(d.ByMonth, func(i, j int) bool { return d.ByMonth[i].Month < d.ByMonth[j].Month })
	return d
}

// String renders the digest as two plain text tables.
func (d Digest) String() string {
	var b strings.Builder
	b.WriteString("Resumo por categoria:\n")
	b.WriteString(fmt.Sprintf("%-16s %12s %6s %12s\n", "categoria", "soma", "qtd", "média"))
	for _, c := range d.ByCategory {
		b.WriteString(fmt.Sprintf("%-16s %12s %6d %12s\n", c.Category, c.Sum.StringFixed(2), c.Count, c.Mean.StringFixed(2)))
	}
	b.WriteString("\nTendência mensal:\n")
	for _, m := range d.ByMonth {
		b.WriteString(fmt.Sprintf("%-8s %12s\n", m.Month, m.Sum.StringFixed(2)))
	}
	return b.String()
}

// AnalysisPrompt asks for insights, savings, anomalies and forecasts.
func AnalysisPrompt(d Digest) string {
	return "Analise os seguintes dados financeiros (valores em R$) e forneça insights detalhados:\n\n" +
		d.String() + "\n" +
		"Forneça:\n" +
		"1. Principais insights sobre os padrões de gastos\n" +
		"2. Sugestões específicas de economia baseadas nos dados\n" +
		"3. Identificação de possíveis gastos anormais ou excessivos\n" +
		"4. Previsões e tendências futuras\n" +
		"5. Recomendações práticas para melhor gestão financeira\n"
}

// TrendAnalysis narrates the user's records. It never fails: no records
// yields NotEnoughDataText and any narrator problem, including ctx expiring
// while the narrator is still running, yields Apology.
func TrendAnalysis(ctx context.Context, n Narrator, records []domain.Record, loc *time.Location) string {
	if len(records) == 0 {
		return NotEnoughDataText
	}
	if n == nil {
		return Apology
	}
	log := logger.FromContext(ctx)
	prompt := AnalysisPrompt(BuildDigest(records, loc))

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("narrator panic: %v", r)}
			}
		}()
		text, err := n.Narrate(ctx, prompt)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Error().Err(r.err).Msg("Trend analysis failed")
			return Apology
		}
		if strings.TrimSpace(r.text) == "" {
			return Apology
		}
		return r.text
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("Trend analysis timed out")
		return Apology
	}
}
