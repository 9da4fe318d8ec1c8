package report

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Empty-state replies.
const (
	NoRecordsText          = "Nenhum gasto registrado ainda."
	NoRecordsThisMonthText = "Nenhum gasto registrado este mês."
)

// FormatSummary renders a monthly summary for chat. label maps a category
// to its display name; nil capitalizes the canonical name.
func FormatSummary(s Summary, label func(string) string) string {
	if label == nil {
		label = capitalize
	}

	var b strings.Builder
	b.WriteString("📊 *Resumo Financeiro do Mês*\n\n")
	fmt.Fprintf(&b, "💰 Total Gasto: R$ %s\n", s.Total.StringFixed(2))
	fmt.Fprintf(&b, "📅 Média Diária: R$ %s\n", s.DailyAverage.StringFixed(2))
	b.WriteString("\n*Gastos por Categoria:*\n")
	for _, c := range s.ByCategory {
		fmt.Fprintf(&b, "- %s: R$ %s (%s%%)\n", label(c.Category), c.Sum.StringFixed(2), c.Percent.StringFixed(1))
	}
	return strings.TrimRight(b.String(), "\n")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
