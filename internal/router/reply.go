package router

import (
	"fmt"
	"strings"

	"github.com/dvloznov/expense-assistant/internal/domain"
)

// formatOutcomes renders the confirmation for one message's candidates.
func formatOutcomes(outcomes []outcome, label func(string) string) string {
	saved, rejected, failed := 0, 0, 0
	for _, o := range outcomes {
		switch {
		case o.err == nil:
			saved++
		case o.rejected:
			rejected++
		default:
			failed++
		}
	}

	if len(outcomes) == 1 {
		o := outcomes[0]
		switch {
		case o.err == nil:
			return fmt.Sprintf("✅ Gasto registrado com sucesso!\n\nCategoria: %s\nValor: R$ %s\nDescrição: %s",
				label(o.rec.Category), o.rec.Amount.StringFixed(2), o.rec.Description)
		case o.rejected:
			return "⚠️ Gasto não registrado: " + rejectionReason(o.rec)
		default:
			return StoreUnavailableText
		}
	}

	var b strings.Builder
	switch {
	case saved == len(outcomes):
		fmt.Fprintf(&b, "✅ %d gastos registrados com sucesso!\n", saved)
	case saved > 0:
		fmt.Fprintf(&b, "✅ %d de %d gastos registrados.\n", saved, len(outcomes))
	case failed > 0:
		b.WriteString(StoreUnavailableText + "\n")
	default:
		b.WriteString("⚠️ Nenhum gasto foi registrado.\n")
	}
	b.WriteString("\n")

	for i, o := range outcomes {
		desc := o.rec.Description
		if desc == "" {
			desc = "sem descrição"
		}
		switch {
		case o.err == nil:
			fmt.Fprintf(&b, "%d. %s: R$ %s (%s)\n", i+1, label(o.rec.Category), o.rec.Amount.StringFixed(2), desc)
		case o.rejected:
			fmt.Fprintf(&b, "%d. ⚠️ %s: %s\n", i+1, desc, rejectionReason(o.rec))
		default:
			fmt.Fprintf(&b, "%d. ❌ %s: não foi salvo\n", i+1, desc)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func rejectionReason(rec domain.Record) string {
	if !rec.Amount.IsPositive() {
		return fmt.Sprintf("o valor precisa ser maior que zero (recebi R$ %s).", rec.Amount.StringFixed(2))
	}
	return "os dados do gasto estão incompletos."
}
