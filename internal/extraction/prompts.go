package extraction

import (
	"fmt"
	"strings"

	"github.com/dvloznov/expense-assistant/internal/taxonomy"
)

// buildTaxonomyPrompt lists the categories and subcategories the model may
// use, formatted for LLM consumption.
func buildTaxonomyPrompt(tax *taxonomy.Taxonomy) string {
	var b strings.Builder
	b.WriteString("Use ONLY the following categories and subcategories:\n\n")

	for _, c := range tax.Categories() {
		b.WriteString(c.Name)
		if len(c.Aliases) > 0 {
			b.WriteString(" (também: " + strings.Join(c.Aliases, ", ") + ")")
		}
		b.WriteString(":\n")
		subs := tax.Subcategories(c.Name)
		if len(subs) == 0 {
			b.WriteString("  (no subcategories - use empty string \"\")\n\n")
			continue
		}
		for _, s := range subs {
			b.WriteString("  - " + s + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("CATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. Category must be EXACTLY one of the category names shown above (lower case, in English).\n")
	b.WriteString("2. Subcategory must be one listed under the chosen category, or empty string \"\" if none fits.\n")
	if fb := tax.Fallback(); fb != "" {
		b.WriteString(fmt.Sprintf("3. If you are unsure, use category %q with subcategory \"\".\n", fb))
	}
	return b.String()
}

const systemPrompt = "Você é um assistente financeiro especializado em:\n" +
	"1. Extrair informações de gastos de mensagens em linguagem natural\n" +
	"2. Categorizar gastos apropriadamente\n" +
	"3. Identificar valores e descrições\n"

const outputPrompt = "Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"Return a JSON object with these fields:\n" +
	"- \"success\": boolean, false when the input does not describe any expense\n" +
	"- \"message\": string, a short explanation in Portuguese when success is false\n" +
	"- \"transactions\": array of objects, one per expense, each with:\n" +
	"  - \"category\": string\n" +
	"  - \"subcategory\": string\n" +
	"  - \"amount\": number, the positive amount spent in BRL\n" +
	"  - \"description\": string, short description in the user's words\n" +
	"  - \"date\": string \"YYYY-MM-DD\" or null when the input has no date\n\n" +
	"Do NOT wrap the response in code fences.\n"

// buildExtractionPrompt is the user prompt for one input.
func buildExtractionPrompt(in Input, tax *taxonomy.Taxonomy) string {
	var task string
	switch in.Kind {
	case KindImage:
		task = "Task:\n- Read the attached image (receipt, invoice or screenshot) and extract every expense it shows.\n" +
			"- For a receipt with many lines, report one transaction per purchased item only when the user asks for detail; otherwise one transaction with the total.\n"
	case KindDocument:
		task = "Task:\n- Parse ALL outgoing payments in the attached document (bank statement or invoice).\n" +
			"- Ignore incoming money, transfers between own accounts and balances.\n"
	case KindTabular:
		task = "Task:\n- Each row below is a line from a spreadsheet or CSV export. Extract every outgoing payment.\n" +
			"- Ignore incoming money and balance rows. Report amounts as positive numbers.\n\n" +
			renderTable(in.Header, in.Rows)
	default:
		task = "Task:\n- Extract every expense mentioned in the user's message below.\n\nMessage:\n" + in.Text + "\n"
	}
	if in.Kind != KindText && strings.TrimSpace(in.Text) != "" {
		task += "\nUser caption: " + in.Text + "\n"
	}
	if !in.ReceivedAt.IsZero() {
		task += "\nToday is " + in.ReceivedAt.In(in.location()).Format("2006-01-02") + ".\n"
	}

	return task + "\n" + buildTaxonomyPrompt(tax) + "\n" + outputPrompt
}

func renderTable(header []string, rows [][]string) string {
	var b strings.Builder
	if len(header) > 0 {
		b.WriteString(strings.Join(header, " | ") + "\n")
	}
	for _, r := range rows {
		b.WriteString(strings.Join(r, " | ") + "\n")
	}
	return b.String()
}
