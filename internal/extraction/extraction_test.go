package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

var testTax = taxonomy.MustDefault()

// mockGenerator is a mock implementation of generator for testing.
type mockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func respondWith(text string) *mockGenerator {
	return &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(text), nil
		},
	}
}

func TestGemini_ExtractSingleExpense(t *testing.T) {
	received := time.Date(2025, 3, 10, 12, 15, 0, 0, time.UTC)
	var gotPrompt string
	gen := &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if model != DefaultModelName {
				t.Errorf("model = %q, want %q", model, DefaultModelName)
			}
			if config == nil || config.ResponseMIMEType != "application/json" {
				t.Error("expected JSON response mode")
			}
			gotPrompt = contents[0].Parts[0].Text
			return textResponse("```json\n" +
				`{"success": true, "message": "", "transactions": [` +
				`{"category": "Alimentação", "subcategory": "restaurant", "amount": 50.00, "description": "almoço", "date": null}]}` +
				"\n```"), nil
		},
	}

	res := newGemini(gen, "").Extract(context.Background(), TextInput("Gastei 50 reais no almoço", received), testTax)
	if res.Failed() {
		t.Fatalf("expected success, got failure %q", res.Reason)
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Category != "food" || rec.Subcategory != "restaurant" {
		t.Errorf("category = %q/%q, want food/restaurant", rec.Category, rec.Subcategory)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("amount = %s, want 50", rec.Amount)
	}
	if !strings.Contains(rec.Description, "almoço") {
		t.Errorf("description %q does not mention almoço", rec.Description)
	}
	if !rec.OccurredAt.Equal(received) {
		t.Errorf("OccurredAt = %v, want %v", rec.OccurredAt, received)
	}
	if !strings.Contains(gotPrompt, "Gastei 50 reais no almoço") || !strings.Contains(gotPrompt, "restaurant") {
		t.Error("prompt must carry the message and the taxonomy")
	}
}

func TestGemini_ExtractManyFromImage(t *testing.T) {
	var gotBlob *genai.Blob
	gen := &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotBlob = contents[0].Parts[1].InlineData
			return textResponse(`Here you go: [` +
				`{"category": "food", "subcategory": "groceries", "amount": "12,50", "description": "pão", "date": "2025-03-01"},` +
				`{"category": "crypto", "amount": 7, "description": "?"}]`), nil
		},
	}

	in := Input{Kind: KindImage, Data: []byte{0xff, 0xd8}, MIMEType: "image/jpeg", Location: time.UTC}
	res := newGemini(gen, "gemini-test").Extract(context.Background(), in, testTax)
	if res.Failed() {
		t.Fatalf("expected success, got %q", res.Reason)
	}
	if gotBlob == nil || gotBlob.MIMEType != "image/jpeg" {
		t.Fatalf("image not sent inline: %+v", gotBlob)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	if !res.Records[0].Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("amount = %s, want 12.5", res.Records[0].Amount)
	}
	wantDate := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if !res.Records[0].OccurredAt.Equal(wantDate) {
		t.Errorf("OccurredAt = %v, want %v", res.Records[0].OccurredAt, wantDate)
	}
	if res.Records[1].Category != "other" {
		t.Errorf("unknown category = %q, want other", res.Records[1].Category)
	}
}

func TestGemini_ExtractFailures(t *testing.T) {
	tests := []struct {
		name       string
		gen        *mockGenerator
		in         Input
		wantReason string
	}{
		{
			name:       "model says not an expense",
			gen:        respondWith(`{"success": false, "message": "Olá! Me conte seus gastos.", "transactions": []}`),
			in:         TextInput("oi", time.Now()),
			wantReason: "Olá! Me conte seus gastos.",
		},
		{
			name:       "garbage output",
			gen:        respondWith("I cannot help with that"),
			in:         TextInput("qualquer coisa", time.Now()),
			wantReason: NotAnExpenseReason,
		},
		{
			name:       "empty transactions",
			gen:        respondWith(`{"success": true, "transactions": []}`),
			in:         TextInput("nada", time.Now()),
			wantReason: NotAnExpenseReason,
		},
		{
			name:       "missing amount",
			gen:        respondWith(`{"success": true, "transactions": [{"category": "food", "description": "x"}]}`),
			in:         TextInput("x", time.Now()),
			wantReason: NotAnExpenseReason,
		},
		{
			name: "backend error",
			gen: &mockGenerator{
				GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return nil, errors.New("503 unavailable")
				},
			},
			in:         TextInput("Gastei 10", time.Now()),
			wantReason: UnavailableReason,
		},
		{
			name: "backend deadline",
			gen: &mockGenerator{
				GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return nil, context.DeadlineExceeded
				},
			},
			in:         TextInput("Gastei 10", time.Now()),
			wantReason: TimeoutReason,
		},
		{
			name:       "image without bytes",
			gen:        respondWith(`{}`),
			in:         Input{Kind: KindImage},
			wantReason: UnsupportedReason,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newGemini(tt.gen, "").Extract(context.Background(), tt.in, testTax)
			if !res.Failed() {
				t.Fatalf("expected failure, got %+v", res.Records)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestGemini_UncoercibleCategory(t *testing.T) {
	strict, err := taxonomy.New(1, "", []taxonomy.Category{{Name: "food"}})
	if err != nil {
		t.Fatal(err)
	}
	gen := respondWith(`{"success": true, "transactions": [{"category": "rent", "amount": 900, "description": "aluguel"}]}`)

	res := newGemini(gen, "").Extract(context.Background(), TextInput("aluguel 900", time.Now()), strict)
	if res.Reason != CategoryReason {
		t.Errorf("reason = %q, want %q", res.Reason, CategoryReason)
	}
}

func TestGemini_Narrate(t *testing.T) {
	gen := &mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if config.SystemInstruction == nil {
				t.Error("expected analyst system instruction")
			}
			return textResponse("Você gasta muito com delivery."), nil
		},
	}
	text, err := newGemini(gen, "").Narrate(context.Background(), "dados")
	if err != nil {
		t.Fatalf("Narrate failed: %v", err)
	}
	if text != "Você gasta muito com delivery." {
		t.Errorf("unexpected narration %q", text)
	}

	if _, err := newGemini(respondWith(""), "").Narrate(context.Background(), "dados"); err == nil {
		t.Error("expected error for empty narration")
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"fenced json", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced bare", "```\n[1,2]\n```", `[1,2]`},
		{"chatter around object", "Sure! {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
		{"array first", "result: [{\"a\":1}]", `[{"a":1}]`},
		{"no json", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.raw); got != tt.want {
				t.Errorf("cleanModelJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"50", "50", false},
		{"45,90", "45.9", false},
		{"R$ 1.234,56", "1234.56", false},
		{"1,234.56", "1234.56", false},
		{"12.50", "12.5", false},
		{"1.500", "1500", false},
		{"-30,00", "-30", false},
		{"100 reais", "100", false},
		{"", "", true},
		{"1,2,3", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
