// Package extraction turns a user message (text, image, document or tabular
// rows) into candidate expense records.
package extraction

import (
	"context"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
)

// Kind is the shape of an extraction input.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindDocument
	KindTabular
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindDocument:
		return "document"
	case KindTabular:
		return "tabular"
	default:
		return "unknown"
	}
}

// Input is one message's content handed to an Extractor.
type Input struct {
	Kind Kind

	// Text is the message body, or the caption of an attachment.
	Text string

	// Data and MIMEType carry image or document bytes.
	Data     []byte
	MIMEType string

	// Header and Rows carry tabular content.
	Header []string
	Rows   [][]string

	// ReceivedAt becomes OccurredAt for candidates without their own date.
	ReceivedAt time.Time
	// Location is used to interpret bare dates; UTC when nil.
	Location *time.Location
}

func (in Input) location() *time.Location {
	if in.Location == nil {
		return time.UTC
	}
	return in.Location
}

// TextInput is a convenience constructor for plain messages.
func TextInput(text string, receivedAt time.Time) Input {
	return Input{Kind: KindText, Text: text, ReceivedAt: receivedAt}
}

// Result is either a success carrying one or more candidates or a failure
// carrying a reason fit to show the user.
type Result struct {
	Records []domain.Record
	Reason  string
}

// Success wraps candidates. An empty slice is a failure: nothing to record.
func Success(records []domain.Record) Result {
	if len(records) == 0 {
		return Failure(NotAnExpenseReason)
	}
	return Result{Records: records}
}

// Failure builds a failed result.
func Failure(reason string) Result {
	if reason == "" {
		reason = NotAnExpenseReason
	}
	return Result{Reason: reason}
}

// Failed reports whether extraction produced no candidates.
func (r Result) Failed() bool { return r.Reason != "" || len(r.Records) == 0 }

// Failure reasons shown to users.
const (
	NotAnExpenseReason = "Não consegui identificar um gasto nessa mensagem. Tente algo como: \"Gastei 50 reais no almoço\"."
	UnavailableReason  = "O serviço de interpretação está indisponível no momento. Tente novamente mais tarde."
	TimeoutReason      = "Não consegui processar sua mensagem a tempo. Tente novamente em instantes."
	UnsupportedReason  = "Ainda não consigo ler esse tipo de arquivo. Envie o gasto por texto, foto ou CSV."
	CategoryReason     = "Não consegui encaixar o gasto em nenhuma categoria conhecida."
)

// Extractor interprets an input against the taxonomy. Implementations never
// panic and never return errors; every problem is a Failure.
type Extractor interface {
	Extract(ctx context.Context, in Input, tax *taxonomy.Taxonomy) Result
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, in Input, tax *taxonomy.Taxonomy) Result

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, in Input, tax *taxonomy.Taxonomy) Result {
	return f(ctx, in, tax)
}
