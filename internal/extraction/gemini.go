package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for extraction and analysis.
const DefaultModelName = "gemini-2.5-flash"

const analystInstruction = "Você é um analista financeiro especializado em finanças pessoais. Responda em português."

// generator is the part of *genai.Models the adapter uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini extracts records and narrates analyses with a Gemini model.
type Gemini struct {
	models generator
	model  string
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewGemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return newGemini(client.Models, cfg.Model), nil
}

func newGemini(models generator, model string) *Gemini {
	if model == "" {
		model = DefaultModelName
	}
	return &Gemini{models: models, model: model}
}

// Extract implements Extractor.
func (g *Gemini) Extract(ctx context.Context, in Input, tax *taxonomy.Taxonomy) Result {
	log := logger.FromContext(ctx).With().Str("extractor", "gemini").Str("kind", in.Kind.String()).Logger()

	parts := []*genai.Part{{Text: buildExtractionPrompt(in, tax)}}
	switch in.Kind {
	case KindImage, KindDocument:
		if len(in.Data) == 0 {
			return Failure(UnsupportedReason)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: in.MIMEType,
				Data:     in.Data,
			},
		})
	case KindText:
		if in.Text == "" {
			return Failure(NotAnExpenseReason)
		}
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: parts,
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		log.Error().Err(err).Msg("Generate content failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return Failure(TimeoutReason)
		}
		return Failure(UnavailableReason)
	}

	rawText := resp.Text()
	if rawText == "" {
		log.Warn().Msg("Empty response from model")
		return Failure(NotAnExpenseReason)
	}

	output, err := decodeModelOutput(cleanModelJSON(rawText))
	if err != nil {
		log.Warn().Err(err).Str("raw_response", rawText).Msg("Unparseable model output")
		return Failure(NotAnExpenseReason)
	}

	records, err := transformModelOutput(output, in, tax)
	if err != nil {
		var notExpense *errNotExpense
		switch {
		case errors.As(err, &notExpense):
			if notExpense.message != "" {
				return Failure(notExpense.message)
			}
			return Failure(NotAnExpenseReason)
		case errors.Is(err, taxonomy.ErrUnknownCategory):
			log.Warn().Err(err).Msg("Model returned a category outside the taxonomy")
			return Failure(CategoryReason)
		default:
			log.Warn().Err(err).Str("raw_response", rawText).Msg("Invalid model output")
			return Failure(NotAnExpenseReason)
		}
	}

	log.Info().Int("candidates", len(records)).Msg("Extraction succeeded")
	return Success(records)
}

// Narrate implements Narrator.
func (g *Gemini) Narrate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: analystInstruction}},
		},
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Narrate: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Narrate: empty response from model")
	}
	return text, nil
}
