// Package router decides what to do with one inbound chat message and
// produces exactly one reply for it.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/extraction"
	"github.com/dvloznov/expense-assistant/internal/ledger"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/onboarding"
	"github.com/dvloznov/expense-assistant/internal/report"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
)

// Default reserved keywords.
const (
	DefaultReportKeyword   = "relatorio"
	DefaultAnalysisKeyword = "analise"
)

// Fixed replies.
const (
	InternalErrorText    = "Desculpe, algo deu errado ao processar sua mensagem. Tente novamente."
	StoreUnavailableText = "❌ Erro ao salvar o gasto. Tente novamente mais tarde."
	ReadUnavailableText  = "Não consegui consultar seus gastos agora. Tente novamente mais tarde."
)

// MessageKind is the type of content a message carries.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
)

// Message is one inbound chat message with media already resolved.
type Message struct {
	ID         string      `json:"id"`
	Sender     string      `json:"sender"`
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text"`
	Media      []byte      `json:"-"`
	MIMEType   string      `json:"mime_type,omitempty"`
	Filename   string      `json:"filename,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Config holds the router's tunables.
type Config struct {
	ReportKeyword   string
	AnalysisKeyword string
	// Location defines "this month" for reports.
	Location *time.Location
	// AnalysisTimeout bounds the narrated analysis; zero means no limit
	// beyond the caller's context.
	AnalysisTimeout time.Duration
}

// Router routes messages between onboarding, reports, analysis and
// expense recording.
type Router struct {
	ledger     ledger.Store
	extractor  extraction.Extractor
	narrator   report.Narrator
	onboarding onboarding.Gate
	taxonomy   *taxonomy.Taxonomy
	cfg        Config
	now        func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithNarrator enables the analysis keyword.
func WithNarrator(n report.Narrator) Option {
	return func(r *Router) { r.narrator = n }
}

// WithOnboarding installs an onboarding gate. The default lets every
// message through.
func WithOnboarding(g onboarding.Gate) Option {
	return func(r *Router) { r.onboarding = g }
}

// WithClock overrides the clock used for "this month".
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router.
func New(store ledger.Store, extractor extraction.Extractor, tax *taxonomy.Taxonomy, cfg Config, opts ...Option) *Router {
	if cfg.ReportKeyword == "" {
		cfg.ReportKeyword = DefaultReportKeyword
	}
	if cfg.AnalysisKeyword == "" {
		cfg.AnalysisKeyword = DefaultAnalysisKeyword
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r := &Router{
		ledger:     store,
		extractor:  extractor,
		onboarding: onboarding.Disabled{},
		taxonomy:   tax,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes msg and returns the single reply to send back. It never
// panics.
func (r *Router) Handle(ctx context.Context, msg Message) (reply string) {
	log := logger.ForUser(logger.FromContext(ctx), msg.Sender, msg.ID)
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Recovered panic while handling message")
			reply = InternalErrorText
		}
	}()

	if strings.TrimSpace(msg.Sender) == "" {
		log.Warn().Msg("Message without sender")
		return InternalErrorText
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = r.now()
	}
	if msg.Kind == "" {
		msg.Kind = KindText
	}

	if text, done := r.onboarding.Check(ctx, msg.Sender, msg.Text); !done {
		return text
	}

	if msg.Kind == KindText {
		keyword := strings.TrimSpace(msg.Text)
		switch {
		case strings.EqualFold(keyword, r.cfg.ReportKeyword):
			log.Info().Msg("Report requested")
			return r.monthlyReport(ctx, msg)
		case strings.EqualFold(keyword, r.cfg.AnalysisKeyword):
			log.Info().Msg("Analysis requested")
			return r.analysis(ctx, msg)
		}
	}

	return r.recordExpenses(ctx, msg)
}

func (r *Router) monthlyReport(ctx context.Context, msg Message) string {
	log := logger.FromContext(ctx)
	period := domain.MonthOf(r.now().In(r.cfg.Location))

	records, err := r.ledger.Query(ctx, msg.Sender, &period)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query records")
		return ReadUnavailableText
	}

	summary, err := report.Summarize(records, period)
	if errors.Is(err, report.ErrNoData) {
		empty, err := r.ledger.IsEmpty(ctx, msg.Sender)
		if err != nil {
			log.Error().Err(err).Msg("Failed to check for records")
			return ReadUnavailableText
		}
		if empty {
			return report.NoRecordsText
		}
		return report.NoRecordsThisMonthText
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to summarize records")
		return InternalErrorText
	}
	return report.FormatSummary(summary, r.taxonomy.Label)
}

func (r *Router) analysis(ctx context.Context, msg Message) string {
	records, err := r.ledger.Query(ctx, msg.Sender, nil)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to query records")
		return ReadUnavailableText
	}
	if r.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AnalysisTimeout)
		defer cancel()
	}
	return report.TrendAnalysis(ctx, r.narrator, records, r.cfg.Location)
}

// outcome is what happened to one extracted candidate.
type outcome struct {
	rec      domain.Record
	err      error
	rejected bool
}

func (r *Router) recordExpenses(ctx context.Context, msg Message) string {
	log := logger.FromContext(ctx)

	in, err := r.input(msg)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("Unreadable attachment")
		return extraction.UnsupportedReason
	}

	res := r.extractor.Extract(ctx, in, r.taxonomy)
	if res.Failed() {
		log.Info().Str("reason", res.Reason).Msg("Extraction failed")
		return res.Reason
	}

	outcomes := make([]outcome, 0, len(res.Records))
	for i, cand := range res.Records {
		cand.SourceUser = msg.Sender
		if cand.OccurredAt.IsZero() {
			cand.OccurredAt = msg.ReceivedAt
		}

		key := ""
		if msg.ID != "" {
			key = fmt.Sprintf("%s#%d", msg.ID, i)
		}
		_, err := r.ledger.AppendOnce(ctx, key, cand)
		o := outcome{rec: cand, err: err, rejected: ledger.IsRejection(err)}
		if err != nil && !o.rejected {
			log.Error().Err(err).Int("candidate", i).Msg("Failed to append record")
		}
		if err == nil {
			// Report the category as stored.
			o.rec.Category, o.rec.Subcategory, _ = r.taxonomy.Resolve(cand.Category, cand.Subcategory)
		}
		outcomes = append(outcomes, o)
	}

	return formatOutcomes(outcomes, r.taxonomy.Label)
}

func (r *Router) input(msg Message) (extraction.Input, error) {
	var in extraction.Input
	switch msg.Kind {
	case KindText:
		in = extraction.Input{Kind: extraction.KindText, Text: msg.Text}
	case KindImage:
		if len(msg.Media) == 0 {
			return in, fmt.Errorf("image without content")
		}
		in = extraction.Input{Kind: extraction.KindImage, Text: msg.Text, Data: msg.Media, MIMEType: msg.MIMEType}
	case KindDocument:
		if len(msg.Media) == 0 {
			return in, fmt.Errorf("document without content")
		}
		var err error
		in, err = extraction.DocumentInput(msg.Media, msg.MIMEType, msg.Filename, msg.Text)
		if err != nil {
			return in, err
		}
	default:
		return in, fmt.Errorf("unsupported message kind %q", msg.Kind)
	}
	in.ReceivedAt = msg.ReceivedAt
	in.Location = r.cfg.Location
	return in, nil
}
