// Package app wires configuration into a running assistant: ledger backend,
// extractor, router, job queue and transport.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-assistant/internal/config"
	"github.com/dvloznov/expense-assistant/internal/extraction"
	infraBQ "github.com/dvloznov/expense-assistant/internal/infra/bigquery"
	"github.com/dvloznov/expense-assistant/internal/jobs"
	"github.com/dvloznov/expense-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/expense-assistant/internal/ledger"
	"github.com/dvloznov/expense-assistant/internal/ledger/sheets"
	"github.com/dvloznov/expense-assistant/internal/ledger/sqlite"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/media"
	"github.com/dvloznov/expense-assistant/internal/onboarding"
	"github.com/dvloznov/expense-assistant/internal/report"
	"github.com/dvloznov/expense-assistant/internal/router"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/dvloznov/expense-assistant/internal/whatsapp"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	Taxonomy   *taxonomy.Taxonomy
	Ledger     *ledger.Ledger
	Extractor  extraction.Extractor
	Narrator   report.Narrator
	Onboarding *onboarding.Registry
	Router     *router.Router
	Sender     whatsapp.Sender
	WhatsApp   *whatsapp.Client
	Archive    *media.Archive
	JobStore   *inmemory.Store
	Queue      *inmemory.Queue
	Worker     *jobs.Worker

	closers []func() error
}

// New builds an App from cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		Log: logger.NewWithOptions(logger.Options{
			Level: cfg.LogLevel,
			JSON:  cfg.LogFormat == "json",
		}),
	}
	ctx = logger.WithContext(ctx, a.Log)

	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	a.Taxonomy, err = loadTaxonomy(cfg.TaxonomyFile)
	if err != nil {
		return err
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	a.Ledger = ledger.New(backend, a.Taxonomy, ledger.WithDedupeWindow(cfg.DedupeWindow))

	if cfg.GeminiAPIKey != "" {
		g, err := extraction.NewGemini(ctx, extraction.GeminiConfig{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
		if err != nil {
			return fmt.Errorf("create gemini client: %w", err)
		}
		a.Extractor = g
		a.Narrator = g
	} else {
		a.Log.Warn().Msg("GEMINI_API_KEY not set, using the offline rule-based extractor")
		a.Extractor = extraction.NewRules()
	}
	a.Extractor = extraction.WithTimeout(a.Extractor, cfg.ExtractionTimeout)

	opts := []router.Option{}
	if a.Narrator != nil {
		opts = append(opts, router.WithNarrator(a.Narrator))
	}
	reportKeyword := cfg.ReportKeyword
	if reportKeyword == "" {
		reportKeyword = router.DefaultReportKeyword
	}
	if cfg.OnboardingEnabled {
		a.Onboarding = onboarding.NewRegistry(reportKeyword)
		opts = append(opts, router.WithOnboarding(a.Onboarding))
	}
	a.Router = router.New(a.Ledger, a.Extractor, a.Taxonomy, router.Config{
		ReportKeyword:   reportKeyword,
		AnalysisKeyword: cfg.AnalysisKeyword,
		Location:        loc,
		AnalysisTimeout: cfg.AnalysisTimeout,
	}, opts...)

	if cfg.WhatsAppEnabled() {
		a.WhatsApp = whatsapp.NewClient(whatsapp.Config{
			Token:         cfg.WhatsAppToken,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
			BaseURL:       cfg.WhatsAppAPIURL,
		})
		a.Sender = a.WhatsApp
	} else {
		a.Log.Warn().Msg("WHATSAPP_TOKEN not set, replies are only logged")
		a.Sender = whatsapp.LogSender{}
	}

	workerOpts := []jobs.WorkerOption{}
	if a.WhatsApp != nil {
		workerOpts = append(workerOpts, jobs.WithDownloader(a.WhatsApp))
	}
	if cfg.MediaBucket != "" {
		a.Archive, err = media.NewArchive(ctx, cfg.MediaBucket, cfg.MediaPrefix)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.Archive.Close)
		workerOpts = append(workerOpts, jobs.WithArchive(a.Archive, media.ObjectName))
	}
	a.Worker = jobs.NewWorker(a.Router, a.Sender, workerOpts...)

	a.JobStore = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.QueueBuffer, a.JobStore,
		inmemory.WithWorkers(cfg.QueueWorkers),
		inmemory.WithDedupeWindow(cfg.DedupeWindow),
	)

	a.Log.Info().
		Str("ledger", cfg.LedgerBackend).
		Int("taxonomy_version", a.Taxonomy.Version()).
		Bool("gemini", a.Narrator != nil).
		Bool("whatsapp", a.WhatsApp != nil).
		Bool("media_archive", a.Archive != nil).
		Msg("Assistant initialized")
	return nil
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	tax, err := taxonomy.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy %s: %w", path, err)
	}
	return tax, nil
}

func (a *App) openBackend(ctx context.Context) (ledger.Backend, error) {
	cfg := a.Config
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		return ledger.NewMemoryBackend(), nil
	case config.BackendCSV:
		return ledger.NewCSVBackend(cfg.LedgerDir)
	case config.BackendSQLite:
		b, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	case config.BackendBigQuery:
		r, err := infraBQ.NewLedgerRepository(ctx, infraBQ.Config{
			ProjectID: cfg.GCPProjectID,
			DatasetID: cfg.BigQueryDataset,
			Table:     cfg.BigQueryTable,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case config.BackendSheets:
		return sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.SheetsID,
			CredentialsFile: cfg.SheetsCredentials,
		})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// StartWorkers begins consuming queued messages.
func (a *App) StartWorkers(ctx context.Context) error {
	return a.Queue.Start(logger.WithContext(ctx, a.Log), a.Worker.Handle)
}

// Close stops the queue and releases clients, in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
