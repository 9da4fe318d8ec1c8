package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/expense-assistant/internal/api"
	"github.com/dvloznov/expense-assistant/internal/api/handlers"
	"github.com/dvloznov/expense-assistant/internal/app"
	"github.com/dvloznov/expense-assistant/internal/config"
	"github.com/dvloznov/expense-assistant/internal/logger"
)

func main() {
	var (
		envFile = flag.String("env", "", "Path to a .env file (defaults to ./.env when present)")
		addr    = flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	)
	flag.Parse()

	bootLog := logger.New()

	cfg, err := config.Load(*envFile)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to initialize assistant")
	}
	log := a.Log

	loc, _ := cfg.Location()

	// Start job workers in background
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if err := a.StartWorkers(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.QueueWorkers).Msg("Job workers started")

	if cfg.WhatsAppVerifyToken == "" {
		log.Warn().Msg("WHATSAPP_VERIFY_TOKEN not set - webhook verification will fail")
	}

	handler := api.NewHandler(api.Handlers{
		Webhook:    handlers.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, a.Queue, cfg.JobMaxRetries),
		Records:    handlers.NewRecordsHandler(a.Ledger, a.Taxonomy, a.Narrator, loc, cfg.AnalysisTimeout),
		Messages:   handlers.NewMessagesHandler(a.Router),
		Categories: handlers.NewCategoriesHandler(a.Taxonomy),
		Jobs:       handlers.NewJobsHandler(a.JobStore),
	}, cfg.APIKey, log)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AnalysisTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}

	log.Info().Msg("Server exited")
}
