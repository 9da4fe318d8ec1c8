// Package config loads the assistant's settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Ledger backends selectable with LEDGER_BACKEND.
const (
	BackendMemory   = "memory"
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
	BackendSheets   = "sheets"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Logging
	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"` // console or json

	// HTTP
	HTTPAddr string `koanf:"HTTP_ADDR"`
	// APIKey protects /api/*; empty disables the check.
	APIKey string `koanf:"API_KEY"`

	// Ledger
	LedgerBackend     string `koanf:"LEDGER_BACKEND"`
	LedgerDir         string `koanf:"LEDGER_DIR"`
	SQLitePath        string `koanf:"SQLITE_PATH"`
	GCPProjectID      string `koanf:"GCP_PROJECT_ID"`
	BigQueryDataset   string `koanf:"BIGQUERY_DATASET"`
	BigQueryTable     string `koanf:"BIGQUERY_TABLE"`
	SheetsID          string `koanf:"SHEETS_SPREADSHEET_ID"`
	SheetsCredentials string `koanf:"SHEETS_CREDENTIALS_FILE"`

	// TaxonomyFile overrides the embedded category taxonomy.
	TaxonomyFile string `koanf:"TAXONOMY_FILE"`

	// Extraction and analysis
	GeminiAPIKey      string        `koanf:"GEMINI_API_KEY"`
	GeminiModel       string        `koanf:"GEMINI_MODEL"`
	ExtractionTimeout time.Duration `koanf:"EXTRACTION_TIMEOUT"`
	AnalysisTimeout   time.Duration `koanf:"ANALYSIS_TIMEOUT"`

	// Conversation
	ReportKeyword     string `koanf:"REPORT_KEYWORD"`
	AnalysisKeyword   string `koanf:"ANALYSIS_KEYWORD"`
	Timezone          string `koanf:"TIMEZONE"`
	OnboardingEnabled bool   `koanf:"ONBOARDING_ENABLED"`

	// WhatsApp Cloud API
	WhatsAppToken         string `koanf:"WHATSAPP_TOKEN"`
	WhatsAppPhoneNumberID string `koanf:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppVerifyToken   string `koanf:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret     string `koanf:"WHATSAPP_APP_SECRET"`
	WhatsAppAPIURL        string `koanf:"WHATSAPP_API_URL"`

	// Media archive
	MediaBucket string `koanf:"MEDIA_BUCKET"`
	MediaPrefix string `koanf:"MEDIA_PREFIX"`

	// Job queue
	QueueBuffer   int `koanf:"QUEUE_BUFFER"`
	QueueWorkers  int `koanf:"QUEUE_WORKERS"`
	JobMaxRetries int `koanf:"JOB_MAX_RETRIES"`

	// How long a delivered message id is remembered for redelivery checks.
	DedupeWindow time.Duration `koanf:"DEDUPE_WINDOW"`
}

// Load reads an optional .env file and then the environment. Values already
// set in the environment win over the file.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		// Try to load .env from current directory (ignore error if not found)
		_ = godotenv.Load()
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LedgerBackend == "" {
		c.LedgerBackend = BackendCSV
	}
	if c.LedgerDir == "" {
		c.LedgerDir = "data"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "data/ledger.db"
	}
	if c.BigQueryDataset == "" {
		c.BigQueryDataset = "expenses"
	}
	if c.ExtractionTimeout == 0 {
		c.ExtractionTimeout = 30 * time.Second
	}
	if c.AnalysisTimeout == 0 {
		c.AnalysisTimeout = 60 * time.Second
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	if c.MediaPrefix == "" {
		c.MediaPrefix = "inbound"
	}
	if c.QueueBuffer == 0 {
		c.QueueBuffer = 100
	}
	if c.QueueWorkers == 0 {
		c.QueueWorkers = 5
	}
	if c.JobMaxRetries == 0 {
		c.JobMaxRetries = 3
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = 7 * 24 * time.Hour
	}
}

// Validate checks the settings the selected backend and transport need.
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case BackendMemory, BackendCSV:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendBigQuery:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the bigquery backend")
		}
	case BackendSheets:
		if c.SheetsID == "" {
			return fmt.Errorf("SHEETS_SPREADSHEET_ID is required for the sheets backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	if c.WhatsAppToken != "" && c.WhatsAppPhoneNumberID == "" {
		return fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID is required when WHATSAPP_TOKEN is set")
	}
	if c.ExtractionTimeout < 0 || c.AnalysisTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.QueueWorkers < 0 || c.QueueBuffer < 0 {
		return fmt.Errorf("queue sizes must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WhatsAppEnabled reports whether replies go to the Cloud API.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsAppToken != ""
}
