// Package api exposes the assistant over HTTP: the WhatsApp webhook and a
// JSON API for dashboards and testing.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-assistant/internal/api/handlers"
	"github.com/dvloznov/expense-assistant/internal/api/middleware"
)

// Handlers groups the endpoint handlers.
type Handlers struct {
	Webhook    *handlers.WebhookHandler
	Records    *handlers.RecordsHandler
	Messages   *handlers.MessagesHandler
	Categories *handlers.CategoriesHandler
	Jobs       *handlers.JobsHandler
}

// method guards a handler to one HTTP method.
func method(m string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		fn(w, r)
	}
}

// NewHandler registers every route and applies the middleware chain.
func NewHandler(h Handlers, apiKey string, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Webhook endpoints
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.Webhook.Verify(w, r)
		case http.MethodPost:
			h.Webhook.Receive(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Ledger endpoints
	mux.HandleFunc("/api/records", method(http.MethodGet, h.Records.ListRecords))
	mux.HandleFunc("/api/summary", method(http.MethodGet, h.Records.Summary))
	mux.HandleFunc("/api/analysis", method(http.MethodGet, h.Records.Analysis))
	mux.HandleFunc("/api/messages", method(http.MethodPost, h.Messages.Send))
	mux.HandleFunc("/api/categories", method(http.MethodGet, h.Categories.ListCategories))

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", method(http.MethodGet, h.Jobs.ListJobs))
	mux.HandleFunc("/api/jobs/", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	}))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(apiKey)(mux),
				),
			),
		),
	)
}
