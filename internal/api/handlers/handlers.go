package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/expense-assistant/internal/api/middleware"
	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/jobs"
	"github.com/dvloznov/expense-assistant/internal/ledger"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/report"
	"github.com/dvloznov/expense-assistant/internal/router"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
)

// MessageRouter produces the reply to one message.
type MessageRouter interface {
	Handle(ctx context.Context, msg router.Message) string
}

// recordResponse is the JSON shape of a ledger record.
type recordResponse struct {
	OccurredAt  time.Time `json:"occurred_at"`
	Category    string    `json:"category"`
	Label       string    `json:"label"`
	Subcategory string    `json:"subcategory,omitempty"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
}

// periodFromQuery reads ?month=YYYY-MM; absent means all records.
func periodFromQuery(r *http.Request, loc *time.Location) (*domain.Period, error) {
	month := r.URL.Query().Get("month")
	if month == "" {
		return nil, nil
	}
	p, err := domain.ParseMonth(month, loc)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user is required")
		return "", false
	}
	return user, true
}

// RecordsHandler serves ledger contents and aggregates.
type RecordsHandler struct {
	store    ledger.Store
	tax      *taxonomy.Taxonomy
	narrator report.Narrator
	loc      *time.Location
	timeout  time.Duration
}

// NewRecordsHandler creates a new records handler. narrator may be nil.
func NewRecordsHandler(store ledger.Store, tax *taxonomy.Taxonomy, narrator report.Narrator, loc *time.Location, analysisTimeout time.Duration) *RecordsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RecordsHandler{store: store, tax: tax, narrator: narrator, loc: loc, timeout: analysisTimeout}
}

// ListRecords handles GET /api/records?user=&month=
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	period, err := periodFromQuery(r, h.loc)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month format, expected YYYY-MM")
		return
	}

	records, err := h.store.Query(ctx, user, period)
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("Failed to query records")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to query records")
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, recordResponse{
			OccurredAt:  rec.OccurredAt.In(h.loc),
			Category:    rec.Category,
			Label:       h.tax.Label(rec.Category),
			Subcategory: rec.Subcategory,
			Amount:      rec.Amount.StringFixed(2),
			Description: rec.Description,
		})
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": out,
		"count":   len(out),
	})
}

// Summary handles GET /api/summary?user=&month=
// The month defaults to the current one; "all" summarizes every record.
func (h *RecordsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var period domain.Period
	var query *domain.Period
	switch month := r.URL.Query().Get("month"); month {
	case "all":
	case "":
		period = domain.MonthOf(time.Now().In(h.loc))
		query = &period
	default:
		p, err := domain.ParseMonth(month, h.loc)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid month format, expected YYYY-MM")
			return
		}
		period = p
		query = &period
	}

	records, err := h.store.Query(ctx, user, query)
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("Failed to query records")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to query records")
		return
	}

	summary, err := report.Summarize(records, period)
	if errors.Is(err, report.ErrNoData) {
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"summary": nil,
			"message": report.NoRecordsText,
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to summarize records")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to summarize records")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summary": summary,
		"text":    report.FormatSummary(summary, h.tax.Label),
	})
}

// Analysis handles GET /api/analysis?user=
func (h *RecordsHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	records, err := h.store.Query(ctx, user, nil)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("user", user).Msg("Failed to query records")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to query records")
		return
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"analysis": report.TrendAnalysis(ctx, h.narrator, records, h.loc),
		"digest":   report.BuildDigest(records, h.loc),
	})
}

// MessagesHandler runs a message through the router synchronously.
type MessagesHandler struct {
	router MessageRouter
}

// NewMessagesHandler creates a new messages handler.
func NewMessagesHandler(r MessageRouter) *MessagesHandler {
	return &MessagesHandler{router: r}
}

// Send handles POST /api/messages
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Sender) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "sender is required")
		return
	}

	reply := h.router.Handle(r.Context(), router.Message{
		ID:         req.ID,
		Sender:     req.Sender,
		Kind:       router.KindText,
		Text:       req.Text,
		ReceivedAt: time.Now(),
	})

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// CategoriesHandler handles category-related endpoints.
type CategoriesHandler struct {
	tax *taxonomy.Taxonomy
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(tax *taxonomy.Taxonomy) *CategoriesHandler {
	return &CategoriesHandler{tax: tax}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.tax.Categories()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":    h.tax.Version(),
		"fallback":   h.tax.Fallback(),
		"categories": categories,
		"count":      len(categories),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Sender: query.Get("sender"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
