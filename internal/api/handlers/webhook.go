package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/expense-assistant/internal/api/middleware"
	"github.com/dvloznov/expense-assistant/internal/jobs"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/whatsapp"
)

// maxWebhookBody bounds a webhook delivery; Meta batches are far smaller.
const maxWebhookBody = 1 << 20

// WebhookHandler receives WhatsApp Cloud API deliveries and queues each
// message for a worker.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	publisher   jobs.Publisher
	maxRetries  int
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(verifyToken, appSecret string, publisher jobs.Publisher, maxRetries int) *WebhookHandler {
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		publisher:   publisher,
		maxRetries:  maxRetries,
	}
}

// Verify handles GET /webhook
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.verifyToken)
	if !ok {
		log := logger.FromContext(r.Context())
		log.Warn().Msg("Webhook verification failed")
		http.Error(w, "Token inválido", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive handles POST /webhook
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if !whatsapp.ValidSignature(body, r.Header.Get("X-Hub-Signature-256"), h.appSecret) {
		log.Warn().Msg("Webhook signature mismatch")
		middleware.WriteError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		log.Warn().Err(err).Msg("Malformed webhook payload")
		middleware.WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	queued, duplicates := 0, 0
	for _, in := range payload.Inbound() {
		receivedAt := in.Timestamp
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		job := &jobs.MessageJob{
			MessageID:  in.ID,
			Sender:     in.From,
			Kind:       in.Kind,
			Text:       in.Text,
			MediaID:    in.MediaID,
			MIMEType:   in.MIMEType,
			Filename:   in.Filename,
			ReceivedAt: receivedAt,
			MaxRetries: h.maxRetries,
		}

		err := h.publisher.PublishMessage(ctx, job)
		switch {
		case err == nil:
			queued++
			log.Info().Str("job_id", job.JobID).Str("message_id", in.ID).Str("kind", in.Kind).Msg("Message queued")
		case errors.Is(err, jobs.ErrDuplicateMessage):
			duplicates++
			log.Debug().Str("message_id", in.ID).Msg("Redelivered message ignored")
		default:
			// A non-2xx makes Meta redeliver the whole batch later.
			log.Error().Err(err).Str("message_id", in.ID).Msg("Failed to queue message")
			middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to queue message")
			return
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"queued":     queued,
		"duplicates": duplicates,
	})
}
