package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/dvloznov/expense-assistant/internal/logger"
)

const (
	// DefaultBaseURL is the Graph API root.
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultAPIVersion is the Graph API version used in paths.
	DefaultAPIVersion = "v21.0"

	// maxMediaBytes matches the largest document WhatsApp accepts.
	maxMediaBytes = 100 << 20
	// maxReplyRunes is the Cloud API limit for a text body.
	maxReplyRunes = 4096
)

// Sender delivers one text reply. Delivery is fire-and-forget: the result
// is only logged.
type Sender interface {
	Send(ctx context.Context, to, text string) bool
}

// Config configures a Client.
type Config struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	HTTPClient    *http.Client
	RetryDelay    time.Duration
}

// Client calls the Cloud API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Client, filling in defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

// statusError is a non-2xx Graph API response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("graph api status %d: %s", e.Code, e.Body)
}

// Permanent reports whether the request can never succeed as sent.
func (e *statusError) Permanent() bool {
	return !e.retryable()
}

func (e *statusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return false
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, to, text string) bool {
	log := logger.FromContext(ctx).With().Str("to", to).Logger()

	msg := textMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
	msg.Text.Body = truncate(text, maxReplyRunes)
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode reply")
		return false
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.cfg.BaseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID)
	if _, err := c.do(ctx, http.MethodPost, url, body); err != nil {
		log.Error().Err(err).Msg("Failed to send reply")
		return false
	}
	log.Info().Msg("Reply sent")
	return true
}

type mediaInfo struct {
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// Download fetches an attachment: first its short-lived URL, then the bytes.
// Rate limits and server errors are retried.
func (c *Client) Download(ctx context.Context, mediaID string) ([]byte, string, error) {
	if mediaID == "" {
		return nil, "", fmt.Errorf("download media: missing media id")
	}

	var info mediaInfo
	err := c.withRetry(ctx, func() error {
		raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, mediaID), nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &info)
	})
	if err != nil {
		return nil, "", fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	if info.URL == "" {
		return nil, "", fmt.Errorf("resolve media %s: empty url", mediaID)
	}
	if info.FileSize > maxMediaBytes {
		return nil, "", fmt.Errorf("media %s too large: %d bytes", mediaID, info.FileSize)
	}

	var data []byte
	err = c.withRetry(ctx, func() error {
		var err error
		data, err = c.do(ctx, http.MethodGet, info.URL, nil)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("download media %s: %w", mediaID, err)
	}
	return data, info.MIMEType, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if len(raw) > maxMediaBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxMediaBytes)
	}
	return raw, nil
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	log := logger.FromContext(ctx)
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			if retryable(err) {
				log.Warn().Err(err).Msg("Graph API call failed, will retry")
				return true
			}
			return false
		}),
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(c.cfg.RetryDelay),
		retry.LastErrorOnly(true),
	)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// LogSender only logs replies. It stands in for the Cloud API when no
// token is configured.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, to, text string) bool {
	log := logger.FromContext(ctx)
	log.Info().Str("to", to).Str("reply", text).Msg("Reply (not delivered, transport disabled)")
	return true
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = LogSender{}
)
