// Package whatsapp speaks the WhatsApp Cloud API: it decodes webhook
// deliveries, answers the verification handshake, sends text replies and
// downloads media attachments.
package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookPayload is the body Meta POSTs to the webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification; only Field "messages" carries user messages.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the messages and delivery statuses of a change.
type Value struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         Metadata        `json:"metadata"`
	Contacts         []Contact       `json:"contacts,omitempty"`
	Messages         []Message       `json:"messages,omitempty"`
	Statuses         json.RawMessage `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender's profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound user message.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *Text  `json:"text,omitempty"`
	Image     *Media `json:"image,omitempty"`
	Document  *Media `json:"document,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Media references an attachment stored by Meta.
type Media struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Inbound is a message flattened into what the assistant consumes.
type Inbound struct {
	ID        string
	From      string
	Kind      string // text, image, document or the raw WhatsApp type
	Text      string // body or caption
	MediaID   string
	MIMEType  string
	Filename  string
	Timestamp time.Time
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return &p, nil
}

// Inbound lists the user messages in the payload, in delivery order.
// Status callbacks are skipped.
func (p *WebhookPayload) Inbound() []Inbound {
	var out []Inbound
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			if c.Field != "" && c.Field != "messages" {
				continue
			}
			for _, m := range c.Value.Messages {
				out = append(out, m.inbound())
			}
		}
	}
	return out
}

func (m Message) inbound() Inbound {
	in := Inbound{
		ID:        m.ID,
		From:      m.From,
		Kind:      m.Type,
		Timestamp: parseTimestamp(m.Timestamp),
	}
	switch {
	case m.Type == "text" && m.Text != nil:
		in.Text = m.Text.Body
	case m.Type == "image" && m.Image != nil:
		in.Text = m.Image.Caption
		in.MediaID = m.Image.ID
		in.MIMEType = m.Image.MIMEType
	case m.Type == "document" && m.Document != nil:
		in.Text = m.Document.Caption
		in.MediaID = m.Document.ID
		in.MIMEType = m.Document.MIMEType
		in.Filename = m.Document.Filename
	}
	return in
}

// parseTimestamp reads unix seconds; zero when absent or malformed.
func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// Verify answers the subscription handshake. It returns the challenge to
// echo and whether the token matched.
func Verify(mode, token, challenge, expected string) (string, bool) {
	if expected == "" || token != expected {
		return "", false
	}
	if mode != "" && mode != "subscribe" {
		return "", false
	}
	return challenge, true
}

// ValidSignature checks the X-Hub-Signature-256 header against the app
// secret. An empty secret disables the check.
func ValidSignature(body []byte, header, appSecret string) bool {
	if appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
