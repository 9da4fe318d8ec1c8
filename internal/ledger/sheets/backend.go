// Package sheets is a ledger backend that keeps one Google Sheets tab per
// user inside a single spreadsheet.
package sheets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go"
	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/ledger"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultRetryDelay is the wait between attempts after a 429 response.
const DefaultRetryDelay = 10 * time.Second

// Config holds configuration for the Sheets backend.
type Config struct {
	// SpreadsheetID is the ID of an existing spreadsheet.
	SpreadsheetID string
	// CredentialsFile is a service account JSON key. Empty uses application
	// default credentials.
	CredentialsFile string
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Backend implements ledger.Backend on Google Sheets.
type Backend struct {
	client     tabClient
	retryDelay time.Duration

	mu   sync.Mutex
	tabs map[string]bool
	// tabs created by this process whose header row is not written yet
	needsHeader map[string]bool
}

// New connects to the spreadsheet described by cfg.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := newServiceClient(ctx, cfg.SpreadsheetID, opts...)
	if err != nil {
		return nil, err
	}
	return newBackend(client, cfg.RetryDelay), nil
}

func newBackend(client tabClient, retryDelay time.Duration) *Backend {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Backend{client: client, retryDelay: retryDelay, needsHeader: make(map[string]bool)}
}

// Insert appends rec to the user's tab, creating it with a header row on
// first use. Rows carry no id, so created is always true.
func (b *Backend) Insert(ctx context.Context, _ domain.RecordID, rec domain.Record) (bool, error) {
	tab := tabTitle(rec.SourceUser)

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasTab(ctx, tab)
	if err != nil {
		return false, err
	}
	if !exists {
		if err := b.withRetry(ctx, func() error { return b.client.AddTab(ctx, tab) }); err != nil {
			return false, fmt.Errorf("adding tab %q: %w", tab, err)
		}
		b.tabs[tab] = true
		b.needsHeader[tab] = true
	}
	if b.needsHeader[tab] {
		if err := b.appendRow(ctx, tab, ledger.Header); err != nil {
			return false, fmt.Errorf("writing header: %w", err)
		}
		delete(b.needsHeader, tab)
	}

	if err := b.appendRow(ctx, tab, ledger.EncodeRow(rec)); err != nil {
		return false, fmt.Errorf("appending row: %w", err)
	}
	return true, nil
}

// Query reads the user's tab and filters it by period.
func (b *Backend) Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error) {
	recs, err := b.readTab(ctx, user)
	if err != nil {
		return nil, err
	}
	recs = ledger.Filter(recs, period)
	ledger.SortChronological(recs)
	return recs, nil
}

// Count returns the number of data rows in the user's tab.
func (b *Backend) Count(ctx context.Context, user string) (int, error) {
	recs, err := b.readTab(ctx, user)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (b *Backend) readTab(ctx context.Context, user string) ([]domain.Record, error) {
	tab := tabTitle(user)

	b.mu.Lock()
	exists, err := b.hasTab(ctx, tab)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var values [][]interface{}
	err = b.withRetry(ctx, func() error {
		var err error
		values, err = b.client.Get(ctx, quoteTab(tab)+"!A:E")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading tab %q: %w", tab, err)
	}

	recs := make([]domain.Record, 0, len(values))
	for i, v := range values {
		row := make([]string, len(ledger.Header))
		for j := 0; j < len(row) && j < len(v); j++ {
			row[j] = fmt.Sprint(v[j])
		}
		if ledger.IsHeader(row) {
			continue
		}
		rec, err := ledger.DecodeRow(user, row)
		if err != nil {
			return nil, fmt.Errorf("tab %q row %d: %w", tab, i+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// hasTab must be called with b.mu held.
func (b *Backend) hasTab(ctx context.Context, tab string) (bool, error) {
	if b.tabs == nil {
		var titles []string
		err := b.withRetry(ctx, func() error {
			var err error
			titles, err = b.client.ListTabs(ctx)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("listing tabs: %w", err)
		}
		b.tabs = make(map[string]bool, len(titles))
		for _, t := range titles {
			b.tabs[t] = true
		}
	}
	return b.tabs[tab], nil
}

func (b *Backend) appendRow(ctx context.Context, tab string, row []string) error {
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	return b.withRetry(ctx, func() error {
		return b.client.Append(ctx, quoteTab(tab)+"!A1:E1", [][]interface{}{values})
	})
}

func (b *Backend) withRetry(ctx context.Context, fn func() error) error {
	log := logger.FromContext(ctx)
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				log.Warn().Err(err).Msg("Sheets rate limited, will retry")
				return true
			}
			return false
		}),
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(b.retryDelay),
		retry.LastErrorOnly(true),
	)
}

// maxTabPrefix leaves room for the hash suffix within the 100 character
// title limit.
const maxTabPrefix = 80

// tabTitle maps a user id to a sheet title, one title per user. Ids that
// Sheets would reject, or that could collide with another id once cleaned
// up (titles compare case-insensitively), get a hash of the full id as a
// suffix after '~'.
func tabTitle(user string) string {
	title := strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(user))

	if title == user && !strings.Contains(user, "~") && user == strings.ToLower(user) &&
		utf8.RuneCountInString(user) <= maxTabPrefix {
		return user
	}

	if utf8.RuneCountInString(title) > maxTabPrefix {
		title = string([]rune(title)[:maxTabPrefix])
	}
	sum := sha256.Sum256([]byte(user))
	return title + "~" + hex.EncodeToString(sum[:8])
}
