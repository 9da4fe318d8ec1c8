// Package ledger persists expense records per user. Ledger is the
// validating front; Backend implementations only store and read rows.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/expense-assistant/internal/dedupe"
	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/dvloznov/expense-assistant/internal/taxonomy"
	"github.com/google/uuid"
)

// Backend stores records. Implementations must be safe for concurrent use.
type Backend interface {
	// Insert stores rec under id. created is false when id was already present
	// and the call was a no-op.
	Insert(ctx context.Context, id domain.RecordID, rec domain.Record) (created bool, err error)
	// Query returns the user's records inside period (all when nil), ordered
	// by OccurredAt ascending with insertion order breaking ties.
	Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error)
	// Count returns how many records the user has.
	Count(ctx context.Context, user string) (int, error)
}

// Store is the ledger surface the router, API and CLI depend on.
type Store interface {
	Append(ctx context.Context, rec domain.Record) (domain.RecordID, error)
	AppendOnce(ctx context.Context, key string, rec domain.Record) (domain.RecordID, error)
	Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error)
	IsEmpty(ctx context.Context, user string) (bool, error)
}

// idNamespace seeds the deterministic ids used by AppendOnce.
var idNamespace = uuid.MustParse("6f1c7d2e-3b4a-5c8d-9e0f-a1b2c3d4e5f6")

// Ledger validates and normalizes records before handing them to a Backend.
type Ledger struct {
	backend  Backend
	taxonomy *taxonomy.Taxonomy
	now      func() time.Time

	locks keyedMutex

	// ids stored through AppendOnce within the dedupe window; covers
	// backends that keep no id column
	seen *dedupe.Window
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ingestion clock used for records without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDedupeWindow sets how long AppendOnce remembers keys for backends
// that cannot detect duplicates themselves.
func WithDedupeWindow(d time.Duration) Option {
	return func(l *Ledger) { l.seen = dedupe.New(d) }
}

// New creates a Ledger over backend using tax to normalize categories.
func New(backend Backend, tax *taxonomy.Taxonomy, opts ...Option) *Ledger {
	l := &Ledger{
		backend:  backend,
		taxonomy: tax,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.seen == nil {
		l.seen = dedupe.New(dedupe.DefaultTTL)
	}
	return l
}

// Taxonomy returns the taxonomy records are normalized against.
func (l *Ledger) Taxonomy() *taxonomy.Taxonomy { return l.taxonomy }

// Append validates rec and stores it under a fresh id.
func (l *Ledger) Append(ctx context.Context, rec domain.Record) (domain.RecordID, error) {
	return l.insert(ctx, domain.RecordID(uuid.NewString()), rec, false)
}

// AppendOnce stores rec under an id derived from the user and key, so a
// second call with the same key stores nothing and returns the same id.
func (l *Ledger) AppendOnce(ctx context.Context, key string, rec domain.Record) (domain.RecordID, error) {
	if key == "" {
		return l.Append(ctx, rec)
	}
	id := domain.RecordID(uuid.NewSHA1(idNamespace, []byte(rec.SourceUser+"\x00"+key)).String())
	return l.insert(ctx, id, rec, true)
}

func (l *Ledger) insert(ctx context.Context, id domain.RecordID, rec domain.Record, keyed bool) (domain.RecordID, error) {
	log := logger.FromContext(ctx)

	rec, err := l.normalize(ctx, rec)
	if err != nil {
		log.Warn().Err(err).Str("user", rec.SourceUser).Msg("Rejected record")
		return "", err
	}

	unlock := l.locks.Lock(rec.SourceUser)
	defer unlock()

	if keyed && l.wasSeen(id) {
		log.Debug().Str("record_id", string(id)).Msg("Record already stored, skipping")
		return id, nil
	}

	created, err := l.backend.Insert(ctx, id, rec)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %w", domain.ErrStoreUnavailable, err)
	}
	if keyed {
		l.markSeen(id)
	}

	if created {
		log.Info().
			Str("user", rec.SourceUser).
			Str("record_id", string(id)).
			Str("category", rec.Category).
			Str("amount", rec.Amount.StringFixed(2)).
			Msg("Record appended")
	}
	return id, nil
}

// normalize coerces the category into the taxonomy and checks invariants.
func (l *Ledger) normalize(ctx context.Context, rec domain.Record) (domain.Record, error) {
	rec.SourceUser = strings.TrimSpace(rec.SourceUser)
	rec.Description = strings.TrimSpace(rec.Description)
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = l.now()
	}

	cat, sub, known := l.taxonomy.Resolve(rec.Category, rec.Subcategory)
	if cat == "" {
		return rec, fmt.Errorf("%w: %w: %q", domain.ErrInvalidRecord, taxonomy.ErrUnknownCategory, rec.Category)
	}
	if !known {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("category", rec.Category).
			Str("fallback", cat).
			Msg("Unknown category, using fallback")
	}
	rec.Category, rec.Subcategory = cat, sub

	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

// Query returns the user's records in period, oldest first. A nil period
// means all records.
func (l *Ledger) Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("%w: missing source user", domain.ErrInvalidRecord)
	}
	recs, err := l.backend.Query(ctx, user, period)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrStoreUnavailable, err)
	}
	return recs, nil
}

// IsEmpty reports whether the user has no records at all.
func (l *Ledger) IsEmpty(ctx context.Context, user string) (bool, error) {
	n, err := l.backend.Count(ctx, strings.TrimSpace(user))
	if err != nil {
		return false, fmt.Errorf("%w: count: %w", domain.ErrStoreUnavailable, err)
	}
	return n == 0, nil
}

func (l *Ledger) wasSeen(id domain.RecordID) bool {
	return l.seen.Contains(string(id))
}

func (l *Ledger) markSeen(id domain.RecordID) {
	l.seen.Add(string(id), "")
}

// IsRejection reports whether err means the record itself was refused,
// as opposed to the store failing.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidRecord)
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
