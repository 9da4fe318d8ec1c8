package ledger

import (
	"context"
	"sync"

	"github.com/dvloznov/expense-assistant/internal/domain"
)

// MemoryBackend keeps records in process memory. Used by tests and the
// default development setup.
type MemoryBackend struct {
	mu     sync.RWMutex
	ids    map[domain.RecordID]struct{}
	byUser map[string][]domain.Record
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		ids:    make(map[domain.RecordID]struct{}),
		byUser: make(map[string][]domain.Record),
	}
}

// Insert implements Backend.
func (m *MemoryBackend) Insert(ctx context.Context, id domain.RecordID, rec domain.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[id]; ok {
		return false, nil
	}
	m.ids[id] = struct{}{}
	m.byUser[rec.SourceUser] = append(m.byUser[rec.SourceUser], rec)
	return true, nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	recs := append([]domain.Record(nil), m.byUser[user]...)
	m.mu.RUnlock()

	recs = Filter(recs, period)
	SortChronological(recs)
	return recs, nil
}

// Count implements Backend.
func (m *MemoryBackend) Count(ctx context.Context, user string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[user]), nil
}
