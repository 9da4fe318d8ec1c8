package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvloznov/expense-assistant/internal/domain"
)

// CSVBackend appends records to one CSV file per user under a directory.
// Files carry a header row followed by rows in the EncodeRow layout.
type CSVBackend struct {
	dir string
	mu  sync.Mutex
}

// NewCSVBackend creates the directory if needed.
func NewCSVBackend(dir string) (*CSVBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("NewCSVBackend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewCSVBackend: create dir: %w", err)
	}
	return &CSVBackend{dir: dir}, nil
}

// Path returns the file holding the user's records.
func (b *CSVBackend) Path(user string) string {
	return filepath.Join(b.dir, url.PathEscape(user)+".csv")
}

// Insert implements Backend. The file layout has no id column, so Insert
// always reports the row as created.
func (b *CSVBackend) Insert(ctx context.Context, _ domain.RecordID, rec domain.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.Path(rec.SourceUser), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat ledger file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return false, fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(EncodeRow(rec)); err != nil {
		return false, fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, fmt.Errorf("flush row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("sync ledger file: %w", err)
	}
	return true, nil
}

// Query implements Backend.
func (b *CSVBackend) Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := b.readAll(user)
	if err != nil {
		return nil, err
	}
	recs = Filter(recs, period)
	SortChronological(recs)
	return recs, nil
}

// Count implements Backend.
func (b *CSVBackend) Count(ctx context.Context, user string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	recs, err := b.readAll(user)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (b *CSVBackend) readAll(user string) ([]domain.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.Path(user))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var recs []domain.Record
	for n := 1; ; n++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger file: %w", err)
		}
		if n == 1 && IsHeader(row) {
			continue
		}
		rec, err := DecodeRow(user, row)
		if err != nil {
			return nil, fmt.Errorf("ledger file record %d: %w", n, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
