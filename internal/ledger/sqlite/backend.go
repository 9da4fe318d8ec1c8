package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/expense-assistant/internal/domain"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// Backend implements ledger.Backend on SQLite.
type Backend struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Backend{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (b *Backend) Path() string {
	return b.dbPath
}

// Insert stores rec; an existing id makes it a no-op.
func (b *Backend) Insert(ctx context.Context, id domain.RecordID, rec domain.Record) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO records
			(id, source_user, occurred_at, category, subcategory, amount, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(id),
		rec.SourceUser,
		rec.OccurredAt.UTC().Format(timeLayout),
		rec.Category,
		rec.Subcategory,
		rec.Amount.String(),
		rec.Description,
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record: rows affected: %w", err)
	}
	return n == 1, nil
}

// Query returns the user's records in period ordered by time, then insertion.
func (b *Backend) Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error) {
	query := `
		SELECT occurred_at, category, subcategory, amount, description
		FROM records
		WHERE source_user = ?`
	args := []interface{}{user}
	if period != nil {
		query += ` AND occurred_at >= ? AND occurred_at < ?`
		args = append(args,
			period.Start.UTC().Format(timeLayout),
			period.End.UTC().Format(timeLayout))
	}
	query += ` ORDER BY occurred_at, rowid`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var recs []domain.Record
	for rows.Next() {
		var occurredAt, amount string
		rec := domain.Record{SourceUser: user}
		if err := rows.Scan(&occurredAt, &rec.Category, &rec.Subcategory, &amount, &rec.Description); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.OccurredAt, err = time.Parse(timeLayout, occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
		}
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

// Count returns the number of records stored for user.
func (b *Backend) Count(ctx context.Context, user string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE source_user = ?`, user).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
