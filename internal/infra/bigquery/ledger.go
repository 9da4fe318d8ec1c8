// Package bigquery stores ledger records in a BigQuery table.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "ledger_records"

// LedgerRow is one record as stored in BigQuery.
type LedgerRow struct {
	RecordID   string `bigquery:"record_id"`   // REQUIRED
	SourceUser string `bigquery:"source_user"` // REQUIRED

	OccurredAt   time.Time  `bigquery:"occurred_at"`   // REQUIRED TIMESTAMP
	OccurredDate civil.Date `bigquery:"occurred_date"` // REQUIRED, partition column

	Category    string              `bigquery:"category"`    // REQUIRED
	Subcategory bigquery.NullString `bigquery:"subcategory"` // NULLABLE

	Amount      *big.Rat `bigquery:"amount"`      // REQUIRED NUMERIC
	Description string   `bigquery:"description"` // REQUIRED STRING

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// Config names the table records live in.
type Config struct {
	ProjectID string
	DatasetID string
	Table     string
}

func (c Config) table() string {
	if c.Table == "" {
		return DefaultTable
	}
	return c.Table
}

// qualified returns the backtick-quoted table path for SQL.
func (c Config) qualified() string {
	return "`" + c.ProjectID + "." + c.DatasetID + "." + c.table() + "`"
}

// toLedgerRow converts a record for storage under id.
func toLedgerRow(id domain.RecordID, rec domain.Record, now time.Time) *LedgerRow {
	row := &LedgerRow{
		RecordID:     string(id),
		SourceUser:   rec.SourceUser,
		OccurredAt:   rec.OccurredAt.UTC(),
		OccurredDate: civil.DateOf(rec.OccurredAt),
		Category:     rec.Category,
		Amount:       rec.Amount.Rat(),
		Description:  rec.Description,
		CreatedTS:    now.UTC(),
	}
	if rec.Subcategory != "" {
		row.Subcategory = bigquery.NullString{StringVal: rec.Subcategory, Valid: true}
	}
	return row
}

// toRecord converts a stored row back into a record.
func (r *LedgerRow) toRecord() (domain.Record, error) {
	if r.Amount == nil {
		return domain.Record{}, fmt.Errorf("record %s: missing amount", r.RecordID)
	}
	amount, err := decimal.NewFromString(r.Amount.FloatString(9))
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %s: amount: %w", r.RecordID, err)
	}
	rec := domain.Record{
		OccurredAt:  r.OccurredAt,
		Category:    r.Category,
		Amount:      amount,
		Description: r.Description,
		SourceUser:  r.SourceUser,
	}
	if r.Subcategory.Valid {
		rec.Subcategory = r.Subcategory.StringVal
	}
	return rec, nil
}

// LedgerRepository implements ledger.Backend on BigQuery. It holds a shared
// client to avoid creating a new connection for each operation.
type LedgerRepository struct {
	client *bigquery.Client
	cfg    Config
	now    func() time.Time
}

// NewLedgerRepository creates the client and makes sure the table exists.
func NewLedgerRepository(ctx context.Context, cfg Config) (*LedgerRepository, error) {
	if cfg.ProjectID == "" || cfg.DatasetID == "" {
		return nil, fmt.Errorf("NewLedgerRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewLedgerRepository: creating client: %w", err)
	}
	if err := EnsureLedgerTableWithClient(ctx, client, cfg); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewLedgerRepository: %w", err)
	}
	return &LedgerRepository{client: client, cfg: cfg, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (r *LedgerRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Insert delegates to InsertLedgerRowWithClient.
func (r *LedgerRepository) Insert(ctx context.Context, id domain.RecordID, rec domain.Record) (bool, error) {
	return InsertLedgerRowWithClient(ctx, r.client, r.cfg, toLedgerRow(id, rec, r.now()))
}

// Query delegates to QueryLedgerRowsWithClient and converts the rows.
func (r *LedgerRepository) Query(ctx context.Context, user string, period *domain.Period) ([]domain.Record, error) {
	rows, err := QueryLedgerRowsWithClient(ctx, r.client, r.cfg, user, period)
	if err != nil {
		return nil, err
	}
	recs := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Count delegates to CountLedgerRowsWithClient.
func (r *LedgerRepository) Count(ctx context.Context, user string) (int, error) {
	return CountLedgerRowsWithClient(ctx, r.client, r.cfg, user)
}
