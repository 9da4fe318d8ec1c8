package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/expense-assistant/internal/domain"
	"google.golang.org/api/iterator"
)

// EnsureLedgerTableWithClient creates the records table if it doesn't exist.
func EnsureLedgerTableWithClient(ctx context.Context, client *bigquery.Client, cfg Config) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_id     STRING NOT NULL,
			source_user   STRING NOT NULL,
			occurred_at   TIMESTAMP NOT NULL,
			occurred_date DATE NOT NULL,
			category      STRING NOT NULL,
			subcategory   STRING,
			amount        NUMERIC NOT NULL,
			description   STRING NOT NULL,
			created_ts    TIMESTAMP NOT NULL
		)
		PARTITION BY occurred_date
		CLUSTER BY source_user
	`, cfg.qualified())

	return runDML(ctx, client.Query(sql))
}

// InsertLedgerRowWithClient inserts row unless a row with the same record_id
// already exists. created reports whether a row was written.
func InsertLedgerRowWithClient(ctx context.Context, client *bigquery.Client, cfg Config, row *LedgerRow) (bool, error) {
	q := client.Query(fmt.Sprintf(`
		MERGE %s t
		USING (SELECT @record_id AS record_id) s
		ON t.record_id = s.record_id
		WHEN NOT MATCHED THEN
		  INSERT (
			record_id,
			source_user,
			occurred_at,
			occurred_date,
			category,
			subcategory,
			amount,
			description,
			created_ts
		  )
		  VALUES (
			@record_id,
			@source_user,
			@occurred_at,
			@occurred_date,
			@category,
			NULLIF(@subcategory, ''),
			@amount,
			@description,
			@created_ts
		  )
	`, cfg.qualified()))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "record_id", Value: row.RecordID},
		{Name: "source_user", Value: row.SourceUser},
		{Name: "occurred_at", Value: row.OccurredAt},
		{Name: "occurred_date", Value: row.OccurredDate},
		{Name: "category", Value: row.Category},
		{Name: "subcategory", Value: row.Subcategory.StringVal},
		{Name: "amount", Value: row.Amount},
		{Name: "description", Value: row.Description},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return false, fmt.Errorf("InsertLedgerRow: run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return false, fmt.Errorf("InsertLedgerRow: wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return false, fmt.Errorf("InsertLedgerRow: job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows > 0, nil
		}
	}
	return true, nil
}

// QueryLedgerRowsWithClient returns the user's rows inside period (all rows
// when period is nil), oldest first.
func QueryLedgerRowsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, user string, period *domain.Period) ([]*LedgerRow, error) {
	where := "source_user = @source_user"
	params := []bigquery.QueryParameter{
		{Name: "source_user", Value: user},
	}
	if period != nil {
		where += " AND occurred_at >= @start_ts AND occurred_at < @end_ts"
		params = append(params,
			bigquery.QueryParameter{Name: "start_ts", Value: period.Start},
			bigquery.QueryParameter{Name: "end_ts", Value: period.End},
		)
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			record_id,
			source_user,
			occurred_at,
			occurred_date,
			category,
			subcategory,
			amount,
			description,
			created_ts
		FROM %s
		WHERE %s
		ORDER BY occurred_at, created_ts
	`, cfg.qualified(), where))
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryLedgerRows: query read: %w", err)
	}

	var rows []*LedgerRow
	for {
		var r LedgerRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryLedgerRows: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

// CountLedgerRowsWithClient returns how many rows the user has.
func CountLedgerRowsWithClient(ctx context.Context, client *bigquery.Client, cfg Config, user string) (int, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT COUNT(*) AS n
		FROM %s
		WHERE source_user = @source_user
	`, cfg.qualified()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "source_user", Value: user},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountLedgerRows: query read: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return 0, fmt.Errorf("CountLedgerRows: iter next: %w", err)
	}
	return int(row.N), nil
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
