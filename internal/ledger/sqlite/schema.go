// Package sqlite is a ledger backend on a local SQLite database.
package sqlite

// Schema creates the records table. occurred_at holds fixed-width UTC
// timestamps so text order is chronological order.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,                -- ledger record id
    source_user TEXT NOT NULL,
    occurred_at TEXT NOT NULL,          -- UTC, timeLayout
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,               -- decimal string
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_records_user_time
    ON records(source_user, occurred_at);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z"
