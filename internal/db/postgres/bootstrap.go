package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens the control-plane database with a bounded connection pool.
func Connect(connString string) (*sql.DB, error) {
	if connString == "" {
		return nil, fmt.Errorf("control-plane connection string cannot be empty")
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open control-plane database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// BootstrapSchema creates the control-plane tables. The partial unique index
// on analysis_jobs is the durable half of enqueue idempotence: only one
// queued-or-active job may exist per (trace_id, layers).
func BootstrapSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		layers TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts_made INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		result TEXT,
		last_error TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_analysis_jobs_pending
		ON analysis_jobs(trace_id, layers)
		WHERE status IN ('queued', 'active');
	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_updated_at ON analysis_jobs(updated_at);

	CREATE TABLE IF NOT EXISTS trace_index (
		trace_id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		project TEXT NOT NULL,
		environment TEXT NOT NULL,
		conversation_id TEXT,
		session_id TEXT,
		user_id TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trace_index_conversation ON trace_index(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_trace_index_session ON trace_index(session_id);
	CREATE INDEX IF NOT EXISTS idx_trace_index_user ON trace_index(user_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize control-plane schema: %w", err)
	}
	return nil
}
