// Package store owns the single embedded database file (§11) that backs
// the default sqlite persistence for C1 (model_health), C2
// (provider_budget), and C3 (request_sessions). Grounded on the teacher's
// internal/store/sqlite.go: modernc.org/sqlite (pure Go, no cgo), WAL mode,
// and a bounded connection pool, generalized from the teacher's broad
// SaaS schema (models/providers/API keys/audit logs/TSDB) down to the
// three tables the spec's persistence contract actually names.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens or creates the state database at dsn (STATE_DB_PATH).
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time; keep the pool small.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Migrate creates the three C1/C2/C3 tables if they don't already exist.
// Each component package (health, budget, session) owns its own table's
// read/write queries; this function only owns the shared schema so a
// single STATE_DB_PATH file can host all three without import cycles.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS model_health (
			model_id TEXT PRIMARY KEY,
			cooldown_until INTEGER NOT NULL DEFAULT 0,
			degraded_until INTEGER NOT NULL DEFAULT 0,
			rate_limit_strikes INTEGER NOT NULL DEFAULT 0,
			last_rate_limit_at INTEGER NOT NULL DEFAULT 0,
			rolling_latency_ms REAL NOT NULL DEFAULT 0,
			rolling_success_rate REAL NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS provider_budget (
			provider_id TEXT PRIMARY KEY,
			used_tokens INTEGER NOT NULL DEFAULT 0,
			soft_limit_tokens INTEGER,
			hard_limit_tokens INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS request_sessions (
			request_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			task_type TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			attempts TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// OpenRedis constructs a client for the optional ROUTER_STORE_BACKEND=redis
// C1/C2/C3 backend (§11).
func OpenRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}
