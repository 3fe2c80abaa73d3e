package budget

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
)

// SQLite is the default Store backend (§11): one row per provider in the
// shared state database's provider_budget table.
type SQLite struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// NewSQLite wraps db (already migrated via store.Migrate) as a budget Store.
func NewSQLite(db *sql.DB, log *slog.Logger) *SQLite {
	if log == nil {
		log = slog.Default()
	}
	return &SQLite{db: db, log: log}
}

func (s *SQLite) Get(provider string) Record {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT provider_id, used_tokens, soft_limit_tokens, hard_limit_tokens FROM provider_budget WHERE provider_id = ?`, provider)
	var r Record
	if err := row.Scan(&r.Provider, &r.UsedTokens, &r.SoftLimitTokens, &r.HardLimitTokens); err != nil {
		return Record{Provider: provider}
	}
	return r
}

func (s *SQLite) Record(provider string, tokens int64) {
	if tokens <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO provider_budget (provider_id, used_tokens) VALUES (?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET used_tokens = used_tokens + excluded.used_tokens
	`, provider, tokens)
	if err != nil {
		s.log.Warn("budget: sqlite record failed", slog.String("provider", provider), slog.String("error", err.Error()))
	}
}

func (s *SQLite) EnsureLimits(provider string, soft, hard *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO provider_budget (provider_id, soft_limit_tokens, hard_limit_tokens) VALUES (?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET soft_limit_tokens = excluded.soft_limit_tokens, hard_limit_tokens = excluded.hard_limit_tokens
	`, provider, soft, hard)
	if err != nil {
		s.log.Warn("budget: sqlite ensure limits failed", slog.String("provider", provider), slog.String("error", err.Error()))
	}
}
