package health

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// SQLite is the default Store backend (§11): one row per model in the
// shared state database's model_health table. A process-local mutex still
// serializes read-modify-write cycles, since sqlite itself only guarantees
// atomicity per statement, not across the Get-then-Update pairs this
// contract's EMA/strike math needs.
type SQLite struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
	log *slog.Logger
}

// NewSQLite wraps db (already migrated via store.Migrate) as a health Store.
func NewSQLite(db *sql.DB, log *slog.Logger) *SQLite {
	if log == nil {
		log = slog.Default()
	}
	return &SQLite{db: db, now: time.Now, log: log}
}

func (s *SQLite) Get(modelID string) Record {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT model_id, cooldown_until, degraded_until, rate_limit_strikes, last_rate_limit_at, rolling_latency_ms, rolling_success_rate
		 FROM model_health WHERE model_id = ?`, modelID)
	var r Record
	err := row.Scan(&r.ModelID, &r.CooldownUntil, &r.DegradedUntil, &r.RateLimitStrikes, &r.LastRateLimitAt, &r.RollingLatencyMs, &r.RollingSuccessRate)
	if err != nil {
		return defaultRecord(modelID)
	}
	return r
}

func (s *SQLite) upsert(r Record) {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO model_health (model_id, cooldown_until, degraded_until, rate_limit_strikes, last_rate_limit_at, rolling_latency_ms, rolling_success_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			cooldown_until=excluded.cooldown_until,
			degraded_until=excluded.degraded_until,
			rate_limit_strikes=excluded.rate_limit_strikes,
			last_rate_limit_at=excluded.last_rate_limit_at,
			rolling_latency_ms=excluded.rolling_latency_ms,
			rolling_success_rate=excluded.rolling_success_rate
	`, r.ModelID, r.CooldownUntil, r.DegradedUntil, r.RateLimitStrikes, r.LastRateLimitAt, r.RollingLatencyMs, r.RollingSuccessRate)
	if err != nil {
		s.log.Warn("health: sqlite upsert failed", slog.String("model_id", r.ModelID), slog.String("error", err.Error()))
	}
}

func (s *SQLite) MarkRateLimited(modelID string, cooldownMs int64, strikes int, lastRateLimitAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.Get(modelID)
	r.CooldownUntil = nowMs(s.now()) + cooldownMs
	r.RateLimitStrikes = strikes
	r.LastRateLimitAt = lastRateLimitAt
	s.upsert(r)
}

func (s *SQLite) MarkDegraded(modelID string, degradeMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.Get(modelID)
	r.DegradedUntil = nowMs(s.now()) + degradeMs
	s.upsert(r)
}

func (s *SQLite) RecordResult(modelID string, success bool, latencyMs *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.Get(modelID)

	observed := 0.0
	if success {
		observed = 1.0
	}
	r.RollingSuccessRate = r.RollingSuccessRate*(1-emaAlpha) + observed*emaAlpha
	if latencyMs != nil {
		r.RollingLatencyMs = r.RollingLatencyMs*(1-emaAlpha) + *latencyMs*emaAlpha
	}
	s.upsert(r)
}

func (s *SQLite) NextStrikeCount(modelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.Get(modelID)
	now := nowMs(s.now())
	if r.LastRateLimitAt > 0 && now-r.LastRateLimitAt <= strikeWindow.Milliseconds() {
		if r.RateLimitStrikes >= 6 {
			return 6
		}
		return r.RateLimitStrikes + 1
	}
	return 1
}
