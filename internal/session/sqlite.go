package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mhingston/switchboard/internal/router"
)

// SQLite is the default Store backend (§11): one row per request id in the
// shared state database's request_sessions table. Attempts are stored as a
// JSON-encoded array, matching the persisted-state note in §11 ("JSON-encoded
// attempt arrays").
type SQLite struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
	log *slog.Logger
}

// NewSQLite wraps db (already migrated via store.Migrate) as a session Store.
func NewSQLite(db *sql.DB, log *slog.Logger) *SQLite {
	if log == nil {
		log = slog.Default()
	}
	return &SQLite{db: db, now: time.Now, log: log}
}

func (s *SQLite) Get(requestID string) (Record, bool) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT request_id, status, task_type, model_id, text, attempts, created_at, updated_at
		 FROM request_sessions WHERE request_id = ?`, requestID)
	var r Record
	var attemptsJSON string
	var createdMs, updatedMs int64
	if err := row.Scan(&r.RequestID, &r.Status, &r.TaskType, &r.ModelID, &r.Text, &attemptsJSON, &createdMs, &updatedMs); err != nil {
		return Record{}, false
	}
	_ = json.Unmarshal([]byte(attemptsJSON), &r.Attempts)
	r.CreatedAt = time.UnixMilli(createdMs)
	r.UpdatedAt = time.UnixMilli(updatedMs)
	return r, true
}

func (s *SQLite) upsert(r *Record) {
	attemptsJSON, _ := json.Marshal(r.Attempts)
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO request_sessions (request_id, status, task_type, model_id, text, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status=excluded.status, task_type=excluded.task_type, model_id=excluded.model_id,
			text=excluded.text, attempts=excluded.attempts, updated_at=excluded.updated_at
	`, r.RequestID, r.Status, r.TaskType, r.ModelID, r.Text, string(attemptsJSON), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		s.log.Warn("session: sqlite upsert failed", slog.String("request_id", r.RequestID), slog.String("error", err.Error()))
	}
}

func (s *SQLite) RecordAttempt(requestID string, taskType router.TaskType, attempt router.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.Get(requestID)
	if !ok {
		r = Record{RequestID: requestID, Status: StatusPending, TaskType: taskType, CreatedAt: s.now()}
	}
	if r.Status == StatusComplete {
		return
	}
	r.Attempts = append(r.Attempts, attempt)
	r.UpdatedAt = s.now()
	s.upsert(&r)
}

func (s *SQLite) RecordResult(requestID string, taskType router.TaskType, modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.Get(requestID)
	if !ok {
		r = Record{RequestID: requestID, TaskType: taskType, CreatedAt: s.now()}
	}
	if r.Status == StatusComplete {
		return
	}
	r.Status = StatusComplete
	r.ModelID = modelID
	r.Text = text
	r.UpdatedAt = s.now()
	s.upsert(&r)
}
