// Package session implements the at-most-one persisted final response per
// request id, plus attempt log, store (C3).
package session

import (
	"sync"
	"time"

	"github.com/mhingston/switchboard/internal/router"
)

// Status is the session lifecycle state. Transitions are strictly
// pending -> complete; there is no rollback.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
)

// Record is the persisted session state for a single request id.
type Record struct {
	RequestID string            `json:"request_id"`
	Status    Status            `json:"status"`
	TaskType  router.TaskType   `json:"task_type"`
	ModelID   string            `json:"model_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	Attempts  []router.Attempt  `json:"attempts"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store is the C3 session store contract.
type Store interface {
	Get(requestID string) (Record, bool)
	RecordAttempt(requestID string, taskType router.TaskType, attempt router.Attempt)
	RecordResult(requestID string, taskType router.TaskType, modelID, text string)
}

// InMemory is the default map-backed implementation, grounded on the
// teacher's idempotency cache TTL-map shape but keyed permanently (the
// spec requires no TTL; external pruning is out of this store's concern).
type InMemory struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemory creates an empty in-memory session store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*Record), now: time.Now}
}

// Get returns the session record for a request id, if one exists.
func (s *InMemory) Get(requestID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[requestID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// RecordAttempt appends an attempt to the log, creating a pending session
// if this is the first attempt for the request id. It is a no-op once the
// session has already transitioned to complete, since that would violate
// the strictly-forward lifecycle.
func (s *InMemory) RecordAttempt(requestID string, taskType router.TaskType, attempt router.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[requestID]
	if !ok {
		r = &Record{
			RequestID: requestID,
			Status:    StatusPending,
			TaskType:  taskType,
			CreatedAt: s.now(),
		}
		s.records[requestID] = r
	}
	if r.Status == StatusComplete {
		return
	}
	r.Attempts = append(r.Attempts, attempt)
	r.UpdatedAt = s.now()
}

// RecordResult transitions the session to complete and stores the final
// text. Calling it twice for the same request id is a no-op the second
// time: at most one session ever completes per request id.
func (s *InMemory) RecordResult(requestID string, taskType router.TaskType, modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[requestID]
	if !ok {
		r = &Record{RequestID: requestID, TaskType: taskType, CreatedAt: s.now()}
		s.records[requestID] = r
	}
	if r.Status == StatusComplete {
		return
	}
	r.Status = StatusComplete
	r.ModelID = modelID
	r.Text = text
	r.UpdatedAt = s.now()
}
