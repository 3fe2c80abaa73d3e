package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mhingston/switchboard/internal/router"
)

const redisKeyPrefix = "switchboard:session:"

// Redis is the optional ROUTER_STORE_BACKEND=redis Store backend (§11) for
// sharing completed-request bodies across a fleet of router processes
// (e.g. a client's resume retry lands on a different instance than the
// one that finished the original request).
type Redis struct {
	client *redis.Client
	now    func() time.Time
	log    *slog.Logger
}

func NewRedis(client *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, now: time.Now, log: log}
}

func (s *Redis) key(requestID string) string { return redisKeyPrefix + requestID }

func (s *Redis) Get(requestID string) (Record, bool) {
	data, err := s.client.Get(context.Background(), s.key(requestID)).Bytes()
	if err != nil {
		return Record{}, false
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, false
	}
	return r, true
}

func (s *Redis) set(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.client.Set(context.Background(), s.key(r.RequestID), data, 0).Err(); err != nil {
		s.log.Warn("session: redis set failed", slog.String("request_id", r.RequestID), slog.String("error", err.Error()))
	}
}

func (s *Redis) RecordAttempt(requestID string, taskType router.TaskType, attempt router.Attempt) {
	r, ok := s.Get(requestID)
	if !ok {
		r = Record{RequestID: requestID, Status: StatusPending, TaskType: taskType, CreatedAt: s.now()}
	}
	if r.Status == StatusComplete {
		return
	}
	r.Attempts = append(r.Attempts, attempt)
	r.UpdatedAt = s.now()
	s.set(r)
}

func (s *Redis) RecordResult(requestID string, taskType router.TaskType, modelID, text string) {
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
	s.set(r)
}
