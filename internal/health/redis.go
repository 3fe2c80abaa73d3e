package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces this store's keys within a shared redis
// instance that might also back the budget/session stores.
const redisKeyPrefix = "switchboard:health:"

// Redis is the optional ROUTER_STORE_BACKEND=redis Store backend (§11):
// one JSON-encoded value per model, for sharing health state across a
// small fleet of otherwise-independent router processes behind a load
// balancer. Grounded on the pack's go-redis/v9 usage (agentflow,
// tas-agent-builder, gomind) generalized to this package's Record shape.
type Redis struct {
	client *redis.Client
	now    func() time.Time
	log    *slog.Logger
}

// NewRedis wraps client as a health Store.
func NewRedis(client *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, now: time.Now, log: log}
}

func (s *Redis) key(modelID string) string { return redisKeyPrefix + modelID }

func (s *Redis) Get(modelID string) Record {
	ctx := context.Background()
	data, err := s.client.Get(ctx, s.key(modelID)).Bytes()
	if err != nil {
		return defaultRecord(modelID)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return defaultRecord(modelID)
	}
	return r
}

func (s *Redis) set(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.client.Set(context.Background(), s.key(r.ModelID), data, 0).Err(); err != nil {
		s.log.Warn("health: redis set failed", slog.String("model_id", r.ModelID), slog.String("error", err.Error()))
	}
}

func (s *Redis) MarkRateLimited(modelID string, cooldownMs int64, strikes int, lastRateLimitAt int64) {
	r := s.Get(modelID)
	r.CooldownUntil = nowMs(s.now()) + cooldownMs
	r.RateLimitStrikes = strikes
	r.LastRateLimitAt = lastRateLimitAt
	s.set(r)
}

func (s *Redis) MarkDegraded(modelID string, degradeMs int64) {
	r := s.Get(modelID)
	r.DegradedUntil = nowMs(s.now()) + degradeMs
	s.set(r)
}

func (s *Redis) RecordResult(modelID string, success bool, latencyMs *float64) {
	r := s.Get(modelID)
	observed := 0.0
	if success {
		observed = 1.0
	}
	r.RollingSuccessRate = r.RollingSuccessRate*(1-emaAlpha) + observed*emaAlpha
	if latencyMs != nil {
		r.RollingLatencyMs = r.RollingLatencyMs*(1-emaAlpha) + *latencyMs*emaAlpha
	}
	s.set(r)
}

func (s *Redis) NextStrikeCount(modelID string) int {
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
