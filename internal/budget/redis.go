package budget

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "switchboard:budget:"

// Redis is the optional ROUTER_STORE_BACKEND=redis Store backend (§11),
// sharing per-provider token accounting across a fleet of router
// processes. Grounded the same way as health.Redis.
type Redis struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedis(client *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, log: log}
}

func (s *Redis) key(provider string) string { return redisKeyPrefix + provider }

func (s *Redis) Get(provider string) Record {
	data, err := s.client.Get(context.Background(), s.key(provider)).Bytes()
	if err != nil {
		return Record{Provider: provider}
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{Provider: provider}
	}
	return r
}

func (s *Redis) set(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.client.Set(context.Background(), s.key(r.Provider), data, 0).Err(); err != nil {
		s.log.Warn("budget: redis set failed", slog.String("provider", r.Provider), slog.String("error", err.Error()))
	}
}

// Record adds tokens to the provider's cumulative usage. The read-modify-
// write is not atomic across processes (no Lua/WATCH); acceptable for a
// soft accounting signal that only gates scoring and soft/hard cutoffs,
// not exact billing.
func (s *Redis) Record(provider string, tokens int64) {
	if tokens <= 0 {
		return
	}
	r := s.Get(provider)
	r.UsedTokens += tokens
	s.set(r)
}

func (s *Redis) EnsureLimits(provider string, soft, hard *int64) {
	r := s.Get(provider)
	r.SoftLimitTokens = soft
	r.HardLimitTokens = hard
	s.set(r)
}
