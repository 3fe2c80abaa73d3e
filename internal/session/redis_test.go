package session_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhingston/switchboard/internal/router"
	"github.com/mhingston/switchboard/internal/session"
)

func newRedisStore(t *testing.T) *session.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return session.NewRedis(client, nil)
}

func TestRedisGetMissing(t *testing.T) {
	s := newRedisStore(t)
	_, ok := s.Get("req-1")
	assert.False(t, ok)
}

func TestRedisRecordAttemptThenResult(t *testing.T) {
	s := newRedisStore(t)
	s.RecordAttempt("req-1", router.TaskCode, router.Attempt{ModelID: "gpt-4", Outcome: router.OutcomeRateLimit})

	r, ok := s.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, session.StatusPending, r.Status)
	require.Len(t, r.Attempts, 1)

	s.RecordResult("req-1", router.TaskCode, "gpt-4", "final answer")
	r, ok = s.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, session.StatusComplete, r.Status)
	assert.Equal(t, "final answer", r.Text)
}

func TestRedisRecordResultIsTerminal(t *testing.T) {
	s := newRedisStore(t)
	s.RecordResult("req-1", router.TaskCode, "gpt-4", "first")
	s.RecordResult("req-1", router.TaskCode, "gpt-3.5", "second")

	r, ok := s.Get("req-1")
	require.True(t, ok)
	assert.Equal(t, "first", r.Text)
}
