package health_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/store"
)

func newSQLiteStore(t *testing.T) *health.SQLite {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state.sqlite")
	db, err := store.OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return health.NewSQLite(db, nil)
}

func TestSQLiteGetDefaultsWhenAbsent(t *testing.T) {
	s := newSQLiteStore(t)
	r := s.Get("gpt-4")
	assert.Equal(t, "gpt-4", r.ModelID)
	assert.Equal(t, 1.0, r.RollingSuccessRate)
	assert.Zero(t, r.CooldownUntil)
}

func TestSQLiteMarkRateLimitedPersists(t *testing.T) {
	s := newSQLiteStore(t)
	before := time.Now().UnixMilli()
	s.MarkRateLimited("m1", 10_000, 3, before)

	r := s.Get("m1")
	assert.Equal(t, 3, r.RateLimitStrikes)
	assert.Equal(t, before, r.LastRateLimitAt)
	assert.GreaterOrEqual(t, r.CooldownUntil, before+10_000)
}

func TestSQLiteRecordResultEMA(t *testing.T) {
	s := newSQLiteStore(t)
	lat := 100.0
	s.RecordResult("m1", true, &lat)
	r := s.Get("m1")
	assert.InDelta(t, 1.0, r.RollingSuccessRate, 1e-9)
	assert.InDelta(t, 20.0, r.RollingLatencyMs, 1e-9)

	s.RecordResult("m1", false, nil)
	r = s.Get("m1")
	assert.InDelta(t, 0.8, r.RollingSuccessRate, 1e-9)
	assert.InDelta(t, 20.0, r.RollingLatencyMs, 1e-9)
}

func TestSQLiteNextStrikeCountResetsOutsideWindow(t *testing.T) {
	s := newSQLiteStore(t)
	now := time.Now().UnixMilli()
	s.MarkRateLimited("m1", 1_000, 1, now)
	assert.Equal(t, 2, s.NextStrikeCount("m1"))

	s.MarkRateLimited("m1", 1_000, 1, now-61_000)
	assert.Equal(t, 1, s.NextStrikeCount("m1"))
}

func TestSQLitePersistsAcrossInstances(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "state.sqlite")
	db1, err := store.OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background(), db1))
	s1 := health.NewSQLite(db1, nil)
	s1.MarkDegraded("m1", 30_000)
	require.NoError(t, db1.Close())

	db2, err := store.OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })
	s2 := health.NewSQLite(db2, nil)
	r := s2.Get("m1")
	assert.Greater(t, r.DegradedUntil, int64(0))
}
