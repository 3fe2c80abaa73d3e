package budget_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/store"
)

func newSQLiteStore(t *testing.T) *budget.SQLite {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state.sqlite")
	db, err := store.OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return budget.NewSQLite(db, nil)
}

func TestSQLiteGetDefaultsWhenAbsent(t *testing.T) {
	s := newSQLiteStore(t)
	r := s.Get("openai")
	assert.Equal(t, "openai", r.Provider)
	assert.Zero(t, r.UsedTokens)
}

func TestSQLiteRecordAccumulates(t *testing.T) {
	s := newSQLiteStore(t)
	s.Record("openai", 100)
	s.Record("openai", 50)

	r := s.Get("openai")
	assert.Equal(t, int64(150), r.UsedTokens)
}

func TestSQLiteEnsureLimitsAndSoftHard(t *testing.T) {
	s := newSQLiteStore(t)
	soft := int64(100)
	hard := int64(200)
	s.EnsureLimits("openai", &soft, &hard)
	s.Record("openai", 95)

	r := s.Get("openai")
	require.NotNil(t, r.SoftLimitTokens)
	require.NotNil(t, r.HardLimitTokens)
	assert.True(t, r.AtSoftLimit())
	assert.False(t, r.AtHardLimit())

	s.Record("openai", 200)
	assert.True(t, s.Get("openai").AtHardLimit())
}
