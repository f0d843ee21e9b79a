package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*SqlStore)(nil)

func openTemp(t *testing.T) *SqlStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	first := &Run{RunID: "run-a", InputDigest: "sha256:aa", Allowed: false, GoldenPassRate: 0.75, FailingRules: 2}
	id1, err := s.Record(ctx, first)
	require.NoError(t, err)
	assert.NotEmpty(t, first.RecordedAt)

	second := &Run{RunID: "run-b", InputDigest: "sha256:bb", Allowed: true, GoldenPassRate: 1, RecordedAt: "2026-01-02T03:04:05Z"}
	id2, err := s.Record(ctx, second)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].RunID)
	assert.False(t, runs[0].Allowed)
	assert.Equal(t, 0.75, runs[0].GoldenPassRate)
	assert.Equal(t, 2, runs[0].FailingRules)
	assert.Equal(t, "run-b", runs[1].RunID)
	assert.True(t, runs[1].Allowed)
	assert.Equal(t, "2026-01-02T03:04:05Z", runs[1].RecordedAt)
}

func TestStore_EmptyList(t *testing.T) {
	runs, err := openTemp(t).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpen_ReopensExistingLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), &Run{RunID: "run-a", InputDigest: "sha256:aa"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].RunID)
}

func TestOpen_RejectsUnknownSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE schema_version (version INTEGER NOT NULL); INSERT INTO schema_version(version) VALUES(99);")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown schema version 99")
}
