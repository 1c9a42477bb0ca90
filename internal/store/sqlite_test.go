package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteContract(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer s.Close()

	runContract(t, s)
}

func TestSQLiteMigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateJob(context.Background(), newJob("vid", testTime)))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.conn.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, sqliteSchemaVersion, version)

	jobs, err := s.ListJobs(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLite{}, s)

	_, err = Open(context.Background(), "")
	assert.Error(t, err)
}
