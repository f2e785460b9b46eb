package session

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

func stateWith(frontier ...string) func() *storage.SessionState {
	return func() *storage.SessionState {
		st := &storage.SessionState{Status: storage.StatusRunning}
		for _, u := range frontier {
			st.Frontier = append(st.Frontier, storage.ProfileRef{Username: u})
		}
		return st
	}
}

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "hunt.db")

	s, err := Open(Options{Path: path, Every: 1})
	require.NoError(t, err)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
	id := s.SessionID()
	assert.NotEmpty(t, id)

	require.NoError(t, s.Checkpoint(stateWith("alice")))
	require.NoError(t, s.Checkpoint(stateWith("bob", "carol")))
	assert.Equal(t, int64(2), s.Sequence())
	require.NoError(t, s.Close())

	s = openStore(t, Options{Path: path})
	state, err = s.Load()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, id, state.SessionID)
	assert.Equal(t, id, s.SessionID())
	assert.Equal(t, int64(2), state.Sequence)
	assert.Equal(t, []storage.ProfileRef{{Username: "bob"}, {Username: "carol"}}, state.Frontier)

	// Sequence continues from the loaded checkpoint
	require.NoError(t, s.Checkpoint(stateWith()))
	assert.Equal(t, int64(3), s.Sequence())
}

func TestOpenQuarantinesUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hunt.db")
	garbage := []byte("this is not a sqlite database, just some bytes that look nothing like a header")
	require.NoError(t, os.WriteFile(path, garbage, 0644))

	s := openStore(t, Options{Path: path})
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state, "a fresh session starts")

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, garbage, data, "quarantined file is kept as is")

	require.NoError(t, s.Checkpoint(stateWith("alice")))
}

func TestLoadQuarantinesSequenceMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hunt.db")

	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	_, err = s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(stateWith("alice", "bob")))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE frontier SET seq = 99 WHERE username = 'bob'")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s = openStore(t, Options{Path: path})
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, int64(0), s.Sequence())

	moved, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, moved, 1)
}

func TestCheckpointCadence(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	s := openStore(t, Options{Path: filepath.Join(t.TempDir(), "hunt.db"), Every: 3, Interval: time.Minute})
	s.now = func() time.Time { return now }
	s.lastSave = now
	_, err := s.Load()
	require.NoError(t, err)

	saved, err := s.CheckpointIfDue(stateWith())
	require.NoError(t, err)
	assert.False(t, saved, "nothing decided yet")

	s.Note()
	s.Note()
	saved, err = s.CheckpointIfDue(stateWith())
	require.NoError(t, err)
	assert.False(t, saved)

	s.Note()
	saved, err = s.CheckpointIfDue(stateWith())
	require.NoError(t, err)
	assert.True(t, saved, "count reached")
	assert.Equal(t, int64(1), s.Sequence())

	s.Note()
	now = now.Add(30 * time.Second)
	assert.False(t, s.Due())
	now = now.Add(30 * time.Second)
	assert.True(t, s.Due(), "interval elapsed")
}

func TestSaveFailuresAreCounted(t *testing.T) {
	s := openStore(t, Options{Path: filepath.Join(t.TempDir(), "hunt.db"), FailureThreshold: 2})
	_, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(stateWith("alice")))

	// Force the in-memory sequence behind the stored one so every save is stale
	s.sequence = 0
	assert.ErrorIs(t, s.Checkpoint(stateWith()), storage.ErrStaleSequence)
	assert.ErrorIs(t, s.Checkpoint(stateWith()), storage.ErrStaleSequence)
	assert.Equal(t, 2, s.ConsecutiveFailures())

	s.sequence = 1
	require.NoError(t, s.Checkpoint(stateWith()))
	assert.Equal(t, 0, s.ConsecutiveFailures())
	assert.Equal(t, int64(2), s.Sequence())
}

func TestFailedSaveWaitsForNextCadencePoint(t *testing.T) {
	s := openStore(t, Options{Path: filepath.Join(t.TempDir(), "hunt.db"), Every: 2})
	_, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint(stateWith("alice")))

	s.sequence = 0
	s.Note()
	s.Note()
	require.True(t, s.Due())
	saved, err := s.CheckpointIfDue(stateWith())
	assert.False(t, saved)
	assert.ErrorIs(t, err, storage.ErrStaleSequence)

	s.Note()
	assert.False(t, s.Due(), "one more decision is not a new cadence point")
	s.Note()
	assert.True(t, s.Due())

	s.sequence = 1
	saved, err = s.CheckpointIfDue(stateWith())
	require.NoError(t, err)
	assert.True(t, saved)
	s.Note()
	s.Note()
	assert.True(t, s.Due(), "cadence is back to every 2 after a success")
}

func TestMoveAsideMissingFile(t *testing.T) {
	dest, err := MoveAside(filepath.Join(t.TempDir(), "absent.db"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, dest)
}
