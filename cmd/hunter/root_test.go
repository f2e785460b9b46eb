package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

func TestReadSessionMissing(t *testing.T) {
	_, err := readSession(filepath.Join(t.TempDir(), "none.db"))
	assert.ErrorIs(t, err, errNoSession)
}

func TestReadSessionEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	st, err := storage.NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = readSession(path)
	assert.ErrorIs(t, err, errNoSession)
}

func TestReadSessionAndWriteOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.db")
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	st, err := storage.NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveState(&storage.SessionState{
		SessionID: "5b1e7c3a-8f2d-4e61-9c0a-3d4b5e6f7a80",
		Sequence:  1,
		CreatedAt: at,
		UpdatedAt: at,
		Status:    storage.StatusComplete,
		HVTs: []storage.HVTRecord{{
			Ref:          storage.ProfileRef{Username: "carol", SourceProfile: "alice", Depth: 1},
			Snapshot:     storage.ProfileSnapshot{Username: "carol", FollowerCount: 2000},
			DiscoveredAt: at,
		}},
	}))
	require.NoError(t, st.Close())

	state, err := readSession(path)
	require.NoError(t, err)
	assert.Equal(t, "5b1e7c3a-8f2d-4e61-9c0a-3d4b5e6f7a80", state.SessionID)
	require.Len(t, state.HVTs, 1)

	out := filepath.Join(dir, "hvts.json")
	require.NoError(t, writeOutput(out, func(w io.Writer) error {
		_, err := w.Write([]byte("[]\n"))
		return err
	}))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}
