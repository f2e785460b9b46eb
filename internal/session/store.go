package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Options configures checkpoint cadence and failure escalation
type Options struct {
	Path             string
	Every            int           // decisions between checkpoints, 0 disables
	Interval         time.Duration // time between checkpoints, 0 disables
	FailureThreshold int           // consecutive failures before escalation
}

// Store owns the checkpoint file of one crawl session.
// It is not safe for concurrent use; the crawl owner goroutine drives it.
type Store struct {
	opts    Options
	storage *storage.Storage

	sessionID string
	createdAt time.Time
	sequence  int64

	pending  int
	retryAt  int // pending count at which a failed save is retried, 0 when none failed
	lastSave time.Time
	failures int

	now func() time.Time
}

// Open opens the checkpoint at opts.Path. An unreadable or structurally
// damaged file is moved aside and a fresh one is created in its place.
func Open(opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 1
	}

	s := &Store{opts: opts, now: time.Now}

	st, err := storage.NewStorage(opts.Path)
	if err == nil {
		if checkErr := st.QuickCheck(); checkErr != nil {
			st.Close()
			err = checkErr
		}
	}
	if err != nil {
		logrus.Warnf("Checkpoint %s is unusable: %v", opts.Path, err)
		if st, err = s.reset(); err != nil {
			return nil, err
		}
	}

	s.storage = st
	s.lastSave = s.now()
	return s, nil
}

// Load returns the last committed session, or nil when a fresh session starts
func (s *Store) Load() (*storage.SessionState, error) {
	state, err := s.storage.LoadState()
	if err != nil {
		logrus.Warnf("Checkpoint %s could not be loaded, starting a fresh session: %v", s.opts.Path, err)
		s.storage.Close()
		st, resetErr := s.reset()
		if resetErr != nil {
			return nil, resetErr
		}
		s.storage = st
		state = nil
	}

	if state == nil {
		s.sessionID = uuid.New().String()
		s.createdAt = s.now().UTC()
		s.sequence = 0
		return nil, nil
	}

	s.sessionID = state.SessionID
	s.createdAt = state.CreatedAt
	s.sequence = state.Sequence
	logrus.Infof("Loaded session %s at checkpoint #%d (%d queued, %d visited, %d HVTs)",
		state.SessionID, state.Sequence, len(state.Frontier), len(state.Visited), len(state.HVTs))
	return state, nil
}

// reset quarantines the current file and opens a new empty one
func (s *Store) reset() (*storage.Storage, error) {
	dest, err := MoveAside(s.opts.Path, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to quarantine checkpoint: %w", err)
	}
	if dest != "" {
		logrus.Warnf("Moved damaged checkpoint to %s", dest)
	}

	st, err := storage.NewStorage(s.opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return st, nil
}

// MoveAside renames a checkpoint and its WAL files to <path>.corrupt-<unix>.
// It returns "" when there was nothing to move.
func MoveAside(path string, now time.Time) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if err := os.Rename(path, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Rename(path+suffix, dest+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			logrus.Warnf("Failed to move %s: %v", path+suffix, err)
		}
	}
	return dest, nil
}

// SessionID returns the id of the current session
func (s *Store) SessionID() string {
	return s.sessionID
}

// Sequence returns the sequence of the last successful checkpoint
func (s *Store) Sequence() int64 {
	return s.sequence
}

// ConsecutiveFailures returns the number of checkpoint failures since the last success
func (s *Store) ConsecutiveFailures() int {
	return s.failures
}

// Note records one decision toward the count-based cadence
func (s *Store) Note() {
	s.pending++
}

// Due reports whether a cadence point has been reached
func (s *Store) Due() bool {
	if s.pending == 0 {
		return false
	}
	if s.opts.Every > 0 && s.pending >= max(s.opts.Every, s.retryAt) {
		return true
	}
	return s.opts.Interval > 0 && s.now().Sub(s.lastSave) >= s.opts.Interval
}

// CheckpointIfDue saves when a cadence point has been reached.
// It reports whether a checkpoint was written.
func (s *Store) CheckpointIfDue(build func() *storage.SessionState) (bool, error) {
	if !s.Due() {
		return false, nil
	}
	if err := s.Save(build()); err != nil {
		return false, err
	}
	return true, nil
}

// Checkpoint saves unconditionally
func (s *Store) Checkpoint(build func() *storage.SessionState) error {
	return s.Save(build())
}

// Save stamps state with the session identity and the next sequence and
// writes it. Failures are logged and escalated, the caller keeps running.
func (s *Store) Save(state *storage.SessionState) error {
	now := s.now().UTC()
	state.SessionID = s.sessionID
	state.CreatedAt = s.createdAt
	state.UpdatedAt = now
	state.Sequence = s.sequence + 1

	if err := s.storage.SaveState(state); err != nil {
		s.failures++
		s.lastSave = s.now()
		s.retryAt = s.pending + s.opts.Every
		if s.failures >= s.opts.FailureThreshold {
			logrus.Errorf("Checkpointing has failed %d times in a row, progress since checkpoint #%d exists only in memory: %v",
				s.failures, s.sequence, err)
		} else {
			logrus.Warnf("Checkpoint failed (will retry at next interval): %v", err)
		}
		return fmt.Errorf("checkpoint #%d failed: %w", state.Sequence, err)
	}

	s.sequence = state.Sequence
	s.pending = 0
	s.retryAt = 0
	s.failures = 0
	s.lastSave = s.now()
	logrus.Debugf("Checkpoint #%d written (%d queued, %d visited, %d HVTs)",
		state.Sequence, len(state.Frontier), len(state.Visited), len(state.HVTs))
	return nil
}

// Close closes the checkpoint database
func (s *Store) Close() error {
	return s.storage.Close()
}
