package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Tracker holds and manages crawl metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: storage.Metrics{
			StartTime: time.Now(),
		},
	}
}

// Restore seeds the counters from a resumed session
func (t *Tracker) Restore(stats storage.SessionStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ProfilesScanned = stats.ProfilesScanned
	t.data.ProfilesAccepted = stats.ProfilesAccepted
	t.data.ProfilesRejected = stats.ProfilesRejected
	t.data.TransientErrors = stats.TransientErrors
	t.data.PermanentErrors = stats.PermanentErrors
}

// RecordOutcome counts one decided profile
func (t *Tracker) RecordOutcome(outcome storage.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.ProfilesScanned++
	switch outcome {
	case storage.OutcomeAccepted:
		t.data.ProfilesAccepted++
	case storage.OutcomeRejected:
		t.data.ProfilesRejected++
	case storage.OutcomeTransientError:
		t.data.TransientErrors++
	case storage.OutcomePermanentError:
		t.data.PermanentErrors++
	}
}

// AddFollowers counts follower usernames seen and newly enqueued
func (t *Tracker) AddFollowers(discovered, enqueued int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.FollowersDiscovered += discovered
	t.data.FollowersEnqueued += enqueued
}

// IncrementCheckpoints counts a successful checkpoint
func (t *Tracker) IncrementCheckpoints() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.CheckpointsWritten++
}

// IncrementCheckpointFailures counts a failed checkpoint
func (t *Tracker) IncrementCheckpointFailures() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.CheckpointFailures++
}

// RecordFetchTime records a profile fetch duration
func (t *Tracker) RecordFetchTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
}

// Stats returns the counters persisted with the session
func (t *Tracker) Stats() storage.SessionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return storage.SessionStats{
		ProfilesScanned:  t.data.ProfilesScanned,
		ProfilesAccepted: t.data.ProfilesAccepted,
		ProfilesRejected: t.data.ProfilesRejected,
		TransientErrors:  t.data.TransientErrors,
		PermanentErrors:  t.data.PermanentErrors,
	}
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	// Calculate average fetch time
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// WriteToFile exports metrics to a JSON file via a temporary file and rename
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.mu.Unlock()

	jsonData, err := json.MarshalIndent(t.GetSnapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*.json")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Profiles: %d scanned, %d accepted, %d rejected | Errors: %d transient, %d permanent | Followers: %d seen, %d enqueued",
		t.data.ProfilesScanned,
		t.data.ProfilesAccepted,
		t.data.ProfilesRejected,
		t.data.TransientErrors,
		t.data.PermanentErrors,
		t.data.FollowersDiscovered,
		t.data.FollowersEnqueued,
	)
}
