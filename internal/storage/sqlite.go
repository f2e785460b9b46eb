package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrCorruptCheckpoint marks a checkpoint that cannot be trusted
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// ErrStaleSequence is returned when a save does not advance the sequence
var ErrStaleSequence = errors.New("checkpoint sequence did not advance")

const timeLayout = time.RFC3339Nano

// Storage handles all database operations
type Storage struct {
	db   *sql.DB
	path string
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; checkpoints are serialized by the session owner anyway
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db, path: dbPath}

	// Initialize schema
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.path
}

// initSchema creates tables and indices if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS frontier (
		position INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		source_profile TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS visited (
		username TEXT PRIMARY KEY,
		depth INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		visited_at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hvts (
		hvt_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		source_profile TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		trail TEXT NOT NULL,
		justification TEXT NOT NULL,
		discovered_at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lineage (
		parent TEXT NOT NULL,
		child TEXT NOT NULL,
		weight INTEGER DEFAULT 1,
		seq INTEGER NOT NULL,
		PRIMARY KEY (parent, child)
	);

	CREATE INDEX IF NOT EXISTS idx_visited_outcome ON visited(outcome);
	CREATE INDEX IF NOT EXISTS idx_lineage_child ON lineage(child);
	`

	_, err := s.db.Exec(schema)
	return err
}

// QuickCheck runs SQLite's structural check on the database file
func (s *Storage) QuickCheck() error {
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: quick_check failed: %v", ErrCorruptCheckpoint, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: quick_check reported %q", ErrCorruptCheckpoint, result)
	}
	return nil
}

// CurrentSequence returns the sequence of the last committed checkpoint, 0 if none
func (s *Storage) CurrentSequence() (int64, error) {
	return currentSequence(s.db)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func currentSequence(q queryer) (int64, error) {
	var raw string
	err := q.QueryRow("SELECT value FROM meta WHERE key = 'sequence'").Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad sequence %q", ErrCorruptCheckpoint, raw)
	}
	return seq, nil
}

// SaveState writes the whole session state in a single transaction.
// state.Sequence must be greater than the stored sequence.
func (s *Storage) SaveState(state *SessionState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint: %w", err)
	}
	defer tx.Rollback()

	current, err := currentSequence(tx)
	if err != nil {
		return err
	}
	if state.Sequence <= current {
		return fmt.Errorf("%w: have %d, stored %d", ErrStaleSequence, state.Sequence, current)
	}
	seq := state.Sequence

	for _, table := range []string{"frontier", "visited", "lineage"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	frontierStmt, err := tx.Prepare(`
		INSERT INTO frontier (position, username, source_profile, depth, seq)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare frontier insert: %w", err)
	}
	defer frontierStmt.Close()
	for i, ref := range state.Frontier {
		if _, err := frontierStmt.Exec(i, ref.Username, ref.SourceProfile, ref.Depth, seq); err != nil {
			return fmt.Errorf("failed to write frontier entry %s: %w", ref.Username, err)
		}
	}

	visitedStmt, err := tx.Prepare(`
		INSERT INTO visited (username, depth, outcome, detail, visited_at, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare visited insert: %w", err)
	}
	defer visitedStmt.Close()
	for _, v := range state.Visited {
		if _, err := visitedStmt.Exec(v.Username, v.Depth, string(v.Outcome), v.Detail, v.VisitedAt.UTC().Format(timeLayout), seq); err != nil {
			return fmt.Errorf("failed to write visited entry %s: %w", v.Username, err)
		}
	}

	lineageStmt, err := tx.Prepare(`
		INSERT INTO lineage (parent, child, weight, seq)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare lineage insert: %w", err)
	}
	defer lineageStmt.Close()
	for _, e := range state.Lineage {
		if _, err := lineageStmt.Exec(e.Parent, e.Child, e.Weight, seq); err != nil {
			return fmt.Errorf("failed to write lineage edge %s -> %s: %w", e.Parent, e.Child, err)
		}
	}

	// HVT rows are append-only: existing usernames keep their original row
	hvtStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO hvts (username, source_profile, depth, snapshot, trail, justification, discovered_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare hvt insert: %w", err)
	}
	defer hvtStmt.Close()
	for _, h := range state.HVTs {
		snapshot, err := json.Marshal(h.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot for %s: %w", h.Ref.Username, err)
		}
		trail, err := json.Marshal(h.Trail)
		if err != nil {
			return fmt.Errorf("failed to encode trail for %s: %w", h.Ref.Username, err)
		}
		if _, err := hvtStmt.Exec(h.Ref.Username, h.Ref.SourceProfile, h.Ref.Depth, string(snapshot), string(trail),
			h.Justification, h.DiscoveredAt.UTC().Format(timeLayout), seq); err != nil {
			return fmt.Errorf("failed to write hvt %s: %w", h.Ref.Username, err)
		}
	}

	stats, err := json.Marshal(state.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	meta := map[string]string{
		"session_id":         state.SessionID,
		"sequence":           strconv.FormatInt(seq, 10),
		"created_at":         state.CreatedAt.UTC().Format(timeLayout),
		"updated_at":         state.UpdatedAt.UTC().Format(timeLayout),
		"status":             state.Status,
		"config":             string(state.Config),
		"config_fingerprint": state.ConfigFingerprint,
		"stats":              string(stats),
	}
	for key, value := range meta {
		if _, err := tx.Exec(`
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value
		`, key, value); err != nil {
			return fmt.Errorf("failed to write meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// LoadState reads the last committed checkpoint, returns nil if none exists
func (s *Storage) LoadState() (*SessionState, error) {
	meta, err := s.loadMeta()
	if err != nil {
		return nil, err
	}
	if meta["session_id"] == "" {
		return nil, nil
	}

	state := &SessionState{
		SessionID:         meta["session_id"],
		Status:            meta["status"],
		Config:            []byte(meta["config"]),
		ConfigFingerprint: meta["config_fingerprint"],
	}

	if state.Sequence, err = strconv.ParseInt(meta["sequence"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: bad sequence %q", ErrCorruptCheckpoint, meta["sequence"])
	}
	if state.CreatedAt, err = parseTime(meta["created_at"]); err != nil {
		return nil, err
	}
	if state.UpdatedAt, err = parseTime(meta["updated_at"]); err != nil {
		return nil, err
	}
	if meta["stats"] != "" {
		if err := json.Unmarshal([]byte(meta["stats"]), &state.Stats); err != nil {
			return nil, fmt.Errorf("%w: bad stats: %v", ErrCorruptCheckpoint, err)
		}
	}

	if state.Frontier, err = s.loadFrontier(state.Sequence); err != nil {
		return nil, err
	}
	if state.Visited, err = s.loadVisited(state.Sequence); err != nil {
		return nil, err
	}
	if state.Lineage, err = s.loadLineage(state.Sequence); err != nil {
		return nil, err
	}
	if state.HVTs, err = s.loadHVTs(state.Sequence); err != nil {
		return nil, err
	}

	return state, nil
}

func (s *Storage) loadMeta() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("failed to load meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		meta[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta: %w", err)
	}
	return meta, nil
}

func (s *Storage) loadFrontier(seq int64) ([]ProfileRef, error) {
	rows, err := s.db.Query(`
		SELECT username, source_profile, depth, seq
		FROM frontier
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load frontier: %w", err)
	}
	defer rows.Close()

	var refs []ProfileRef
	for rows.Next() {
		var ref ProfileRef
		var rowSeq int64
		if err := rows.Scan(&ref.Username, &ref.SourceProfile, &ref.Depth, &rowSeq); err != nil {
			return nil, fmt.Errorf("failed to scan frontier entry: %w", err)
		}
		if rowSeq != seq {
			return nil, fmt.Errorf("%w: frontier entry %s has sequence %d, expected %d", ErrCorruptCheckpoint, ref.Username, rowSeq, seq)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frontier: %w", err)
	}
	return refs, nil
}

func (s *Storage) loadVisited(seq int64) ([]VisitRecord, error) {
	rows, err := s.db.Query(`
		SELECT username, depth, outcome, detail, visited_at, seq
		FROM visited
		ORDER BY visited_at ASC, username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load visited set: %w", err)
	}
	defer rows.Close()

	var visited []VisitRecord
	for rows.Next() {
		var v VisitRecord
		var outcome, visitedAt string
		var rowSeq int64
		if err := rows.Scan(&v.Username, &v.Depth, &outcome, &v.Detail, &visitedAt, &rowSeq); err != nil {
			return nil, fmt.Errorf("failed to scan visited entry: %w", err)
		}
		if rowSeq != seq {
			return nil, fmt.Errorf("%w: visited entry %s has sequence %d, expected %d", ErrCorruptCheckpoint, v.Username, rowSeq, seq)
		}
		v.Outcome = Outcome(outcome)
		if v.VisitedAt, err = parseTime(visitedAt); err != nil {
			return nil, err
		}
		visited = append(visited, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating visited set: %w", err)
	}
	return visited, nil
}

func (s *Storage) loadLineage(seq int64) ([]LineageEdge, error) {
	rows, err := s.db.Query(`
		SELECT parent, child, weight, seq
		FROM lineage
		ORDER BY parent ASC, child ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load lineage: %w", err)
	}
	defer rows.Close()

	var edges []LineageEdge
	for rows.Next() {
		var e LineageEdge
		var rowSeq int64
		if err := rows.Scan(&e.Parent, &e.Child, &e.Weight, &rowSeq); err != nil {
			return nil, fmt.Errorf("failed to scan lineage edge: %w", err)
		}
		if rowSeq != seq {
			return nil, fmt.Errorf("%w: lineage edge %s -> %s has sequence %d, expected %d", ErrCorruptCheckpoint, e.Parent, e.Child, rowSeq, seq)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lineage: %w", err)
	}
	return edges, nil
}

func (s *Storage) loadHVTs(seq int64) ([]HVTRecord, error) {
	rows, err := s.db.Query(`
		SELECT username, source_profile, depth, snapshot, trail, justification, discovered_at, seq
		FROM hvts
		ORDER BY hvt_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load hvts: %w", err)
	}
	defer rows.Close()

	var hvts []HVTRecord
	for rows.Next() {
		var h HVTRecord
		var snapshot, trail, discoveredAt string
		var rowSeq int64
		if err := rows.Scan(&h.Ref.Username, &h.Ref.SourceProfile, &h.Ref.Depth, &snapshot, &trail,
			&h.Justification, &discoveredAt, &rowSeq); err != nil {
			return nil, fmt.Errorf("failed to scan hvt: %w", err)
		}
		if rowSeq > seq {
			return nil, fmt.Errorf("%w: hvt %s written by uncommitted sequence %d", ErrCorruptCheckpoint, h.Ref.Username, rowSeq)
		}
		if err := json.Unmarshal([]byte(snapshot), &h.Snapshot); err != nil {
			return nil, fmt.Errorf("%w: bad snapshot for %s: %v", ErrCorruptCheckpoint, h.Ref.Username, err)
		}
		if err := json.Unmarshal([]byte(trail), &h.Trail); err != nil {
			return nil, fmt.Errorf("%w: bad trail for %s: %v", ErrCorruptCheckpoint, h.Ref.Username, err)
		}
		if h.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
			return nil, err
		}
		hvts = append(hvts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hvts: %w", err)
	}
	return hvts, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrCorruptCheckpoint, raw)
	}
	return t, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
