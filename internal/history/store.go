package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/segment-replay/internal/validation"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	plan             TEXT,
	loop_count       INTEGER NOT NULL,
	started_at       TEXT NOT NULL,
	ended_at         TEXT,
	success          INTEGER,
	reason           TEXT,
	validations_json TEXT
);

CREATE TABLE IF NOT EXISTS segment_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	ordinal       INTEGER NOT NULL,
	name          TEXT,
	event         TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS stall_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	ordinal       INTEGER NOT NULL,
	reason        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// #region store-struct
// Store keeps replay history in SQLite. It also records a live controller:
// the recorder methods write against the run opened by the last RunStarted.
type Store struct {
	db  *sql.DB
	Now func() time.Time

	mu     sync.Mutex
	active string
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
// #endregion constructor

// #region write
// BeginRun opens a run and returns its id.
func (s *Store) BeginRun(sessionID, plan string, loop int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, session_id, plan, loop_count, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, sessionID, nullIfEmpty(plan), loop, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

func (s *Store) LogSegmentEvent(runID string, ordinal int, name, event string) error {
	_, err := s.db.Exec(
		`INSERT INTO segment_events (run_id, ordinal, name, event, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, ordinal, nullIfEmpty(name), event, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log segment event: %w", err)
	}
	return nil
}

func (s *Store) LogStall(runID string, ordinal int, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO stall_log (run_id, ordinal, reason, created_at) VALUES (?, ?, ?, ?)`,
		runID, ordinal, reason, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log stall: %w", err)
	}
	return nil
}

// EndRun closes a run. Ending a run twice keeps the first outcome.
func (s *Store) EndRun(runID string, success bool, reason string, results []validation.Result) error {
	var resultsJSON interface{}
	if len(results) > 0 {
		b, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("marshal validations: %w", err)
		}
		resultsJSON = string(b)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE runs SET ended_at = ?, success = ?, reason = ?, validations_json = ?
		 WHERE run_id = ? AND ended_at IS NULL`,
		s.now().Format(time.RFC3339Nano), success, nullIfEmpty(reason), resultsJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
			return fmt.Errorf("check run: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
	}
	return tx.Commit()
}
// #endregion write

// #region recorder
// RunStarted opens a new run for the controller.
func (s *Store) RunStarted(sessionID, plan string, loop int) {
	id, err := s.BeginRun(sessionID, plan, loop)
	if err != nil {
		log.Printf("[HISTORY] %v", err)
		return
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

func (s *Store) SegmentMatched(ordinal int, name string) {
	s.withActive(func(id string) error { return s.LogSegmentEvent(id, ordinal, name, EventMatched) })
}

func (s *Store) SegmentCompleted(ordinal int, name string) {
	s.withActive(func(id string) error { return s.LogSegmentEvent(id, ordinal, name, EventCompleted) })
}

func (s *Store) Stalled(ordinal int, reason string) {
	s.withActive(func(id string) error { return s.LogStall(id, ordinal, reason) })
}

func (s *Store) RunEnded(success bool, reason string, results []validation.Result) {
	s.withActive(func(id string) error { return s.EndRun(id, success, reason, results) })
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// ActiveRun returns the id of the run being recorded, if any.
func (s *Store) ActiveRun() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Store) withActive(fn func(id string) error) {
	id := s.ActiveRun()
	if id == "" {
		return
	}
	if err := fn(id); err != nil {
		log.Printf("[HISTORY] %v", err)
	}
}
// #endregion recorder

// #region read
const runColumns = `run_id, session_id, plan, loop_count, started_at, ended_at, success, reason, validations_json`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var plan, endedStr, reason, validations sql.NullString
	var success sql.NullBool
	var startedStr string
	if err := row.Scan(&r.RunID, &r.SessionID, &plan, &r.Loop, &startedStr, &endedStr, &success, &reason, &validations); err != nil {
		return Run{}, err
	}
	r.Plan = plan.String
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	if endedStr.Valid {
		r.Ended = true
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, endedStr.String)
	}
	r.Success = success.Valid && success.Bool
	r.Reason = reason.String
	r.Validations = validations.String
	return r, nil
}

// GetRun retrieves one run by id.
func (s *Store) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SegmentEvents returns the events of a run in the order they were written.
func (s *Store) SegmentEvents(runID string) ([]SegmentEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, ordinal, name, event, created_at FROM segment_events WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list segment events: %w", err)
	}
	defer rows.Close()

	var events []SegmentEvent
	for rows.Next() {
		var ev SegmentEvent
		var name sql.NullString
		var createdStr string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Ordinal, &name, &ev.Event, &createdStr); err != nil {
			return nil, fmt.Errorf("scan segment event: %w", err)
		}
		ev.Name = name.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stalls returns the stall log of a run in the order it was written.
func (s *Store) Stalls(runID string) ([]StallEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, ordinal, reason, created_at FROM stall_log WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stalls: %w", err)
	}
	defer rows.Close()

	var stalls []StallEntry
	for rows.Next() {
		var st StallEntry
		var createdStr string
		if err := rows.Scan(&st.ID, &st.RunID, &st.Ordinal, &st.Reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan stall: %w", err)
		}
		st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		stalls = append(stalls, st)
	}
	return stalls, rows.Err()
}
// #endregion read

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
