// Package store persists task executions, their event logs and phase
// transitions in SQLite so history survives restarts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Fixed-width UTC timestamps so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// PhaseTransition is one persisted phase change.
type PhaseTransition struct {
	ID             int64     `json:"id"`
	From           string    `json:"from_phase"`
	To             string    `json:"to_phase"`
	ComplexityUsed int       `json:"complexity_used"`
	TaskCount      int       `json:"task_count"`
	At             time.Time `json:"timestamp"`
}

// Stats holds aggregate execution statistics.
type Stats struct {
	TotalExecutions   int            `json:"total_executions"`
	ByStatus          map[string]int `json:"by_status"`
	ByAgentType       map[string]int `json:"by_agent_type"`
	AverageConfidence float64        `json:"average_confidence"`
	AverageDuration   time.Duration  `json:"average_duration"`
	TotalComplexity   int            `json:"total_complexity"`
	PhaseTransitions  int            `json:"phase_transitions"`
}

// Store is the SQLite-backed execution history.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: create data dir")
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: open database")
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: pragma %q", p)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: migration")
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS task_executions (
			task_id         TEXT PRIMARY KEY,
			agent_id        TEXT    NOT NULL DEFAULT '',
			agent_type      TEXT    NOT NULL,
			task_type       TEXT    NOT NULL,
			status          TEXT    NOT NULL,
			complexity      INTEGER NOT NULL DEFAULT 0,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			progress        REAL    NOT NULL DEFAULT 0,
			message         TEXT    NOT NULL DEFAULT '',
			confidence      REAL,
			content         TEXT,
			sources         BLOB,
			result_metadata BLOB,
			execution_ns    INTEGER,
			error           TEXT    NOT NULL DEFAULT '',
			metadata        BLOB,
			created_at      TEXT    NOT NULL,
			started_at      TEXT,
			completed_at    TEXT,
			timeout_at      TEXT,
			updated_at      TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id   TEXT NOT NULL REFERENCES task_executions(task_id) ON DELETE CASCADE,
			seq       INTEGER NOT NULL,
			type      TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			data      BLOB
		);

		CREATE TABLE IF NOT EXISTS phase_transitions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			from_phase      TEXT    NOT NULL,
			to_phase        TEXT    NOT NULL,
			complexity_used INTEGER NOT NULL,
			task_count      INTEGER NOT NULL,
			at              TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_exec_created ON task_executions(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_exec_status ON task_executions(status);
		CREATE INDEX IF NOT EXISTS idx_events_task ON task_events(task_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveExecution inserts or replaces an execution record together with its
// event log.
func (s *Store) SaveExecution(rec task.ExecutionRecord) error {
	if rec.TaskID == "" {
		return sdkerr.Validation("store: execution record has no task id")
	}

	meta, err := encodeBlob(rec.Metadata)
	if err != nil {
		return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: encode metadata")
	}

	var (
		confidence sql.NullFloat64
		content    sql.NullString
		execNS     sql.NullInt64
		sources    []byte
		resultMeta []byte
	)
	if r := rec.Result; r != nil {
		confidence = sql.NullFloat64{Float64: r.ConfidenceScore, Valid: true}
		content = sql.NullString{String: r.Content, Valid: true}
		execNS = sql.NullInt64{Int64: int64(r.ExecutionTime), Valid: true}
		if sources, err = encodeBlob(r.Sources); err != nil {
			return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: encode sources")
		}
		if resultMeta, err = encodeBlob(r.Metadata); err != nil {
			return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: encode result metadata")
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: begin")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO task_executions (
			task_id, agent_id, agent_type, task_type, status, complexity, retry_count,
			progress, message, confidence, content, sources, result_metadata, execution_ns,
			error, metadata, created_at, started_at, completed_at, timeout_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			agent_type = excluded.agent_type,
			task_type = excluded.task_type,
			status = excluded.status,
			complexity = excluded.complexity,
			retry_count = excluded.retry_count,
			progress = excluded.progress,
			message = excluded.message,
			confidence = excluded.confidence,
			content = excluded.content,
			sources = excluded.sources,
			result_metadata = excluded.result_metadata,
			execution_ns = excluded.execution_ns,
			error = excluded.error,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			timeout_at = excluded.timeout_at,
			updated_at = excluded.updated_at`,
		rec.TaskID, rec.AgentID, rec.AgentType, rec.TaskType, string(rec.Status),
		rec.Complexity, rec.RetryCount, rec.Progress, rec.Message,
		confidence, content, sources, resultMeta, execNS,
		rec.Error, meta, formatTime(rec.CreatedAt),
		formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt), formatTimePtr(rec.TimeoutAt),
		formatTime(timeNow()),
	)
	if err != nil {
		return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: save execution %s", rec.TaskID)
	}

	if _, err := tx.Exec("DELETE FROM task_events WHERE task_id = ?", rec.TaskID); err != nil {
		return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: clear events")
	}
	for i, ev := range rec.Events {
		data, err := encodeBlob(ev.Data)
		if err != nil {
			return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: encode event data")
		}
		if _, err := tx.Exec(
			"INSERT INTO task_events (task_id, seq, type, timestamp, data) VALUES (?, ?, ?, ?, ?)",
			rec.TaskID, i, ev.Type, formatTime(ev.Timestamp), data,
		); err != nil {
			return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: insert event")
		}
	}

	if err := tx.Commit(); err != nil {
		return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: commit")
	}
	return nil
}

const executionColumns = `task_id, agent_id, agent_type, task_type, status, complexity, retry_count,
	progress, message, confidence, content, sources, result_metadata, execution_ns,
	error, metadata, created_at, started_at, completed_at, timeout_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (task.ExecutionRecord, time.Time, error) {
	var (
		rec                           task.ExecutionRecord
		status                        string
		confidence                    sql.NullFloat64
		content                       sql.NullString
		sources, resultMeta, meta     []byte
		execNS                        sql.NullInt64
		created, updated              string
		started, completed, timeoutAt sql.NullString
	)
	err := row.Scan(
		&rec.TaskID, &rec.AgentID, &rec.AgentType, &rec.TaskType, &status,
		&rec.Complexity, &rec.RetryCount, &rec.Progress, &rec.Message,
		&confidence, &content, &sources, &resultMeta, &execNS,
		&rec.Error, &meta, &created, &started, &completed, &timeoutAt, &updated,
	)
	if err != nil {
		return rec, time.Time{}, err
	}
	rec.Status = task.Status(status)
	rec.CreatedAt = parseTime(created)
	rec.StartedAt = parseTimePtr(started)
	rec.CompletedAt = parseTimePtr(completed)
	rec.TimeoutAt = parseTimePtr(timeoutAt)
	if err := decodeBlob(meta, &rec.Metadata); err != nil {
		return rec, time.Time{}, fmt.Errorf("decode metadata: %w", err)
	}

	if confidence.Valid || content.Valid {
		r := &task.Result{
			TaskID:          rec.TaskID,
			AgentID:         rec.AgentID,
			Status:          rec.Status,
			Content:         content.String,
			ConfidenceScore: confidence.Float64,
			ExecutionTime:   time.Duration(execNS.Int64),
			ErrorMessage:    rec.Error,
		}
		if rec.CompletedAt != nil {
			r.CreatedAt = *rec.CompletedAt
		}
		if err := decodeBlob(sources, &r.Sources); err != nil {
			return rec, time.Time{}, fmt.Errorf("decode sources: %w", err)
		}
		if err := decodeBlob(resultMeta, &r.Metadata); err != nil {
			return rec, time.Time{}, fmt.Errorf("decode result metadata: %w", err)
		}
		rec.Result = r
	}
	return rec, parseTime(updated), nil
}

// Execution returns one execution with its events. ok is false when no
// such task exists.
func (s *Store) Execution(taskID string) (rec task.ExecutionRecord, ok bool, err error) {
	row := s.db.QueryRow("SELECT "+executionColumns+" FROM task_executions WHERE task_id = ?", taskID)
	rec, _, err = scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.ExecutionRecord{}, false, nil
	}
	if err != nil {
		return task.ExecutionRecord{}, false, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: load execution %s", taskID)
	}
	if rec.Events, err = s.events(taskID); err != nil {
		return task.ExecutionRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) events(taskID string) ([]task.Event, error) {
	rows, err := s.db.Query("SELECT type, timestamp, data FROM task_events WHERE task_id = ? ORDER BY seq", taskID)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: load events")
	}
	defer rows.Close()

	var out []task.Event
	for rows.Next() {
		var (
			ev   task.Event
			ts   string
			data []byte
		)
		if err := rows.Scan(&ev.Type, &ts, &data); err != nil {
			return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: scan event")
		}
		ev.Timestamp = parseTime(ts)
		if err := decodeBlob(data, &ev.Data); err != nil {
			return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: decode event data")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecentExecutions returns up to limit executions, newest first, without
// their event logs. limit <= 0 means 50.
func (s *Store) RecentExecutions(limit int) ([]task.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT "+executionColumns+" FROM task_executions ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: recent executions")
	}
	defer rows.Close()

	var out []task.ExecutionRecord
	for rows.Next() {
		rec, _, err := scanExecution(rows)
		if err != nil {
			return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: scan execution")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordPhaseTransition appends a phase change.
func (s *Store) RecordPhaseTransition(t PhaseTransition) (int64, error) {
	at := t.At
	if at.IsZero() {
		at = timeNow()
	}
	res, err := s.db.Exec(
		"INSERT INTO phase_transitions (from_phase, to_phase, complexity_used, task_count, at) VALUES (?, ?, ?, ?, ?)",
		t.From, t.To, t.ComplexityUsed, t.TaskCount, formatTime(at),
	)
	if err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: record transition")
	}
	return res.LastInsertId()
}

// PhaseTransitions returns all transitions in the order they happened.
func (s *Store) PhaseTransitions() ([]PhaseTransition, error) {
	rows, err := s.db.Query("SELECT id, from_phase, to_phase, complexity_used, task_count, at FROM phase_transitions ORDER BY id")
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: phase transitions")
	}
	defer rows.Close()

	var out []PhaseTransition
	for rows.Next() {
		var (
			t  PhaseTransition
			at string
		)
		if err := rows.Scan(&t.ID, &t.From, &t.To, &t.ComplexityUsed, &t.TaskCount, &at); err != nil {
			return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: scan transition")
		}
		t.At = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Stats aggregates over every stored execution.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{ByStatus: map[string]int{}, ByAgentType: map[string]int{}}

	var (
		avgConf sql.NullFloat64
		avgNS   sql.NullFloat64
		total   sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       AVG(CASE WHEN status = 'completed' THEN confidence END),
		       AVG(CASE WHEN status = 'completed' THEN execution_ns END),
		       SUM(complexity)
		FROM task_executions`).Scan(&st.TotalExecutions, &avgConf, &avgNS, &total)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: stats")
	}
	st.AverageConfidence = avgConf.Float64
	st.AverageDuration = time.Duration(avgNS.Float64)
	st.TotalComplexity = int(total.Int64)

	if err := s.countInto(st.ByStatus, "SELECT status, COUNT(*) FROM task_executions GROUP BY status"); err != nil {
		return nil, err
	}
	if err := s.countInto(st.ByAgentType, "SELECT agent_type, COUNT(*) FROM task_executions GROUP BY agent_type"); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM phase_transitions").Scan(&st.PhaseTransitions); err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: count transitions")
	}
	return st, nil
}

func (s *Store) countInto(into map[string]int, query string) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: stats")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return sdkerr.Wrap(sdkerr.KindDatabase, err, "store: stats scan")
		}
		into[key] = n
	}
	return rows.Err()
}

// PruneBefore deletes executions created before cutoff together with
// their events.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: begin")
	}
	defer tx.Rollback()

	c := formatTime(cutoff)
	if _, err := tx.Exec(
		"DELETE FROM task_events WHERE task_id IN (SELECT task_id FROM task_executions WHERE created_at < ?)", c,
	); err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: prune events")
	}
	res, err := tx.Exec("DELETE FROM task_executions WHERE created_at < ?", c)
	if err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: prune")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: prune")
	}
	if err := tx.Commit(); err != nil {
		return 0, sdkerr.Wrap(sdkerr.KindDatabase, err, "store: commit")
	}
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
