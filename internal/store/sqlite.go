package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"proctord/internal/violation"
)

// Store is the SQLite journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateSession journals the start of an exam session.
func (s *Store) CreateSession(sessionID, quizID string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, quiz_id, started_at_ns, status)
		VALUES (?, ?, ?, 'running')`,
		sessionID, quizID, startedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession records a session's terminal state and summary counts.
func (s *Store) FinishSession(rec SessionRecord) error {
	var endedNs *int64
	if rec.EndedAt != nil {
		ns := rec.EndedAt.UnixNano()
		endedNs = &ns
	}

	result, err := s.db.Exec(`
		UPDATE sessions
		SET ended_at_ns = ?, status = ?, reason = ?,
		    time_taken_seconds = ?, violation_count = ?, focus_time_seconds = ?
		WHERE session_id = ?`,
		endedNs, rec.Status, rec.Reason,
		rec.TimeTakenSeconds, rec.ViolationCount, rec.FocusTimeSeconds,
		rec.SessionID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session not found: %s", rec.SessionID)
	}
	return nil
}

// GetSession retrieves a session summary. Returns nil when unknown.
func (s *Store) GetSession(sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	var startedNs int64
	var endedNs sql.NullInt64
	var reason sql.NullString

	err := s.db.QueryRow(`
		SELECT session_id, quiz_id, started_at_ns, ended_at_ns, status, reason,
		       time_taken_seconds, violation_count, focus_time_seconds
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&rec.SessionID, &rec.QuizID, &startedNs, &endedNs, &rec.Status, &reason,
		&rec.TimeTakenSeconds, &rec.ViolationCount, &rec.FocusTimeSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	rec.StartedAt = time.Unix(0, startedNs)
	if endedNs.Valid {
		t := time.Unix(0, endedNs.Int64)
		rec.EndedAt = &t
	}
	rec.Reason = reason.String
	return &rec, nil
}

// InsertViolation journals a confirmed violation and returns its ID.
func (s *Store) InsertViolation(sessionID string, ev violation.Event, state FlagState) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO violations (session_id, type, description, severity, occurred_at_ns, flag_state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, ev.Type.String(), ev.Description, ev.Severity.String(),
		ev.OccurredAt.UnixNano(), string(state),
	)
	if err != nil {
		return 0, fmt.Errorf("insert violation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// SetFlagResult updates a journaled violation after a flag post
// attempt completes.
func (s *Store) SetFlagResult(id int64, sendErr error) error {
	state := FlagSent
	msg := ""
	if sendErr != nil {
		state = FlagFailed
		msg = sendErr.Error()
	}

	_, err := s.db.Exec(`
		UPDATE violations SET flag_state = ?, flag_error = ? WHERE id = ?`,
		string(state), msg, id,
	)
	if err != nil {
		return fmt.Errorf("set flag result: %w", err)
	}
	return nil
}

// Violations returns a session's journaled violations, newest first.
// A non-positive limit returns all of them.
func (s *Store) Violations(sessionID string, limit int) ([]ViolationRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, type, description, severity, occurred_at_ns, flag_state, flag_error
		FROM violations
		WHERE session_id = ?
		ORDER BY occurred_at_ns DESC
		LIMIT ?`, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	return scanViolations(rows)
}

// UnsentFlags returns journaled violations that never reached the flag
// service, oldest first. Used for post-session evidence export.
func (s *Store) UnsentFlags(sessionID string) ([]ViolationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, type, description, severity, occurred_at_ns, flag_state, flag_error
		FROM violations
		WHERE session_id = ? AND flag_state IN ('pending', 'failed')
		ORDER BY occurred_at_ns ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query unsent flags: %w", err)
	}
	defer rows.Close()

	return scanViolations(rows)
}

// CountViolations returns the number of journaled violations for a
// session.
func (s *Store) CountViolations(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM violations WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

func scanViolations(rows *sql.Rows) ([]ViolationRecord, error) {
	var records []ViolationRecord

	for rows.Next() {
		var rec ViolationRecord
		var typ, severity, state string
		var occurredNs int64
		var flagErr sql.NullString

		if err := rows.Scan(&rec.ID, &rec.SessionID, &typ, &rec.Description,
			&severity, &occurredNs, &state, &flagErr); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}

		rec.Type = violation.Type(typ)
		rec.Severity = violation.Severity(severity)
		rec.OccurredAt = time.Unix(0, occurredNs)
		rec.FlagState = FlagState(state)
		rec.FlagError = flagErr.String
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return records, nil
}
