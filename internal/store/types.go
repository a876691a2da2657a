// Package store provides the SQLite-backed local journal for proctord.
// Confirmed violations and session summaries are persisted so evidence
// survives flag-service outages and daemon restarts.
package store

import (
	"time"

	"proctord/internal/violation"
)

// FlagState tracks whether a journaled violation reached the remote
// flag service.
type FlagState string

const (
	// FlagPending means no send attempt has completed yet.
	FlagPending FlagState = "pending"
	// FlagSent means the flag service accepted the record.
	FlagSent FlagState = "sent"
	// FlagFailed means the send attempt failed; the record remains as
	// local evidence.
	FlagFailed FlagState = "failed"
	// FlagSkipped means policy excluded this violation from remote
	// flagging (UI-warning-only types).
	FlagSkipped FlagState = "skipped"
)

// ViolationRecord is one journaled violation.
type ViolationRecord struct {
	ID          int64              `json:"id"`
	SessionID   string             `json:"session_id"`
	Type        violation.Type     `json:"type"`
	Description string             `json:"description"`
	Severity    violation.Severity `json:"severity"`
	OccurredAt  time.Time          `json:"occurred_at"`
	FlagState   FlagState          `json:"flag_state"`
	FlagError   string             `json:"flag_error,omitempty"`
}

// SessionRecord is the journaled summary of one exam session.
type SessionRecord struct {
	SessionID        string     `json:"session_id"`
	QuizID           string     `json:"quiz_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Status           string     `json:"status"`
	Reason           string     `json:"reason,omitempty"`
	TimeTakenSeconds int        `json:"time_taken_seconds"`
	ViolationCount   int        `json:"violation_count"`
	FocusTimeSeconds int        `json:"focus_time_seconds"`
}
