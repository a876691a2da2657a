// Package report sends confirmed violations and the final submission
// to the remote flag/submission service. Flag posts are fire-and-forget
// and must never block or interrupt the exam; the submission is
// terminal-critical and retried with backoff.
package report

import (
	"proctord/internal/violation"
)

// FlagRecord is the wire representation of one confirmed violation,
// constructed 1:1 from a violation event and not retained after the
// send attempt.
type FlagRecord struct {
	QuizID      string `json:"quiz_id"`
	FlagType    string `json:"flag_type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// NewFlagRecord builds the wire record for an event.
func NewFlagRecord(quizID string, ev violation.Event) FlagRecord {
	return FlagRecord{
		QuizID:      quizID,
		FlagType:    ev.Type.String(),
		Description: ev.Description,
		Severity:    ev.Severity.String(),
	}
}

// ActivityStats aggregates the candidate's interaction counters for
// the submission payload.
type ActivityStats struct {
	Keystrokes      int            `json:"keystrokes"`
	MouseClicks     int            `json:"mouse_clicks"`
	QuestionTimesMS map[string]int `json:"question_times_ms"`
}

// Submission is the terminal payload sent exactly once per session
// (retries of a failed send excepted).
type Submission struct {
	QuizID           string            `json:"quiz_id"`
	Answers          map[string]string `json:"answers"`
	TimeTakenSeconds int               `json:"time_taken_seconds"`
	ViolationCount   int               `json:"violation_count"`
	FocusTimeSeconds int               `json:"focus_time_seconds"`
	ActivityStats    ActivityStats     `json:"activity_stats"`
}
