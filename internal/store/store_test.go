package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"proctord/internal/violation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "proctord.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(t violation.Type, at time.Time) violation.Event {
	return violation.NewEvent(violation.Candidate{Type: t}, at)
}

// ============================================================
// Schema
// ============================================================

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != 1 {
		t.Errorf("schema version = %d, want 1", v)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "proctord.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Close()
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctord.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	s2.Close()
}

// ============================================================
// Sessions
// ============================================================

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)
	started := time.Now().Truncate(time.Millisecond)

	if err := s.CreateSession("sess-1", "quiz-42", started); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	rec, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec == nil {
		t.Fatal("GetSession() = nil, want record")
	}
	if rec.QuizID != "quiz-42" {
		t.Errorf("QuizID = %q, want %q", rec.QuizID, "quiz-42")
	}
	if !rec.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, started)
	}
	if rec.Status != "running" {
		t.Errorf("Status = %q, want %q", rec.Status, "running")
	}
	if rec.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", rec.EndedAt)
	}
}

func TestGetSessionUnknown(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.GetSession("no-such-session")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec != nil {
		t.Errorf("GetSession() = %+v, want nil", rec)
	}
}

func TestFinishSession(t *testing.T) {
	s := openTestStore(t)
	started := time.Now()
	ended := started.Add(45 * time.Minute)

	if err := s.CreateSession("sess-1", "quiz-42", started); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	err := s.FinishSession(SessionRecord{
		SessionID:        "sess-1",
		Status:           "submitted",
		Reason:           "expired",
		EndedAt:          &ended,
		TimeTakenSeconds: 2700,
		ViolationCount:   3,
		FocusTimeSeconds: 2650,
	})
	if err != nil {
		t.Fatalf("FinishSession() error = %v", err)
	}

	rec, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec.Status != "submitted" {
		t.Errorf("Status = %q, want %q", rec.Status, "submitted")
	}
	if rec.Reason != "expired" {
		t.Errorf("Reason = %q, want %q", rec.Reason, "expired")
	}
	if rec.EndedAt == nil || !rec.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", rec.EndedAt, ended)
	}
	if rec.TimeTakenSeconds != 2700 {
		t.Errorf("TimeTakenSeconds = %d, want 2700", rec.TimeTakenSeconds)
	}
	if rec.ViolationCount != 3 {
		t.Errorf("ViolationCount = %d, want 3", rec.ViolationCount)
	}
	if rec.FocusTimeSeconds != 2650 {
		t.Errorf("FocusTimeSeconds = %d, want 2650", rec.FocusTimeSeconds)
	}
}

func TestFinishSessionUnknown(t *testing.T) {
	s := openTestStore(t)

	err := s.FinishSession(SessionRecord{SessionID: "ghost", Status: "submitted"})
	if err == nil {
		t.Fatal("FinishSession() error = nil, want not-found error")
	}
}

// ============================================================
// Violations
// ============================================================

func TestInsertAndListViolations(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()

	if err := s.CreateSession("sess-1", "quiz-42", base); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	types := []violation.Type{
		violation.TypeNoFace,
		violation.TypeTabSwitch,
		violation.TypeSuddenNoise,
	}
	for i, vt := range types {
		if _, err := s.InsertViolation("sess-1", testEvent(vt, base.Add(time.Duration(i)*time.Second)), FlagPending); err != nil {
			t.Fatalf("InsertViolation(%s) error = %v", vt, err)
		}
	}

	records, err := s.Violations("sess-1", 0)
	if err != nil {
		t.Fatalf("Violations() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Violations() returned %d records, want 3", len(records))
	}

	// Newest first.
	if records[0].Type != violation.TypeSuddenNoise {
		t.Errorf("records[0].Type = %s, want %s", records[0].Type, violation.TypeSuddenNoise)
	}
	if records[2].Type != violation.TypeNoFace {
		t.Errorf("records[2].Type = %s, want %s", records[2].Type, violation.TypeNoFace)
	}
	if records[0].FlagState != FlagPending {
		t.Errorf("FlagState = %s, want %s", records[0].FlagState, FlagPending)
	}
	if records[0].Severity != violation.SeverityMedium {
		t.Errorf("Severity = %s, want %s", records[0].Severity, violation.SeverityMedium)
	}
}

func TestViolationsLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()

	if err := s.CreateSession("sess-1", "quiz-42", base); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.InsertViolation("sess-1", testEvent(violation.TypeNoFace, base.Add(time.Duration(i)*time.Second)), FlagPending); err != nil {
			t.Fatalf("InsertViolation() error = %v", err)
		}
	}

	records, err := s.Violations("sess-1", 2)
	if err != nil {
		t.Fatalf("Violations() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Violations(limit=2) returned %d records, want 2", len(records))
	}
}

func TestViolationsScopedToSession(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()

	for _, id := range []string{"sess-a", "sess-b"} {
		if err := s.CreateSession(id, "quiz-42", base); err != nil {
			t.Fatalf("CreateSession(%s) error = %v", id, err)
		}
	}
	if _, err := s.InsertViolation("sess-a", testEvent(violation.TypeNoFace, base), FlagPending); err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}
	if _, err := s.InsertViolation("sess-b", testEvent(violation.TypeTabSwitch, base), FlagPending); err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}

	records, err := s.Violations("sess-a", 0)
	if err != nil {
		t.Fatalf("Violations() error = %v", err)
	}
	if len(records) != 1 || records[0].Type != violation.TypeNoFace {
		t.Errorf("sess-a records = %+v, want one no_face", records)
	}

	n, err := s.CountViolations("sess-b")
	if err != nil {
		t.Fatalf("CountViolations() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountViolations(sess-b) = %d, want 1", n)
	}
}

// ============================================================
// Flag state tracking
// ============================================================

func TestSetFlagResult(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()

	if err := s.CreateSession("sess-1", "quiz-42", base); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sentID, err := s.InsertViolation("sess-1", testEvent(violation.TypeNoFace, base), FlagPending)
	if err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}
	failedID, err := s.InsertViolation("sess-1", testEvent(violation.TypeTabSwitch, base.Add(time.Second)), FlagPending)
	if err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}

	if err := s.SetFlagResult(sentID, nil); err != nil {
		t.Fatalf("SetFlagResult(sent) error = %v", err)
	}
	if err := s.SetFlagResult(failedID, errors.New("connection refused")); err != nil {
		t.Fatalf("SetFlagResult(failed) error = %v", err)
	}

	records, err := s.Violations("sess-1", 0)
	if err != nil {
		t.Fatalf("Violations() error = %v", err)
	}

	byID := make(map[int64]ViolationRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	if got := byID[sentID]; got.FlagState != FlagSent || got.FlagError != "" {
		t.Errorf("sent record = {state: %s, err: %q}, want {sent, \"\"}", got.FlagState, got.FlagError)
	}
	if got := byID[failedID]; got.FlagState != FlagFailed || got.FlagError != "connection refused" {
		t.Errorf("failed record = {state: %s, err: %q}, want {failed, %q}",
			got.FlagState, got.FlagError, "connection refused")
	}
}

func TestUnsentFlags(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()

	if err := s.CreateSession("sess-1", "quiz-42", base); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	pendingID, err := s.InsertViolation("sess-1", testEvent(violation.TypeNoFace, base), FlagPending)
	if err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}
	sentID, err := s.InsertViolation("sess-1", testEvent(violation.TypeTabSwitch, base.Add(time.Second)), FlagPending)
	if err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}
	failedID, err := s.InsertViolation("sess-1", testEvent(violation.TypeSuddenNoise, base.Add(2*time.Second)), FlagPending)
	if err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}
	if _, err := s.InsertViolation("sess-1", testEvent(violation.TypeRightClickBlocked, base.Add(3*time.Second)), FlagSkipped); err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}

	if err := s.SetFlagResult(sentID, nil); err != nil {
		t.Fatalf("SetFlagResult() error = %v", err)
	}
	if err := s.SetFlagResult(failedID, errors.New("timeout")); err != nil {
		t.Fatalf("SetFlagResult() error = %v", err)
	}

	unsent, err := s.UnsentFlags("sess-1")
	if err != nil {
		t.Fatalf("UnsentFlags() error = %v", err)
	}
	if len(unsent) != 2 {
		t.Fatalf("UnsentFlags() returned %d records, want 2", len(unsent))
	}
	// Oldest first: pending then failed. Skipped and sent excluded.
	if unsent[0].ID != pendingID {
		t.Errorf("unsent[0].ID = %d, want %d (pending)", unsent[0].ID, pendingID)
	}
	if unsent[1].ID != failedID {
		t.Errorf("unsent[1].ID = %d, want %d (failed)", unsent[1].ID, failedID)
	}
}

// ============================================================
// Persistence across restarts
// ============================================================

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proctord.db")
	base := time.Now()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s1.CreateSession("sess-1", "quiz-42", base); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := s1.InsertViolation("sess-1", testEvent(violation.TypeMultipleFaces, base), FlagFailed); err != nil {
		t.Fatalf("InsertViolation() error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	rec, err := s2.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if rec == nil || rec.QuizID != "quiz-42" {
		t.Fatalf("GetSession() after reopen = %+v, want quiz-42 session", rec)
	}

	unsent, err := s2.UnsentFlags("sess-1")
	if err != nil {
		t.Fatalf("UnsentFlags() error = %v", err)
	}
	if len(unsent) != 1 || unsent[0].Type != violation.TypeMultipleFaces {
		t.Errorf("unsent after reopen = %+v, want one multiple_faces", unsent)
	}
}
