// Package violation defines the violation vocabulary shared by the
// detectors, the debounce machines, and the event bus: candidate
// classifications produced per frame, and confirmed events produced
// after debouncing.
package violation

import (
	"fmt"
	"time"
)

// Type identifies a violation category. The values double as the
// flag_type field on the flag service wire format.
type Type string

const (
	// Camera modality.
	TypeNoFace        Type = "no_face"
	TypeMultipleFaces Type = "multiple_faces"
	TypeLookingAway   Type = "looking_away"

	// Audio modality.
	TypeSuddenNoise     Type = "sudden_noise"
	TypeBackgroundNoise Type = "background_noise"

	// DOM modality.
	TypeTabSwitch         Type = "tab_switch"
	TypeSecurityViolation Type = "security_violation"
	TypeRightClickBlocked Type = "right_click_blocked"
)

// AllTypes lists every violation type in a stable order. The monitor
// engine builds one debounce machine per entry.
func AllTypes() []Type {
	return []Type{
		TypeNoFace,
		TypeMultipleFaces,
		TypeLookingAway,
		TypeSuddenNoise,
		TypeBackgroundNoise,
		TypeTabSwitch,
		TypeSecurityViolation,
		TypeRightClickBlocked,
	}
}

// Valid reports whether t is a known violation type.
func (t Type) Valid() bool {
	switch t {
	case TypeNoFace, TypeMultipleFaces, TypeLookingAway,
		TypeSuddenNoise, TypeBackgroundNoise,
		TypeTabSwitch, TypeSecurityViolation, TypeRightClickBlocked:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// Severity grades a violation for the flag service.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) String() string { return string(s) }

// SeverityFor returns the severity assigned to a violation type.
// Multiple faces and the browser-security events are graded high;
// everything camera/audio else is medium, right-click is low.
func SeverityFor(t Type) Severity {
	switch t {
	case TypeMultipleFaces, TypeTabSwitch, TypeSecurityViolation:
		return SeverityHigh
	case TypeRightClickBlocked:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Candidate is one frame's raw classification from a detector, before
// debouncing. Strength is a detector-specific confidence hint in [0,1].
type Candidate struct {
	Type        Type
	Description string
	Strength    float64
	Timestamp   time.Time
}

// Event is a confirmed, rate-limited violation emitted by a debounce
// machine. Immutable once created.
type Event struct {
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent builds an event from a confirmed candidate.
func NewEvent(c Candidate, now time.Time) Event {
	desc := c.Description
	if desc == "" {
		desc = defaultDescription(c.Type)
	}
	return Event{
		Type:        c.Type,
		Description: desc,
		Severity:    SeverityFor(c.Type),
		OccurredAt:  now,
	}
}

func defaultDescription(t Type) string {
	switch t {
	case TypeNoFace:
		return "No face detected in camera frame"
	case TypeMultipleFaces:
		return "Multiple faces detected in camera frame"
	case TypeLookingAway:
		return "Candidate looking away from screen"
	case TypeSuddenNoise:
		return "Sudden loud noise detected"
	case TypeBackgroundNoise:
		return "Sustained background noise detected"
	case TypeTabSwitch:
		return "Candidate switched away from the exam tab"
	case TypeSecurityViolation:
		return "Blocked developer-tools key combination"
	case TypeRightClickBlocked:
		return "Right-click blocked during exam"
	default:
		return fmt.Sprintf("Violation of type %s", t)
	}
}
