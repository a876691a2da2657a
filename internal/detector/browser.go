package detector

import (
	"fmt"
	"strings"

	"proctord/internal/signal"
	"proctord/internal/violation"
)

// Browser classifies forwarded DOM events: visibility loss, blocked
// developer-tools key chords, and right clicks. Mouse-down and
// visibility-restored events are activity signals, not candidates.
//
// Suppressing the browser's default action for blocked chords and the
// context menu is the adapter's job and happens unconditionally at the
// source; this detector only decides what counts as a candidate.
type Browser struct{}

// NewBrowser creates a browser security detector.
func NewBrowser() *Browser { return &Browser{} }

func (d *Browser) Modality() signal.Modality { return signal.ModalityDOM }

func (d *Browser) Detect(frame signal.Frame) (*violation.Candidate, error) {
	if frame.Modality != signal.ModalityDOM || frame.DOM == nil {
		return nil, ErrWrongModality
	}

	ev := frame.DOM
	switch ev.Kind {
	case signal.DOMVisibilityHidden:
		return &violation.Candidate{
			Type:      violation.TypeTabSwitch,
			Strength:  1.0,
			Timestamp: frame.Timestamp,
		}, nil

	case signal.DOMKeyDown:
		if chord, blocked := BlockedChord(*ev); blocked {
			return &violation.Candidate{
				Type:        violation.TypeSecurityViolation,
				Description: fmt.Sprintf("Blocked key combination: %s", chord),
				Strength:    1.0,
				Timestamp:   frame.Timestamp,
			}, nil
		}
		return nil, nil

	case signal.DOMContextMenu:
		return &violation.Candidate{
			Type:      violation.TypeRightClickBlocked,
			Strength:  1.0,
			Timestamp: frame.Timestamp,
		}, nil
	}

	return nil, nil
}

// BlockedChord reports whether a keydown matches a forbidden
// combination (developer tools, view source, screenshots) and returns
// a printable name for it. The capture layer uses the same predicate
// to suppress the browser default unconditionally, before any
// debouncing happens.
func BlockedChord(ev signal.DOMEvent) (string, bool) {
	key := strings.ToLower(ev.Key)
	mod := ev.Ctrl || ev.Meta

	switch {
	case key == "f12":
		return "F12", true
	case key == "printscreen":
		return "PrintScreen", true
	case mod && ev.Shift && (key == "i" || key == "j" || key == "c"):
		return "Ctrl+Shift+" + strings.ToUpper(key), true
	case mod && !ev.Shift && key == "u":
		return "Ctrl+U", true
	}
	return "", false
}
