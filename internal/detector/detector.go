// Package detector classifies raw frames into violation candidates.
//
// Each detector consumes exactly one frame per tick and returns zero
// or one candidate. Detectors hold no debounce state; confirmation and
// rate limiting are the debounce machines' job. A detector error means
// "no candidate this tick" to the caller and must never abort the
// sampling loop.
package detector

import (
	"proctord/internal/signal"
	"proctord/internal/violation"
)

// Detector classifies one frame of its modality.
type Detector interface {
	// Modality reports which frames this detector consumes.
	Modality() signal.Modality

	// Detect classifies a single frame. A nil candidate with a nil
	// error is the normal "nothing suspicious" outcome.
	Detect(frame signal.Frame) (*violation.Candidate, error)
}
