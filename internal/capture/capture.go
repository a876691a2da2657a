// Package capture contains the signal source adapters: thin wrappers
// that pull observations from the camera, the microphone, and the exam
// surface's DOM events, and emit them as frames at a fixed cadence.
//
// Adapters are the only components that touch device or browser
// surfaces. Every failure is converted into a Disabled source that
// emits nothing; failures never propagate downstream. A disabled
// modality leaves its detector chain silently inert for the session.
package capture

import (
	"context"
	"errors"
	"time"

	"proctord/internal/logging"
	"proctord/internal/signal"
)

var (
	// ErrSourceDisabled is returned by Start when the underlying
	// device could not be opened. Callers treat it as a degraded
	// session, not a fatal error.
	ErrSourceDisabled = errors.New("capture: source disabled")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("capture: already started")
)

// Default sampling cadences.
const (
	CameraInterval = time.Second
	AudioInterval  = 500 * time.Millisecond
)

// State describes a source's availability.
type State string

const (
	// StateIdle means the source has not been started.
	StateIdle State = "idle"
	// StateActive means the source is producing frames.
	StateActive State = "active"
	// StateDisabled means the device was unavailable or permission
	// was denied; the source emits no frames for the session.
	StateDisabled State = "disabled"
	// StateStopped means the source was torn down.
	StateStopped State = "stopped"
)

// Source produces frames for one modality.
type Source interface {
	// Modality reports which frames this source emits.
	Modality() signal.Modality

	// Frames returns the source's output channel. The channel is
	// buffered; a slow consumer causes frame drops, never blocking.
	Frames() <-chan signal.Frame

	// Start acquires the underlying device. A device failure moves
	// the source to StateDisabled and returns ErrSourceDisabled.
	Start(ctx context.Context) error

	// Stop releases the device and stops frame emission.
	Stop() error

	// State reports the source's current availability.
	State() State
}

// TickSource is a Source sampled on a fixed cadence by the session
// scheduler rather than driven by external events.
type TickSource interface {
	Source

	// Interval is the sampling cadence.
	Interval() time.Duration

	// Tick samples the device once and emits at most one frame.
	Tick(now time.Time)
}

// frameBufferSize is the per-source channel depth. Consumers run at
// tick cadence, so a small buffer absorbs scheduling jitter.
const frameBufferSize = 16

// emit performs the shared non-blocking send. Dropped frames are
// counted by the caller and logged at debug level to avoid log floods
// from a stuck consumer.
func emit(ch chan signal.Frame, frame signal.Frame, logger *logging.Logger, dropped *uint64) {
	select {
	case ch <- frame:
	default:
		*dropped++
		logger.Debug("frame dropped, consumer lagging",
			"modality", frame.Modality, "dropped_total", *dropped)
	}
}
