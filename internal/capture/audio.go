package capture

import (
	"context"
	"sync"
	"time"

	"proctord/internal/logging"
	"proctord/internal/signal"
)

// AudioDevice abstracts the microphone plus FFT analyser. The stream
// must be opened with echo cancellation and noise suppression off so
// raw ambient amplitude is observed.
type AudioDevice interface {
	// Open acquires the microphone.
	Open(ctx context.Context) error

	// Magnitudes returns the current byte-scaled frequency-magnitude
	// buffer.
	Magnitudes() ([]byte, error)

	// Close releases the microphone.
	Close() error
}

// Audio samples an AudioDevice at 2 Hz and emits audio frames.
type Audio struct {
	mu      sync.Mutex
	device  AudioDevice
	state   State
	frames  chan signal.Frame
	logger  *logging.Logger
	dropped uint64

	sampleErrs int
}

// NewAudio creates an audio adapter around a device.
func NewAudio(device AudioDevice, logger *logging.Logger) *Audio {
	if logger == nil {
		logger = logging.Default()
	}
	return &Audio{
		device: device,
		state:  StateIdle,
		frames: make(chan signal.Frame, frameBufferSize),
		logger: logger.WithComponent("capture.audio"),
	}
}

func (a *Audio) Modality() signal.Modality   { return signal.ModalityAudio }
func (a *Audio) Frames() <-chan signal.Frame { return a.frames }
func (a *Audio) Interval() time.Duration     { return AudioInterval }

// Start opens the microphone, degrading to Disabled on failure.
func (a *Audio) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StateActive:
		return ErrAlreadyStarted
	case StateDisabled:
		return ErrSourceDisabled
	}

	if err := a.device.Open(ctx); err != nil {
		a.state = StateDisabled
		a.logger.Warn("microphone unavailable, modality disabled", "error", err)
		return ErrSourceDisabled
	}

	a.state = StateActive
	a.logger.Info("audio capture started")
	return nil
}

// Tick samples one magnitude buffer.
func (a *Audio) Tick(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateActive {
		return
	}

	magnitudes, err := a.device.Magnitudes()
	if err != nil {
		a.sampleErrs++
		if a.sampleErrs == 1 {
			a.logger.Warn("audio sample failed", "error", err)
		}
		return
	}
	a.sampleErrs = 0

	emit(a.frames, signal.NewAudioFrame(magnitudes, now), a.logger, &a.dropped)
}

// Stop releases the microphone.
func (a *Audio) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateActive {
		a.state = StateStopped
		return nil
	}

	a.state = StateStopped
	if err := a.device.Close(); err != nil {
		a.logger.Warn("microphone close failed", "error", err)
		return err
	}
	a.logger.Info("audio capture stopped")
	return nil
}

// State reports the adapter's availability.
func (a *Audio) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
