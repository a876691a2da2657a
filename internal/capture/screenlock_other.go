//go:build !linux

package capture

import (
	"context"

	"proctord/internal/logging"
	"proctord/internal/signal"
)

// ScreenLock is only implemented for Linux desktop sessions. On other
// platforms it starts disabled; visibility changes still arrive via
// the browser's Page Visibility API through the DOM adapter.
type ScreenLock struct {
	frames chan signal.Frame
	logger *logging.Logger
	state  State
}

// NewScreenLock creates a disabled placeholder monitor.
func NewScreenLock(logger *logging.Logger) *ScreenLock {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScreenLock{
		frames: make(chan signal.Frame),
		logger: logger.WithComponent("capture.screenlock"),
		state:  StateIdle,
	}
}

func (s *ScreenLock) Modality() signal.Modality   { return signal.ModalityDOM }
func (s *ScreenLock) Frames() <-chan signal.Frame { return s.frames }

func (s *ScreenLock) Start(ctx context.Context) error {
	s.state = StateDisabled
	s.logger.Debug("screen-lock monitor not supported on this platform")
	return ErrSourceDisabled
}

func (s *ScreenLock) Stop() error {
	s.state = StateStopped
	return nil
}

func (s *ScreenLock) State() State { return s.state }
