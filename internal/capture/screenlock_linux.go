//go:build linux

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"proctord/internal/logging"
	"proctord/internal/signal"
)

// Screen-lock D-Bus constants. Both the freedesktop screensaver and
// the GNOME variant broadcast ActiveChanged(bool).
const (
	screenSaverInterface = "org.freedesktop.ScreenSaver"
	screenSaverPath      = "/org/freedesktop/ScreenSaver"
	gnomeSaverInterface  = "org.gnome.ScreenSaver"
	activeChangedMember  = "ActiveChanged"
)

// ScreenLock watches the desktop session for screen-lock transitions
// and translates them into visibility frames on the DOM modality. A
// locked screen during an exam is indistinguishable from a tab switch
// as far as the integrity pipeline cares, so it reuses the same
// candidate path.
type ScreenLock struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	state   State
	frames  chan signal.Frame
	logger  *logging.Logger
	dropped uint64
	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScreenLock creates the Linux screen-lock monitor.
func NewScreenLock(logger *logging.Logger) *ScreenLock {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScreenLock{
		state:  StateIdle,
		frames: make(chan signal.Frame, frameBufferSize),
		logger: logger.WithComponent("capture.screenlock"),
	}
}

func (s *ScreenLock) Modality() signal.Modality   { return signal.ModalityDOM }
func (s *ScreenLock) Frames() <-chan signal.Frame { return s.frames }

// Start connects to the session bus and subscribes to ActiveChanged.
// A missing session bus (headless test rig, container) disables the
// monitor rather than failing the session.
func (s *ScreenLock) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateActive {
		return ErrAlreadyStarted
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		s.state = StateDisabled
		s.logger.Warn("session bus unavailable, screen-lock monitor disabled", "error", err)
		return ErrSourceDisabled
	}

	for _, iface := range []string{screenSaverInterface, gnomeSaverInterface} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember(activeChangedMember),
		); err != nil {
			conn.Close()
			s.state = StateDisabled
			s.logger.Warn("screensaver signal match failed, monitor disabled", "error", err)
			return ErrSourceDisabled
		}
	}

	s.conn = conn
	s.signals = make(chan *dbus.Signal, 16)
	s.done = make(chan struct{})
	conn.Signal(s.signals)

	s.state = StateActive
	s.wg.Add(1)
	go s.listen()

	s.logger.Info("screen-lock monitor started")
	return nil
}

func (s *ScreenLock) listen() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			if sig == nil || len(sig.Body) == 0 {
				continue
			}
			locked, ok := sig.Body[0].(bool)
			if !ok {
				continue
			}
			s.handle(locked, time.Now())
		}
	}
}

func (s *ScreenLock) handle(locked bool, now time.Time) {
	kind := signal.DOMVisibilityVisible
	if locked {
		kind = signal.DOMVisibilityHidden
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}

	s.logger.Info("screen lock state changed", "locked", locked)
	emit(s.frames, signal.NewDOMFrame(signal.DOMEvent{Kind: kind}, now), s.logger, &s.dropped)
}

// Stop unsubscribes and closes the bus connection.
func (s *ScreenLock) Stop() error {
	s.mu.Lock()
	if s.state != StateActive {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	close(done)
	conn.RemoveSignal(s.signals)
	err := conn.Close()
	s.wg.Wait()

	s.logger.Info("screen-lock monitor stopped")
	return err
}

// State reports the monitor's availability.
func (s *ScreenLock) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
