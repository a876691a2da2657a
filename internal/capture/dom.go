package capture

import (
	"context"
	"sync"
	"time"

	"proctord/internal/detector"
	"proctord/internal/logging"
	"proctord/internal/signal"
)

// DOM receives browser events forwarded by the exam surface and emits
// one frame per event, synchronously, with no polling. The exam UI
// delivers events over the control socket; Deliver's return value
// tells it whether to suppress the browser's default action, decided
// unconditionally at delivery time rather than after debouncing.
type DOM struct {
	mu      sync.Mutex
	state   State
	frames  chan signal.Frame
	logger  *logging.Logger
	dropped uint64

	// last reported visibility, for focus-time accounting
	visible bool
}

// NewDOM creates the DOM event adapter.
func NewDOM(logger *logging.Logger) *DOM {
	if logger == nil {
		logger = logging.Default()
	}
	return &DOM{
		state:   StateIdle,
		frames:  make(chan signal.Frame, frameBufferSize),
		logger:  logger.WithComponent("capture.dom"),
		visible: true,
	}
}

func (d *DOM) Modality() signal.Modality   { return signal.ModalityDOM }
func (d *DOM) Frames() <-chan signal.Frame { return d.frames }

// Start marks the adapter ready. There is no device to acquire; the
// event stream arrives from the exam surface.
func (d *DOM) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateActive {
		return ErrAlreadyStarted
	}
	d.state = StateActive
	d.logger.Info("dom event capture started")
	return nil
}

// Deliver forwards one browser event into the pipeline and reports
// whether the browser default action must be suppressed. Blocked key
// chords and the context menu are suppressed on every occurrence.
func (d *DOM) Deliver(ev signal.DOMEvent, now time.Time) (suppress bool) {
	switch ev.Kind {
	case signal.DOMKeyDown:
		_, suppress = detector.BlockedChord(ev)
	case signal.DOMContextMenu:
		suppress = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateActive {
		return suppress
	}

	switch ev.Kind {
	case signal.DOMVisibilityHidden:
		d.visible = false
	case signal.DOMVisibilityVisible:
		d.visible = true
	}

	emit(d.frames, signal.NewDOMFrame(ev, now), d.logger, &d.dropped)
	return suppress
}

// Visible reports the last known visibility of the exam surface.
func (d *DOM) Visible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

// Stop ends frame emission.
func (d *DOM) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateStopped
	d.logger.Info("dom event capture stopped")
	return nil
}

// State reports the adapter's availability.
func (d *DOM) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
