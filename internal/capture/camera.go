package capture

import (
	"context"
	"sync"
	"time"

	"proctord/internal/logging"
	"proctord/internal/signal"
)

// CameraDevice abstracts the video capture pipeline: a camera stream
// plus the external face-detection model run against its frames. The
// model's output is consumed as a black box.
type CameraDevice interface {
	// Open acquires the camera. Permission denial or a missing device
	// returns an error; the adapter degrades instead of failing.
	Open(ctx context.Context) error

	// Faces grabs the current frame and returns the detected face
	// boxes. An error means this sample is unusable, not that the
	// device is gone.
	Faces() ([]signal.FaceBox, error)

	// Close releases the camera.
	Close() error
}

// Camera samples a CameraDevice at 1 Hz and emits camera frames.
type Camera struct {
	mu      sync.Mutex
	device  CameraDevice
	state   State
	frames  chan signal.Frame
	logger  *logging.Logger
	dropped uint64

	// consecutive sample errors, for one-shot degradation logging
	sampleErrs int
}

// NewCamera creates a camera adapter around a device.
func NewCamera(device CameraDevice, logger *logging.Logger) *Camera {
	if logger == nil {
		logger = logging.Default()
	}
	return &Camera{
		device: device,
		state:  StateIdle,
		frames: make(chan signal.Frame, frameBufferSize),
		logger: logger.WithComponent("capture.camera"),
	}
}

func (c *Camera) Modality() signal.Modality   { return signal.ModalityCamera }
func (c *Camera) Frames() <-chan signal.Frame { return c.frames }
func (c *Camera) Interval() time.Duration     { return CameraInterval }

// Start opens the camera. On failure the adapter is disabled for the
// session and ErrSourceDisabled is returned so the caller can notify
// the candidate once.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateActive:
		return ErrAlreadyStarted
	case StateDisabled:
		return ErrSourceDisabled
	}

	if err := c.device.Open(ctx); err != nil {
		c.state = StateDisabled
		c.logger.Warn("camera unavailable, modality disabled", "error", err)
		return ErrSourceDisabled
	}

	c.state = StateActive
	c.logger.Info("camera capture started")
	return nil
}

// Tick samples one frame. Sample errors yield no frame and never
// escape the tick.
func (c *Camera) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return
	}

	faces, err := c.device.Faces()
	if err != nil {
		c.sampleErrs++
		if c.sampleErrs == 1 {
			c.logger.Warn("camera sample failed", "error", err)
		}
		return
	}
	c.sampleErrs = 0

	emit(c.frames, signal.NewCameraFrame(faces, now), c.logger, &c.dropped)
}

// Stop releases the camera.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		c.state = StateStopped
		return nil
	}

	c.state = StateStopped
	if err := c.device.Close(); err != nil {
		c.logger.Warn("camera close failed", "error", err)
		return err
	}
	c.logger.Info("camera capture stopped")
	return nil
}

// State reports the adapter's availability.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dropped returns how many frames were discarded due to a lagging
// consumer.
func (c *Camera) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
