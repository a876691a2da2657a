package capture

import (
	"context"
	"errors"
	"sync"

	"proctord/internal/signal"
)

// ErrDeviceUnavailable simulates a denied or missing device.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// SimulatedCamera is a scriptable CameraDevice used by tests and by
// the daemon's simulate mode. Each Faces call consumes the next script
// entry; the final entry repeats once the script is exhausted.
type SimulatedCamera struct {
	mu     sync.Mutex
	Script [][]signal.FaceBox
	// FailOpen makes Open fail, exercising the disabled path.
	FailOpen bool
	pos      int
	opened   bool
}

// CenteredFace returns a face box whose nose sits on the box center.
func CenteredFace() signal.FaceBox {
	return signal.FaceBox{
		TopLeftX: 100, TopLeftY: 50,
		BottomRightX: 200, BottomRightY: 150,
		NoseX: 150, NoseY: 100,
	}
}

// OffsetFace returns a face box with the nose displaced by the given
// signed ratio of the box width.
func OffsetFace(ratio float64) signal.FaceBox {
	f := CenteredFace()
	f.NoseX = f.CenterX() + ratio*f.Width()
	return f
}

func (s *SimulatedCamera) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOpen {
		return ErrDeviceUnavailable
	}
	s.opened = true
	return nil
}

func (s *SimulatedCamera) Faces() ([]signal.FaceBox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, ErrDeviceUnavailable
	}
	if len(s.Script) == 0 {
		return []signal.FaceBox{CenteredFace()}, nil
	}
	faces := s.Script[s.pos]
	if s.pos < len(s.Script)-1 {
		s.pos++
	}
	return faces, nil
}

func (s *SimulatedCamera) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// SimulatedMicrophone is a scriptable AudioDevice. Each Magnitudes
// call consumes the next buffer; the final buffer repeats.
type SimulatedMicrophone struct {
	mu       sync.Mutex
	Script   [][]byte
	FailOpen bool
	pos      int
	opened   bool
}

// QuietBuffer returns a low-level magnitude buffer.
func QuietBuffer() []byte {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 12
	}
	return buf
}

// SpikeBuffer returns a buffer with one loud bin above the spike
// threshold.
func SpikeBuffer() []byte {
	buf := QuietBuffer()
	buf[8] = 200
	return buf
}

// NoisyBuffer returns a buffer whose average exceeds the sustained
// noise threshold without spiking.
func NoisyBuffer() []byte {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 100
	}
	return buf
}

func (s *SimulatedMicrophone) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOpen {
		return ErrDeviceUnavailable
	}
	s.opened = true
	return nil
}

func (s *SimulatedMicrophone) Magnitudes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, ErrDeviceUnavailable
	}
	if len(s.Script) == 0 {
		return QuietBuffer(), nil
	}
	buf := s.Script[s.pos]
	if s.pos < len(s.Script)-1 {
		s.pos++
	}
	return buf, nil
}

func (s *SimulatedMicrophone) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}
