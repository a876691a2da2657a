package detector

import (
	"errors"
	"fmt"
	"math"

	"proctord/internal/signal"
	"proctord/internal/violation"
)

// ErrWrongModality is returned when a detector is fed a frame from
// another modality. Indicates a wiring bug in the monitor engine.
var ErrWrongModality = errors.New("detector: frame modality mismatch")

// DefaultGazeOffsetThreshold is the minimum nose-offset ratio (nose
// distance from bounding-box center, normalized by box width) that
// classifies as looking away.
const DefaultGazeOffsetThreshold = 0.15

// GazeDirection is the horizontal gaze classification of one face.
type GazeDirection string

const (
	GazeCenter GazeDirection = "center"
	GazeLeft   GazeDirection = "left"
	GazeRight  GazeDirection = "right"
)

// FaceGaze examines camera frames for absent faces, extra faces, and
// off-center gaze. The three outcomes are mutually exclusive; exactly
// one is evaluated per frame.
type FaceGaze struct {
	// OffsetThreshold overrides DefaultGazeOffsetThreshold when > 0.
	OffsetThreshold float64
}

// NewFaceGaze creates a face/gaze detector with the default threshold.
func NewFaceGaze() *FaceGaze {
	return &FaceGaze{OffsetThreshold: DefaultGazeOffsetThreshold}
}

func (d *FaceGaze) Modality() signal.Modality { return signal.ModalityCamera }

func (d *FaceGaze) Detect(frame signal.Frame) (*violation.Candidate, error) {
	if frame.Modality != signal.ModalityCamera || frame.Camera == nil {
		return nil, ErrWrongModality
	}

	faces := frame.Camera.Faces
	switch {
	case len(faces) == 0:
		return &violation.Candidate{
			Type:      violation.TypeNoFace,
			Strength:  1.0,
			Timestamp: frame.Timestamp,
		}, nil

	case len(faces) > 1:
		return &violation.Candidate{
			Type:        violation.TypeMultipleFaces,
			Description: fmt.Sprintf("%d faces detected in camera frame", len(faces)),
			Strength:    1.0,
			Timestamp:   frame.Timestamp,
		}, nil
	}

	dir, ratio := d.Classify(faces[0])
	if dir == GazeCenter {
		return nil, nil
	}
	return &violation.Candidate{
		Type:        violation.TypeLookingAway,
		Description: fmt.Sprintf("Candidate looking %s (offset ratio %.2f)", dir, ratio),
		Strength:    math.Min(ratio/0.5, 1.0),
		Timestamp:   frame.Timestamp,
	}, nil
}

// Classify returns the gaze direction for a single face together with
// the measured offset ratio. A ratio at or below the threshold is
// center; otherwise the sign of the nose offset picks left or right.
func (d *FaceGaze) Classify(face signal.FaceBox) (GazeDirection, float64) {
	threshold := d.OffsetThreshold
	if threshold <= 0 {
		threshold = DefaultGazeOffsetThreshold
	}

	width := face.Width()
	if width <= 0 {
		return GazeCenter, 0
	}

	offset := face.NoseX - face.CenterX()
	ratio := math.Abs(offset) / width
	if ratio <= threshold {
		return GazeCenter, ratio
	}
	if offset < 0 {
		return GazeLeft, ratio
	}
	return GazeRight, ratio
}
