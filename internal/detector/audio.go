package detector

import (
	"fmt"

	"proctord/internal/signal"
	"proctord/internal/violation"
)

// Default audio thresholds on the byte-scaled (0..255) FFT magnitudes.
// A peak above the spike threshold is a discrete loud event; an average
// above the volume threshold is sustained background noise.
const (
	DefaultSpikeThreshold  = 120
	DefaultVolumeThreshold = 80
)

// Audio examines frequency-magnitude frames for sudden spikes and
// sustained background noise. Spike takes precedence when both
// conditions hold on the same frame. Rate limiting between firings is
// left to the per-type debounce cooldowns.
type Audio struct {
	SpikeThreshold  float64
	VolumeThreshold float64
}

// NewAudio creates an audio anomaly detector with default thresholds.
func NewAudio() *Audio {
	return &Audio{
		SpikeThreshold:  DefaultSpikeThreshold,
		VolumeThreshold: DefaultVolumeThreshold,
	}
}

func (d *Audio) Modality() signal.Modality { return signal.ModalityAudio }

func (d *Audio) Detect(frame signal.Frame) (*violation.Candidate, error) {
	if frame.Modality != signal.ModalityAudio || frame.Audio == nil {
		return nil, ErrWrongModality
	}

	avg, peak := Levels(frame.Audio.Magnitudes)

	switch {
	case peak > d.SpikeThreshold:
		return &violation.Candidate{
			Type:        violation.TypeSuddenNoise,
			Description: fmt.Sprintf("Sudden noise spike (peak %.0f)", peak),
			Strength:    peak / 255,
			Timestamp:   frame.Timestamp,
		}, nil

	case avg > d.VolumeThreshold:
		return &violation.Candidate{
			Type:        violation.TypeBackgroundNoise,
			Description: fmt.Sprintf("Sustained background noise (average %.0f)", avg),
			Strength:    avg / 255,
			Timestamp:   frame.Timestamp,
		}, nil
	}

	return nil, nil
}

// Levels computes the mean and maximum magnitude of a buffer. An empty
// buffer yields zeros.
func Levels(magnitudes []byte) (average, peak float64) {
	if len(magnitudes) == 0 {
		return 0, 0
	}

	var sum float64
	for _, m := range magnitudes {
		v := float64(m)
		sum += v
		if v > peak {
			peak = v
		}
	}
	return sum / float64(len(magnitudes)), peak
}
