// Package signal defines the raw observation types flowing from the
// source adapters into the detectors. Frames are created on each
// sampling tick (or DOM event), consumed immediately, and never
// retained.
package signal

import "time"

// Modality identifies which source produced a frame.
type Modality string

const (
	ModalityCamera Modality = "camera"
	ModalityAudio  Modality = "audio"
	ModalityDOM    Modality = "dom"
)

func (m Modality) String() string { return string(m) }

// Frame is one sampled observation from a modality. Exactly one of the
// payload pointers is set, matching Modality.
type Frame struct {
	Modality  Modality
	Timestamp time.Time

	Camera *CameraFrame
	Audio  *AudioFrame
	DOM    *DOMEvent
}

// FaceBox is one detected face: a bounding box plus the nose landmark,
// as reported by the external face-detection model. Coordinates are in
// pixels of the captured frame.
type FaceBox struct {
	TopLeftX     float64
	TopLeftY     float64
	BottomRightX float64
	BottomRightY float64
	NoseX        float64
	NoseY        float64
}

// Width returns the bounding-box width.
func (f FaceBox) Width() float64 { return f.BottomRightX - f.TopLeftX }

// CenterX returns the horizontal center of the bounding box.
func (f FaceBox) CenterX() float64 { return (f.TopLeftX + f.BottomRightX) / 2 }

// CameraFrame carries the face-model output for one video frame.
type CameraFrame struct {
	Faces []FaceBox
}

// AudioFrame carries a frequency-magnitude buffer for one audio sample
// window. Magnitudes are byte-scaled (0..255), matching an FFT analyser
// with processing disabled.
type AudioFrame struct {
	Magnitudes []byte
}

// DOMKind enumerates the browser events the DOM adapter forwards.
type DOMKind string

const (
	// DOMVisibilityHidden fires when the exam surface loses visibility
	// (tab switch, window minimize, screen lock).
	DOMVisibilityHidden  DOMKind = "visibility_hidden"
	DOMVisibilityVisible DOMKind = "visibility_visible"
	DOMKeyDown           DOMKind = "keydown"
	DOMContextMenu       DOMKind = "contextmenu"
	DOMMouseDown         DOMKind = "mousedown"
)

// DOMEvent is one forwarded browser event.
type DOMEvent struct {
	Kind DOMKind

	// Keydown fields.
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
}

// NewCameraFrame wraps face-model output in a Frame.
func NewCameraFrame(faces []FaceBox, ts time.Time) Frame {
	return Frame{Modality: ModalityCamera, Timestamp: ts, Camera: &CameraFrame{Faces: faces}}
}

// NewAudioFrame wraps an FFT magnitude buffer in a Frame.
func NewAudioFrame(magnitudes []byte, ts time.Time) Frame {
	return Frame{Modality: ModalityAudio, Timestamp: ts, Audio: &AudioFrame{Magnitudes: magnitudes}}
}

// NewDOMFrame wraps a browser event in a Frame.
func NewDOMFrame(ev DOMEvent, ts time.Time) Frame {
	return Frame{Modality: ModalityDOM, Timestamp: ts, DOM: &ev}
}
