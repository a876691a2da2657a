// Package ipc carries the local control protocol between the proctord
// daemon and its clients (the CLI and the browser bridge).
//
// Transport is a Unix socket (named pipe on Windows). Messages are a
// fixed binary header followed by a JSON payload; the header carries a
// request ID so responses and streamed events can interleave on one
// connection.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"proctord/internal/monitor"
	"proctord/internal/session"
	"proctord/internal/signal"
	"proctord/internal/store"
	"proctord/internal/violation"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x50524f43 // "PROC"
)

// MessageType identifies an IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006
	MsgShutdownResp MessageType = 0x0007

	// Daemon status (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101
	MsgHealthCheck    MessageType = 0x0102
	MsgHealthResponse MessageType = 0x0103

	// Session lifecycle (0x02xx)
	MsgStartSession     MessageType = 0x0200
	MsgStartSessionResp MessageType = 0x0201
	MsgSubmit           MessageType = 0x0202
	MsgSubmitResp       MessageType = 0x0203
	MsgRetrySubmit      MessageType = 0x0204
	MsgRetrySubmitResp  MessageType = 0x0205
	MsgCancelSession    MessageType = 0x0206
	MsgCancelResp       MessageType = 0x0207

	// Exam interaction (0x03xx)
	MsgSetAnswer           MessageType = 0x0300
	MsgSetAnswerResp       MessageType = 0x0301
	MsgQuestionChanged     MessageType = 0x0302
	MsgQuestionChangedResp MessageType = 0x0303
	MsgDOMEvent            MessageType = 0x0304
	MsgDOMEventResp        MessageType = 0x0305

	// Queries (0x04xx)
	MsgViolations     MessageType = 0x0400
	MsgViolationsResp MessageType = 0x0401
	MsgNotices        MessageType = 0x0402
	MsgNoticesResp    MessageType = 0x0403

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// EventType identifies a streamed event.
type EventType uint16

const (
	EventViolation      EventType = 0x0001
	EventNotice         EventType = 0x0002
	EventSessionStarted EventType = 0x0003
	EventSessionEnded   EventType = 0x0004
	EventDaemonShutdown EventType = 0x0005
)

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, header excluded
}

const HeaderSize = 16

// maxPayloadSize bounds a single message; violation listings are the
// largest payloads and stay far below this.
const maxPayloadSize = 16 * 1024 * 1024

// Message wraps a header and its JSON payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write serializes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates one header.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write serializes the full message.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads one complete message.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > maxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ------------------------------------------------------------------
// Request/response payloads
// ------------------------------------------------------------------

// HandshakeRequest opens a connection.
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse acknowledges a connection.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when an operation fails.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrSessionActive    = 6
	ErrNoActiveSession  = 7
)

// StatusResponse is the daemon's status snapshot.
type StatusResponse struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	UptimeSec int64     `json:"uptime_seconds"`

	// SessionActive gates the Session field.
	SessionActive bool                   `json:"session_active"`
	Session       *monitor.SessionStatus `json:"session,omitempty"`
}

// HealthResponse reports daemon health over IPC.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// StartSessionRequest starts an exam session.
type StartSessionRequest struct {
	QuizID          string `json:"quiz_id"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// StartSessionResponse acknowledges a session start.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SetAnswerRequest buffers one answer.
type SetAnswerRequest struct {
	QuestionIndex int    `json:"question_index"`
	Answer        string `json:"answer"`
}

// QuestionChangedRequest records navigation to a question.
type QuestionChangedRequest struct {
	QuestionIndex int `json:"question_index"`
}

// DOMEventRequest forwards one browser event.
type DOMEventRequest struct {
	Kind  signal.DOMKind `json:"kind"`
	Key   string         `json:"key,omitempty"`
	Ctrl  bool           `json:"ctrl,omitempty"`
	Meta  bool           `json:"meta,omitempty"`
	Shift bool           `json:"shift,omitempty"`
}

// DOMEventResponse tells the bridge whether to suppress the browser's
// default action for the forwarded event.
type DOMEventResponse struct {
	Suppress bool `json:"suppress"`
}

// AckResponse is the shared empty acknowledgement.
type AckResponse struct {
	OK bool `json:"ok"`
}

// ViolationsRequest lists journaled violations.
type ViolationsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ViolationsResponse carries the journal listing, newest first.
type ViolationsResponse struct {
	Violations []store.ViolationRecord `json:"violations"`
}

// NoticesResponse carries the currently visible transient warnings.
type NoticesResponse struct {
	Notices []session.Notice `json:"notices"`
}

// SubscribeRequest registers for streamed events. An empty list means
// all event types.
type SubscribeRequest struct {
	Events []EventType `json:"events,omitempty"`
}

// SubscribeResponse acknowledges a subscription.
type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// Event is one streamed event.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Violation *violation.Event `json:"violation,omitempty"`
	Notice    *session.Notice  `json:"notice,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

// Encode encodes a payload to JSON.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes a JSON payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error response.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a typed response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
