package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/session"
	"proctord/internal/signal"
	"proctord/internal/store"
)

// Client-side errors.
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// RemoteError is an error response from the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// EventHandler receives streamed events.
type EventHandler func(event *Event)

// Client talks to the proctord daemon over its control socket.
type Client struct {
	mu         sync.RWMutex
	conn       net.Conn
	socketPath string

	connected atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	eventHandler EventHandler
	eventMu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the client.
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns client defaults rooted in the given
// runtime directory.
func DefaultClientConfig(runtimeDir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(runtimeDir, "proctord.sock"),
		ClientName:     "proctorctl",
		ClientVersion:  "1.0.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewIPCClient creates a client. Connect must be called before any
// request.
func NewIPCClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		socketPath: cfg.SocketPath,
		pending:    make(map[uint32]chan *Message),
		ctx:        ctx,
		cancel:     cancel,
		config:     cfg,
	}
}

// Connect dials the daemon and performs the handshake. The handshake
// is an ordinary request, so c.mu guards only the conn swap; holding
// it across the round trip would deadlock against send.
func (c *Client) Connect() error {
	if c.connected.Load() {
		return nil
	}

	var conn net.Conn
	var err error
	if runtime.GOOS == "windows" {
		conn, err = dialWindowsPipe(c.socketPath, c.config.ConnectTimeout)
	} else {
		conn, err = c.dialUnix()
	}
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop()

	if err := c.handshake(); err != nil {
		c.closeConn()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

func (c *Client) dialUnix() (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.socketPath)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}
	return conn, nil
}

// Close shuts the client down.
func (c *Client) Close() error {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (c *Client) closeConn() {
	c.connected.Store(false)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	// Fail every in-flight request.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// Connected reports the connection state.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// OnEvent registers the streamed-event handler. Subscribe must also be
// called to start the stream.
func (c *Client) OnEvent(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msg, err := ReadMessage(conn)
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.closeConn()
			}
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			// Keepalive from the server.
			c.send(NewMessage(MsgPong, msg.Header.RequestID, nil))
		case MsgEvent:
			c.dispatchEvent(msg)
		default:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.Header.RequestID]
			if ok {
				delete(c.pending, msg.Header.RequestID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func (c *Client) dispatchEvent(msg *Message) {
	var event Event
	if err := Decode(msg.Payload, &event); err != nil {
		return
	}
	c.eventMu.RLock()
	handler := c.eventHandler
	c.eventMu.RUnlock()
	if handler != nil {
		handler(&event)
	}
}

func (c *Client) send(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	return msg.Write(conn)
}

// request sends one request and waits for its response.
func (c *Client) request(msgType MessageType, payload any) (*Message, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, body)

	ch := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ch
	c.pendingMu.Unlock()

	if err := c.send(msg); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Header.Type == MsgError {
			var er ErrorResponse
			if err := Decode(resp.Payload, &er); err != nil {
				return nil, fmt.Errorf("malformed error response: %w", err)
			}
			return nil, &RemoteError{Code: er.Code, Message: er.Message}
		}
		return resp, nil
	case <-time.After(c.config.RequestTimeout):
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}
}

func (c *Client) handshake() error {
	_, err := c.request(MsgHandshake, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	})
	return err
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	_, err := c.request(MsgPing, nil)
	return err
}

// Status fetches the daemon status snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.request(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// Health fetches the daemon health report.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.request(MsgHealthCheck, nil)
	if err != nil {
		return nil, err
	}
	var h HealthResponse
	if err := Decode(resp.Payload, &h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// StartSession starts an exam session and returns its ID.
func (c *Client) StartSession(quizID string, durationMinutes int) (string, error) {
	resp, err := c.request(MsgStartSession, &StartSessionRequest{
		QuizID:          quizID,
		DurationMinutes: durationMinutes,
	})
	if err != nil {
		return "", err
	}
	var r StartSessionResponse
	if err := Decode(resp.Payload, &r); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	return r.SessionID, nil
}

// SetAnswer buffers an answer for the submission payload.
func (c *Client) SetAnswer(questionIndex int, answer string) error {
	_, err := c.request(MsgSetAnswer, &SetAnswerRequest{
		QuestionIndex: questionIndex,
		Answer:        answer,
	})
	return err
}

// QuestionChanged records navigation to a question.
func (c *Client) QuestionChanged(questionIndex int) error {
	_, err := c.request(MsgQuestionChanged, &QuestionChangedRequest{
		QuestionIndex: questionIndex,
	})
	return err
}

// SendDOMEvent forwards a browser event and reports whether its
// default action must be suppressed.
func (c *Client) SendDOMEvent(ev signal.DOMEvent) (bool, error) {
	resp, err := c.request(MsgDOMEvent, &DOMEventRequest{
		Kind:  ev.Kind,
		Key:   ev.Key,
		Ctrl:  ev.Ctrl,
		Meta:  ev.Meta,
		Shift: ev.Shift,
	})
	if err != nil {
		return false, err
	}
	var r DOMEventResponse
	if err := Decode(resp.Payload, &r); err != nil {
		return false, fmt.Errorf("decode dom response: %w", err)
	}
	return r.Suppress, nil
}

// Submit triggers a manual submission.
func (c *Client) Submit() error {
	_, err := c.request(MsgSubmit, nil)
	return err
}

// RetrySubmission re-sends a failed submission.
func (c *Client) RetrySubmission() error {
	_, err := c.request(MsgRetrySubmit, nil)
	return err
}

// Cancel abandons the active session.
func (c *Client) Cancel() error {
	_, err := c.request(MsgCancelSession, nil)
	return err
}

// Violations lists journaled violations, newest first.
func (c *Client) Violations(limit int) ([]store.ViolationRecord, error) {
	resp, err := c.request(MsgViolations, &ViolationsRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	var r ViolationsResponse
	if err := Decode(resp.Payload, &r); err != nil {
		return nil, fmt.Errorf("decode violations: %w", err)
	}
	return r.Violations, nil
}

// Notices lists the currently visible transient warnings.
func (c *Client) Notices() ([]session.Notice, error) {
	resp, err := c.request(MsgNotices, nil)
	if err != nil {
		return nil, err
	}
	var r NoticesResponse
	if err := Decode(resp.Payload, &r); err != nil {
		return nil, fmt.Errorf("decode notices: %w", err)
	}
	return r.Notices, nil
}

// Subscribe starts the event stream. Events arrive on the handler
// registered with OnEvent.
func (c *Client) Subscribe(events ...EventType) error {
	_, err := c.request(MsgSubscribe, &SubscribeRequest{Events: events})
	return err
}

// Unsubscribe stops the event stream.
func (c *Client) Unsubscribe() error {
	_, err := c.request(MsgUnsubscribe, nil)
	return err
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	_, err := c.request(MsgShutdown, nil)
	return err
}
