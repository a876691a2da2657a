package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/logging"
)

// Handler processes IPC requests.
type Handler interface {
	HandleMessage(ctx context.Context, client *ClientConn, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, client *ClientConn, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server accepts local control connections and dispatches requests to
// the handler. Connections from other users are rejected via peer
// credentials before any message is read.
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	socketPath  string
	handler     Handler
	clients     map[string]*ClientConn
	subscribers map[string]*subscription
	version     string
	startedAt   time.Time
	logger      *logging.Logger

	maxConnections int
	readTimeout    time.Duration
	writeTimeout   time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextEventID atomic.Uint32
	eventChan   chan *Event
}

// ClientConn is one connected client.
type ClientConn struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Version      string
	Name         string
	ConnectedAt  time.Time
	LastActivity time.Time

	writeMu sync.Mutex
}

type subscription struct {
	clientID string
	events   map[EventType]bool
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath     string
	Version        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
}

// DefaultServerConfig returns server defaults rooted in the given
// runtime directory.
func DefaultServerConfig(runtimeDir string) ServerConfig {
	return ServerConfig{
		SocketPath:     filepath.Join(runtimeDir, "proctord.sock"),
		Version:        "1.0.0",
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 16,
	}
}

// NewServer creates a server. Start must be called before it accepts
// connections.
func NewServer(cfg ServerConfig, handler Handler, logger *logging.Logger) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("ipc: socket path required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 16
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:     cfg.SocketPath,
		handler:        handler,
		version:        cfg.Version,
		clients:        make(map[string]*ClientConn),
		subscribers:    make(map[string]*subscription),
		maxConnections: cfg.MaxConnections,
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		logger:         logger.WithComponent("ipc"),
		ctx:            ctx,
		cancel:         cancel,
		eventChan:      make(chan *Event, 100),
	}, nil
}

// Start begins listening on the socket.
func (s *Server) Start() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(2)
	go s.eventBroadcaster()
	go s.acceptLoop()

	s.logger.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	if runtime.GOOS == "windows" {
		return newPipeListener(s.socketPath)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := CleanupSocket(s.socketPath); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := SetSocketPermissions(s.socketPath, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}
	return listener, nil
}

// Stop shuts the server down, closing every client connection.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	close(s.eventChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("ipc shutdown timed out")
	}

	if runtime.GOOS != "windows" {
		os.Remove(s.socketPath)
	}
	s.logger.Info("ipc server stopped")
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an event for every subscribed client. Drops the
// event when the queue is full; event streaming is best effort.
func (s *Server) Broadcast(event *Event) {
	if !s.running.Load() {
		return
	}
	select {
	case s.eventChan <- event:
	default:
		s.logger.Warn("event queue full, event dropped", "event_type", event.Type)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		if ok, err := VerifyPeerIsCurrentUser(conn); err != nil || !ok {
			s.logger.Warn("rejected connection from foreign user", "error", err)
			conn.Close()
			continue
		}

		s.mu.Lock()
		if len(s.clients) >= s.maxConnections {
			s.mu.Unlock()
			s.logger.Warn("connection limit reached, rejecting client")
			conn.Close()
			continue
		}
		client := &ClientConn{
			ID:           generateClientID(),
			conn:         conn,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}
		s.clients[client.ID] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *ClientConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		s.mu.Unlock()
		client.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		msg, err := ReadMessage(client.conn)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle connection: ping to keep it alive.
				s.sendPing(client)
				continue
			}
			s.logger.Debug("client read failed", "client", client.ID, "error", err)
			return
		}

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		response, err := s.processMessage(client, msg)
		if err != nil {
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}
		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}
	}
}

func (s *Server) processMessage(client *ClientConn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil
	case MsgHandshake:
		return s.handleHandshake(client, msg)
	case MsgSubscribe:
		return s.handleSubscribe(client, msg)
	case MsgUnsubscribe:
		return s.handleUnsubscribe(client, msg)
	default:
		if s.handler == nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
		}
		return s.handler.HandleMessage(s.ctx, client, msg)
	}
}

func (s *Server) handleHandshake(client *ClientConn, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}

	client.mu.Lock()
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	client.mu.Unlock()

	s.logger.Debug("client connected",
		"client", client.ID, "name", req.ClientName, "version", req.ClientVersion)

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, &HandshakeResponse{
		ServerVersion:   s.version,
		ProtocolVersion: ProtocolVersion,
		ClientID:        client.ID,
	})
}

func (s *Server) handleSubscribe(client *ClientConn, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
	}

	sub := &subscription{clientID: client.ID, events: make(map[EventType]bool)}
	if len(req.Events) == 0 {
		for _, et := range []EventType{
			EventViolation, EventNotice,
			EventSessionStarted, EventSessionEnded, EventDaemonShutdown,
		} {
			sub.events[et] = true
		}
	} else {
		for _, et := range req.Events {
			sub.events[et] = true
		}
	}

	s.mu.Lock()
	s.subscribers[client.ID] = sub
	s.mu.Unlock()

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, &SubscribeResponse{
		SubscriptionID: client.ID,
	})
}

func (s *Server) handleUnsubscribe(client *ClientConn, msg *Message) (*Message, error) {
	s.mu.Lock()
	delete(s.subscribers, client.ID)
	s.mu.Unlock()
	return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
}

func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for event := range s.eventChan {
		s.mu.RLock()
		for clientID, sub := range s.subscribers {
			if sub.events[event.Type] {
				if client, ok := s.clients[clientID]; ok {
					go s.sendEvent(client, event)
				}
			}
		}
		s.mu.RUnlock()
	}
}

func (s *Server) sendEvent(client *ClientConn, event *Event) {
	payload, err := Encode(event)
	if err != nil {
		return
	}
	s.sendMessage(client, NewMessage(MsgEvent, s.nextEventID.Add(1), payload))
}

func (s *Server) sendMessage(client *ClientConn, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return msg.Write(client.conn)
}

func (s *Server) sendPing(client *ClientConn) {
	s.sendMessage(client, NewMessage(MsgPing, s.nextEventID.Add(1), nil))
}

func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}
