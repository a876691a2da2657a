package ipc

import (
	"context"
	"errors"
	"time"

	"proctord/internal/health"
	"proctord/internal/logging"
	"proctord/internal/monitor"
	"proctord/internal/signal"
)

// DaemonHandler dispatches IPC requests to the monitor daemon.
type DaemonHandler struct {
	daemon    *monitor.Daemon
	checker   *health.Checker
	version   string
	startedAt time.Time
	logger    *logging.Logger

	// onShutdown, when set, is invoked after a shutdown request is
	// acknowledged. The daemon process uses it to exit its run loop.
	onShutdown func()

	broadcaster func(*Event)
}

// DaemonHandlerConfig configures the handler.
type DaemonHandlerConfig struct {
	Daemon     *monitor.Daemon
	Checker    *health.Checker
	Version    string
	OnShutdown func()
	Logger     *logging.Logger
}

// NewDaemonHandler creates a handler.
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &DaemonHandler{
		daemon:     cfg.Daemon,
		checker:    cfg.Checker,
		version:    cfg.Version,
		startedAt:  time.Now(),
		onShutdown: cfg.OnShutdown,
		logger:     cfg.Logger.WithComponent("ipc.handler"),
	}
}

// SetBroadcaster wires the server's event broadcast into the handler.
func (h *DaemonHandler) SetBroadcaster(broadcaster func(*Event)) {
	h.broadcaster = broadcaster
}

// HandleMessage processes one request.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(msg)
	case MsgHealthCheck:
		return h.handleHealthCheck(ctx, msg)
	case MsgStartSession:
		return h.handleStartSession(ctx, msg)
	case MsgSubmit:
		return h.ack(msg, h.daemon.Submit())
	case MsgRetrySubmit:
		return h.ack(msg, h.daemon.RetrySubmission())
	case MsgCancelSession:
		return h.ack(msg, h.daemon.Cancel())
	case MsgSetAnswer:
		return h.handleSetAnswer(msg)
	case MsgQuestionChanged:
		return h.handleQuestionChanged(msg)
	case MsgDOMEvent:
		return h.handleDOMEvent(msg)
	case MsgViolations:
		return h.handleViolations(msg)
	case MsgNotices:
		return h.handleNotices(msg)
	case MsgShutdown:
		return h.handleShutdown(msg)
	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unknown message type"), nil
	}
}

func (h *DaemonHandler) handleStatus(msg *Message) (*Message, error) {
	resp := &StatusResponse{
		Version:   h.version,
		StartedAt: h.startedAt,
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
	}

	status, err := h.daemon.Status()
	if err == nil {
		resp.SessionActive = true
		resp.Session = &status
	} else if !errors.Is(err, monitor.ErrNoSession) {
		return h.errResponse(msg, err), nil
	}

	return h.respond(MsgStatusResponse, msg, resp)
}

func (h *DaemonHandler) handleHealthCheck(ctx context.Context, msg *Message) (*Message, error) {
	resp := &HealthResponse{Status: "unknown"}
	if h.checker != nil {
		results := h.checker.Check(ctx)
		resp.Status = string(h.checker.OverallStatus())
		resp.Checks = make(map[string]string, len(results))
		for name, r := range results {
			resp.Checks[name] = string(r.Status)
		}
	}
	return h.respond(MsgHealthResponse, msg, resp)
}

func (h *DaemonHandler) handleStartSession(ctx context.Context, msg *Message) (*Message, error) {
	var req StartSessionRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid start request"), nil
	}

	id, err := h.daemon.StartSession(ctx, monitor.SessionRequest{
		QuizID:          req.QuizID,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return h.errResponse(msg, err), nil
	}

	if h.broadcaster != nil {
		h.broadcaster(&Event{
			Type:      EventSessionStarted,
			Timestamp: time.Now(),
			SessionID: id,
		})
	}
	return h.respond(MsgStartSessionResp, msg, &StartSessionResponse{SessionID: id})
}

func (h *DaemonHandler) handleSetAnswer(msg *Message) (*Message, error) {
	var req SetAnswerRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid answer request"), nil
	}
	return h.ack(msg, h.daemon.SetAnswer(req.QuestionIndex, req.Answer))
}

func (h *DaemonHandler) handleQuestionChanged(msg *Message) (*Message, error) {
	var req QuestionChangedRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid question request"), nil
	}
	return h.ack(msg, h.daemon.QuestionChanged(req.QuestionIndex))
}

func (h *DaemonHandler) handleDOMEvent(msg *Message) (*Message, error) {
	var req DOMEventRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid dom event"), nil
	}

	suppress, err := h.daemon.DeliverDOM(signal.DOMEvent{
		Kind:  req.Kind,
		Key:   req.Key,
		Ctrl:  req.Ctrl,
		Meta:  req.Meta,
		Shift: req.Shift,
	})
	if err != nil {
		return h.errResponse(msg, err), nil
	}
	return h.respond(MsgDOMEventResp, msg, &DOMEventResponse{Suppress: suppress})
}

func (h *DaemonHandler) handleViolations(msg *Message) (*Message, error) {
	var req ViolationsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid violations request"), nil
		}
	}

	recs, err := h.daemon.Violations(req.Limit)
	if err != nil {
		return h.errResponse(msg, err), nil
	}
	return h.respond(MsgViolationsResp, msg, &ViolationsResponse{Violations: recs})
}

func (h *DaemonHandler) handleNotices(msg *Message) (*Message, error) {
	notices, err := h.daemon.Notices()
	if err != nil {
		return h.errResponse(msg, err), nil
	}
	return h.respond(MsgNoticesResp, msg, &NoticesResponse{Notices: notices})
}

func (h *DaemonHandler) handleShutdown(msg *Message) (*Message, error) {
	h.logger.Info("shutdown requested over ipc")

	if h.broadcaster != nil {
		h.broadcaster(&Event{Type: EventDaemonShutdown, Timestamp: time.Now()})
	}
	if h.onShutdown != nil {
		// Let the acknowledgement reach the client first.
		go func() {
			time.Sleep(100 * time.Millisecond)
			h.onShutdown()
		}()
	}
	return h.respond(MsgShutdownResp, msg, &AckResponse{OK: true})
}

// ack maps an operation result to an acknowledgement or error.
func (h *DaemonHandler) ack(msg *Message, err error) (*Message, error) {
	if err != nil {
		return h.errResponse(msg, err), nil
	}
	respType := msg.Header.Type + 1 // responses pair with requests
	return h.respond(respType, msg, &AckResponse{OK: true})
}

func (h *DaemonHandler) errResponse(msg *Message, err error) *Message {
	code := ErrInternalError
	switch {
	case errors.Is(err, monitor.ErrNoSession):
		code = ErrNoActiveSession
	case errors.Is(err, monitor.ErrSessionActive):
		code = ErrSessionActive
	}
	return NewErrorMessage(msg.Header.RequestID, code, err.Error())
}

func (h *DaemonHandler) respond(msgType MessageType, msg *Message, v any) (*Message, error) {
	return NewResponse(msgType, msg.Header.RequestID, v)
}
