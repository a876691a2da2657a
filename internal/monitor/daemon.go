package monitor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"proctord/internal/capture"
	"proctord/internal/config"
	"proctord/internal/detector"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/report"
	"proctord/internal/scheduler"
	"proctord/internal/session"
	"proctord/internal/signal"
	"proctord/internal/store"
	"proctord/internal/violation"
)

var (
	// ErrSessionActive is returned by StartSession while an exam runs.
	ErrSessionActive = errors.New("monitor: a session is already active")
	// ErrNoSession is returned by session operations with none active.
	ErrNoSession = errors.New("monitor: no active session")
)

// Devices supplies the capture hardware. A nil device disables its
// modality for the daemon's lifetime.
type Devices struct {
	Camera     capture.CameraDevice
	Microphone capture.AudioDevice
}

// Daemon owns the per-session machinery: it builds the pipeline when
// a session starts, supervises it while the exam runs, and tears it
// down when the session reaches a terminal state.
type Daemon struct {
	cfg     *config.Config
	devices Devices
	store   *store.Store
	metrics *metrics.ProctorMetrics
	logger  *logging.Logger

	// OnViolation and OnNotice, when set before a session starts,
	// observe the session's confirmed violations and transient
	// warnings. The IPC layer uses them to stream events to clients.
	OnViolation func(violation.Event)
	OnNotice    func(session.Notice)

	mu     sync.Mutex
	active *activeSession
}

// activeSession bundles everything built for one exam.
type activeSession struct {
	id        string
	quizID    string
	startedAt time.Time

	bus        *violation.Bus
	engine     *Engine
	dom        *capture.DOM
	sched      *scheduler.Scheduler
	controller *session.Controller
	reporter   *FlagReporter
	client     *report.Client

	cancel   context.CancelFunc
	finished atomic.Bool

	noticeMu sync.Mutex
	notices  []session.Notice
}

// NewDaemon creates a daemon. The store may be nil; sessions then run
// without a local journal.
func NewDaemon(cfg *config.Config, devices Devices, st *store.Store, m *metrics.ProctorMetrics, logger *logging.Logger) *Daemon {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Daemon{
		cfg:     cfg,
		devices: devices,
		store:   st,
		metrics: m,
		logger:  logger.WithComponent("daemon"),
	}
}

// SessionRequest carries the parameters of a new exam session.
type SessionRequest struct {
	QuizID string `json:"quiz_id"`

	// DurationMinutes overrides the configured default when positive.
	DurationMinutes int `json:"duration_minutes,omitempty"`
}

// StartSession builds and starts the pipeline for one exam. Fails if a
// session is still running; a finished session is torn down and
// replaced.
func (d *Daemon) StartSession(ctx context.Context, req SessionRequest) (string, error) {
	if req.QuizID == "" {
		return "", errors.New("monitor: quiz ID required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil {
		if d.active.controller.Status() == session.StatusRunning ||
			d.active.controller.Status() == session.StatusAutoSubmitting ||
			d.active.controller.Status() == session.StatusSubmitFailed {
			return "", ErrSessionActive
		}
		d.teardownLocked(d.active)
		d.active = nil
	}

	sessionID, err := newSessionID()
	if err != nil {
		return "", err
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = time.Duration(d.cfg.Session.DurationMinutes) * time.Minute
	}

	logger := d.logger.WithSessionID(sessionID)

	if d.store != nil {
		if err := d.store.CreateSession(sessionID, req.QuizID, time.Now()); err != nil {
			return "", err
		}
	}

	as, err := d.buildSession(ctx, sessionID, req.QuizID, duration, logger)
	if err != nil {
		return "", err
	}
	d.active = as

	if d.metrics != nil {
		d.metrics.SessionStarted()
	}
	logger.Info("exam session started",
		"quiz_id", req.QuizID,
		"duration_minutes", int(duration.Minutes()))
	return sessionID, nil
}

func (d *Daemon) buildSession(parent context.Context, sessionID, quizID string, duration time.Duration, logger *logging.Logger) (*activeSession, error) {
	ctx, cancel := context.WithCancel(parent)

	bus := violation.NewBus(logger, false)

	dom := capture.NewDOM(logger)
	sources := []capture.Source{dom}

	var camera *capture.Camera
	if d.cfg.Capture.CameraEnabled && d.devices.Camera != nil {
		camera = capture.NewCamera(d.devices.Camera, logger)
		sources = append(sources, camera)
	}
	var audio *capture.Audio
	if d.cfg.Capture.AudioEnabled && d.devices.Microphone != nil {
		audio = capture.NewAudio(d.devices.Microphone, logger)
		sources = append(sources, audio)
	}
	if d.cfg.Capture.ScreenLockMonitor {
		sources = append(sources, capture.NewScreenLock(logger))
	}

	faceGaze := detector.NewFaceGaze()
	if d.cfg.Detect.GazeOffsetThreshold > 0 {
		faceGaze.OffsetThreshold = d.cfg.Detect.GazeOffsetThreshold
	}
	audioDet := detector.NewAudio()
	if d.cfg.Detect.AudioSpikeThreshold > 0 {
		audioDet.SpikeThreshold = d.cfg.Detect.AudioSpikeThreshold
	}
	if d.cfg.Detect.AudioVolumeThreshold > 0 {
		audioDet.VolumeThreshold = d.cfg.Detect.AudioVolumeThreshold
	}

	policies, err := d.cfg.Policies()
	if err != nil {
		cancel()
		return nil, err
	}

	engine, err := NewEngine(EngineConfig{
		Sources:   sources,
		Detectors: []detector.Detector{faceGaze, audioDet, detector.NewBrowser()},
		Policies:  policies,
		Bus:       bus,
		Metrics:   d.metrics,
		Logger:    logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	var client *report.Client
	var submitter session.Submitter
	if d.cfg.Report.BaseURL != "" {
		client, err = report.NewClient(report.Config{
			BaseURL:           d.cfg.Report.BaseURL,
			Token:             d.cfg.Report.Token,
			AccessSecret:      d.cfg.Report.AccessSecret,
			SessionID:         sessionID,
			RequestTimeout:    time.Duration(d.cfg.Report.TimeoutSec) * time.Second,
			SubmitAttempts:    d.cfg.Report.SubmitAttempts,
			FlagRatePerSecond: d.cfg.Report.FlagRatePerSecond,
			FlagBurst:         d.cfg.Report.FlagBurst,
		}, logger)
		if err != nil {
			cancel()
			return nil, err
		}
		submitter = client
	} else {
		// No service configured: submissions land in the journal only.
		submitter = journalSubmitter{logger: logger}
	}
	if d.metrics != nil {
		submitter = timedSubmitter{inner: submitter, metrics: d.metrics}
	}

	controller := session.New(
		session.Config{
			QuizID:            quizID,
			Duration:          duration,
			WarningThresholds: d.cfg.Session.TimeWarningsSec,
			MaxViolations:     d.cfg.Session.MaxViolations,
		},
		submitter,
		bus.Tally,
		dom.Visible,
		engine.Freeze,
		logger,
	)

	reporter := NewFlagReporter(ReporterConfig{
		Client:            client,
		Store:             d.store,
		SessionID:         sessionID,
		QuizID:            quizID,
		ReportRightClicks: d.cfg.Report.ReportRightClicks,
		Timeout:           time.Duration(d.cfg.Report.TimeoutSec) * time.Second,
		Metrics:           d.metrics,
		Logger:            logger,
	})

	bus.SubscribeFunc(controller.HandleViolation)
	bus.SubscribeFunc(reporter.HandleViolation)
	if d.OnViolation != nil {
		bus.SubscribeFunc(d.OnViolation)
	}

	as := &activeSession{
		id:         sessionID,
		quizID:     quizID,
		startedAt:  time.Now(),
		bus:        bus,
		engine:     engine,
		dom:        dom,
		controller: controller,
		reporter:   reporter,
		client:     client,
		cancel:     cancel,
	}

	go as.collectNotices(ctx, d.OnNotice)

	sched := scheduler.New(logger)
	if camera != nil {
		sched.Add("camera", time.Duration(d.cfg.Capture.CameraIntervalMs)*time.Millisecond, camera.Tick)
	}
	if audio != nil {
		sched.Add("audio", time.Duration(d.cfg.Capture.AudioIntervalMs)*time.Millisecond, audio.Tick)
	}
	sched.Add("session", time.Second, controller.Tick)
	sched.Add("supervise", time.Second, func(now time.Time) { d.supervise(as, now) })
	as.sched = sched

	if err := engine.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		engine.Stop()
		cancel()
		return nil, err
	}

	return as, nil
}

// journalSubmitter accepts submissions when no remote service is
// configured. The session summary still reaches the local journal via
// supervise.
type journalSubmitter struct {
	logger *logging.Logger
}

func (s journalSubmitter) Submit(ctx context.Context, sub report.Submission) error {
	s.logger.Info("no submission endpoint configured, recorded locally",
		"quiz_id", sub.QuizID,
		"violation_count", sub.ViolationCount)
	return nil
}

// timedSubmitter measures every delivery attempt, including retries
// after SubmitFailed.
type timedSubmitter struct {
	inner   session.Submitter
	metrics *metrics.ProctorMetrics
}

func (s timedSubmitter) Submit(ctx context.Context, sub report.Submission) error {
	start := time.Now()
	err := s.inner.Submit(ctx, sub)
	s.metrics.RecordSubmission(time.Since(start), err == nil)
	return err
}

// supervise runs at 1 Hz alongside the session tick: it keeps gauges
// current and tears the pipeline down once the session is terminal.
func (d *Daemon) supervise(as *activeSession, now time.Time) {
	snap := as.controller.Snapshot()

	if d.metrics != nil {
		d.metrics.SetSecondsRemaining(int64(snap.TimeRemaining))
		d.metrics.SetViolationTally(int64(snap.Tally.Total))
	}

	switch snap.Status {
	case session.StatusSubmitted, session.StatusCancelled:
		// Stop must not run on the scheduler goroutine it would wait for.
		go d.finishSession(as, snap)
	}
}

// finishSession finalizes the journal record and stops the pipeline.
// Runs at most once per session.
func (d *Daemon) finishSession(as *activeSession, snap session.State) {
	if !as.finished.CompareAndSwap(false, true) {
		return
	}

	if d.store != nil {
		now := time.Now()
		rec := store.SessionRecord{
			SessionID:        as.id,
			Status:           string(snap.Status),
			Reason:           string(snap.Reason),
			EndedAt:          &now,
			TimeTakenSeconds: int(now.Sub(as.startedAt).Seconds()),
			ViolationCount:   snap.Tally.Total,
			FocusTimeSeconds: snap.FocusTime,
		}
		if err := d.store.FinishSession(rec); err != nil {
			d.logger.Error("journal finish failed", "error", err)
		}
	}

	as.engine.Stop()
	as.sched.Stop()
	as.cancel()

	if d.metrics != nil {
		d.metrics.SessionEnded()
	}
	d.logger.Info("exam session finished",
		"session_id", as.id,
		"status", snap.Status,
		"reason", snap.Reason)
}

// teardownLocked releases a finished session's resources.
func (d *Daemon) teardownLocked(as *activeSession) {
	snap := as.controller.Snapshot()
	d.finishSession(as, snap)
	as.bus.Close()
}

func (as *activeSession) collectNotices(ctx context.Context, onNotice func(session.Notice)) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-as.controller.Notices():
			if !ok {
				return
			}
			if onNotice != nil {
				onNotice(n)
			}
			as.noticeMu.Lock()
			as.notices = append(as.notices, n)
			// Drop expired notices; the slice stays small.
			kept := as.notices[:0]
			for _, old := range as.notices {
				if old.ExpiresAt.After(time.Now()) {
					kept = append(kept, old)
				}
			}
			as.notices = kept
			as.noticeMu.Unlock()
		}
	}
}

// current returns the active session or ErrNoSession.
func (d *Daemon) current() (*activeSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil, ErrNoSession
	}
	return d.active, nil
}

// SessionStatus is the daemon's status snapshot, served over IPC.
type SessionStatus struct {
	SessionID string            `json:"session_id"`
	Session   session.State     `json:"session"`
	Sources   map[string]string `json:"sources"`
}

// Status returns the active session's state.
func (d *Daemon) Status() (SessionStatus, error) {
	as, err := d.current()
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{
		SessionID: as.id,
		Session:   as.controller.Snapshot(),
		Sources:   as.engine.SourceStates(),
	}, nil
}

// Notices returns the currently visible transient warnings.
func (d *Daemon) Notices() ([]session.Notice, error) {
	as, err := d.current()
	if err != nil {
		return nil, err
	}

	as.noticeMu.Lock()
	defer as.noticeMu.Unlock()

	now := time.Now()
	out := make([]session.Notice, 0, len(as.notices))
	for _, n := range as.notices {
		if n.ExpiresAt.After(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

// DeliverDOM injects one browser event. The suppress result tells the
// UI bridge whether to cancel the event's default action.
func (d *Daemon) DeliverDOM(ev signal.DOMEvent) (bool, error) {
	as, err := d.current()
	if err != nil {
		return false, err
	}

	suppress := as.dom.Deliver(ev, time.Now())

	switch ev.Kind {
	case signal.DOMKeyDown:
		as.controller.RecordKeystroke()
	case signal.DOMMouseDown:
		as.controller.RecordMouseClick()
	}
	return suppress, nil
}

// SetAnswer buffers an answer for the submission payload.
func (d *Daemon) SetAnswer(questionIndex int, answer string) error {
	as, err := d.current()
	if err != nil {
		return err
	}
	return as.controller.SetAnswer(questionIndex, answer)
}

// QuestionChanged records navigation to another question.
func (d *Daemon) QuestionChanged(questionIndex int) error {
	as, err := d.current()
	if err != nil {
		return err
	}
	as.controller.QuestionChanged(questionIndex, time.Now())
	return nil
}

// Submit triggers a manual submission.
func (d *Daemon) Submit() error {
	as, err := d.current()
	if err != nil {
		return err
	}
	return as.controller.Submit(time.Now())
}

// RetrySubmission re-sends a failed submission.
func (d *Daemon) RetrySubmission() error {
	as, err := d.current()
	if err != nil {
		return err
	}
	return as.controller.RetrySubmission()
}

// Cancel abandons the session without submitting.
func (d *Daemon) Cancel() error {
	as, err := d.current()
	if err != nil {
		return err
	}
	return as.controller.Cancel()
}

// Violations lists the active session's journaled violations.
func (d *Daemon) Violations(limit int) ([]store.ViolationRecord, error) {
	as, err := d.current()
	if err != nil {
		return nil, err
	}
	if d.store == nil {
		return nil, nil
	}
	return d.store.Violations(as.id, limit)
}

// ApplyConfig applies a hot-reloaded configuration to the running
// pipeline. Only debounce policies take effect mid-session; structural
// settings apply to the next session.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	as := d.active
	d.mu.Unlock()

	if as == nil {
		return
	}
	policies, err := cfg.Policies()
	if err != nil {
		d.logger.Warn("config reload rejected", "error", err)
		return
	}
	as.engine.SetPolicies(policies)
}

// FlagFailures exposes the active session's failed flag posts, for
// health checks. Zero with no session.
func (d *Daemon) FlagFailures() uint64 {
	as, err := d.current()
	if err != nil {
		return 0
	}
	return as.reporter.Failures()
}

// SourceStates exposes source availability for health checks.
func (d *Daemon) SourceStates() map[string]string {
	as, err := d.current()
	if err != nil {
		return nil
	}
	return as.engine.SourceStates()
}

// Shutdown stops the daemon. A running session is cancelled, not
// submitted: shutting the proctor down must not fabricate an exam
// submission.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	as := d.active
	d.active = nil
	d.mu.Unlock()

	if as == nil {
		return
	}
	if as.controller.Status() == session.StatusRunning {
		if err := as.controller.Cancel(); err != nil {
			d.logger.Warn("cancel on shutdown failed", "error", err)
		}
	}
	d.finishSession(as, as.controller.Snapshot())
	as.bus.Close()
}

func newSessionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
