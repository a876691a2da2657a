// Package session implements the exam session lifecycle controller:
// the countdown timer, one-shot time warnings, the violation-ceiling
// policy, activity accounting, and the single guarded transition into
// auto-submission.
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"proctord/internal/logging"
	"proctord/internal/report"
	"proctord/internal/violation"
)

// Status is the session's lifecycle state. AutoSubmitting, Submitted,
// and Cancelled are reached at most once; SubmitFailed is recoverable
// via RetrySubmission.
type Status string

const (
	StatusRunning        Status = "running"
	StatusAutoSubmitting Status = "auto_submitting"
	StatusSubmitted      Status = "submitted"
	StatusSubmitFailed   Status = "submit_failed"
	StatusCancelled      Status = "cancelled"
)

// Reason records what triggered a submission.
type Reason string

const (
	ReasonTimerExpired     Reason = "timer_expired"
	ReasonViolationCeiling Reason = "violation_ceiling"
	ReasonManual           Reason = "manual"
)

var (
	// ErrNotRunning is returned by actions that require a live session.
	ErrNotRunning = errors.New("session: not running")
	// ErrNotFailed is returned by RetrySubmission outside SubmitFailed.
	ErrNotFailed = errors.New("session: no failed submission to retry")
)

// Submitter delivers the terminal payload. *report.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, sub report.Submission) error
}

// NoticeKind classifies user-visible notices.
type NoticeKind string

const (
	NoticeViolation    NoticeKind = "violation"
	NoticeTimeWarning  NoticeKind = "time_warning"
	NoticeSubmitFailed NoticeKind = "submit_failed"
)

// noticeTTL is how long transient notices stay on screen.
const noticeTTL = 3 * time.Second

// Notice is a transient, auto-dismissing user-visible warning. It is
// a side effect only and never blocks the pipeline.
type Notice struct {
	Kind      NoticeKind         `json:"kind"`
	Message   string             `json:"message"`
	Severity  violation.Severity `json:"severity"`
	At        time.Time          `json:"at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Config holds the session parameters.
type Config struct {
	// QuizID identifies the exam on the wire.
	QuizID string

	// Duration is the total exam time.
	Duration time.Duration

	// WarningThresholds are remaining-seconds marks that each raise
	// one time warning. Defaults to 900/300/60.
	WarningThresholds []int

	// MaxViolations auto-submits when the tally reaches it. Zero
	// disables the ceiling.
	MaxViolations int
}

// DefaultWarningThresholds suit a long-format exam.
func DefaultWarningThresholds() []int { return []int{900, 300, 60} }

// Controller owns SessionState. All mutation happens under one mutex:
// the timer tick, the violation path, and the answer/activity setters
// are each single short critical sections.
type Controller struct {
	mu  sync.Mutex
	cfg Config

	status        Status
	reason        Reason
	timeRemaining int
	focusTime     int
	startedAt     time.Time

	answers       map[string]string
	keystrokes    int
	mouseClicks   int
	questionTimes map[string]int
	currentQ      int
	enteredQAt    time.Time

	warned  map[int]bool
	pending *report.Submission

	tally     func() violation.Tally
	visible   func() bool
	submitter Submitter
	onFreeze  func()

	notices chan Notice
	logger  *logging.Logger
}

// New creates a controller.
//
// tally reads the bus's authoritative violation count; visible reports
// the exam surface's last known visibility; onFreeze stops all frame
// consumption and is invoked exactly once, before the submission is
// assembled.
func New(cfg Config, submitter Submitter, tally func() violation.Tally, visible func() bool, onFreeze func(), logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	if len(cfg.WarningThresholds) == 0 {
		cfg.WarningThresholds = DefaultWarningThresholds()
	}
	if tally == nil {
		tally = func() violation.Tally { return violation.Tally{} }
	}
	if visible == nil {
		visible = func() bool { return true }
	}
	if onFreeze == nil {
		onFreeze = func() {}
	}

	return &Controller{
		cfg:           cfg,
		status:        StatusRunning,
		timeRemaining: int(cfg.Duration.Seconds()),
		startedAt:     time.Now(),
		answers:       make(map[string]string),
		questionTimes: make(map[string]int),
		enteredQAt:    time.Now(),
		warned:        make(map[int]bool),
		tally:         tally,
		visible:       visible,
		submitter:     submitter,
		onFreeze:      onFreeze,
		notices:       make(chan Notice, 32),
		logger:        logger.WithComponent("session"),
	}
}

// Notices returns the transient warning stream consumed by the UI.
func (c *Controller) Notices() <-chan Notice { return c.notices }

// Tick advances the countdown by one second. Registered with the
// session scheduler at 1 Hz. Reaching zero transitions into
// AutoSubmitting exactly once; a second expiry tick is a no-op.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()

	if c.status != StatusRunning {
		c.mu.Unlock()
		return
	}

	c.timeRemaining--
	if c.visible() {
		c.focusTime++
	}

	if c.warned != nil && !c.warned[c.timeRemaining] {
		for _, threshold := range c.cfg.WarningThresholds {
			if c.timeRemaining == threshold {
				c.warned[threshold] = true
				c.emitNotice(Notice{
					Kind:     NoticeTimeWarning,
					Message:  timeWarningMessage(threshold),
					Severity: violation.SeverityMedium,
					At:       now,
				})
				break
			}
		}
	}

	if c.timeRemaining <= 0 {
		c.beginSubmitLocked(ReasonTimerExpired, now)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
}

func timeWarningMessage(threshold int) string {
	switch {
	case threshold == 60:
		return "1 minute remaining"
	case threshold%60 == 0:
		return strconv.Itoa(threshold/60) + " minutes remaining"
	default:
		return strconv.Itoa(threshold) + " seconds remaining"
	}
}

// HandleViolation reacts to a confirmed event: raises the transient
// warning and applies the violation-ceiling policy. Registered as a
// synchronous bus handler, so it observes events in emission order.
func (c *Controller) HandleViolation(ev violation.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		// Frozen detectors may have events already in flight; they do
		// not reopen a finished session.
		return
	}

	c.emitNotice(Notice{
		Kind:     NoticeViolation,
		Message:  ev.Description,
		Severity: ev.Severity,
		At:       ev.OccurredAt,
	})

	if c.cfg.MaxViolations > 0 && c.tally().Total >= c.cfg.MaxViolations {
		c.logger.Warn("violation ceiling reached",
			"ceiling", c.cfg.MaxViolations)
		c.beginSubmitLocked(ReasonViolationCeiling, ev.OccurredAt)
	}
}

// Submit triggers a manual submission by the candidate.
func (c *Controller) Submit(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return ErrNotRunning
	}
	c.beginSubmitLocked(ReasonManual, now)
	return nil
}

// Cancel abandons the session without submitting.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return ErrNotRunning
	}
	c.status = StatusCancelled
	c.onFreeze()
	c.logger.Info("session cancelled")
	return nil
}

// beginSubmitLocked is the one-shot latch into AutoSubmitting. The
// status guard makes a concurrent manual submit and expiry tick
// race-safe: whichever takes the lock first wins, the loser sees a
// non-Running status and backs off.
func (c *Controller) beginSubmitLocked(reason Reason, now time.Time) {
	if c.status != StatusRunning {
		return
	}
	c.status = StatusAutoSubmitting
	c.reason = reason

	// Freeze all detectors before assembling the payload so no frame
	// mutates the tally mid-assembly.
	c.onFreeze()

	c.finalizeQuestionLocked(now)
	sub := c.assembleLocked()
	c.pending = &sub

	c.logger.Info("session submitting",
		"reason", reason,
		"time_taken_seconds", sub.TimeTakenSeconds,
		"violation_count", sub.ViolationCount)

	go c.deliver(sub)
}

func (c *Controller) assembleLocked() report.Submission {
	answers := make(map[string]string, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	questionTimes := make(map[string]int, len(c.questionTimes))
	for k, v := range c.questionTimes {
		questionTimes[k] = v
	}

	total := int(c.cfg.Duration.Seconds())
	taken := total - c.timeRemaining
	if c.timeRemaining <= 0 {
		taken = total
	}

	return report.Submission{
		QuizID:           c.cfg.QuizID,
		Answers:          answers,
		TimeTakenSeconds: taken,
		ViolationCount:   c.tally().Total,
		FocusTimeSeconds: c.focusTime,
		ActivityStats: report.ActivityStats{
			Keystrokes:      c.keystrokes,
			MouseClicks:     c.mouseClicks,
			QuestionTimesMS: questionTimes,
		},
	}
}

// deliver runs off the tick goroutine; the network must never stall
// the timer. Failure parks the session in SubmitFailed so the UI can
// offer a retry.
func (c *Controller) deliver(sub report.Submission) {
	err := c.submitter.Submit(context.Background(), sub)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.status = StatusSubmitFailed
		c.logger.Error("submission delivery failed", "error", err)
		c.emitNotice(Notice{
			Kind:     NoticeSubmitFailed,
			Message:  "Submission failed. Check your connection and retry.",
			Severity: violation.SeverityHigh,
			At:       time.Now(),
		})
		return
	}

	c.status = StatusSubmitted
	c.pending = nil
	c.logger.Info("session submitted")
}

// RetrySubmission re-delivers the already-assembled payload after a
// failed send. The payload is not reassembled: session state was
// frozen at the original submit.
func (c *Controller) RetrySubmission() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusSubmitFailed || c.pending == nil {
		return ErrNotFailed
	}
	c.status = StatusAutoSubmitting
	go c.deliver(*c.pending)
	return nil
}

// SetAnswer buffers the candidate's answer for a question.
func (c *Controller) SetAnswer(questionIndex int, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return ErrNotRunning
	}
	c.answers[strconv.Itoa(questionIndex)] = answer
	return nil
}

// QuestionChanged accounts time spent on the previous question and
// starts the clock on the new one.
func (c *Controller) QuestionChanged(questionIndex int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return
	}
	c.finalizeQuestionLocked(now)
	c.currentQ = questionIndex
	c.enteredQAt = now
}

func (c *Controller) finalizeQuestionLocked(now time.Time) {
	if c.enteredQAt.IsZero() {
		return
	}
	elapsed := int(now.Sub(c.enteredQAt).Milliseconds())
	if elapsed > 0 {
		c.questionTimes[strconv.Itoa(c.currentQ)] += elapsed
	}
	c.enteredQAt = now
}

// RecordKeystroke counts one keydown toward activity stats.
func (c *Controller) RecordKeystroke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning {
		c.keystrokes++
	}
}

// RecordMouseClick counts one mousedown toward activity stats.
func (c *Controller) RecordMouseClick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning {
		c.mouseClicks++
	}
}

// emitNotice never blocks; a full channel drops the notice, which is
// acceptable for transient toasts.
func (c *Controller) emitNotice(n Notice) {
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.At.Add(noticeTTL)
	}
	select {
	case c.notices <- n:
	default:
		c.logger.Debug("notice dropped, channel full", "kind", n.Kind)
	}
}

// State is an IPC-friendly snapshot of the session.
type State struct {
	QuizID           string          `json:"quiz_id"`
	Status           Status          `json:"status"`
	Reason           Reason          `json:"reason,omitempty"`
	TimeRemaining    int             `json:"time_remaining_seconds"`
	FocusTime        int             `json:"focus_time_seconds"`
	Tally            violation.Tally `json:"violations"`
	Keystrokes       int             `json:"keystrokes"`
	MouseClicks      int             `json:"mouse_clicks"`
	AnsweredQuestion int             `json:"answered_questions"`
	StartedAt        time.Time       `json:"started_at"`
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		QuizID:           c.cfg.QuizID,
		Status:           c.status,
		Reason:           c.reason,
		TimeRemaining:    c.timeRemaining,
		FocusTime:        c.focusTime,
		Tally:            c.tally(),
		Keystrokes:       c.keystrokes,
		MouseClicks:      c.mouseClicks,
		AnsweredQuestion: len(c.answers),
		StartedAt:        c.startedAt,
	}
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TimeRemaining returns the countdown value in seconds.
func (c *Controller) TimeRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeRemaining
}
