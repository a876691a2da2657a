package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/report"
	"proctord/internal/store"
	"proctord/internal/violation"
)

// FlagReporter journals confirmed violations and forwards them to the
// flag service. Delivery is fire-and-forget: the record is journaled
// as pending before the post, then marked sent or failed when the
// attempt completes, so evidence survives a flag-service outage.
type FlagReporter struct {
	client    *report.Client
	store     *store.Store
	sessionID string
	quizID    string
	metrics   *metrics.ProctorMetrics
	logger    *logging.Logger

	// reportRightClicks also posts right_click_blocked events. Off by
	// default: those only warn the candidate.
	reportRightClicks bool

	timeout  time.Duration
	failures atomic.Uint64
}

// ReporterConfig assembles a FlagReporter.
type ReporterConfig struct {
	Client            *report.Client
	Store             *store.Store
	SessionID         string
	QuizID            string
	ReportRightClicks bool
	Timeout           time.Duration
	Metrics           *metrics.ProctorMetrics
	Logger            *logging.Logger
}

// NewFlagReporter creates a reporter.
func NewFlagReporter(cfg ReporterConfig) *FlagReporter {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &FlagReporter{
		client:            cfg.Client,
		store:             cfg.Store,
		sessionID:         cfg.SessionID,
		quizID:            cfg.QuizID,
		reportRightClicks: cfg.ReportRightClicks,
		timeout:           cfg.Timeout,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger.WithComponent("reporter"),
	}
}

// HandleViolation is registered as a synchronous bus handler. The
// journal insert is local and fast; the network post runs on its own
// goroutine so the detection pipeline never waits.
func (r *FlagReporter) HandleViolation(ev violation.Event) {
	if ev.Type == violation.TypeRightClickBlocked && !r.reportRightClicks {
		r.journal(ev, store.FlagSkipped)
		return
	}

	id := r.journal(ev, store.FlagPending)
	if r.client == nil {
		return
	}

	rec := report.NewFlagRecord(r.quizID, ev)
	go r.deliver(id, rec)
}

func (r *FlagReporter) deliver(journalID int64, rec report.FlagRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := r.client.PostFlag(ctx, rec)
	if r.metrics != nil {
		r.metrics.RecordFlagPost(time.Since(start), err == nil)
	}

	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("flag post failed, journaled locally",
			"flag_type", rec.FlagType, "error", err)
	}

	if journalID == 0 || r.store == nil {
		return
	}
	if jerr := r.store.SetFlagResult(journalID, err); jerr != nil {
		r.logger.Error("journal update failed", "error", jerr)
	}
}

// journal inserts the violation and returns its journal ID, or zero
// when no store is configured or the insert fails.
func (r *FlagReporter) journal(ev violation.Event, state store.FlagState) int64 {
	if r.store == nil {
		return 0
	}
	id, err := r.store.InsertViolation(r.sessionID, ev, state)
	if err != nil {
		r.logger.Error("journal insert failed",
			"violation_type", ev.Type, "error", err)
		return 0
	}
	return id
}

// Failures returns the number of failed flag posts, for health checks.
func (r *FlagReporter) Failures() uint64 {
	return r.failures.Load()
}
