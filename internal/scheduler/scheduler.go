// Package scheduler owns the periodic tick loops of a monitoring
// session: camera sampling, audio sampling, and the countdown timer.
// All tasks share one cancellation domain so that ending the session
// tears every loop down together; a leaked ticker after session end is
// a defect this package exists to prevent.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"proctord/internal/logging"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("scheduler: already started")
	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("scheduler: not started")
	// ErrStopTimeout is returned when task loops do not exit in time.
	ErrStopTimeout = errors.New("scheduler: stop timed out")
)

// stopTimeout bounds how long Stop waits for loops to drain.
const stopTimeout = 5 * time.Second

// TaskFunc runs one tick. The tick time is passed in so tasks stay
// testable without a real clock.
type TaskFunc func(now time.Time)

type task struct {
	name     string
	interval time.Duration
	run      TaskFunc
}

// Scheduler runs a fixed set of periodic tasks under one context.
// Tasks are registered before Start; each runs on its own ticker
// goroutine. Tick functions must be non-blocking.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []task
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// New creates an empty scheduler.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{logger: logger.WithComponent("scheduler")}
}

// Add registers a periodic task. Must be called before Start;
// registrations after Start are ignored with a warning.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.logger.Warn("task registered after start, ignored", "task", name)
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: fn})
}

// Start launches one ticker goroutine per registered task. The passed
// context is the session's cancellation domain; Stop or context
// cancellation ends all loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, t)
	}

	s.logger.Info("scheduler started", "tasks", len(s.tasks))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("task loop stopped", "task", t.name)
			return
		case now := <-ticker.C:
			t.run(now)
		}
	}
}

// Stop cancels all task loops and waits for them to exit, bounded by
// stopTimeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(stopTimeout):
		s.logger.Error("scheduler stop timed out")
		return ErrStopTimeout
	}
}

// TaskCount returns the number of registered tasks.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
