// Package health reports whether the daemon and its signal sources are
// fit to supervise an exam. A degraded source (camera denied, flag
// service down) lowers the overall status without failing the daemon;
// only critical components (the journal) take it unhealthy.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status is the health grade of a component or of the daemon.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration_ns"`
	Error       string                 `json:"error,omitempty"`
}

// Check probes one component.
type Check func(ctx context.Context) CheckResult

// Component binds a check to a name. Critical components take the
// overall status to unhealthy when they fail; non-critical ones only
// degrade it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs the registered component checks and aggregates them.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool
}

// NewChecker creates an empty Checker. It reports not-ready until
// SetReady(true).
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Register adds a component. A zero timeout defaults to 5s.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout == 0 {
		component.Timeout = 5 * time.Second
	}
	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc adds a component from a bare check function.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady flips the readiness gate served by ReadinessHandler.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady reports the readiness gate.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every registered component concurrently and returns the
// per-component results. Results are also cached for OverallStatus.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()
			result := c.runOne(ctx, comp)

			c.mu.Lock()
			c.results[comp.Name] = result
			c.mu.Unlock()

			resultsMu.Lock()
			results[comp.Name] = result
			resultsMu.Unlock()
		}(comp)
	}
	wg.Wait()
	return results
}

// runOne executes a single check under its timeout. A panicking or
// hung check reads as unhealthy, never as a crashed daemon.
func (c *Checker) runOne(ctx context.Context, comp *Component) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	var result CheckResult
	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result = CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprintf("%v", r),
				}
			}
			close(done)
		}()
		result = comp.Check(checkCtx)
	}()

	select {
	case <-done:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   checkCtx.Err().Error(),
		}
	}

	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// OverallStatus folds the cached results into one grade: any failed
// critical component is unhealthy, any other failure degrades, a
// critical component that never ran is unknown.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false
	for name, result := range c.results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Report is the payload served by HealthHandler.
type Report struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report builds the aggregate report, re-running the checks when
// includeComponents is set.
func (c *Checker) Report(ctx context.Context, includeComponents bool) Report {
	var components map[string]CheckResult
	if includeComponents {
		components = c.Check(ctx)
	}

	c.mu.RLock()
	ready := c.ready
	uptime := time.Since(c.startTime)
	c.mu.RUnlock()

	return Report{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     uptime.String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// LivenessHandler answers 200 whenever the process is up.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	})
}

// ReadinessHandler answers 200 once SetReady(true) has been called and
// no critical component is failing.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":    "not ready",
				"timestamp": time.Now(),
			})
			return
		}

		status := c.OverallStatus()
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status":    status,
			"ready":     true,
			"timestamp": time.Now(),
		})
	})
}

// HealthHandler serves the full report; ?full=true re-runs the checks
// and includes per-component results.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Report(r.Context(), r.URL.Query().Get("full") == "true")

		code := http.StatusOK
		if report.Status == StatusUnhealthy || report.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// SourceCheck grades a signal source by its adapter state. A disabled
// source degrades the daemon; it keeps monitoring with the remaining
// modalities.
func SourceCheck(modality string, state func() string, dropped func() uint64) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]interface{}{
			"modality": modality,
			"state":    state(),
		}
		if dropped != nil {
			details["dropped_frames"] = dropped()
		}

		switch state() {
		case "active":
			return CheckResult{
				Status:  StatusHealthy,
				Message: modality + " source active",
				Details: details,
			}
		case "disabled":
			return CheckResult{
				Status:  StatusDegraded,
				Message: modality + " source unavailable",
				Details: details,
			}
		default:
			return CheckResult{
				Status:  StatusUnknown,
				Message: modality + " source not started",
				Details: details,
			}
		}
	}
}

// FlagServiceCheck grades the remote flag service by recent delivery
// failures. Flag posts are fire-and-forget, so outages degrade rather
// than fail the daemon.
func FlagServiceCheck(failures func() uint64, threshold uint64) Check {
	var lastFailures uint64
	return func(ctx context.Context) CheckResult {
		current := failures()
		recent := current - lastFailures
		lastFailures = current

		details := map[string]interface{}{
			"failures_total":  current,
			"failures_recent": recent,
		}

		if recent >= threshold {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "flag service failing, violations journaled locally",
				Details: details,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "flag service ok",
			Details: details,
		}
	}
}

// DatabaseCheck grades journal connectivity. The journal is the one
// critical dependency: without it confirmed violations would be lost.
func DatabaseCheck(pingFunc func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := pingFunc(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "journal unavailable",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "journal ok",
		}
	}
}

// CustomCheck adapts a plain error-returning probe.
func CustomCheck(fn func() error) Check {
	return func(ctx context.Context) CheckResult {
		if err := fn(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "check failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "check passed",
		}
	}
}
