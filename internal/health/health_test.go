package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSourceCheckStates(t *testing.T) {
	state := "active"
	check := SourceCheck("camera", func() string { return state }, func() uint64 { return 0 })

	if got := check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("active status = %s, want %s", got.Status, StatusHealthy)
	}

	state = "disabled"
	if got := check(context.Background()); got.Status != StatusDegraded {
		t.Errorf("disabled status = %s, want %s", got.Status, StatusDegraded)
	}

	state = "idle"
	if got := check(context.Background()); got.Status != StatusUnknown {
		t.Errorf("idle status = %s, want %s", got.Status, StatusUnknown)
	}
}

func TestFlagServiceCheckDegradesOnRecentFailures(t *testing.T) {
	var failures uint64
	check := FlagServiceCheck(func() uint64 { return failures }, 3)

	if got := check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("initial status = %s, want %s", got.Status, StatusHealthy)
	}

	failures = 5
	if got := check(context.Background()); got.Status != StatusDegraded {
		t.Errorf("after burst status = %s, want %s", got.Status, StatusDegraded)
	}

	// No new failures since last check: recovered.
	if got := check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("recovered status = %s, want %s", got.Status, StatusHealthy)
	}
}

func TestOverallStatusCriticalFailure(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, CustomCheck(func() error { return errors.New("locked") }))
	c.RegisterFunc("flags", false, CustomCheck(func() error { return nil }))

	c.Check(context.Background())

	if got := c.OverallStatus(); got != StatusUnhealthy {
		t.Errorf("OverallStatus() = %s, want %s", got, StatusUnhealthy)
	}
}

func TestOverallStatusNonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, CustomCheck(func() error { return nil }))
	c.RegisterFunc("flags", false, CustomCheck(func() error { return errors.New("down") }))

	c.Check(context.Background())

	if got := c.OverallStatus(); got != StatusDegraded {
		t.Errorf("OverallStatus() = %s, want %s", got, StatusDegraded)
	}
}

func TestCheckRecoversPanickingComponent(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, func(ctx context.Context) CheckResult {
		panic("boom")
	})

	results := c.Check(context.Background())

	if got := results["store"].Status; got != StatusUnhealthy {
		t.Errorf("panicking check status = %s, want %s", got, StatusUnhealthy)
	}
	if got := c.OverallStatus(); got != StatusUnhealthy {
		t.Errorf("OverallStatus() = %s, want %s", got, StatusUnhealthy)
	}
}

func TestCheckTimesOutHungComponent(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "store",
		Critical: true,
		Timeout:  50 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())

	if got := results["store"].Status; got != StatusUnhealthy {
		t.Errorf("hung check status = %s, want %s", got, StatusUnhealthy)
	}
}

func TestReadinessHandlerGate(t *testing.T) {
	c := NewChecker()
	h := c.ReadinessHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	c.SetReady(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after SetReady: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealthHandlerFullRunsChecks(t *testing.T) {
	c := NewChecker()
	ran := false
	c.RegisterFunc("flags", false, func(ctx context.Context) CheckResult {
		ran = true
		return CheckResult{Status: StatusHealthy}
	})

	rec := httptest.NewRecorder()
	c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?full=true", nil))

	if !ran {
		t.Error("full report did not run the registered check")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
