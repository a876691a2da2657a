package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctord/internal/violation"
)

const flagSchema = `{
  "type": "object",
  "required": ["quiz_id", "flag_type", "description", "severity"],
  "additionalProperties": false,
  "properties": {
    "quiz_id": {"type": "string", "minLength": 1},
    "flag_type": {
      "enum": ["no_face", "multiple_faces", "looking_away",
               "sudden_noise", "background_noise", "tab_switch",
               "security_violation", "right_click_blocked"]
    },
    "description": {"type": "string"},
    "severity": {"enum": ["low", "medium", "high"]}
  }
}`

const submissionSchema = `{
  "type": "object",
  "required": ["quiz_id", "answers", "time_taken_seconds",
               "violation_count", "focus_time_seconds", "activity_stats"],
  "additionalProperties": false,
  "properties": {
    "quiz_id": {"type": "string", "minLength": 1},
    "answers": {"type": "object", "additionalProperties": {"type": "string"}},
    "time_taken_seconds": {"type": "integer", "minimum": 0},
    "violation_count": {"type": "integer", "minimum": 0},
    "focus_time_seconds": {"type": "integer", "minimum": 0},
    "activity_stats": {
      "type": "object",
      "required": ["keystrokes", "mouse_clicks", "question_times_ms"],
      "properties": {
        "keystrokes": {"type": "integer", "minimum": 0},
        "mouse_clicks": {"type": "integer", "minimum": 0},
        "question_times_ms": {"type": "object", "additionalProperties": {"type": "integer"}}
      }
    }
  }
}`

func validate(t *testing.T, schemaSrc string, payload []byte) {
	t.Helper()
	sch, err := jsonschema.CompileString("payload.json", schemaSrc)
	require.NoError(t, err)

	var v interface{}
	require.NoError(t, json.Unmarshal(payload, &v))
	require.NoError(t, sch.Validate(v), "payload does not match wire schema: %s", payload)
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Token = "test-token"
	cfg.AccessSecret = "exam-access-secret"
	cfg.SessionID = "session-1"
	cfg.RequestTimeout = 2 * time.Second
	cfg.FlagRatePerSecond = 100
	cfg.FlagBurst = 100
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func sampleEvent() violation.Event {
	return violation.NewEvent(violation.Candidate{Type: violation.TypeNoFace}, time.Now())
}

func TestPostFlagDeliversSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotBearer string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/flags", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("X-Proctor-Auth")
		gotBearer = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	rec := NewFlagRecord("quiz-42", sampleEvent())

	require.NoError(t, c.PostFlag(context.Background(), rec))

	validate(t, flagSchema, gotBody)
	assert.Equal(t, "Bearer test-token", gotBearer)
	assert.NotEmpty(t, gotAuth, "auth header must be set when a secret is configured")
	assert.Equal(t, c.sign(gotBody), gotAuth)
}

func TestSubmissionPayloadMatchesSchema(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/submissions", r.URL.Path)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	sub := Submission{
		QuizID:           "quiz-42",
		Answers:          map[string]string{"0": "B", "3": "42"},
		TimeTakenSeconds: 3600,
		ViolationCount:   2,
		FocusTimeSeconds: 3400,
		ActivityStats: ActivityStats{
			Keystrokes:      812,
			MouseClicks:     97,
			QuestionTimesMS: map[string]int{"0": 120000, "3": 95000},
		},
	}

	require.NoError(t, c.Submit(context.Background(), sub))
	validate(t, submissionSchema, gotBody)
}

func TestSubmitRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.SubmitAttempts = 5 })
	require.NoError(t, c.Submit(context.Background(), Submission{QuizID: "q"}))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSubmitExhaustionSurfacesErrSubmitFailed(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.SubmitAttempts = 2 })
	err := c.Submit(context.Background(), Submission{QuizID: "q"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestPostFlagRateShedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(cfg *Config) {
		cfg.FlagRatePerSecond = 1
		cfg.FlagBurst = 2
	})

	rec := NewFlagRecord("quiz-42", sampleEvent())
	var shed int
	for i := 0; i < 5; i++ {
		if err := c.PostFlag(context.Background(), rec); errors.Is(err, ErrFlagRateLimited) {
			shed++
		}
	}
	assert.Greater(t, shed, 0, "limiter should shed a flag storm")
}

func TestBreakerOpensOnDeadService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	rec := NewFlagRecord("quiz-42", sampleEvent())

	// Drive enough consecutive failures to trip the breaker, then
	// verify posts fail fast without reaching the server.
	for i := 0; i < 7; i++ {
		_ = c.PostFlag(context.Background(), rec)
	}

	err := c.PostFlag(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestPostFlagAsyncReportsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	done := make(chan error, 1)
	c.OnFlagResult = func(rec FlagRecord, err error) { done <- err }

	c.PostFlagAsync(NewFlagRecord("quiz-42", sampleEvent()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("async flag post never completed")
	}
}

func TestPostFlagAsyncSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	done := make(chan error, 1)
	c.OnFlagResult = func(rec FlagRecord, err error) { done <- err }

	c.PostFlagAsync(NewFlagRecord("quiz-42", sampleEvent()))

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, uint64(1), c.FlagFailures())
	case <-time.After(3 * time.Second):
		t.Fatal("async flag post never completed")
	}
}

func TestDeriveAuthKeyIsDeterministicPerSession(t *testing.T) {
	k1, err := deriveAuthKey("secret", "session-a")
	require.NoError(t, err)
	k2, err := deriveAuthKey("secret", "session-a")
	require.NoError(t, err)
	k3, err := deriveAuthKey("secret", "session-b")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3, "different sessions must derive different keys")
}

func TestNewFlagRecordMapsEventFields(t *testing.T) {
	ev := violation.NewEvent(violation.Candidate{Type: violation.TypeMultipleFaces}, time.Now())
	rec := NewFlagRecord("quiz-7", ev)

	assert.Equal(t, "quiz-7", rec.QuizID)
	assert.Equal(t, "multiple_faces", rec.FlagType)
	assert.Equal(t, "high", rec.Severity)
	assert.NotEmpty(t, rec.Description)
}
