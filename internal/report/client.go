package report

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"

	"proctord/internal/logging"
)

var (
	// ErrFlagRateLimited is returned when a flag post is shed by the
	// local rate limiter.
	ErrFlagRateLimited = errors.New("report: flag post rate limited")
	// ErrSubmitFailed is returned when all submission attempts were
	// exhausted.
	ErrSubmitFailed = errors.New("report: submission failed")
)

// Config holds the report client configuration.
type Config struct {
	// BaseURL of the flag/submission service, without trailing slash.
	BaseURL string

	// Token is the bearer token for the service.
	Token string

	// AccessSecret seeds the per-session report auth key. The key is
	// derived with HKDF so the raw secret never leaves config.
	AccessSecret string

	// SessionID salts the key derivation and tags request logs.
	SessionID string

	// RequestTimeout bounds each HTTP attempt.
	RequestTimeout time.Duration

	// SubmitAttempts is the maximum number of submission tries.
	SubmitAttempts int

	// FlagRatePerSecond and FlagBurst shape the flag-post limiter.
	// Confirmed events are already debounced upstream, so the limiter
	// only guards against pathological storms.
	FlagRatePerSecond float64
	FlagBurst         int
}

// DefaultConfig returns sane client defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    5 * time.Second,
		SubmitAttempts:    3,
		FlagRatePerSecond: 2,
		FlagBurst:         5,
	}
}

// Client talks to the flag/submission service.
//
// Flag posts go through a token-bucket limiter and a circuit breaker:
// when the service is down the breaker opens and posts fail fast
// instead of stacking up goroutines behind a dead endpoint. Every
// failure is logged and reported to the journal callback; none ever
// propagates to the exam.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	authKey []byte
	logger  *logging.Logger

	flagFailures atomic.Uint64

	// OnFlagResult is invoked after each flag post attempt, on the
	// posting goroutine. Used by the journal to mark records sent or
	// failed. May be nil.
	OnFlagResult func(rec FlagRecord, err error)
}

// NewClient creates a report client.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("report: base URL required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = def.SubmitAttempts
	}
	if cfg.FlagRatePerSecond <= 0 {
		cfg.FlagRatePerSecond = def.FlagRatePerSecond
	}
	if cfg.FlagBurst <= 0 {
		cfg.FlagBurst = def.FlagBurst
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.FlagRatePerSecond), cfg.FlagBurst),
		logger:  logger.WithComponent("report"),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "flag-service",
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("flag service breaker state changed",
				"from", from.String(), "to", to.String())
		},
	})

	if cfg.AccessSecret != "" {
		key, err := deriveAuthKey(cfg.AccessSecret, cfg.SessionID)
		if err != nil {
			return nil, fmt.Errorf("report: derive auth key: %w", err)
		}
		c.authKey = key
	}

	return c, nil
}

// deriveAuthKey expands the exam access secret into a per-session
// signing key.
func deriveAuthKey(secret, sessionID string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), []byte(sessionID), []byte("proctord-report-auth-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// PostFlagAsync dispatches a flag post on its own goroutine and
// returns immediately. The detection pipeline never waits on the
// network.
func (c *Client) PostFlagAsync(rec FlagRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		err := c.PostFlag(ctx, rec)
		if err != nil {
			c.flagFailures.Add(1)
			c.logger.Warn("flag post failed",
				"flag_type", rec.FlagType, "error", err)
		}
		if c.OnFlagResult != nil {
			c.OnFlagResult(rec, err)
		}
	}()
}

// PostFlag sends one flag record. Rate shedding and an open breaker
// both count as failures; the caller treats any error as log-and-move-on.
func (c *Client) PostFlag(ctx context.Context, rec FlagRecord) error {
	if !c.limiter.Allow() {
		return ErrFlagRateLimited
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, "/flags", rec)
	})
	return err
}

// Submit sends the final submission, retrying with exponential
// backoff. The returned error wraps ErrSubmitFailed once attempts are
// exhausted so the session can surface a retry affordance.
func (c *Client) Submit(ctx context.Context, sub Submission) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.SubmitAttempts)),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			c.logger.Warn("submission attempt failed, backing off",
				"attempt", n+1, "error", err)
			return retry.BackOffDelay(n, err, config)
		}),
	)

	err := r.Do(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		return c.post(attemptCtx, "/submissions", sub)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	c.logger.Info("submission delivered",
		"quiz_id", sub.QuizID,
		"violation_count", sub.ViolationCount,
		"time_taken_seconds", sub.TimeTakenSeconds)
	return nil
}

// FlagFailures returns the number of failed flag posts.
func (c *Client) FlagFailures() uint64 {
	return c.flagFailures.Load()
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.authKey != nil {
		req.Header.Set("X-Proctor-Auth", c.sign(body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %s", resp.Status)
	}
	return nil
}

// sign computes the request auth header over the body.
func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, c.authKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
