// Package config handles configuration loading, validation, and management for proctord.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proctord/internal/debounce"
	"proctord/internal/violation"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Session holds exam session lifecycle configuration.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Capture holds signal source configuration.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Detect holds detector tuning.
	Detect DetectConfig `toml:"detect" json:"detect" yaml:"detect"`

	// Debounce holds per-type confirmation policy overrides.
	Debounce DebounceConfig `toml:"debounce" json:"debounce" yaml:"debounce"`

	// Report holds flag service and submission endpoint configuration.
	Report ReportConfig `toml:"report" json:"report" yaml:"report"`

	// Storage holds local journal configuration.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// SessionConfig holds exam session lifecycle configuration.
type SessionConfig struct {
	// DurationMinutes is the default exam duration when the session
	// request does not carry one.
	DurationMinutes int `toml:"duration_minutes" json:"duration_minutes" yaml:"duration_minutes"`

	// TimeWarningsSec lists the remaining-time marks, in seconds, at
	// which a one-shot warning notice is raised.
	TimeWarningsSec []int `toml:"time_warnings_sec" json:"time_warnings_sec" yaml:"time_warnings_sec"`

	// MaxViolations ends the session automatically once the tally
	// reaches this count. Zero disables the ceiling.
	MaxViolations int `toml:"max_violations" json:"max_violations" yaml:"max_violations"`

	// WarningDisplaySec is how long a violation warning notice stays
	// visible.
	WarningDisplaySec int `toml:"warning_display_sec" json:"warning_display_sec" yaml:"warning_display_sec"`
}

// CaptureConfig holds signal source configuration.
type CaptureConfig struct {
	// CameraEnabled turns the camera source on.
	CameraEnabled bool `toml:"camera_enabled" json:"camera_enabled" yaml:"camera_enabled"`

	// CameraIntervalMs is the camera sampling interval in milliseconds.
	CameraIntervalMs int `toml:"camera_interval_ms" json:"camera_interval_ms" yaml:"camera_interval_ms"`

	// AudioEnabled turns the microphone source on.
	AudioEnabled bool `toml:"audio_enabled" json:"audio_enabled" yaml:"audio_enabled"`

	// AudioIntervalMs is the microphone sampling interval in milliseconds.
	AudioIntervalMs int `toml:"audio_interval_ms" json:"audio_interval_ms" yaml:"audio_interval_ms"`

	// ScreenLockMonitor enables the desktop screen-lock monitor, which
	// feeds visibility events alongside the browser's own.
	ScreenLockMonitor bool `toml:"screen_lock_monitor" json:"screen_lock_monitor" yaml:"screen_lock_monitor"`
}

// DetectConfig holds detector tuning.
type DetectConfig struct {
	// GazeOffsetThreshold is the nose offset ratio beyond which a single
	// face counts as looking away.
	GazeOffsetThreshold float64 `toml:"gaze_offset_threshold" json:"gaze_offset_threshold" yaml:"gaze_offset_threshold"`

	// AudioSpikeThreshold is the peak magnitude that counts as a sudden
	// noise.
	AudioSpikeThreshold float64 `toml:"audio_spike_threshold" json:"audio_spike_threshold" yaml:"audio_spike_threshold"`

	// AudioVolumeThreshold is the average magnitude that counts as
	// sustained background noise.
	AudioVolumeThreshold float64 `toml:"audio_volume_threshold" json:"audio_volume_threshold" yaml:"audio_volume_threshold"`
}

// DebounceConfig holds per-type confirmation policy overrides.
type DebounceConfig struct {
	// Overrides replaces the built-in policy for the named violation
	// types. Types not listed keep their defaults.
	Overrides map[string]PolicyOverride `toml:"overrides" json:"overrides" yaml:"overrides"`
}

// PolicyOverride is one debounce policy override.
type PolicyOverride struct {
	// Threshold is the consecutive detection count required to confirm.
	Threshold int `toml:"threshold" json:"threshold" yaml:"threshold"`

	// CooldownSec is the suppression window after a confirmation.
	CooldownSec int `toml:"cooldown_sec" json:"cooldown_sec" yaml:"cooldown_sec"`
}

// ReportConfig holds flag service and submission endpoint configuration.
type ReportConfig struct {
	// BaseURL is the exam platform API base URL.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// Token is the bearer token for API requests. Prefer the
	// PROCTORD_API_TOKEN environment variable over the config file.
	Token string `toml:"token" json:"token" yaml:"token"`

	// AccessSecret derives the per-session report signing key. Prefer
	// the PROCTORD_ACCESS_SECRET environment variable.
	AccessSecret string `toml:"access_secret" json:"access_secret" yaml:"access_secret"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// SubmitAttempts is the number of delivery attempts for a
	// submission.
	SubmitAttempts int `toml:"submit_attempts" json:"submit_attempts" yaml:"submit_attempts"`

	// FlagRatePerSecond caps outbound flag posts.
	FlagRatePerSecond float64 `toml:"flag_rate_per_second" json:"flag_rate_per_second" yaml:"flag_rate_per_second"`

	// FlagBurst is the flag rate limiter burst size.
	FlagBurst int `toml:"flag_burst" json:"flag_burst" yaml:"flag_burst"`

	// ReportRightClicks also posts right_click_blocked events to the
	// flag service. Off by default: those only warn the candidate.
	ReportRightClicks bool `toml:"report_right_clicks" json:"report_right_clicks" yaml:"report_right_clicks"`
}

// StorageConfig holds local journal configuration.
type StorageConfig struct {
	// Path is the path to the SQLite journal.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled serves the metrics endpoint.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the metrics HTTP listen address.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is enabled.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the Unix socket permissions (e.g., "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the connection timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := ProctordDir()

	return &Config{
		Version: Version,
		Session: SessionConfig{
			DurationMinutes:   60,
			TimeWarningsSec:   []int{900, 300, 60},
			MaxViolations:     0, // Ceiling disabled unless configured
			WarningDisplaySec: 3,
		},
		Capture: CaptureConfig{
			CameraEnabled:     true,
			CameraIntervalMs:  1000,
			AudioEnabled:      true,
			AudioIntervalMs:   500,
			ScreenLockMonitor: true,
		},
		Detect: DetectConfig{
			GazeOffsetThreshold:  0.15,
			AudioSpikeThreshold:  120,
			AudioVolumeThreshold: 80,
		},
		Debounce: DebounceConfig{
			Overrides: map[string]PolicyOverride{},
		},
		Report: ReportConfig{
			BaseURL:           "",
			TimeoutSec:        5,
			SubmitAttempts:    3,
			FlagRatePerSecond: 2,
			FlagBurst:         5,
			ReportRightClicks: false,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "proctord.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "proctord.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// ProctordDir returns the base proctord data directory.
// Uses platform-specific paths or PROCTORD_DATA_DIR environment override.
func ProctordDir() string {
	if envDir := os.Getenv("PROCTORD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Policies returns the effective debounce policy table: the built-in
// defaults with the configured overrides applied.
func (c *Config) Policies() (map[violation.Type]debounce.Policy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	policies := debounce.DefaultPolicies()
	for name, ov := range c.Debounce.Overrides {
		t := violation.Type(name)
		if !t.Valid() {
			return nil, fmt.Errorf("debounce override for unknown violation type %q", name)
		}
		policies[t] = debounce.Policy{
			Threshold: ov.Threshold,
			Cooldown:  time.Duration(ov.CooldownSec) * time.Second,
		}
	}
	return policies, nil
}

// TimeWarnings returns the configured warning marks as durations.
func (c *Config) TimeWarnings() []time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]time.Duration, 0, len(c.Session.TimeWarningsSec))
	for _, sec := range c.Session.TimeWarningsSec {
		out = append(out, time.Duration(sec)*time.Second)
	}
	return out
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.IPC.SocketPath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables are prefixed with PROCTORD_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("PROCTORD_API_URL"); v != "" {
		c.Report.BaseURL = v
	}
	if v := os.Getenv("PROCTORD_API_TOKEN"); v != "" {
		c.Report.Token = v
	}
	if v := os.Getenv("PROCTORD_ACCESS_SECRET"); v != "" {
		c.Report.AccessSecret = v
	}
	if v := os.Getenv("PROCTORD_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("PROCTORD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Session:  c.Session,
		Capture:  c.Capture,
		Detect:   c.Detect,
		Report:   c.Report,
		Storage:  c.Storage,
		Logging:  c.Logging,
		Metrics:  c.Metrics,
		IPC:      c.IPC,
		Debounce: DebounceConfig{Overrides: make(map[string]PolicyOverride, len(c.Debounce.Overrides))},
	}
	clone.Session.TimeWarningsSec = append([]int{}, c.Session.TimeWarningsSec...)
	for k, v := range c.Debounce.Overrides {
		clone.Debounce.Overrides[k] = v
	}
	return clone
}
