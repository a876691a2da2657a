package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"proctord/internal/violation"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateSession(&c.Session)...)
	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateDetect(&c.Detect)...)
	errs = append(errs, validateDebounce(&c.Debounce)...)
	errs = append(errs, validateReport(&c.Report)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateIPC(&c.IPC)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors

	if s.DurationMinutes < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.duration_minutes",
			Message: "must be at least 1",
		})
	}
	if s.MaxViolations < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.max_violations",
			Message: "must be zero (disabled) or positive",
		})
	}
	if s.WarningDisplaySec < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.warning_display_sec",
			Message: "must be at least 1",
		})
	}
	for i, sec := range s.TimeWarningsSec {
		if sec < 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("session.time_warnings_sec[%d]", i),
				Message: "must be positive",
			})
		}
	}

	return errs
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	if c.CameraEnabled && c.CameraIntervalMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "capture.camera_interval_ms",
			Message: "must be at least 100",
		})
	}
	if c.AudioEnabled && c.AudioIntervalMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "capture.audio_interval_ms",
			Message: "must be at least 100",
		})
	}

	return errs
}

func validateDetect(d *DetectConfig) ValidationErrors {
	var errs ValidationErrors

	if d.GazeOffsetThreshold <= 0 || d.GazeOffsetThreshold >= 1 {
		errs = append(errs, ValidationError{
			Field:   "detect.gaze_offset_threshold",
			Message: "must be between 0 and 1 exclusive",
		})
	}
	if d.AudioSpikeThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "detect.audio_spike_threshold",
			Message: "must be positive",
		})
	}
	if d.AudioVolumeThreshold <= 0 {
		errs = append(errs, ValidationError{
			Field:   "detect.audio_volume_threshold",
			Message: "must be positive",
		})
	}
	if d.AudioVolumeThreshold >= d.AudioSpikeThreshold {
		errs = append(errs, ValidationError{
			Field:   "detect.audio_volume_threshold",
			Message: "must be below audio_spike_threshold",
		})
	}

	return errs
}

func validateDebounce(d *DebounceConfig) ValidationErrors {
	var errs ValidationErrors

	for name, ov := range d.Overrides {
		if !violation.Type(name).Valid() {
			errs = append(errs, ValidationError{
				Field:   "debounce.overrides." + name,
				Message: "unknown violation type",
			})
			continue
		}
		if ov.Threshold < 1 {
			errs = append(errs, ValidationError{
				Field:   "debounce.overrides." + name + ".threshold",
				Message: "must be at least 1",
			})
		}
		if ov.CooldownSec < 0 {
			errs = append(errs, ValidationError{
				Field:   "debounce.overrides." + name + ".cooldown_sec",
				Message: "must not be negative",
			})
		}
	}

	return errs
}

func validateReport(r *ReportConfig) ValidationErrors {
	var errs ValidationErrors

	if r.BaseURL != "" && !isValidURL(r.BaseURL) {
		errs = append(errs, ValidationError{
			Field:   "report.base_url",
			Message: "must be a valid http or https URL",
		})
	}
	if r.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "report.timeout_sec",
			Message: "must be at least 1",
		})
	}
	if r.SubmitAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "report.submit_attempts",
			Message: "must be at least 1",
		})
	}
	if r.FlagRatePerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "report.flag_rate_per_second",
			Message: "must be positive",
		})
	}
	if r.FlagBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "report.flag_burst",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "is required",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output %q (stdout, stderr, file)", l.Output),
		})
	}

	if l.Output == "file" && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "is required when output is \"file\"",
		})
	}
	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "must be at least 1",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled && m.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: "is required when metrics are enabled",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if i.Enabled && i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "is required when IPC is enabled",
		})
	}
	if i.Permissions != "" {
		if _, err := strconv.ParseUint(i.Permissions, 8, 32); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("invalid octal mode %q", i.Permissions),
			})
		}
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "must be at least 1",
		})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "must be at least 1",
		})
	}

	return errs
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
