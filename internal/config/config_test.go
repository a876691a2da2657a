package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"proctord/internal/violation"
)

// ============================================================
// Defaults
// ============================================================

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() is invalid: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Session.DurationMinutes != 60 {
		t.Errorf("DurationMinutes = %d, want 60", cfg.Session.DurationMinutes)
	}
	if cfg.Session.MaxViolations != 0 {
		t.Errorf("MaxViolations = %d, want 0 (disabled)", cfg.Session.MaxViolations)
	}
	if got, want := cfg.Session.TimeWarningsSec, []int{900, 300, 60}; len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("TimeWarningsSec = %v, want %v", got, want)
	}
	if cfg.Capture.CameraIntervalMs != 1000 {
		t.Errorf("CameraIntervalMs = %d, want 1000", cfg.Capture.CameraIntervalMs)
	}
	if cfg.Capture.AudioIntervalMs != 500 {
		t.Errorf("AudioIntervalMs = %d, want 500", cfg.Capture.AudioIntervalMs)
	}
	if cfg.Detect.GazeOffsetThreshold != 0.15 {
		t.Errorf("GazeOffsetThreshold = %v, want 0.15", cfg.Detect.GazeOffsetThreshold)
	}
	if cfg.Report.ReportRightClicks {
		t.Error("ReportRightClicks = true, want false")
	}
}

// ============================================================
// Loading
// ============================================================

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.DurationMinutes != 60 {
		t.Errorf("DurationMinutes = %d, want default 60", cfg.Session.DurationMinutes)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = 1

[session]
duration_minutes = 90
max_violations = 5

[detect]
gaze_offset_threshold = 0.2

[debounce.overrides.no_face]
threshold = 4
cooldown_sec = 20
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.DurationMinutes != 90 {
		t.Errorf("DurationMinutes = %d, want 90", cfg.Session.DurationMinutes)
	}
	if cfg.Session.MaxViolations != 5 {
		t.Errorf("MaxViolations = %d, want 5", cfg.Session.MaxViolations)
	}
	if cfg.Detect.GazeOffsetThreshold != 0.2 {
		t.Errorf("GazeOffsetThreshold = %v, want 0.2", cfg.Detect.GazeOffsetThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Capture.CameraIntervalMs != 1000 {
		t.Errorf("CameraIntervalMs = %d, want default 1000", cfg.Capture.CameraIntervalMs)
	}

	ov, ok := cfg.Debounce.Overrides["no_face"]
	if !ok {
		t.Fatal("no_face override missing")
	}
	if ov.Threshold != 4 || ov.CooldownSec != 20 {
		t.Errorf("no_face override = %+v, want {4 20}", ov)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
session:
  duration_minutes: 45
report:
  base_url: "https://exam.example.com/api"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.DurationMinutes != 45 {
		t.Errorf("DurationMinutes = %d, want 45", cfg.Session.DurationMinutes)
	}
	if cfg.Report.BaseURL != "https://exam.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.Report.BaseURL)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"version": 1, "session": {"duration_minutes": 30}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.DurationMinutes != 30 {
		t.Errorf("DurationMinutes = %d, want 30", cfg.Session.DurationMinutes)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[session\nbroken"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

// ============================================================
// Environment overrides
// ============================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROCTORD_API_URL", "https://override.example.com")
	t.Setenv("PROCTORD_API_TOKEN", "tok-123")
	t.Setenv("PROCTORD_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Report.BaseURL != "https://override.example.com" {
		t.Errorf("BaseURL = %q", cfg.Report.BaseURL)
	}
	if cfg.Report.Token != "tok-123" {
		t.Errorf("Token = %q", cfg.Report.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestProctordDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROCTORD_DATA_DIR", dir)

	if got := ProctordDir(); got != dir {
		t.Errorf("ProctordDir() = %q, want %q", got, dir)
	}
}

// ============================================================
// Validation
// ============================================================

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero duration", func(c *Config) { c.Session.DurationMinutes = 0 }},
		{"negative ceiling", func(c *Config) { c.Session.MaxViolations = -1 }},
		{"gaze threshold too high", func(c *Config) { c.Detect.GazeOffsetThreshold = 1.5 }},
		{"volume above spike", func(c *Config) { c.Detect.AudioVolumeThreshold = 200 }},
		{"unknown debounce type", func(c *Config) {
			c.Debounce.Overrides["phone_detected"] = PolicyOverride{Threshold: 1}
		}},
		{"zero debounce threshold", func(c *Config) {
			c.Debounce.Overrides["no_face"] = PolicyOverride{Threshold: 0}
		}},
		{"bad report url", func(c *Config) { c.Report.BaseURL = "not a url" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad ipc permissions", func(c *Config) { c.IPC.Permissions = "rwx" }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

// ============================================================
// Policy table
// ============================================================

func TestPoliciesAppliesOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce.Overrides["no_face"] = PolicyOverride{Threshold: 4, CooldownSec: 20}

	policies, err := cfg.Policies()
	if err != nil {
		t.Fatalf("Policies() error = %v", err)
	}

	got := policies[violation.TypeNoFace]
	if got.Threshold != 4 || got.Cooldown != 20*time.Second {
		t.Errorf("no_face policy = %+v, want {4 20s}", got)
	}

	// Other types keep their defaults.
	if policies[violation.TypeTabSwitch].Threshold != 1 {
		t.Errorf("tab_switch threshold = %d, want 1", policies[violation.TypeTabSwitch].Threshold)
	}
}

func TestPoliciesRejectsUnknownType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce.Overrides["telepathy"] = PolicyOverride{Threshold: 1}

	if _, err := cfg.Policies(); err == nil {
		t.Error("Policies() error = nil, want unknown-type error")
	}
}

func TestTimeWarnings(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.TimeWarnings()
	want := []time.Duration{15 * time.Minute, 5 * time.Minute, time.Minute}

	if len(got) != len(want) {
		t.Fatalf("TimeWarnings() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TimeWarnings()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// ============================================================
// Clone
// ============================================================

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce.Overrides["no_face"] = PolicyOverride{Threshold: 4}

	clone := cfg.Clone()
	clone.Session.DurationMinutes = 10
	clone.Session.TimeWarningsSec[0] = 1
	clone.Debounce.Overrides["no_face"] = PolicyOverride{Threshold: 99}

	if cfg.Session.DurationMinutes == 10 {
		t.Error("Clone() shares Session struct")
	}
	if cfg.Session.TimeWarningsSec[0] == 1 {
		t.Error("Clone() shares TimeWarningsSec slice")
	}
	if cfg.Debounce.Overrides["no_face"].Threshold == 99 {
		t.Error("Clone() shares Overrides map")
	}
}

// ============================================================
// Save / LoadOrCreate
// ============================================================

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Session.DurationMinutes = 75
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Session.DurationMinutes != 75 {
		t.Errorf("DurationMinutes = %d, want 75", loaded.Session.DurationMinutes)
	}
}

func TestLoadOrCreateWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate() error = %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if cfg == nil {
		t.Fatal("cfg = nil")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not written: %v", err)
	}

	_, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate() error = %v", err)
	}
	if created {
		t.Error("created = true on existing file, want false")
	}
}

// ============================================================
// Hot reload
// ============================================================

func TestLoaderReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	update := "version = 1\n\n[session]\nduration_minutes = 25\n"
	if err := os.WriteFile(path, []byte(update), 0600); err != nil {
		t.Fatalf("update config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Session.DurationMinutes != 25 {
			t.Errorf("reloaded DurationMinutes = %d, want 25", cfg.Session.DurationMinutes)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoaderKeepsOldConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	bad := "version = 1\n\n[session]\nduration_minutes = 0\n"
	if err := os.WriteFile(path, []byte(bad), 0600); err != nil {
		t.Fatalf("update config: %v", err)
	}

	select {
	case err := <-loader.Errors():
		if err == nil {
			t.Error("Errors() delivered nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for validation error")
	}

	if got := loader.Config().Session.DurationMinutes; got != 60 {
		t.Errorf("DurationMinutes after bad reload = %d, want 60", got)
	}
}
