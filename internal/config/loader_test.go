package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Router.JudgeMargin != 0.2 {
		t.Errorf("judge margin = %g, want 0.2", cfg.Router.JudgeMargin)
	}
	if cfg.Router.MinProbability != 0.1 {
		t.Errorf("min probability = %g, want 0.1", cfg.Router.MinProbability)
	}
	if cfg.SafeMode.WarningThreshold != 75 || cfg.SafeMode.CriticalThreshold != 90 || cfg.SafeMode.EmergencyThreshold != 95 {
		t.Errorf("safe mode thresholds = (%g, %g, %g), want (75, 90, 95)",
			cfg.SafeMode.WarningThreshold, cfg.SafeMode.CriticalThreshold, cfg.SafeMode.EmergencyThreshold)
	}
	if cfg.Logging.Service != "tiergate-core" {
		t.Errorf("service = %q, want tiergate-core", cfg.Logging.Service)
	}
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want default 8080", cfg.Server.Port)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiergate.yaml")
	yaml := `
server:
  port: "9999"
router:
  judge_margin: 0.3
saga:
  operation_timeout: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("port = %q, want 9999", cfg.Server.Port)
	}
	if cfg.Router.JudgeMargin != 0.3 {
		t.Errorf("judge margin = %g, want 0.3", cfg.Router.JudgeMargin)
	}
	if cfg.Saga.OperationTimeout != 5*time.Second {
		t.Errorf("saga timeout = %v, want 5s", cfg.Saga.OperationTimeout)
	}
	// Untouched values keep their defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %q, want default", cfg.NATS.URL)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiergate.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9999\"\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	t.Setenv("TIERGATE_PORT", "7777")
	t.Setenv("TIERGATE_JUDGE_ENABLED", "false")
	t.Setenv("TIERGATE_SAFE_WARNING", "60")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7777" {
		t.Errorf("port = %q, want env override 7777", cfg.Server.Port)
	}
	if cfg.Router.JudgeEnabled {
		t.Error("judge should be disabled by env")
	}
	if cfg.SafeMode.WarningThreshold != 60 {
		t.Errorf("warning threshold = %g, want 60", cfg.SafeMode.WarningThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"judge margin out of range", func(c *Config) { c.Router.JudgeMargin = 1.5 }},
		{"zero min probability", func(c *Config) { c.Router.MinProbability = 0 }},
		{"thresholds not increasing", func(c *Config) { c.SafeMode.CriticalThreshold = 70 }},
		{"breaker max failures", func(c *Config) { c.Breaker.MaxFailures = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
