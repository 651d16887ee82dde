package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tiergate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TIERGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "TIERGATE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TIERGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TIERGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TIERGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TIERGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TIERGATE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Judge.URL, "TIERGATE_JUDGE_URL")
	setString(&cfg.Judge.APIKey, "TIERGATE_JUDGE_API_KEY")
	setString(&cfg.Judge.Model, "TIERGATE_JUDGE_MODEL")
	setInt(&cfg.Judge.MaxTokens, "TIERGATE_JUDGE_MAX_TOKENS")
	setDuration(&cfg.Judge.Timeout, "TIERGATE_JUDGE_TIMEOUT")
	setString(&cfg.Logging.Level, "TIERGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TIERGATE_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "TIERGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TIERGATE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Router.JudgeMargin, "TIERGATE_JUDGE_MARGIN")
	setFloat64(&cfg.Router.MinProbability, "TIERGATE_MIN_PROBABILITY")
	setInt(&cfg.Router.EarlyExitTokens, "TIERGATE_EARLY_EXIT_TOKENS")
	setFloat64(&cfg.Router.NoveltyEscalate, "TIERGATE_NOVELTY_ESCALATE")
	setBool(&cfg.Router.JudgeEnabled, "TIERGATE_JUDGE_ENABLED")
	setDuration(&cfg.Router.DecisionCacheTTL, "TIERGATE_DECISION_CACHE_TTL")
	setBool(&cfg.SafeMode.Enabled, "TIERGATE_SAFE_MODE")
	setFloat64(&cfg.SafeMode.WarningThreshold, "TIERGATE_SAFE_WARNING")
	setFloat64(&cfg.SafeMode.CriticalThreshold, "TIERGATE_SAFE_CRITICAL")
	setFloat64(&cfg.SafeMode.EmergencyThreshold, "TIERGATE_SAFE_EMERGENCY")
	setFloat64(&cfg.SafeMode.BaseCostCeiling, "TIERGATE_SAFE_COST_CEILING")
	setDuration(&cfg.Saga.OperationTimeout, "TIERGATE_SAGA_OP_TIMEOUT")
	setString(&cfg.Tools.URL, "TIERGATE_TOOLS_URL")
	setDuration(&cfg.Tools.Timeout, "TIERGATE_TOOLS_TIMEOUT")
	setInt64(&cfg.Cache.MaxBytes, "TIERGATE_CACHE_MAX_BYTES")
	setBool(&cfg.Telemetry.Enabled, "TIERGATE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "TIERGATE_OTEL_ENDPOINT")
	setString(&cfg.Workflow.Dir, "TIERGATE_WORKFLOW_DIR")
}

// validate checks the configuration for values that would break at runtime.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port must not be empty")
	}
	if cfg.Router.JudgeMargin < 0 || cfg.Router.JudgeMargin > 1 {
		return fmt.Errorf("router.judge_margin must be in [0,1], got %g", cfg.Router.JudgeMargin)
	}
	if cfg.Router.MinProbability <= 0 || cfg.Router.MinProbability > 1 {
		return fmt.Errorf("router.min_probability must be in (0,1], got %g", cfg.Router.MinProbability)
	}
	if cfg.SafeMode.WarningThreshold >= cfg.SafeMode.CriticalThreshold ||
		cfg.SafeMode.CriticalThreshold >= cfg.SafeMode.EmergencyThreshold {
		return errors.New("safe_mode thresholds must be strictly increasing (warning < critical < emergency)")
	}
	if cfg.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("breaker.max_failures must be positive, got %d", cfg.Breaker.MaxFailures)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
