// package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// database (settings and telegram session storage)
	DatabasePath string
	SessionPath  string

	// nats
	NatsURL string

	// telegram
	TGApiID   int
	TGApiHash string

	// extractor / transcoder
	ProxyURL         string
	TempDir          string
	TranscodeEnabled bool
	PreferGPU        bool

	// server
	HTTPPort int

	// logging
	LogLevel string
	LogFile  string

	// processing tunables, overridable via yaml file
	Tuning Tuning
}

// Tuning holds the processing knobs of the claim protocol and scheduler.
// Values are deliberately configurable: the arbitration window trades
// collision probability against latency and has no single right answer.
type Tuning struct {
	ClaimJitterMax    time.Duration
	ClaimPollInterval time.Duration
	ClaimPollWindow   time.Duration

	MaxActiveTasks   int
	TaskTimeout      time.Duration
	DispatchCooldown time.Duration
	QueueWarnDepth   int

	MaxVideoDuration     time.Duration
	ProgressMinInterval  time.Duration
	ProgressMinDeltaPct  int
	TempSweepInterval    time.Duration
	TempMaxAge           time.Duration
	CleanupRetries       int
	CleanupRetryInterval time.Duration
}

// DefaultTuning returns the hardened-generation protocol defaults.
func DefaultTuning() Tuning {
	return Tuning{
		ClaimJitterMax:       5 * time.Second,
		ClaimPollInterval:    500 * time.Millisecond,
		ClaimPollWindow:      2 * time.Second,
		MaxActiveTasks:       5,
		TaskTimeout:          300 * time.Second,
		DispatchCooldown:     3 * time.Second,
		QueueWarnDepth:       50,
		MaxVideoDuration:     180 * time.Second,
		ProgressMinInterval:  5 * time.Second,
		ProgressMinDeltaPct:  5,
		TempSweepInterval:    5 * time.Minute,
		TempMaxAge:           10 * time.Minute,
		CleanupRetries:       3,
		CleanupRetryInterval: time.Second,
	}
}

// Load reads configuration from environment variables with sensible defaults.
// If VIDEORELAY_CONFIG points at a yaml file, tuning values are overridden
// from it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     getEnv("DATABASE_PATH", "./videorelay.db"),
		SessionPath:      getEnv("SESSION_PATH", "./session.db"),
		NatsURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		TGApiID:          getEnvInt("TG_API_ID", 0),
		TGApiHash:        getEnv("TG_API_HASH", ""),
		ProxyURL:         getEnv("PROXY_URL", ""),
		TempDir:          getEnv("TEMP_DIR", "./temp-files"),
		TranscodeEnabled: getEnvBool("TRANSCODE_ENABLED", true),
		PreferGPU:        getEnvBool("PREFER_GPU", false),
		HTTPPort:         getEnvInt("HTTP_PORT", 3200),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", "./logs/app.log"),
		Tuning:           DefaultTuning(),
	}

	if path := os.Getenv("VIDEORELAY_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("apply config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// tuningFile is the yaml shape of the override file. Durations are written
// as strings ("90s", "1m30s") and parsed with time.ParseDuration.
type tuningFile struct {
	ClaimJitterMax    string `yaml:"claim_jitter_max"`
	ClaimPollInterval string `yaml:"claim_poll_interval"`
	ClaimPollWindow   string `yaml:"claim_poll_window"`

	MaxActiveTasks   int    `yaml:"max_active_tasks"`
	TaskTimeout      string `yaml:"task_timeout"`
	DispatchCooldown string `yaml:"dispatch_cooldown"`
	QueueWarnDepth   int    `yaml:"queue_warn_depth"`

	MaxVideoDuration     string `yaml:"max_video_duration"`
	ProgressMinInterval  string `yaml:"progress_min_interval"`
	ProgressMinDeltaPct  int    `yaml:"progress_min_delta_pct"`
	TempSweepInterval    string `yaml:"temp_sweep_interval"`
	TempMaxAge           string `yaml:"temp_max_age"`
	CleanupRetries       int    `yaml:"cleanup_retries"`
	CleanupRetryInterval string `yaml:"cleanup_retry_interval"`
}

// applyFile overrides tuning from a yaml file. Absent keys keep defaults.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override tuningFile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	var mergeErr error
	merge := func(dst *time.Duration, src, key string) {
		if src == "" || mergeErr != nil {
			return
		}
		d, err := time.ParseDuration(src)
		if err != nil {
			mergeErr = fmt.Errorf("parse %s: %w", key, err)
			return
		}
		if d > 0 {
			*dst = d
		}
	}
	mergeInt := func(dst *int, src int) {
		if src > 0 {
			*dst = src
		}
	}

	merge(&c.Tuning.ClaimJitterMax, override.ClaimJitterMax, "claim_jitter_max")
	merge(&c.Tuning.ClaimPollInterval, override.ClaimPollInterval, "claim_poll_interval")
	merge(&c.Tuning.ClaimPollWindow, override.ClaimPollWindow, "claim_poll_window")
	mergeInt(&c.Tuning.MaxActiveTasks, override.MaxActiveTasks)
	merge(&c.Tuning.TaskTimeout, override.TaskTimeout, "task_timeout")
	merge(&c.Tuning.DispatchCooldown, override.DispatchCooldown, "dispatch_cooldown")
	mergeInt(&c.Tuning.QueueWarnDepth, override.QueueWarnDepth)
	merge(&c.Tuning.MaxVideoDuration, override.MaxVideoDuration, "max_video_duration")
	merge(&c.Tuning.ProgressMinInterval, override.ProgressMinInterval, "progress_min_interval")
	mergeInt(&c.Tuning.ProgressMinDeltaPct, override.ProgressMinDeltaPct)
	merge(&c.Tuning.TempSweepInterval, override.TempSweepInterval, "temp_sweep_interval")
	merge(&c.Tuning.TempMaxAge, override.TempMaxAge, "temp_max_age")
	mergeInt(&c.Tuning.CleanupRetries, override.CleanupRetries)
	merge(&c.Tuning.CleanupRetryInterval, override.CleanupRetryInterval, "cleanup_retry_interval")

	return mergeErr
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
