package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
// Environment overrides are not applied; see ApplyEnv.
func Load(globalPath, projectPath string) (*OrchestratorConfig, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths, then applies
// environment overrides. A .env file in the working directory is read first.
// Global: ~/.taskengine/config.json
// Project: .taskengine/config.json (relative to cwd)
func LoadDefault() (*OrchestratorConfig, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskengine", "config.json")
	projectPath := filepath.Join(".taskengine", "config.json")

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv exports variables from path without overriding ones already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Fields present in the file replace the base values; executor entries are
// added or replaced by key. Missing files are silently skipped.
func mergeConfigFile(base *OrchestratorConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // Missing file is not an error
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Decoding onto the populated struct keeps fields the file omits
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Environment variables consulted by ApplyEnv.
const (
	EnvMaxConcurrentTasks = "TASKENGINE_MAX_CONCURRENT_TASKS"
	EnvTaskTimeout        = "TASKENGINE_TASK_TIMEOUT"
	EnvMaxRetries         = "TASKENGINE_MAX_RETRIES"
	EnvRetryDelay         = "TASKENGINE_RETRY_DELAY"
	EnvLogLevel           = "TASKENGINE_LOG_LEVEL"
	EnvDBPath             = "TASKENGINE_DB_PATH"
	EnvMetricsAddr        = "TASKENGINE_METRICS_ADDR"
)

// ApplyEnv overrides cfg from environment variables read through lookup.
func ApplyEnv(cfg *OrchestratorConfig, lookup func(string) (string, bool)) error {
	var errs []error

	intVar := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	durationVar := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	stringVar := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	intVar(EnvMaxConcurrentTasks, &cfg.Scheduler.MaxConcurrentTasks)
	durationVar(EnvTaskTimeout, &cfg.Scheduler.TaskTimeout)
	intVar(EnvMaxRetries, &cfg.Recovery.MaxRetries)
	durationVar(EnvRetryDelay, &cfg.Recovery.RetryDelay)
	stringVar(EnvLogLevel, &cfg.Logging.Level)
	stringVar(EnvDBPath, &cfg.Persistence.Path)
	stringVar(EnvMetricsAddr, &cfg.Metrics.Addr)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %w", errors.Join(errs...))
	}
	return nil
}
