package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles loading configuration from multiple sources.
//
// The loading order (from lowest to highest priority):
//  1. Default values (in code)
//  2. Base configuration file (base.yaml)
//  3. Environment-specific file (e.g., production.yaml)
//  4. Environment variables (highest priority)
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
}

// NewLoader creates a new configuration loader rooted at basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	return &Loader{
		basePath:    basePath,
		environment: env,
		sources:     make([]string, 0),
	}
}

// LoadConfig loads configuration for the environment named by the ENVIRONMENT
// variable, falling back to development.
func LoadConfig() (*Config, error) {
	env := Environment(strings.ToLower(os.Getenv("ENVIRONMENT")))
	switch env {
	case Development, Staging, Production:
	default:
		env = Development
	}

	return NewLoader(os.Getenv("CONFIG_PATH"), env).Load()
}

// Load builds the final configuration from all sources.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	cfg.Environment = l.environment
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")

	cfg.LoadedFrom = l.sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads a YAML configuration overlay if it exists.
func (l *Loader) loadFile(name string, cfg *Config) error {
	path := filepath.Join(l.basePath, name+".yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	l.sources = append(l.sources, path)
	return nil
}

// loadEnvironmentVariables overlays environment variables on the configuration.
// This provides the highest priority configuration source.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	if val := os.Getenv("BASE_PATH"); val != "" {
		cfg.BasePath = val
	}

	// Server configuration
	if val := os.Getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Server.Port = port
		}
	}

	// Orchestrator configuration
	if val := os.Getenv("ENABLE_PARALLEL"); val != "" {
		cfg.Orchestrator.EnableParallel = parseBool(val)
	}
	if val := os.Getenv("MAX_WORKERS"); val != "" {
		if n := parseInt(val); n > 0 {
			cfg.Orchestrator.MaxWorkers = n
		}
	}
	if val := os.Getenv("PERFORMANCE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Orchestrator.PerformanceTimeout = d
		}
	}

	// Cache configuration
	if val := os.Getenv("SEMANTIC_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.Semantic.TTL = d
		}
	}
	if val := os.Getenv("CROSS_DOMAIN_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.CrossDomain.TTL = d
		}
	}

	// Rollback configuration
	if val := os.Getenv("ROLLBACK_STATE_DIR"); val != "" {
		cfg.Rollback.StateDir = val
	}
	if val := os.Getenv("ROLLBACK_SNAPSHOT_DIR"); val != "" {
		cfg.Rollback.SnapshotDir = val
	}
	if val := os.Getenv("ROLLBACK_MAX_AGE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Rollback.MaxAge = d
		}
	}
}

func parseInt(val string) int {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return n
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false
	}
	return b
}
