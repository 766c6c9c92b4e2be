// Package config provides configuration management for the context gateway.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration for the gateway's performance core.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	// BasePath is the root directory holding per-domain context directories.
	BasePath string `yaml:"basePath" validate:"required"`

	Server       ServerConfig       `yaml:"server"`
	Cache        CacheConfig        `yaml:"cache"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Rollback     RollbackConfig     `yaml:"rollback"`

	// LoadedFrom tracks where configuration was loaded from (diagnostics only).
	LoadedFrom []string `yaml:"-"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=0,max=65535"`
}

// CacheConfig holds the tuning for both specialized caches.
type CacheConfig struct {
	Semantic    CacheTuning `yaml:"semantic"`
	CrossDomain CacheTuning `yaml:"crossDomain"`
}

// CacheTuning is the per-cache capacity and expiry configuration.
type CacheTuning struct {
	MaxEntries      int           `yaml:"maxEntries" validate:"min=1"`
	MaxSizeBytes    int64         `yaml:"maxSizeBytes" validate:"min=1"`
	TTL             time.Duration `yaml:"ttl" validate:"min=1s"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" validate:"min=1s"`
}

// OrchestratorConfig configures the optimized operation paths.
type OrchestratorConfig struct {
	EnableParallel     bool          `yaml:"enableParallel"`
	MaxWorkers         int           `yaml:"maxWorkers" validate:"min=1"`
	QueueSize          int           `yaml:"queueSize" validate:"min=1"`
	PerformanceTimeout time.Duration `yaml:"performanceTimeout" validate:"min=1s"`

	// Alert thresholds evaluated by the health check.
	MaxAvgResponseTime time.Duration `yaml:"maxAvgResponseTime" validate:"min=1ms"`
	MaxMemoryBytes     int64         `yaml:"maxMemoryBytes" validate:"min=1"`
	MaxQueueDepth      int           `yaml:"maxQueueDepth" validate:"min=1"`

	// HistorySize bounds the response-time samples kept for percentiles.
	HistorySize int `yaml:"historySize" validate:"min=10"`
}

// RollbackConfig configures snapshot and rollback state persistence.
type RollbackConfig struct {
	StateDir    string        `yaml:"stateDir" validate:"required"`
	SnapshotDir string        `yaml:"snapshotDir" validate:"required"`
	MaxAge      time.Duration `yaml:"maxAge" validate:"min=1h"`
	MaxRecords  int           `yaml:"maxRecords" validate:"min=1"`
}

// DefaultConfig returns the baseline configuration before any overlay.
func DefaultConfig() *Config {
	return &Config{
		Environment: Development,
		BasePath:    ".",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Cache: CacheConfig{
			Semantic: CacheTuning{
				MaxEntries:      500,
				MaxSizeBytes:    50 * 1024 * 1024,
				TTL:             30 * time.Minute,
				CleanupInterval: 5 * time.Minute,
			},
			CrossDomain: CacheTuning{
				MaxEntries:      200,
				MaxSizeBytes:    25 * 1024 * 1024,
				TTL:             15 * time.Minute,
				CleanupInterval: 5 * time.Minute,
			},
		},
		Orchestrator: OrchestratorConfig{
			EnableParallel:     true,
			MaxWorkers:         8,
			QueueSize:          256,
			PerformanceTimeout: 2 * time.Minute,
			MaxAvgResponseTime: 5 * time.Second,
			MaxMemoryBytes:     100 * 1024 * 1024,
			MaxQueueDepth:      200,
			HistorySize:        1000,
		},
		Rollback: RollbackConfig{
			StateDir:    ".contextgw/rollback/state",
			SnapshotDir: ".contextgw/rollback/snapshots",
			MaxAge:      168 * time.Hour,
			MaxRecords:  50,
		},
	}
}

// Validate checks the configuration for structural and semantic errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}
