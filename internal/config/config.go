// Package config handles configuration loading for the controller, the
// scheduler, and the worker. Values come from an optional yaml file with
// environment variables taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string `mapstructure:"database_url"`

	// HTTP server port for the controller
	HTTPPort int `mapstructure:"port"`

	// Shared secret protecting the /internal endpoints
	InternalSecret string `mapstructure:"internal_secret"`

	// URL of the control plane (e.g., "http://localhost:6161")
	ControllerURL string `mapstructure:"controller_url"`

	// OTLP collector endpoint for trace export
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Marketplace endpoint for schedule outcome notifications. Outcomes
	// go to the structured log when no endpoint is configured.
	NotificationEndpoint string `mapstructure:"notification_endpoint"`
	NotificationSecret   string `mapstructure:"notification_secret"`

	// Worker-specific configuration
	WorkerConcurrency       int           `mapstructure:"worker_concurrency"`
	WorkerPollInterval      time.Duration `mapstructure:"worker_poll_interval"`
	WorkerMaxBackoff        time.Duration `mapstructure:"worker_max_backoff"`
	WorkerHeartbeatInterval time.Duration `mapstructure:"worker_heartbeat_interval"`
	WorkerMetricsPort       int           `mapstructure:"worker_metrics_port"`

	// Isolation backend for the strict tier: "docker", "kubernetes", or
	// "exec". "exec" exists for development only; enterprise agents need
	// a real out-of-process boundary.
	StrictRuntime       string `mapstructure:"strict_runtime"`
	RuntimeWorkDir      string `mapstructure:"runtime_workdir"`
	KubernetesNamespace string `mapstructure:"kubernetes_namespace"`

	// Scheduler reconciliation
	SchedulerTickInterval time.Duration `mapstructure:"scheduler_tick_interval"`
	SchedulerBatchSize    int           `mapstructure:"scheduler_batch_size"`
}

// Load reads configuration from the given yaml file (optional) and from
// AGENTPLANE_* environment variables, which take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Empty defaults register the keys so AutomaticEnv can fill them.
	v.SetDefault("database_url", "")
	v.SetDefault("internal_secret", "")
	v.SetDefault("port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("notification_endpoint", "")
	v.SetDefault("notification_secret", "")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 30*time.Second)
	v.SetDefault("worker_metrics_port", 6162)
	v.SetDefault("strict_runtime", "docker")
	v.SetDefault("runtime_workdir", "")
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("scheduler_tick_interval", time.Minute)
	v.SetDefault("scheduler_batch_size", 50)

	v.SetEnvPrefix("AGENTPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: AGENTPLANE_DATABASE_URL)")
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.SchedulerBatchSize <= 0 {
		cfg.SchedulerBatchSize = 50
	}

	return &cfg, nil
}
