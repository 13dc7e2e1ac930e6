// Package config loads the control plane's tunables from a YAML file
// with environment-variable overrides, the way the teacher's cobra
// commands resolve bind addresses and data directories from flags and
// env rather than hardcoding them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML documents can write durations
// as "90s"/"2m" instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("90s") or a bare
// integer number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if parsed, err := time.ParseDuration(s); err == nil {
			*d = Duration(parsed)
			return nil
		}
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q: want a string like \"90s\" or a number of seconds", s)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\" or a number of seconds: %w", err)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// PortRegistryConfig binds spec §6's port registry tunables.
type PortRegistryConfig struct {
	DefaultTTL      Duration `yaml:"default_ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// HypervisorConfig binds spec §6's hypervisor tunables.
type HypervisorConfig struct {
	HealthCheckInterval  Duration `yaml:"health_check_interval"`
	StatusUpdateInterval Duration `yaml:"status_update_interval"`
	RestartBackoffBase   Duration `yaml:"restart_backoff_base"`
	RestartBackoffCap    Duration `yaml:"restart_backoff_cap"`
	DependencyTimeout    Duration `yaml:"dependency_timeout"`
}

// OrchestrationConfig binds spec §6's orchestration tunables.
type OrchestrationConfig struct {
	RetryBase    Duration `yaml:"retry_base"`
	RetryCap     Duration `yaml:"retry_cap"`
	WorkerPeriod Duration `yaml:"worker_period"`
}

// Config is the top-level YAML document, loaded once at startup.
type Config struct {
	PortRegistry  PortRegistryConfig  `yaml:"port_registry"`
	Hypervisor    HypervisorConfig    `yaml:"hypervisor"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
}

// Default returns the configuration with every default named in
// spec §6.
func Default() Config {
	return Config{
		PortRegistry: PortRegistryConfig{
			DefaultTTL:      Duration(60 * time.Second),
			CleanupInterval: Duration(30 * time.Second),
		},
		Hypervisor: HypervisorConfig{
			HealthCheckInterval:  Duration(30 * time.Second),
			StatusUpdateInterval: Duration(10 * time.Second),
			RestartBackoffBase:   Duration(time.Second),
			RestartBackoffCap:    Duration(60 * time.Second),
			DependencyTimeout:    Duration(2 * time.Minute),
		},
		Orchestration: OrchestrationConfig{
			RetryBase:    Duration(time.Second),
			RetryCap:     Duration(60 * time.Second),
			WorkerPeriod: Duration(time.Second),
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides, mirroring the precedence the
// teacher's CLI gives flags over env over built-in defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		case !os.IsNotExist(err):
			return cfg, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets SIRSI_PORT_REGISTRY_DEFAULT_TTL-style
// variables win over the file, for container deployments that can't
// mount a config file.
func applyEnvOverrides(cfg *Config) {
	durationEnv("SIRSI_PORT_REGISTRY_DEFAULT_TTL", &cfg.PortRegistry.DefaultTTL)
	durationEnv("SIRSI_PORT_REGISTRY_CLEANUP_INTERVAL", &cfg.PortRegistry.CleanupInterval)
	durationEnv("SIRSI_HYPERVISOR_HEALTH_CHECK_INTERVAL", &cfg.Hypervisor.HealthCheckInterval)
	durationEnv("SIRSI_HYPERVISOR_STATUS_UPDATE_INTERVAL", &cfg.Hypervisor.StatusUpdateInterval)
	durationEnv("SIRSI_HYPERVISOR_RESTART_BACKOFF_BASE", &cfg.Hypervisor.RestartBackoffBase)
	durationEnv("SIRSI_HYPERVISOR_RESTART_BACKOFF_CAP", &cfg.Hypervisor.RestartBackoffCap)
	durationEnv("SIRSI_ORCHESTRATION_RETRY_BASE", &cfg.Orchestration.RetryBase)
	durationEnv("SIRSI_ORCHESTRATION_RETRY_CAP", &cfg.Orchestration.RetryCap)
}

func durationEnv(key string, dst *Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = Duration(d)
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = Duration(time.Duration(secs) * time.Second)
	}
}
