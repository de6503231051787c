// Package agent implements the LoadForge agent control loop: the
// connection lifecycle to the console, the property-merging and
// script-resolution state machine, the ramp-up worker launcher, and the
// shutdown choreography.
package agent

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level settings read from the environment. It is
// distinct from Properties: Config governs how this process itself
// behaves (console TLS, logging, metrics, tracing, resource-monitor
// thresholds); grinder.*/agent.* run settings live exclusively in
// Properties, merged from the local property file and each StartGrinder
// message.
type Config struct {
	// Home is the agent's working root: file-store and default log
	// directories are rooted under it.
	Home string

	// PropertyFile is the local key=value (or .yml/.yaml) file loaded at
	// startup; a StartGrinder message's properties are merged over it.
	PropertyFile string

	// ProceedWithoutConsole allows PREPARING_RUN to proceed from local
	// properties alone when the console is unreachable.
	ProceedWithoutConsole bool

	// LogLevel is debug, info, warn, or error (default: info).
	LogLevel string
	// LogFormat is json or console (default: json).
	LogFormat string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint (default: :9090).
	MetricsAddr string
	// TracingEndpoint is the OTLP/HTTP collector endpoint; tracing is
	// disabled when empty.
	TracingEndpoint string

	// ConsoleTLSEnabled enables TLS on the outbound console connection.
	ConsoleTLSEnabled bool
	// ConsoleTLSInsecureSkipVerify skips server certificate verification
	// (not recommended; for development consoles with self-signed certs).
	ConsoleTLSInsecureSkipVerify bool

	// ReconnectMinInterval is the minimum console reconnect backoff (default: 1s).
	ReconnectMinInterval time.Duration
	// ReconnectMaxInterval is the maximum console reconnect backoff (default: 60s).
	ReconnectMaxInterval time.Duration

	// ResourceCheckInterval is how often the resource monitor polls (default: 10s).
	ResourceCheckInterval time.Duration
	// CPUThreshold/MemoryThreshold/DiskThreshold are the usage percentages
	// at or above which a warning is logged; they do not gate console
	// connectivity.
	CPUThreshold    float64
	MemoryThreshold float64
	DiskThreshold   float64
}

// Load reads agent configuration from environment variables, all under
// the LOADFORGE_AGENT_ prefix.
func Load() (*Config, error) {
	home := getEnv("LOADFORGE_AGENT_HOME", defaultHome())

	cfg := &Config{
		Home:                         home,
		PropertyFile:                 getEnv("LOADFORGE_AGENT_PROPERTY_FILE", ""),
		ProceedWithoutConsole:        getEnvBool("LOADFORGE_AGENT_PROCEED_WITHOUT_CONSOLE", false),
		LogLevel:                     getEnv("LOADFORGE_AGENT_LOG_LEVEL", "info"),
		LogFormat:                    getEnv("LOADFORGE_AGENT_LOG_FORMAT", "json"),
		MetricsAddr:                  getEnv("LOADFORGE_AGENT_METRICS_ADDR", ":9090"),
		TracingEndpoint:              getEnv("LOADFORGE_AGENT_TRACING_ENDPOINT", ""),
		ConsoleTLSEnabled:            getEnvBool("LOADFORGE_AGENT_CONSOLE_TLS_ENABLED", false),
		ConsoleTLSInsecureSkipVerify: getEnvBool("LOADFORGE_AGENT_CONSOLE_TLS_INSECURE_SKIP_VERIFY", false),
		ReconnectMinInterval:         getEnvDuration("LOADFORGE_AGENT_RECONNECT_MIN_INTERVAL", 1*time.Second),
		ReconnectMaxInterval:         getEnvDuration("LOADFORGE_AGENT_RECONNECT_MAX_INTERVAL", 60*time.Second),
		ResourceCheckInterval:        getEnvDuration("LOADFORGE_AGENT_RESOURCE_CHECK_INTERVAL", 10*time.Second),
		CPUThreshold:                 getEnvFloat64("LOADFORGE_AGENT_CPU_THRESHOLD", 90.0),
		MemoryThreshold:              getEnvFloat64("LOADFORGE_AGENT_MEMORY_THRESHOLD", 90.0),
		DiskThreshold:                getEnvFloat64("LOADFORGE_AGENT_DISK_THRESHOLD", 90.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaultHome() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home + "/.loadforge-agent"
	}
	return "/var/lib/loadforge-agent"
}

// Validate checks that configuration fields are internally consistent.
func (c *Config) Validate() error {
	var errs []error

	if c.Home == "" {
		errs = append(errs, errors.New("LOADFORGE_AGENT_HOME must not be empty"))
	}
	if c.Home != "" && !strings.HasPrefix(c.Home, "/") && runtime.GOOS != "windows" {
		errs = append(errs, errors.New("LOADFORGE_AGENT_HOME must be an absolute path"))
	}

	if c.ReconnectMinInterval < 100*time.Millisecond {
		errs = append(errs, errors.New("LOADFORGE_AGENT_RECONNECT_MIN_INTERVAL must be at least 100ms"))
	}
	if c.ReconnectMaxInterval < c.ReconnectMinInterval {
		errs = append(errs, errors.New("LOADFORGE_AGENT_RECONNECT_MAX_INTERVAL must be >= MIN_INTERVAL"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, errors.New("LOADFORGE_AGENT_LOG_LEVEL must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, errors.New("LOADFORGE_AGENT_LOG_FORMAT must be one of: json, console"))
	}

	if c.ConsoleTLSInsecureSkipVerify && !c.ConsoleTLSEnabled {
		errs = append(errs, errors.New("LOADFORGE_AGENT_CONSOLE_TLS_INSECURE_SKIP_VERIFY requires TLS to be enabled"))
	}

	for name, v := range map[string]float64{
		"LOADFORGE_AGENT_CPU_THRESHOLD":    c.CPUThreshold,
		"LOADFORGE_AGENT_MEMORY_THRESHOLD": c.MemoryThreshold,
		"LOADFORGE_AGENT_DISK_THRESHOLD":   c.DiskThreshold,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 100", name))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidationError contains multiple validation errors.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the underlying errors for errors.Is/As compatibility.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// Helper functions for reading environment variables.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
