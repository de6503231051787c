package agent

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setEnv sets an environment variable and returns a func restoring it.
func setEnv(t *testing.T, key, value string) func() {
	t.Helper()
	old, existed := os.LookupEnv(key)
	os.Setenv(key, value)
	return func() {
		if existed {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	}
}

// clearEnvs clears all LOADFORGE_AGENT_ environment variables and
// returns a func restoring them.
func clearEnvs(t *testing.T) func() {
	t.Helper()
	saved := make(map[string]string)
	for _, env := range os.Environ() {
		for i := 0; i < len(env); i++ {
			if env[i] == '=' {
				key := env[:i]
				if len(key) > len("LOADFORGE_AGENT_") && key[:len("LOADFORGE_AGENT_")] == "LOADFORGE_AGENT_" {
					saved[key] = env[i+1:]
					os.Unsetenv(key)
				}
				break
			}
		}
	}
	return func() {
		for key, val := range saved {
			os.Setenv(key, val)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	defer clearEnvs(t)()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want :9090", cfg.MetricsAddr)
	}
	if cfg.ReconnectMinInterval != time.Second {
		t.Errorf("ReconnectMinInterval = %v, want 1s", cfg.ReconnectMinInterval)
	}
	if cfg.ReconnectMaxInterval != 60*time.Second {
		t.Errorf("ReconnectMaxInterval = %v, want 60s", cfg.ReconnectMaxInterval)
	}
	if cfg.ProceedWithoutConsole {
		t.Error("ProceedWithoutConsole should default to false")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	defer clearEnvs(t)()
	defer setEnv(t, "LOADFORGE_AGENT_HOME", "/opt/loadforge")()
	defer setEnv(t, "LOADFORGE_AGENT_LOG_LEVEL", "debug")()
	defer setEnv(t, "LOADFORGE_AGENT_PROCEED_WITHOUT_CONSOLE", "true")()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Home != "/opt/loadforge" {
		t.Errorf("Home = %q, want /opt/loadforge", cfg.Home)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if !cfg.ProceedWithoutConsole {
		t.Error("ProceedWithoutConsole should be true")
	}
}

func TestValidateRejectsRelativeHome(t *testing.T) {
	cfg := &Config{
		Home:                  "relative/path",
		LogLevel:              "info",
		LogFormat:             "json",
		ReconnectMinInterval:  time.Second,
		ReconnectMaxInterval:  60 * time.Second,
		CPUThreshold:          90,
		MemoryThreshold:       90,
		DiskThreshold:         90,
		ResourceCheckInterval: 10 * time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for relative Home")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := validConfigForTest()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for bad LogLevel")
	}
}

func TestValidateRejectsReconnectMaxBelowMin(t *testing.T) {
	cfg := validConfigForTest()
	cfg.ReconnectMinInterval = 10 * time.Second
	cfg.ReconnectMaxInterval = time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when max < min")
	}
}

func TestValidateRejectsInsecureSkipVerifyWithoutTLS(t *testing.T) {
	cfg := validConfigForTest()
	cfg.ConsoleTLSEnabled = false
	cfg.ConsoleTLSInsecureSkipVerify = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for insecure skip verify without TLS")
	}
}

func TestValidateRejectsOutOfRangeThresholds(t *testing.T) {
	cfg := validConfigForTest()
	cfg.CPUThreshold = 150
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for CPUThreshold out of range")
	}
}

func TestValidationErrorMessageCountsErrors(t *testing.T) {
	cfg := validConfigForTest()
	cfg.LogLevel = "bad"
	cfg.LogFormat = "bad"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2", len(verr.Errors))
	}
	if !strings.HasPrefix(err.Error(), "2 validation errors") {
		t.Errorf("Error() = %q, want it to start with the error count", err.Error())
	}
}

func validConfigForTest() *Config {
	return &Config{
		Home:                  "/var/lib/loadforge-agent",
		LogLevel:              "info",
		LogFormat:             "json",
		ReconnectMinInterval:  time.Second,
		ReconnectMaxInterval:  60 * time.Second,
		CPUThreshold:          90,
		MemoryThreshold:       90,
		DiskThreshold:         90,
		ResourceCheckInterval: 10 * time.Second,
	}
}
