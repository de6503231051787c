// Package main is the entrypoint for the LoadForge agent.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loadforge/agent/internal/agent"
	"github.com/loadforge/agent/internal/agent/properties"
	"github.com/loadforge/agent/pkg/health"
	"github.com/loadforge/agent/pkg/log"
	"github.com/loadforge/agent/pkg/metrics"
	"github.com/loadforge/agent/pkg/tracing"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agent",
		Short: "LoadForge agent: connects to a console and drives local worker processes",
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(agent.Version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent control loop until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	cfg, err := agent.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info().
		Str("home", cfg.Home).
		Str("property_file", cfg.PropertyFile).
		Bool("proceed_without_console", cfg.ProceedWithoutConsole).
		Msg("starting loadforge agent")

	baseProps, err := loadProperties(cfg.PropertyFile)
	if err != nil {
		return fmt.Errorf("failed to load property file: %w", err)
	}

	agentMetrics := metrics.NewAgentMetrics()
	logger.Info().Msg("metrics initialized")

	var tracer *tracing.Tracer
	if cfg.TracingEndpoint != "" {
		tracingCfg := tracing.Config{
			ServiceName:    "loadforge-agent",
			ServiceVersion: agent.Version,
			Endpoint:       cfg.TracingEndpoint,
			Insecure:       !cfg.ConsoleTLSEnabled,
			SampleRate:     1.0,
			Environment:    os.Getenv("LOADFORGE_AGENT_ENVIRONMENT"),
			Enabled:        true,
		}
		tracer, err = tracing.InitTracer(tracingCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize tracing - continuing without tracing")
		} else {
			logger.Info().Str("endpoint", cfg.TracingEndpoint).Msg("tracing initialized")
		}
	} else {
		logger.Info().Msg("tracing disabled")
	}

	agnt := agent.New(cfg, baseProps, logger, agentMetrics.Agent, tracer)

	monitor := agent.NewMonitor(cfg.Home, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx, cfg.ResourceCheckInterval)
	go reportResourceMetrics(ctx, monitor, agentMetrics.Agent, cfg, logger)

	httpServer := newHTTPServer(cfg, agentMetrics, agnt, logger)
	go func() {
		logger.Info().Str("address", httpServer.Addr).Msg("starting metrics/health server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics/health server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := agnt.Run(ctx); err != nil {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("agent control loop exited with error")
		}
	}

	logger.Info().Msg("initiating graceful shutdown")
	agnt.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics/health server shutdown error")
	}

	logger.Info().Msg("agent shutdown complete")
	return nil
}

// loadProperties reads the local property file, dispatching to the YAML
// loader for .yml/.yaml extensions and the key=value loader otherwise.
// An empty path is not an error: the agent can run on console-delivered
// properties alone.
func loadProperties(path string) (*properties.Properties, error) {
	if path == "" {
		return properties.New(""), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return properties.LoadYAML(path)
	default:
		return properties.Load(path)
	}
}

// newHTTPServer builds the server exposing /metrics and /healthz.
func newHTTPServer(cfg *agent.Config, m *metrics.Metrics, agnt *agent.Agent, logger zerolog.Logger) *http.Server {
	consoleCheck := health.NewConsoleCheck(agnt.HealthConnection())

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		result := consoleCheck.CheckDetailed(r.Context())
		status := http.StatusOK
		if result.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"name":%q,"status":%q,"message":%q}`, result.Name, result.Status, result.Message)
	})

	handler := log.HTTPMiddleware(log.FromZerolog(logger))(tracing.Middleware(mux))

	return &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// setupLogger creates a logger based on configuration.
func setupLogger(cfg *agent.Config) zerolog.Logger {
	var logger zerolog.Logger

	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	switch cfg.LogLevel {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "info":
		logger = logger.Level(zerolog.InfoLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	return logger.With().Str("component", "main").Logger()
}

// reportResourceMetrics bridges the resource Monitor's snapshots into the
// CPU/memory Prometheus gauges until ctx is done.
func reportResourceMetrics(ctx context.Context, monitor *agent.Monitor, m *metrics.AgentMetrics, cfg *agent.Config, logger zerolog.Logger) {
	interval := cfg.ResourceCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage := monitor.Usage()
			m.SetCPUUsage(usage.CPUPercent)
			if usage.MemoryTotalBytes > 0 {
				m.SetMemoryUsage(100 * float64(usage.MemoryBytes) / float64(usage.MemoryTotalBytes))
			}
			if usage.CPUPercent >= cfg.CPUThreshold {
				logger.Warn().Float64("cpu_percent", usage.CPUPercent).Msg("cpu usage above threshold")
			}
			if usage.MemoryTotalBytes > 0 {
				memPercent := 100 * float64(usage.MemoryBytes) / float64(usage.MemoryTotalBytes)
				if memPercent >= cfg.MemoryThreshold {
					logger.Warn().Float64("memory_percent", memPercent).Msg("memory usage above threshold")
				}
			}
			if usage.DiskTotalBytes > 0 {
				diskPercent := 100 * float64(usage.DiskBytes) / float64(usage.DiskTotalBytes)
				if diskPercent >= cfg.DiskThreshold {
					logger.Warn().Float64("disk_percent", diskPercent).Msg("disk usage above threshold")
				}
			}
		}
	}
}
