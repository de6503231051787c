package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AgentMetrics holds all metrics exposed by an agent process.
type AgentMetrics struct {
	// Worker lifecycle metrics
	WorkersStarted   *prometheus.CounterVec
	WorkersDestroyed *prometheus.CounterVec
	WorkersActive    prometheus.Gauge
	RampUpDuration   prometheus.Histogram

	// Console report metrics
	ReportsSent    *prometheus.CounterVec
	ReportFailures prometheus.Counter

	// Connection metrics
	ConnectionState   *prometheus.GaugeVec
	ReconnectTotal    prometheus.Counter
	HeartbeatLatency  prometheus.Histogram
	HeartbeatsTotal   prometheus.Counter
	HeartbeatFailures prometheus.Counter

	// File store metrics
	FileStoreSyncs     prometheus.Counter
	FileStoreWatermark prometheus.Gauge

	// Control loop state
	ControlLoopState *prometheus.GaugeVec

	// Resource metrics
	CPUUsage    prometheus.Gauge
	MemoryUsage prometheus.Gauge
}

// newAgentMetrics creates and registers all agent metrics.
func newAgentMetrics(registry *prometheus.Registry) *AgentMetrics {
	m := &AgentMetrics{
		WorkersStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "workers_started_total",
				Help:      "Total number of worker processes started.",
			},
			[]string{"kind"},
		),
		WorkersDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "workers_destroyed_total",
				Help:      "Total number of worker processes destroyed.",
			},
			[]string{"reason"},
		),
		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "workers_active",
				Help:      "Number of workers currently running.",
			},
		),
		RampUpDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "ramp_up_duration_seconds",
				Help:      "Wall-clock time spent ramping all workers up.",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		ReportsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "process_reports_total",
				Help:      "Total number of AgentProcessReport messages sent, by state.",
			},
			[]string{"state"},
		),
		ReportFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "process_report_failures_total",
				Help:      "Total number of AgentProcessReport sends that failed.",
			},
		),
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "connection_state",
				Help:      "Current connection state (1=connected, 0=disconnected).",
			},
			[]string{"state"},
		),
		ReconnectTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "reconnects_total",
				Help:      "Total number of reconnection attempts to the console.",
			},
		),
		HeartbeatLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "heartbeat_latency_seconds",
				Help:      "Time taken to send a RUNNING state report.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		HeartbeatsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "heartbeats_total",
				Help:      "Total number of RUNNING state reports sent.",
			},
		),
		HeartbeatFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "heartbeat_failures_total",
				Help:      "Total number of failed RUNNING state reports.",
			},
		),
		FileStoreSyncs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "file_store_syncs_total",
				Help:      "Total number of file-store distribution messages applied.",
			},
		),
		FileStoreWatermark: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "file_store_watermark",
				Help:      "Current cache high-water mark reported to the console.",
			},
		),
		ControlLoopState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "control_loop_state",
				Help:      "Current control loop state (1=active, 0=inactive), by state name.",
			},
			[]string{"state"},
		),
		CPUUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "cpu_usage_percent",
				Help:      "Current host CPU usage as a percentage.",
			},
		),
		MemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "loadforge",
				Subsystem: "agent",
				Name:      "memory_usage_percent",
				Help:      "Current host memory usage as a percentage.",
			},
		),
	}

	registry.MustRegister(
		m.WorkersStarted,
		m.WorkersDestroyed,
		m.WorkersActive,
		m.RampUpDuration,
		m.ReportsSent,
		m.ReportFailures,
		m.ConnectionState,
		m.ReconnectTotal,
		m.HeartbeatLatency,
		m.HeartbeatsTotal,
		m.HeartbeatFailures,
		m.FileStoreSyncs,
		m.FileStoreWatermark,
		m.ControlLoopState,
		m.CPUUsage,
		m.MemoryUsage,
	)

	return m
}

// RecordWorkerStarted records a worker launch.
func (m *AgentMetrics) RecordWorkerStarted(kind string) {
	m.WorkersStarted.WithLabelValues(kind).Inc()
}

// RecordWorkerDestroyed records a worker destruction.
func (m *AgentMetrics) RecordWorkerDestroyed(reason string) {
	m.WorkersDestroyed.WithLabelValues(reason).Inc()
}

// SetActiveWorkers sets the number of workers currently running.
func (m *AgentMetrics) SetActiveWorkers(count float64) {
	m.WorkersActive.Set(count)
}

// RecordRampUp records how long it took to start all ramp-up increments.
func (m *AgentMetrics) RecordRampUp(durationSeconds float64) {
	m.RampUpDuration.Observe(durationSeconds)
}

// RecordReportSent records a successful AgentProcessReport send.
func (m *AgentMetrics) RecordReportSent(state string) {
	m.ReportsSent.WithLabelValues(state).Inc()
}

// RecordReportFailure records a failed AgentProcessReport send.
func (m *AgentMetrics) RecordReportFailure() {
	m.ReportFailures.Inc()
}

// SetConnected marks the console connection as up.
func (m *AgentMetrics) SetConnected() {
	m.ConnectionState.WithLabelValues("connected").Set(1)
	m.ConnectionState.WithLabelValues("disconnected").Set(0)
}

// SetDisconnected marks the console connection as down.
func (m *AgentMetrics) SetDisconnected() {
	m.ConnectionState.WithLabelValues("connected").Set(0)
	m.ConnectionState.WithLabelValues("disconnected").Set(1)
}

// RecordReconnect records a reconnection attempt.
func (m *AgentMetrics) RecordReconnect() {
	m.ReconnectTotal.Inc()
}

// RecordHeartbeat records a successful RUNNING state report with latency.
func (m *AgentMetrics) RecordHeartbeat(latencySeconds float64) {
	m.HeartbeatsTotal.Inc()
	m.HeartbeatLatency.Observe(latencySeconds)
}

// RecordHeartbeatFailure records a failed RUNNING state report.
func (m *AgentMetrics) RecordHeartbeatFailure() {
	m.HeartbeatFailures.Inc()
}

// RecordFileStoreSync records an applied file-distribution message.
func (m *AgentMetrics) RecordFileStoreSync() {
	m.FileStoreSyncs.Inc()
}

// SetFileStoreWatermark sets the current cache high-water mark.
func (m *AgentMetrics) SetFileStoreWatermark(watermark float64) {
	m.FileStoreWatermark.Set(watermark)
}

// SetControlLoopState marks the given state active and all others inactive.
func (m *AgentMetrics) SetControlLoopState(active string, allStates []string) {
	for _, s := range allStates {
		if s == active {
			m.ControlLoopState.WithLabelValues(s).Set(1)
		} else {
			m.ControlLoopState.WithLabelValues(s).Set(0)
		}
	}
}

// SetCPUUsage sets the current CPU usage percentage.
func (m *AgentMetrics) SetCPUUsage(percent float64) {
	m.CPUUsage.Set(percent)
}

// SetMemoryUsage sets the current memory usage percentage.
func (m *AgentMetrics) SetMemoryUsage(percent float64) {
	m.MemoryUsage.Set(percent)
}
