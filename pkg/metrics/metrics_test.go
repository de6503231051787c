package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAgentMetrics(t *testing.T) {
	m := NewAgentMetrics()

	if m == nil {
		t.Fatal("NewAgentMetrics() returned nil")
	}

	if m.Agent == nil {
		t.Error("Agent metrics should not be nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewAgentMetrics()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	if !strings.Contains(body, "go_") {
		t.Error("expected Go runtime metrics in response")
	}

	if !strings.Contains(body, "process_") {
		t.Error("expected process metrics in response")
	}
}

func TestAgentMetricsRecording(t *testing.T) {
	m := NewAgentMetrics()

	m.Agent.RecordWorkerStarted("process")
	m.Agent.RecordWorkerDestroyed("drain")
	m.Agent.SetActiveWorkers(3)
	m.Agent.RecordRampUp(12.5)

	m.Agent.RecordReportSent("STARTED")
	m.Agent.RecordReportSent("RUNNING")
	m.Agent.RecordReportFailure()

	m.Agent.SetConnected()
	m.Agent.SetDisconnected()
	m.Agent.RecordReconnect()

	m.Agent.RecordHeartbeat(0.05)
	m.Agent.RecordHeartbeat(0.1)
	m.Agent.RecordHeartbeatFailure()

	m.Agent.RecordFileStoreSync()
	m.Agent.SetFileStoreWatermark(42)

	m.Agent.SetControlLoopState("RUNNING", []string{"DISCONNECTED", "CONNECTING", "RUNNING", "DRAINING"})

	m.Agent.SetCPUUsage(50.5)
	m.Agent.SetMemoryUsage(60.2)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body := w.Body.String()

	expectedMetrics := []string{
		"loadforge_agent_workers_started_total",
		"loadforge_agent_workers_active",
		"loadforge_agent_process_reports_total",
		"loadforge_agent_connection_state",
		"loadforge_agent_heartbeats_total",
		"loadforge_agent_file_store_syncs_total",
		"loadforge_agent_control_loop_state",
		"loadforge_agent_cpu_usage_percent",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %s in response", metric)
		}
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := NewAgentMetrics()

	registry := m.Registry()
	if registry == nil {
		t.Error("Registry() should not return nil")
	}

	families, err := registry.Gather()
	if err != nil {
		t.Errorf("failed to gather metrics: %v", err)
	}

	if len(families) == 0 {
		t.Error("expected at least some metric families")
	}
}
