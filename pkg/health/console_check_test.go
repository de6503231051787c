package health

import (
	"context"
	"testing"
)

// mockConsoleConnection implements ConsoleConnection for testing.
type mockConsoleConnection struct {
	connected bool
	workers   int
	missed    int
}

func (m *mockConsoleConnection) IsConnected() bool     { return m.connected }
func (m *mockConsoleConnection) ActiveWorkers() int    { return m.workers }
func (m *mockConsoleConnection) MissedHeartbeats() int { return m.missed }

func TestConsoleCheck_Name(t *testing.T) {
	conn := &mockConsoleConnection{connected: true}
	check := NewConsoleCheck(conn)

	if check.Name() != "console" {
		t.Errorf("expected name 'console', got '%s'", check.Name())
	}
}

func TestConsoleCheck_Healthy(t *testing.T) {
	conn := &mockConsoleConnection{connected: true, workers: 5, missed: 0}
	check := NewConsoleCheck(conn)

	if err := check.Check(context.Background()); err != nil {
		t.Errorf("expected healthy, got error: %v", err)
	}

	result := check.CheckDetailed(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", result.Status)
	}
	if result.Details["active_workers"] != "5" {
		t.Errorf("expected 5 active workers, got %s", result.Details["active_workers"])
	}
}

func TestConsoleCheck_Disconnected(t *testing.T) {
	conn := &mockConsoleConnection{connected: false}
	check := NewConsoleCheck(conn)

	if err := check.Check(context.Background()); err == nil {
		t.Error("expected error when disconnected")
	}

	result := check.CheckDetailed(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", result.Status)
	}
}

func TestConsoleCheck_Degraded(t *testing.T) {
	conn := &mockConsoleConnection{connected: true, workers: 2, missed: 5}
	check := NewConsoleCheck(conn, WithMaxMissedHeartbeats(3))

	result := check.CheckDetailed(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("expected status degraded, got %s", result.Status)
	}
}
