// Package health provides health check implementations for the agent process.
package health

import (
	"context"
	"fmt"
)

// Check represents a health check.
type Check interface {
	// Name returns the name of the health check.
	Name() string
	// Check performs the health check and returns an error if unhealthy.
	Check(ctx context.Context) error
}

// Status represents the status of a health check.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is working but degraded.
	StatusDegraded Status = "degraded"
)

// Result represents the result of a health check.
type Result struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ConsoleConnection is the subset of ConsoleCommunication's state needed
// to judge whether the agent's console session is healthy.
type ConsoleConnection interface {
	// IsConnected returns true while a session to the console is open.
	IsConnected() bool
	// ActiveWorkers returns the number of workers currently running.
	ActiveWorkers() int
	// MissedHeartbeats returns the number of consecutive failed state reports.
	MissedHeartbeats() int
}

// ConsoleCheck checks the health of the agent's console session.
type ConsoleCheck struct {
	conn                  ConsoleConnection
	maxMissedHeartbeats   int
}

// ConsoleCheckOption configures a ConsoleCheck.
type ConsoleCheckOption func(*ConsoleCheck)

// WithMaxMissedHeartbeats sets the threshold above which the check reports degraded status.
func WithMaxMissedHeartbeats(threshold int) ConsoleCheckOption {
	return func(c *ConsoleCheck) {
		c.maxMissedHeartbeats = threshold
	}
}

// NewConsoleCheck creates a new console session health check.
func NewConsoleCheck(conn ConsoleConnection, opts ...ConsoleCheckOption) *ConsoleCheck {
	c := &ConsoleCheck{
		conn:                conn,
		maxMissedHeartbeats: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of the health check.
func (c *ConsoleCheck) Name() string {
	return "console"
}

// Check performs the console session health check.
func (c *ConsoleCheck) Check(ctx context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("not connected to console")
	}
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *ConsoleCheck) CheckDetailed(ctx context.Context) Result {
	if !c.conn.IsConnected() {
		return Result{
			Name:    c.Name(),
			Status:  StatusUnhealthy,
			Message: "not connected to console",
		}
	}

	workers := c.conn.ActiveWorkers()
	missed := c.conn.MissedHeartbeats()

	details := map[string]string{
		"active_workers":     fmt.Sprintf("%d", workers),
		"missed_heartbeats": fmt.Sprintf("%d", missed),
	}

	if c.maxMissedHeartbeats > 0 && missed > c.maxMissedHeartbeats {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: fmt.Sprintf("missed %d consecutive heartbeats", missed),
			Details: details,
		}
	}

	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Message: "connected to console",
		Details: details,
	}
}
