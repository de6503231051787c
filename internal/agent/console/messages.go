package console

import (
	"time"

	"github.com/loadforge/agent/internal/agent/properties"
)

// Flags is a bit set of message classes a ConsoleListener can be
// waiting on or has buffered. It matches the handful of inbound
// message kinds the control loop cares about.
type Flags uint8

const (
	FlagStart Flags = 1 << iota
	FlagStop
	FlagShutdown
	FlagReset

	FlagNone Flags = 0
	FlagAny  Flags = FlagStart | FlagStop | FlagShutdown | FlagReset
)

// String renders the set bits for log messages.
func (f Flags) String() string {
	if f == FlagNone {
		return "NONE"
	}
	var names []string
	if f&FlagStart != 0 {
		names = append(names, "START")
	}
	if f&FlagStop != 0 {
		names = append(names, "STOP")
	}
	if f&FlagShutdown != 0 {
		names = append(names, "SHUTDOWN")
	}
	if f&FlagReset != 0 {
		names = append(names, "RESET")
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "|" + n
	}
	return out
}

// Has reports whether f has every bit of mask set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Intersects reports whether f and mask share any bit.
func (f Flags) Intersects(mask Flags) bool {
	return f&mask != 0
}

// Message is implemented by every inbound console message.
type Message interface {
	flag() Flags
}

// StartGrinder carries the properties and agent number for a new run.
// The agent number is -1 when the console has not assigned one.
type StartGrinder struct {
	Properties  *properties.Properties
	AgentNumber int
}

func (StartGrinder) flag() Flags { return FlagStart }

// Stop asks the agent to end the current run without tearing down the session.
type Stop struct{}

func (Stop) flag() Flags { return FlagStop }

// Shutdown asks the agent to end the current run and the session.
type Shutdown struct{}

func (Shutdown) flag() Flags { return FlagShutdown }

// Reset asks the agent to forget any pending start/script state and
// return to AWAITING_START.
type Reset struct{}

func (Reset) flag() Flags { return FlagReset }

// FileDistribution carries one file of a distribution batch. It has no
// flag of its own: FileStore consumes it before it ever reaches the
// listener.
type FileDistribution struct {
	RelativePath string
	Content      []byte
	Watermark    int64
}

func (FileDistribution) flag() Flags { return FlagNone }

// ReportState is the lifecycle state carried in an AgentProcessReport.
type ReportState string

const (
	ReportStarted  ReportState = "STARTED"
	ReportRunning  ReportState = "RUNNING"
	ReportFinished ReportState = "FINISHED"
)

// AgentProcessReport is sent agent -> console on session open, every
// heartbeat, and session close.
type AgentProcessReport struct {
	State              ReportState
	CacheHighWaterMark int64
	SentAt             time.Time
}

// classify maps a decoded wire message to its Flags, for handlers that
// only need to know what kind of thing arrived.
func classify(m Message) Flags {
	return m.flag()
}
