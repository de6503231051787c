package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loadforge/agent/pkg/metrics"
)

// Default heartbeat cadence; overridable through Config for tests.
const (
	DefaultHeartbeatDelay    = 1 * time.Second
	DefaultHeartbeatInterval = 6 * time.Second
)

// FileStoreSink is the subset of FileStore that ConsoleCommunication
// needs: enough to wire it as the first stage of the inbound dispatch
// pipeline and to read back the watermark for process reports. Defined
// here rather than depending on the filestore package directly, since
// filestore itself depends on console's Dispatcher/Handler types.
type FileStoreSink interface {
	RegisterMessageHandlers(d *Dispatcher, fallback Handler)
	GetCacheHighWaterMark() int64
}

// Config configures one ConsoleCommunication session.
type Config struct {
	Connector         Connector
	UserName          string
	Identity          AgentAddress
	HeartbeatDelay    time.Duration
	HeartbeatInterval time.Duration
	TLSEnabled        bool
	InsecureTLS       bool
	Metrics           *metrics.AgentMetrics
}

// Communication owns one connected session to the console: the
// transport, the inbound dispatch pipeline, the listener the control
// loop polls, and the heartbeat that reports RUNNING between STARTED
// and FINISHED.
type Communication struct {
	cfg    Config
	log    zerolog.Logger
	client *Client
	stream *Stream

	listener   *Listener
	dispatcher *Dispatcher
	fileStore  FileStoreSink

	sessionID string

	mu               sync.Mutex
	shutdownAt       bool
	pumpCancel       context.CancelFunc
	pumpDone         chan struct{}
	heartbeatCancel  context.CancelFunc
	missedHeartbeats int
	fanOut           FanOutSender
	metrics          *metrics.AgentMetrics
}

// SessionID returns the unique identifier generated for this session,
// used to correlate log lines across a single connected lifetime.
func (c *Communication) SessionID() string {
	return c.sessionID
}

// New opens a duplex session against cfg.Connector, wires the inbound
// dispatch pipeline (file store -> tee(listener, fan-out)), and sends
// the initial STARTED report. fanOut is the initial live-worker target
// of the fan-out arm and may be nil if no workers are live yet; it is
// read fresh on every dispatched message (see fanOutHandler), so
// SetFanOut can swap it in and out across the session's lifetime
// without rebuilding the dispatcher pipeline.
func New(ctx context.Context, cfg Config, log zerolog.Logger, fileStore FileStoreSink, fanOut FanOutSender) (*Communication, error) {
	if cfg.HeartbeatDelay == 0 {
		cfg.HeartbeatDelay = DefaultHeartbeatDelay
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	client := NewClient(ClientConfig{
		Connector:   cfg.Connector,
		TLSEnabled:  cfg.TLSEnabled,
		InsecureTLS: cfg.InsecureTLS,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	stream, err := client.Session(ctx, cfg.Identity)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	listener := NewListener()
	dispatcher := NewDispatcher()

	sessionID := uuid.NewString()
	comm := &Communication{
		cfg:        cfg,
		log:        log.With().Str("component", "console_communication").Str("session_id", sessionID).Logger(),
		client:     client,
		stream:     stream,
		listener:   listener,
		dispatcher: dispatcher,
		fileStore:  fileStore,
		sessionID:  sessionID,
		fanOut:     fanOut,
		metrics:    cfg.Metrics,
	}

	fallback := Tee(listener.Handler(), IgnoreShutdown(comm.fanOutHandler()))
	fileStore.RegisterMessageHandlers(dispatcher, fallback)

	if err := comm.send(&AgentProcessReport{
		State:              ReportStarted,
		CacheHighWaterMark: fileStore.GetCacheHighWaterMark(),
		SentAt:             time.Now(),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("console: send STARTED report: %w", err)
	}

	return comm, nil
}

// Listener returns the listener the control loop polls for buffered
// console messages.
func (c *Communication) Listener() *Listener {
	return c.listener
}

// Connector returns the endpoint this session was built against.
func (c *Communication) Connector() Connector {
	return c.cfg.Connector
}

// Start launches the inbound message pump and schedules the RUNNING
// heartbeat. It returns immediately; both run in background goroutines
// until Shutdown.
func (c *Communication) Start(ctx context.Context) {
	pumpCtx, pumpCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.pumpCancel = pumpCancel
	c.pumpDone = make(chan struct{})
	c.mu.Unlock()

	go c.pump(pumpCtx)

	hbCtx, hbCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.heartbeatCancel = hbCancel
	c.mu.Unlock()

	go c.heartbeatLoop(hbCtx)
}

// pump reads the inbound stream in a loop and hands every decoded
// message to the dispatcher. It is the sole reader of the stream
// (single-reader dispatcher policy).
func (c *Communication) pump(ctx context.Context) {
	defer close(c.pumpDone)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := c.stream.Receive()
		if err != nil {
			c.log.Warn().Err(err).Msg("console: inbound stream read failed")
			return
		}
		m, ok := msg.(Message)
		if !ok {
			continue
		}
		c.dispatcher.Dispatch(m)
	}
}

// heartbeatLoop sends STATE_RUNNING reports on the configured cadence
// after the initial delay. A send failure cancels only the heartbeat;
// the session stays up.
func (c *Communication) heartbeatLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.HeartbeatDelay):
	}

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			err := c.send(&AgentProcessReport{
				State:              ReportRunning,
				CacheHighWaterMark: c.fileStore.GetCacheHighWaterMark(),
				SentAt:             start,
			})
			if c.metrics != nil {
				if err != nil {
					c.metrics.RecordHeartbeatFailure()
				} else {
					c.metrics.RecordHeartbeat(time.Since(start).Seconds())
				}
			}
			c.mu.Lock()
			if err != nil {
				c.missedHeartbeats++
			} else {
				c.missedHeartbeats = 0
			}
			c.mu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("console: heartbeat failed, cancelling heartbeat task")
				return
			}
		}
	}
}

// IsConnected reports whether this session is still open.
func (c *Communication) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.shutdownAt
}

// MissedHeartbeats returns the number of consecutive RUNNING reports
// that failed to send.
func (c *Communication) MissedHeartbeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missedHeartbeats
}

// SetFanOut installs (or, with nil, clears) the live worker pool that
// the dispatcher fallback's fan-out arm forwards unmatched messages to.
// A session often spans multiple runs when the connector doesn't
// change, so this is called every time a run creates or tears down its
// WorkerLauncher; the fallback closure built in New reads the current
// value on every dispatch rather than capturing one at construction.
func (c *Communication) SetFanOut(fanOut FanOutSender) {
	c.mu.Lock()
	c.fanOut = fanOut
	c.mu.Unlock()
}

// fanOutHandler returns a Handler that forwards to whatever FanOutSender
// SetFanOut last installed, read fresh on every call.
func (c *Communication) fanOutHandler() Handler {
	return func(m Message) bool {
		c.mu.Lock()
		fanOut := c.fanOut
		c.mu.Unlock()
		if fanOut == nil {
			return false
		}
		_ = fanOut.Send(m)
		return true
	}
}

// send marshals and writes m to the stream, recording per-state report
// metrics when m is an AgentProcessReport.
func (c *Communication) send(m interface{}) error {
	err := c.stream.Send(m)
	if c.metrics == nil {
		return err
	}
	if report, ok := m.(*AgentProcessReport); ok {
		if err != nil {
			c.metrics.RecordReportFailure()
		} else {
			c.metrics.RecordReportSent(string(report.State))
		}
	}
	return err
}

// Shutdown cancels the heartbeat, best-effort sends a FINISHED report,
// and stops the pump. Safe to call more than once.
func (c *Communication) Shutdown() {
	c.mu.Lock()
	if c.shutdownAt {
		c.mu.Unlock()
		return
	}
	c.shutdownAt = true
	heartbeatCancel := c.heartbeatCancel
	pumpCancel := c.pumpCancel
	pumpDone := c.pumpDone
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetDisconnected()
	}

	if heartbeatCancel != nil {
		heartbeatCancel()
	}

	_ = c.send(&AgentProcessReport{
		State:              ReportFinished,
		CacheHighWaterMark: c.fileStore.GetCacheHighWaterMark(),
		SentAt:             time.Now(),
	})

	if pumpCancel != nil {
		pumpCancel()
	}
	_ = c.stream.CloseSend()
	_ = c.client.Close()
	if pumpDone != nil {
		<-pumpDone
	}
}
