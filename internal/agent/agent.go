package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadforge/agent/internal/agent/console"
	"github.com/loadforge/agent/internal/agent/filestore"
	"github.com/loadforge/agent/internal/agent/properties"
	"github.com/loadforge/agent/internal/agent/worker"
	"github.com/loadforge/agent/pkg/metrics"
	"github.com/loadforge/agent/pkg/tracing"
	"github.com/rs/zerolog"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Version is the agent software version.
const Version = "0.1.0"

// MaxShutdownMillis is the grace period granted to live workers after
// the first non-START console message arrives while RUNNING, before
// they are forcibly destroyed.
const MaxShutdownMillis = 5000

// runState names the outer loop's current phase. It is never persisted
// or exposed over the wire; it only drives Run's internal switch and
// the control_loop_state gauge.
type runState int

const (
	stateDisconnected runState = iota
	stateConnecting
	stateAwaitingStart
	statePreparingRun
	stateRunning
	stateDraining
	stateTerminated
)

func (s runState) String() string {
	switch s {
	case stateDisconnected:
		return "DISCONNECTED"
	case stateConnecting:
		return "CONNECTING"
	case stateAwaitingStart:
		return "AWAITING_START"
	case statePreparingRun:
		return "PREPARING_RUN"
	case stateRunning:
		return "RUNNING"
	case stateDraining:
		return "DRAINING"
	case stateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

var allStateNames = []string{
	stateDisconnected.String(), stateConnecting.String(), stateAwaitingStart.String(),
	statePreparingRun.String(), stateRunning.String(), stateDraining.String(), stateTerminated.String(),
}

// Agent owns the full control loop described by the component design:
// it builds and tears down ConsoleCommunication sessions, resolves each
// run's script and properties, drives a WorkerLauncher through ramp-up,
// and reports health back to the console until told to stop.
type Agent struct {
	config   *Config
	log      zerolog.Logger
	metrics  *metrics.AgentMetrics
	tracer   *tracing.Tracer
	identity Identity

	baseProperties *properties.Properties

	fileStoreOnce sync.Once
	fileStore     *filestore.FileStore

	// stateMu guards comm/launcher against the healthz handler, which
	// reads them from a goroutine that isn't the control loop.
	stateMu       sync.RWMutex
	comm          *console.Communication
	commConnector console.Connector
	launcher      *worker.Launcher

	rampUpStop func()

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

func (a *Agent) setComm(c *console.Communication) {
	a.stateMu.Lock()
	a.comm = c
	a.stateMu.Unlock()
}

func (a *Agent) getComm() *console.Communication {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.comm
}

func (a *Agent) setLauncher(l *worker.Launcher) {
	a.stateMu.Lock()
	a.launcher = l
	a.stateMu.Unlock()
}

func (a *Agent) getLauncher() *worker.Launcher {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.launcher
}

// New creates an Agent from cfg and baseProps (already loaded from
// cfg.PropertyFile, or empty if none was configured).
func New(cfg *Config, baseProps *properties.Properties, log zerolog.Logger, m *metrics.AgentMetrics, t *tracing.Tracer) *Agent {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return &Agent{
		config:         cfg,
		log:            log.With().Str("component", "agent_control_loop").Logger(),
		metrics:        m,
		tracer:         t,
		identity:       Identity{HostName: hostname, Name: hostname, Number: -1},
		baseProperties: baseProps,
	}
}

// Run drives the control loop until it reaches TERMINATED, which
// happens when Shutdown was called, when the console sends STOP or
// SHUTDOWN while no run is in progress, when a console connection
// attempt failed with no ProceedWithoutConsole fallback, or when a run
// finishes with no live console session left.
func (a *Agent) Run(ctx context.Context) error {
	defer a.cleanup()

	state := stateDisconnected
	var startMsg *console.StartGrinder
	var runProps *properties.Properties
	var runScript properties.ScriptLocation
	var span oteltrace.Span

	for {
		a.reportState(state)

		if span != nil {
			span.End()
		}
		if a.tracer != nil {
			ctx, span = a.tracer.StartSpan(ctx, "agent.state."+state.String())
		}

		if a.shuttingDown.Load() {
			state = stateTerminated
		}

		switch state {
		case stateDisconnected:
			if !a.baseProperties.GetBoolean("grinder.useConsole", true) {
				runProps = a.baseProperties.Clone()
				state = statePreparingRun
				continue
			}
			state = stateConnecting

		case stateConnecting:
			connector := a.buildConnector(a.baseProperties)
			if err := a.connectWithBackoff(ctx, connector); err != nil {
				a.log.Warn().Err(err).Msg("console connection failed")
				if a.config.ProceedWithoutConsole {
					runProps = a.baseProperties.Clone()
					state = statePreparingRun
					continue
				}
				state = stateTerminated
				continue
			}
			state = stateAwaitingStart

		case stateAwaitingStart:
			listener := a.getComm().Listener()
			listener.WaitForMessage()
			if listener.CheckForMessage(console.FlagStart) {
				startMsg = listener.GetLastStartGrinderMessage()
				state = statePreparingRun
				continue
			}
			if listener.CheckForMessage(console.FlagStop | console.FlagShutdown) {
				state = stateTerminated
				continue
			}
			// Any other message (RESET, or a spurious wake): loop back
			// and wait again.
			listener.DiscardMessages(console.FlagReset)

		case statePreparingRun:
			var ok bool
			runProps, runScript, ok = a.prepareRun(ctx, startMsg)
			if !ok {
				startMsg = nil
				state = stateAwaitingStart
				continue
			}
			state = stateRunning

		case stateRunning:
			a.runWorkers(runProps, runScript)
			state = stateDraining

		case stateDraining:
			a.getLauncher().Shutdown()
			a.setLauncher(nil)
			if comm := a.getComm(); comm != nil {
				comm.SetFanOut(nil)
			}

			if !a.sessionAlive() {
				state = stateTerminated
				continue
			}

			listener := a.getComm().Listener()
			listener.DiscardMessages(console.FlagStart)
			if !listener.Received(console.FlagAny) {
				listener.WaitForMessage()
			}

			switch {
			case listener.CheckForMessage(console.FlagStart):
				startMsg = listener.GetLastStartGrinderMessage()
				state = statePreparingRun
			case listener.CheckForMessage(console.FlagStop | console.FlagShutdown):
				state = stateTerminated
			default:
				listener.DiscardMessages(console.FlagReset)
				startMsg = nil
				state = stateAwaitingStart
			}

		case stateTerminated:
			if span != nil {
				span.End()
			}
			return nil
		}
	}
}

// reportState pushes the current phase into the control-loop gauge.
func (a *Agent) reportState(s runState) {
	if a.metrics != nil {
		a.metrics.SetControlLoopState(s.String(), allStateNames)
	}
}

// buildConnector resolves the desired console endpoint from props.
func (a *Agent) buildConnector(props *properties.Properties) console.Connector {
	host := props.GetString("grinder.consoleHost", "localhost")
	if props.GetBoolean("agent.useSameConsole", true) {
		if override := props.GetString("agent.controllerServerHost", ""); override != "" {
			host = override
		}
	}
	port := props.GetInt("grinder.consolePort", 6091)
	return console.Connector{Host: host, Port: port, ConnectionType: "grpc"}
}

// maxConnectAttempts bounds how many times connectWithBackoff retries a
// single CONNECTING episode before giving the proceedWithoutConsole /
// TERMINATED branching a chance to run.
const maxConnectAttempts = 5

// connectWithBackoff retries connect with the exponential-with-jitter
// delay console.Backoff computes, giving up after maxConnectAttempts.
// This only governs how many attempts CONNECTING takes before choosing
// one of its two outgoing edges; it does not add a third edge.
func (a *Agent) connectWithBackoff(ctx context.Context, connector console.Connector) error {
	var err error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		if a.shuttingDown.Load() || ctx.Err() != nil {
			return ctx.Err()
		}
		if err = a.connect(ctx, connector); err == nil {
			return nil
		}
		if attempt == maxConnectAttempts {
			break
		}
		delay := console.Backoff(attempt, a.config.ReconnectMinInterval, a.config.ReconnectMaxInterval)
		a.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("console connect attempt failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// connect tears down any existing session whose connector differs from
// connector, then opens (or reuses) a Communication against it.
func (a *Agent) connect(ctx context.Context, connector console.Connector) error {
	existing := a.getComm()
	if existing != nil && a.commConnector.Equals(connector) {
		return nil
	}
	reconnecting := existing != nil
	if existing != nil {
		existing.Shutdown()
		a.setComm(nil)
	}

	fs, err := a.getOrCreateFileStore(a.baseProperties.GetString("grinder.userName", "default"))
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	if reconnecting && a.metrics != nil {
		a.metrics.RecordReconnect()
	}

	comm, err := console.New(ctx, console.Config{
		Connector:         connector,
		Identity:          console.AgentAddress{HostName: a.identity.HostName, Name: a.identity.Name, Number: a.identity.Number},
		TLSEnabled:        a.config.ConsoleTLSEnabled,
		InsecureTLS:       a.config.ConsoleTLSInsecureSkipVerify,
		HeartbeatDelay:    console.DefaultHeartbeatDelay,
		HeartbeatInterval: console.DefaultHeartbeatInterval,
		Metrics:           a.metrics,
	}, a.log, fs, a.getLauncher())
	if err != nil {
		return err
	}
	comm.Start(ctx)

	a.setComm(comm)
	a.commConnector = connector
	if a.metrics != nil {
		a.metrics.SetConnected()
	}
	return nil
}

// getOrCreateFileStore lazily creates the one FileStore this process
// will ever have: it lives from first connect to process termination,
// independent of how many console sessions come and go.
func (a *Agent) getOrCreateFileStore(user string) (*filestore.FileStore, error) {
	var err error
	a.fileStoreOnce.Do(func() {
		a.fileStore, err = filestore.New(a.config.Home, user, func(storeErr error) {
			a.log.Error().Err(storeErr).Msg("file-store write failed, tearing down console session")
			if comm := a.getComm(); comm != nil {
				comm.Shutdown()
				a.setComm(nil)
			}
		}, a.metrics)
	})
	if err != nil {
		return nil, err
	}
	return a.fileStore, nil
}

// sessionAlive reports whether the current Communication is still
// usable. A nil comm is never alive.
func (a *Agent) sessionAlive() bool {
	return a.getComm() != nil
}

// prepareRun resolves the script and merges properties for one run. ok
// is false when the script could not be resolved and the loop should
// fall back to AWAITING_START.
func (a *Agent) prepareRun(ctx context.Context, startMsg *console.StartGrinder) (*properties.Properties, properties.ScriptLocation, bool) {
	var startProps *properties.Properties
	if startMsg != nil {
		startProps = startMsg.Properties
	}
	script := a.resolveScript(startProps)

	props := a.baseProperties.Clone()
	if startProps != nil {
		props.PutAll(startProps)
	}

	if props.GetBoolean("agent.useSameConsole", true) {
		if override := props.GetString("agent.controllerServerHost", ""); override != "" {
			props.Set("grinder.consoleHost", override)
		}
	}

	a.identity.Name = props.GetString("grinder.hostID", a.identity.HostName)
	if startMsg != nil {
		a.identity.Number = startMsg.AgentNumber
	} else {
		a.identity.Number = -1
	}

	desired := a.buildConnector(props)
	if a.getComm() != nil && !a.commConnector.Equals(desired) {
		a.log.Info().Str("old", a.commConnector.String()).Str("new", desired.String()).
			Msg("console address changed, rebuilding session")
		if err := a.connect(ctx, desired); err != nil {
			a.log.Error().Err(err).Msg("failed to rebuild session against new connector")
			return nil, properties.ScriptLocation{}, false
		}
	}

	if !script.IsReadable() {
		a.log.Warn().Str("script", script.Path()).Msg("script unreadable, discarding start message")
		return nil, properties.ScriptLocation{}, false
	}

	return props, script, true
}

// resolveScript picks the script location for one run. It prefers
// startProps' own grinder.script, resolved relative to the file-store
// directory (the console delivers scripts there); only when startProps
// specifies none does it fall back to the agent's own base properties'
// grinder.script, resolved relative to the agent's own base directory.
// Merging startProps over the base properties before this runs would
// destroy the distinction: a purely-local script must never be resolved
// against the file-store directory.
func (a *Agent) resolveScript(startProps *properties.Properties) properties.ScriptLocation {
	if startProps != nil {
		if scriptProp := startProps.GetString("grinder.script", ""); scriptProp != "" {
			dir := a.baseProperties.BaseDirectory()
			if a.fileStore != nil {
				dir = a.fileStore.GetDirectory()
			}
			return properties.New(dir).ResolveRelativeFile(scriptProp)
		}
	}
	scriptProp := a.baseProperties.GetString("grinder.script", "grinder.py")
	return a.baseProperties.ResolveRelativeFile(scriptProp)
}

// runWorkers builds the factory and launcher for one run, applies the
// ramp-up policy, then blocks until every worker finishes, polling the
// listener for a non-START signal the way RUNNING is specified to.
func (a *Agent) runWorkers(props *properties.Properties, script properties.ScriptLocation) {
	build := properties.Build(props, script.Directory, a.config.Home,
		props.GetBoolean("grinder.security", false),
		splitHosts(props.GetString("ngrinder.etc.hosts", "")),
		a.identity.HostName,
		props.GetBoolean("agent.servermode", false),
		props.GetBoolean("agent.useXmxLimit", true),
	)
	build.ClassPath = worker.JoinClassPath(worker.FilterClassPath(
		worker.SplitClassPath(build.ClassPath),
		props.GetString("grinder.jvm.classpath.foremost", ""),
		props.GetString("grinder.jvm.classpath.patch", ""),
	))

	n := props.GetInt("grinder.processes", 1)
	factory, kind := a.buildFactory(props, build, script)
	launcher := worker.New(factory, n, a.log, a.metrics, kind)
	a.setLauncher(launcher)
	if comm := a.getComm(); comm != nil {
		comm.SetFanOut(launcher)
	}

	increment := props.GetInt("grinder.processIncrement", 0)
	initial := props.GetInt("grinder.initialProcesses", increment)
	interval := time.Duration(props.GetInt("grinder.processIncrementInterval", 60000)) * time.Millisecond
	a.rampUpStop = worker.StartRampUp(launcher, n, increment, initial, interval)
	defer func() {
		if a.rampUpStop != nil {
			a.rampUpStop()
			a.rampUpStop = nil
		}
	}()

	comm := a.getComm()
	if comm == nil {
		launcher.Wait()
		return
	}

	var consoleSignalTime time.Time
	for !launcher.AllFinished() {
		if comm.Listener().CheckForMessage(console.FlagAny &^ console.FlagStart) {
			if consoleSignalTime.IsZero() {
				consoleSignalTime = time.Now()
				launcher.DontStartAnyMore()
			}
		}
		if !consoleSignalTime.IsZero() && time.Since(consoleSignalTime) > MaxShutdownMillis*time.Millisecond {
			launcher.DestroyAllWorkers("drain_timeout")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (a *Agent) buildFactory(props *properties.Properties, build properties.BuildResult, script properties.ScriptLocation) (worker.Factory, string) {
	if props.GetBoolean("grinder.debug.singleprocess", false) {
		return worker.NewInProcessFactory(inProcessNoopTask, build.JVMArguments, build.ClassPath, a.log), "in-process"
	}
	logDir := props.GetString("grinder.logDirectory", "")
	invocation := worker.Invocation{
		Script:       script,
		JVMArguments: build.JVMArguments,
		ClassPath:    build.ClassPath,
		Env:          nil,
	}
	return worker.NewProcessFactory("java", "net.grinder.Grinder", invocation, logDir, a.log), "process"
}

// inProcessNoopTask is the Task used for debug.singleprocess workers:
// the script interpreter itself is out of scope, so a single-process
// worker just waits to be told to stop.
func inProcessNoopTask(_ int, stop <-chan struct{}) error {
	<-stop
	return nil
}

func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	var hosts []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				hosts = append(hosts, s[start:i])
			}
			start = i + 1
		}
	}
	return hosts
}

// HealthConnection returns the agent's current console connection
// state, satisfying pkg/health's ConsoleConnection interface. Safe to
// call from a concurrently running /healthz handler; it never blocks
// on the control loop.
func (a *Agent) HealthConnection() healthConnection {
	return healthConnection{agent: a}
}

type healthConnection struct {
	agent *Agent
}

func (h healthConnection) IsConnected() bool {
	comm := h.agent.getComm()
	return comm != nil && comm.IsConnected()
}

func (h healthConnection) ActiveWorkers() int {
	launcher := h.agent.getLauncher()
	if launcher == nil {
		return 0
	}
	return launcher.ActiveWorkers()
}

func (h healthConnection) MissedHeartbeats() int {
	comm := h.agent.getComm()
	if comm == nil {
		return 0
	}
	return comm.MissedHeartbeats()
}

// Shutdown is the process's top-level forced-termination entry point,
// invoked by external supervision (main.go's SIGINT/SIGTERM handler).
// Unlike an ordinary console STOP/SHUTDOWN message, which grants live
// workers MaxShutdownMillis to drain, Shutdown acts immediately: it
// forcibly cancels the heartbeat and fan-out sender, destroys any live
// workers, and shuts down the console listener, all synchronously
// rather than waiting for runWorkers' poll to notice a flag. It is
// idempotent and safe to call concurrently with Run's own progress
// toward TERMINATED.
func (a *Agent) Shutdown() {
	a.shuttingDown.Store(true)
	if comm := a.getComm(); comm != nil {
		comm.SetFanOut(nil)
		comm.Shutdown()
	}
	if launcher := a.getLauncher(); launcher != nil {
		launcher.DestroyAllWorkers("agent_shutdown")
	}
	if comm := a.getComm(); comm != nil {
		comm.Listener().Shutdown()
	}
}

// cleanup performs the unconditional TERMINATED-state teardown: cancel
// the ramp-up ticker, shut down the console communication, destroy any
// live workers, and shut down the console listener.
func (a *Agent) cleanup() {
	a.shutdownOnce.Do(func() {
		if a.rampUpStop != nil {
			a.rampUpStop()
		}
		if launcher := a.getLauncher(); launcher != nil {
			launcher.DestroyAllWorkers("process_cleanup")
		}
		if comm := a.getComm(); comm != nil {
			comm.Shutdown()
			comm.Listener().Shutdown()
		}
		a.reportState(stateTerminated)
	})
}
