package worker

import (
	"sync"
	"time"

	"github.com/loadforge/agent/internal/agent/console"
	"github.com/loadforge/agent/pkg/metrics"
	"github.com/rs/zerolog"
)

// State is the lifecycle of one worker slot.
type State int

const (
	Pending State = iota
	Starting
	Running
	Finished
	Destroyed
)

func (s State) terminal() bool {
	return s == Finished || s == Destroyed
}

type slot struct {
	state  State
	worker Worker
}

// Launcher is a bounded pool of size N = grinder.processes. It starts
// workers in increments, tracks completion on the shared condition, and
// supports both graceful (dontStartAnyMore) and forced
// (destroyAllWorkers) shutdown.
//
// Launcher also implements console.FanOutSender: it is the live arm of
// the tee every unmatched console message falls through to while a run
// is in progress. The worker process-control stream Start/Stop/Reset
// would ride on is out of scope here, and a console Shutdown never
// reaches Send in the wired pipeline (communication.go wraps this arm
// in IgnoreShutdown, since workers should only be torn down through the
// control loop's own destroyAllWorkers per §4.6), so Send has nothing
// worker-visible left to do.
type Launcher struct {
	factory Factory

	mu    sync.Mutex
	cond  *sync.Cond
	slots []*slot
	capAt int // dontStartAnyMore caps future starts at this count; -1 = uncapped
	log   zerolog.Logger

	kind    string
	metrics *metrics.AgentMetrics
}

// New creates a Launcher for a pool of size n. kind labels the
// WorkersStarted/WorkersDestroyed metrics ("process" or "in-process");
// m may be nil, in which case worker metrics are simply not recorded.
func New(factory Factory, n int, log zerolog.Logger, m *metrics.AgentMetrics, kind string) *Launcher {
	l := &Launcher{
		factory: factory,
		slots:   make([]*slot, n),
		capAt:   -1,
		log:     log.With().Str("component", "worker_launcher").Logger(),
		kind:    kind,
		metrics: m,
	}
	for i := range l.slots {
		l.slots[i] = &slot{state: Pending}
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// startedCount returns how many slots are no longer Pending. Caller
// must hold l.mu.
func (l *Launcher) startedCount() int {
	n := 0
	for _, s := range l.slots {
		if s.state != Pending {
			n++
		}
	}
	return n
}

// StartSomeWorkers starts up to k additional workers from the pending
// pool, respecting any cap set by dontStartAnyMore. It reports whether
// further starts remain possible (there is pending capacity left, and
// no cap has been reached).
func (l *Launcher) StartSomeWorkers(k int) bool {
	l.mu.Lock()
	started := 0
	for i := range l.slots {
		if started >= k {
			break
		}
		if l.capAt >= 0 && l.startedCount() >= l.capAt {
			break
		}
		s := l.slots[i]
		if s.state != Pending {
			continue
		}
		s.state = Starting
		l.mu.Unlock()

		worker, err := l.factory.Create(i)

		l.mu.Lock()
		if err != nil {
			l.log.Warn().Err(err).Int("worker", i).Msg("worker start failed")
			s.state = Finished
			l.cond.Broadcast()
			continue
		}
		s.worker = worker
		s.state = Running
		started++
		if l.metrics != nil {
			l.metrics.RecordWorkerStarted(l.kind)
		}
		go l.superviseSlot(i, worker)
	}
	remaining := l.remainingCapacityLocked()
	active := l.activeWorkersLocked()
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.SetActiveWorkers(float64(active))
	}
	return remaining
}

// remainingCapacityLocked reports whether any slot could still start in
// the future. Caller must hold l.mu.
func (l *Launcher) remainingCapacityLocked() bool {
	if l.capAt >= 0 && l.startedCount() >= l.capAt {
		return false
	}
	for _, s := range l.slots {
		if s.state == Pending {
			return true
		}
	}
	return false
}

// StartAllWorkers starts every remaining pending worker.
func (l *Launcher) StartAllWorkers() {
	l.mu.Lock()
	n := len(l.slots)
	l.mu.Unlock()
	l.StartSomeWorkers(n)
}

// DontStartAnyMore caps future starts at the current started count.
func (l *Launcher) DontStartAnyMore() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capAt = l.startedCount()
}

// DestroyAllWorkers implies DontStartAnyMore and issues Destroy on
// every non-terminal worker. reason labels the WorkersDestroyed metric
// (e.g. "drain_timeout", "agent_shutdown", "process_cleanup").
func (l *Launcher) DestroyAllWorkers(reason string) {
	l.mu.Lock()
	l.capAt = l.startedCount()
	workers := make([]Worker, 0, len(l.slots))
	for _, s := range l.slots {
		if s.worker != nil && !s.state.terminal() {
			s.state = Destroyed
			workers = append(workers, s.worker)
		}
	}
	l.cond.Broadcast()
	active := l.activeWorkersLocked()
	l.mu.Unlock()

	if l.metrics != nil {
		for range workers {
			l.metrics.RecordWorkerDestroyed(reason)
		}
		l.metrics.SetActiveWorkers(float64(active))
	}

	for _, w := range workers {
		w.Destroy()
	}
}

// superviseSlot blocks on the worker's termination and updates its slot
// state, waking anyone blocked in AllFinished.
func (l *Launcher) superviseSlot(index int, w Worker) {
	_, _ = w.WaitFor()
	l.mu.Lock()
	s := l.slots[index]
	if s.state != Destroyed {
		s.state = Finished
	}
	l.cond.Broadcast()
	active := l.activeWorkersLocked()
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.SetActiveWorkers(float64(active))
	}
}

// ActiveWorkers reports how many slots are currently Running.
func (l *Launcher) ActiveWorkers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeWorkersLocked()
}

// activeWorkersLocked reports how many slots are currently Running.
// Caller must hold l.mu.
func (l *Launcher) activeWorkersLocked() int {
	n := 0
	for _, s := range l.slots {
		if s.state == Running {
			n++
		}
	}
	return n
}

// AllFinished reports whether every slot has reached Finished or
// Destroyed. A slot still Pending when no more starts are possible
// counts as finished, since it will never run.
func (l *Launcher) AllFinished() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allFinishedLocked()
}

func (l *Launcher) allFinishedLocked() bool {
	for _, s := range l.slots {
		if s.state.terminal() {
			continue
		}
		if s.state == Pending && l.capAt >= 0 {
			continue
		}
		return false
	}
	return true
}

// Wait blocks until AllFinished is true.
func (l *Launcher) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.allFinishedLocked() {
		l.cond.Wait()
	}
}

// Shutdown blocks until all currently-started workers reach a terminal
// state. It does not itself destroy anything; call DestroyAllWorkers
// first for a forced shutdown.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		busy := false
		for _, s := range l.slots {
			if s.state == Starting || s.state == Running {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		l.cond.Wait()
	}
}

// Send implements console.FanOutSender. See the Launcher doc comment
// for why it has nothing worker-visible to do: destruction is always
// driven by the control loop calling DestroyAllWorkers directly.
func (l *Launcher) Send(m console.Message) error {
	return nil
}

// StartRampUp launches initialProcesses immediately, then returns a
// stop function the caller can use to cancel the background ramp-up
// ticker early. If increment <= 0, every worker starts immediately and
// the returned stop function is a no-op.
func StartRampUp(l *Launcher, poolSize, increment, initial int, interval time.Duration) (stop func()) {
	rampStart := time.Now()
	recordRampUp := func() {
		if l.metrics != nil {
			l.metrics.RecordRampUp(time.Since(rampStart).Seconds())
		}
	}

	if increment <= 0 {
		l.StartAllWorkers()
		recordRampUp()
		return func() {}
	}
	if initial <= 0 {
		initial = increment
	}

	l.StartSomeWorkers(initial)

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	stopFn := func() {
		once.Do(func() { close(done) })
	}

	go func() {
		defer ticker.Stop()
		defer recordRampUp()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !l.StartSomeWorkers(increment) {
					return
				}
			}
		}
	}()

	return stopFn
}
