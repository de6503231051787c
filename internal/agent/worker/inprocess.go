package worker

import (
	"sync"

	"github.com/rs/zerolog"
)

// Task is the cooperative unit an InProcessFactory runs. Implementations
// share the agent's address space; there is no real script interpreter
// in scope here, so a Task's contract is just "block until the simulated
// worker's work is done."
type Task func(workerNumber int, stop <-chan struct{}) error

// InProcessFactory spawns a goroutine per worker instead of a child
// process. It is used only when grinder.debug.singleprocess is set;
// any JVM-argument-like setting is logged and otherwise ignored, since
// there is no JVM to pass it to.
type InProcessFactory struct {
	task Task
	log  zerolog.Logger
}

// NewInProcessFactory creates an InProcessFactory that runs task for
// every worker slot. jvmArguments and classPath are accepted only to
// log that they are being ignored in this mode.
func NewInProcessFactory(task Task, jvmArguments, classPath string, log zerolog.Logger) *InProcessFactory {
	log = log.With().Str("component", "inprocess_factory").Logger()
	if jvmArguments != "" || classPath != "" {
		log.Info().
			Str("jvm_arguments", jvmArguments).
			Str("classpath", classPath).
			Msg("debug.singleprocess set: ignoring JVM-argument-like settings")
	}
	return &InProcessFactory{task: task, log: log}
}

// Create starts worker #workerNumber as a goroutine.
func (f *InProcessFactory) Create(workerNumber int) (Worker, error) {
	w := &inProcessWorker{
		number: workerNumber,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		w.err = f.task(workerNumber, w.stop)
	}()
	return w, nil
}

// inProcessWorker is the Worker handle for a goroutine-backed worker.
type inProcessWorker struct {
	number    int
	stop      chan struct{}
	done      chan struct{}
	err       error
	destroyed sync.Once
}

func (w *inProcessWorker) Number() int { return w.number }

// WaitFor blocks until the task returns. In-process workers have no
// process exit status; 0 means the task returned nil, 1 otherwise.
func (w *inProcessWorker) WaitFor() (int, error) {
	<-w.done
	if w.err != nil {
		return 1, w.err
	}
	return 0, nil
}

// Destroy signals the task to stop via its stop channel. Idempotent.
// Unlike a process kill this is cooperative: a task that ignores stop
// keeps running.
func (w *inProcessWorker) Destroy() {
	w.destroyed.Do(func() {
		close(w.stop)
	})
}
