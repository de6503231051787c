// Package worker launches and supervises the test-execution processes
// (or, in single-process debug mode, cooperative tasks) an agent drives
// for one run.
package worker

import (
	"github.com/loadforge/agent/internal/agent/properties"
)

// Worker is an opaque handle to one running test-execution unit.
type Worker interface {
	// WaitFor blocks until the worker reaches a terminal state and
	// returns its exit status.
	WaitFor() (int, error)
	// Destroy forcibly terminates the worker. Idempotent.
	Destroy()
	// Number returns the worker's assigned slot number.
	Number() int
}

// Factory constructs one worker invocation from a script location and
// the run's merged properties.
type Factory interface {
	Create(workerNumber int) (Worker, error)
}

// Invocation is the fully resolved command a process-variant Factory
// launches: computed once per run from properties, system properties,
// JVM arguments and the script directory.
type Invocation struct {
	Script       properties.ScriptLocation
	JVMArguments string
	ClassPath    string
	Env          []string
}
