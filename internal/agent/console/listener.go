package console

import "sync"

// Listener buffers console messages the control loop hasn't gotten
// around to yet. Every operation serializes on a shared mutex/condition
// pair, mirroring a single eventSynchronisation object guarding all of
// the control loop's state transitions.
//
// received is non-consuming; checkForMessage is the consuming
// counterpart. That split is not forced by anything upstream of this
// package — it is the contract this implementation picked for the two
// operations, since nothing else pins it down.
type Listener struct {
	mu   sync.Mutex
	cond *sync.Cond

	flags      Flags
	lastStart  *StartGrinder
	shutdownAt bool
}

// NewListener creates a Listener ready to register with a dispatcher.
func NewListener() *Listener {
	l := &Listener{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Received reports whether any buffered message class intersects mask,
// without clearing anything.
func (l *Listener) Received(mask Flags) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flags.Intersects(mask)
}

// CheckForMessage clears every bit of mask that was set and reports
// whether any was.
func (l *Listener) CheckForMessage(mask Flags) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	hit := l.flags.Intersects(mask)
	l.flags &^= mask
	return hit
}

// WaitForMessage blocks until any message has arrived (or shutdown was
// called), then returns. It does not consume anything; callers inspect
// or clear flags afterward with Received/CheckForMessage.
func (l *Listener) WaitForMessage() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.flags == FlagNone && !l.shutdownAt {
		l.cond.Wait()
	}
}

// GetLastStartGrinderMessage returns the most recently received start
// payload, if any, and clears the START bit. A nil return means no
// start message is pending.
func (l *Listener) GetLastStartGrinderMessage() *StartGrinder {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := l.lastStart
	l.lastStart = nil
	l.flags &^= FlagStart
	return msg
}

// DiscardMessages clears every bit in mask without acting on it.
func (l *Listener) DiscardMessages(mask Flags) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags &^= mask
}

// Shutdown sets a terminal flag; every blocked or future WaitForMessage
// call returns immediately with SHUTDOWN raised.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdownAt = true
	l.flags |= FlagShutdown
	l.cond.Broadcast()
}

// deliver is called by the dispatcher for every message routed to the
// listener. It sets the matching bit, records start payloads, and wakes
// any blocked WaitForMessage.
func (l *Listener) deliver(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flags |= classify(m)
	if start, ok := m.(*StartGrinder); ok {
		l.lastStart = start
	}
	l.cond.Broadcast()
}

// Handler returns a Handler that records every message it is offered
// and always reports it handled. It is meant to be used as one arm of
// the tee FileStore falls back to, not registered directly on a
// Dispatcher: a direct registration would consume messages before the
// fan-out arm of the tee ever saw them.
func (l *Listener) Handler() Handler {
	return func(m Message) bool {
		l.deliver(m)
		return true
	}
}
