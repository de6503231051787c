package console

// Handler inspects a decoded message and reports whether it consumed
// it. A Dispatcher tries its registered handlers in order and falls
// through to a single fallback handler when none of them claim the
// message — modeling the tee-of-sinks pattern as an explicit pipeline
// instead of a fixed chain of sender classes.
type Handler func(m Message) bool

// Dispatcher routes inbound messages to whichever handler claims them
// first, falling back to a single handler for anything unclaimed. It is
// single-reader: the message pump is the only caller of Dispatch.
type Dispatcher struct {
	handlers []Handler
	fallback Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Handle registers h. Handlers run in registration order; the first to
// return true stops the chain.
func (d *Dispatcher) Handle(h Handler) {
	d.handlers = append(d.handlers, h)
}

// SetFallback installs the handler invoked when nothing else claimed
// the message.
func (d *Dispatcher) SetFallback(h Handler) {
	d.fallback = h
}

// Dispatch routes m through the registered handlers, then the fallback
// if none claimed it. It reports whether anything handled m.
func (d *Dispatcher) Dispatch(m Message) bool {
	for _, h := range d.handlers {
		if h(m) {
			return true
		}
	}
	if d.fallback != nil {
		return d.fallback(m)
	}
	return false
}

// FanOutSender broadcasts control messages to every live worker. The
// worker launcher implements it; console only depends on the interface
// to avoid an import cycle.
type FanOutSender interface {
	Send(m Message) error
	Shutdown()
}

// Tee returns a Handler that offers m to both a and b and reports
// handled as long as either does. It is used to fan one unclaimed
// message out to both the agent's own listener and the live worker
// pool.
func Tee(a, b Handler) Handler {
	return func(m Message) bool {
		handledA := a(m)
		handledB := b(m)
		return handledA || handledB
	}
}

// IgnoreShutdown wraps next so that Shutdown messages are swallowed
// before reaching it. The fan-out arm of the file-store tee uses this:
// workers should never see a console Shutdown directly, only the
// control loop's own destroyAllWorkers.
func IgnoreShutdown(next Handler) Handler {
	return func(m Message) bool {
		if _, ok := m.(*Shutdown); ok {
			return true
		}
		return next(m)
	}
}
