// Package console implements the agent's side of the link to the
// console: the wire messages, the transport that carries them, the
// listener that buffers what the control loop hasn't consumed yet, and
// the session object that ties them together.
package console

import "fmt"

// Connector is an immutable endpoint descriptor for a console session.
// Two Connectors compare equal by value; the control loop uses that to
// decide whether a session needs to be rebuilt.
type Connector struct {
	Host           string
	Port           int
	ConnectionType string
}

// Equals reports whether c and other address the same endpoint.
func (c Connector) Equals(other Connector) bool {
	return c == other
}

// String renders the connector for logging.
func (c Connector) String() string {
	return fmt.Sprintf("%s://%s:%d", c.ConnectionType, c.Host, c.Port)
}

// AgentAddress identifies the agent side of a duplex session to the
// console, carried as request metadata when the channel is opened.
type AgentAddress struct {
	HostName string
	Name     string
	Number   int
}
