package agent

// Identity identifies this agent process to the console. Number is
// assigned from each start message and defaults to -1 when the agent
// is running stand-alone (no console session).
type Identity struct {
	HostName string
	Name     string
	Number   int
}

// Equals reports whether id and other name the same agent.
func (id Identity) Equals(other Identity) bool {
	return id == other
}
