// Package agent defines the identity primitive that permissions are granted to.
package agent

import "context"

// SystemID is the default identifier of the machine agent.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Agent is any identity, human or machine, that can hold permissions.
// The zero value is the anonymous agent.
type Agent struct {
	id      string
	machine bool
}

// New returns an agent with the given identifier.
func New(id string) Agent {
	return Agent{id: id}
}

// Machine returns the distinguished system agent. It is an administrator of
// every permission record.
func Machine(id string) Agent {
	if id == "" {
		id = SystemID
	}
	return Agent{id: id, machine: true}
}

// ID returns the agent identifier, empty for the anonymous agent.
func (a Agent) ID() string {
	return a.id
}

// HasID reports whether the agent carries an identifier.
func (a Agent) HasID() bool {
	return a.id != ""
}

// IsMachine reports whether a was constructed with Machine.
func (a Agent) IsMachine() bool {
	return a.machine
}

// Is reports whether a and other are the same agent. Both must carry an
// identifier; an agent without one equals nothing, itself included.
func (a Agent) Is(other Agent) bool {
	return a.id != "" && other.id != "" && a.id == other.id
}

// Equal is the function form of Is.
func Equal(a, b Agent) bool {
	return a.Is(b)
}

func (a Agent) String() string {
	if a.id == "" {
		return "anonymous"
	}
	if a.machine {
		return "machine:" + a.id
	}
	return "agent:" + a.id
}

type agentContextKey struct{}

// WithContext stores the acting agent on ctx.
func WithContext(ctx context.Context, a Agent) context.Context {
	return context.WithValue(ctx, agentContextKey{}, a)
}

// FromContext retrieves the acting agent stored by WithContext.
func FromContext(ctx context.Context) (Agent, bool) {
	a, ok := ctx.Value(agentContextKey{}).(Agent)
	return a, ok
}
