package engine

import (
	"errors"
)

// Routing outcomes and failures surfaced by engine operations. The two
// availability errors are normal outcomes communicated to the user, not
// faults; store failures are wrapped with operation context instead.
var (
	// ErrDomainRequired is returned when a registration or chat request
	// carries no domain. Nothing is mutated.
	ErrDomainRequired = errors.New("domain is required")

	// ErrNoAgentsAvailable is returned when no agent is online for the
	// requested domain.
	ErrNoAgentsAvailable = errors.New("no agents available")

	// ErrAllAgentsBusy is returned when every online agent in the domain
	// is at capacity.
	ErrAllAgentsBusy = errors.New("all agents are at capacity")
)
