package pipeline

import (
	"fmt"
	"strings"

	"github.com/tonehq/tone-engine/pkg/engine/catalog"
)

// UnconfiguredError reports every capability that blocked assembly, not
// just the first one found, so a single round trip tells the operator the
// whole story.
type UnconfiguredError struct {
	Missing []catalog.Capability
}

func (e *UnconfiguredError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = string(c)
	}
	return fmt.Sprintf("agent is not fully configured: missing %s", strings.Join(names, ", "))
}

// CapabilityError reports an adapter that could not be constructed or
// connected during assembly.
type CapabilityError struct {
	Capability catalog.Capability
	Provider   string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("assemble %s/%s: %v", e.Capability, e.Provider, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
