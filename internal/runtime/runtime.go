// Package runtime provides the isolation backends that execute agent
// code. Each agent type maps to a backend with a different isolation
// strength.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"agentplane/internal/store"
)

// Spec describes one agent run.
type Spec struct {
	Image   string
	Command []string
	Env     map[string]string
	// Input is passed to the agent as JSON on stdin and in AGENT_INPUT.
	Input json.RawMessage
	// Timeout bounds wall-clock execution time.
	Timeout time.Duration
	// MemoryLimitMB is enforced as a hard limit by the strict backend and
	// as a kill threshold by the enhanced backend. Zero means unlimited.
	MemoryLimitMB int
	WorkDir       string
}

// Result is the outcome of a finished run.
type Result struct {
	Output        json.RawMessage
	ExitCode      int
	ExecutionTime time.Duration
	// MemoryUsedMB is the observed peak, or zero when the backend cannot
	// measure it.
	MemoryUsedMB int
}

// Isolator runs agent code to completion inside one isolation boundary.
type Isolator interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// Selector picks the isolator for an agent type.
type Selector struct {
	basic    Isolator
	enhanced Isolator
	strict   Isolator
}

func NewSelector(basic, enhanced, strict Isolator) *Selector {
	return &Selector{basic: basic, enhanced: enhanced, strict: strict}
}

// ForType returns the isolator matching the agent type. Unknown types get
// the strongest isolation.
func (s *Selector) ForType(t store.AgentType) Isolator {
	switch t {
	case store.AgentTypeSimple:
		return s.basic
	case store.AgentTypeAdvanced:
		return s.enhanced
	default:
		return s.strict
	}
}

// normalizeOutput keeps valid JSON as-is and wraps everything else as a
// JSON string.
func normalizeOutput(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	wrapped, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return wrapped
}

// tail returns the last n bytes of output for error messages.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
