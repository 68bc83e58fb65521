// ABOUTME: Execution-context contracts between the gateway and agent implementations
// ABOUTME: Defines the Factory/Runner interfaces and the per-session agent configuration

package agent

import (
	"context"

	"github.com/2389/relay-gateway/internal/event"
)

// Config describes the execution context an agent is bound to.
// Queue is the session's event channel: everything the agent emits goes
// through it so a single processor persists the full stream.
type Config struct {
	SessionKey string
	UserID     string
	DeviceID   string
	Workspace  string
	ToolArgs   map[string]any
	Queue      chan<- event.Event
}

// Factory creates agent runners bound to an execution context
type Factory interface {
	New(ctx context.Context, cfg Config) (Runner, error)
}

// Runner executes queries within a bound execution context.
// Run blocks until the query finishes or ctx is canceled; progress is
// reported through the Config's event queue, not the return value.
type Runner interface {
	Run(ctx context.Context, input string, files []string, resume bool) error
}
