// ABOUTME: Echo agent factory used when no real agent backend is wired in
// ABOUTME: Keeps the binary runnable end to end without an external model

package agent

import (
	"context"

	"github.com/2389/relay-gateway/internal/event"
)

// EchoFactory builds runners that echo the query back as the agent
// response. This is the integration point for a real agent backend:
// replace it in cmd/relay-gateway with a Factory talking to your model.
type EchoFactory struct{}

// New returns an echo runner bound to the session's event queue
func (EchoFactory) New(ctx context.Context, cfg Config) (Runner, error) {
	return &echoRunner{queue: cfg.Queue}, nil
}

type echoRunner struct {
	queue chan<- event.Event
}

func (r *echoRunner) Run(ctx context.Context, input string, files []string, resume bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.queue <- event.Event{
		Type:    event.TypeAgentThinking,
		Content: map[string]any{"text": "Echoing your message"},
	}
	r.queue <- event.Event{
		Type:    event.TypeAgentResponse,
		Content: map[string]any{"text": input},
	}
	return nil
}
