// ABOUTME: Session event processor that persists and forwards the agent's event stream
// ABOUTME: Survives client detach so persistence continues while nobody is listening

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/relay-gateway/internal/event"
	"github.com/2389/relay-gateway/internal/store"
)

// Sink receives events destined for a connected client
type Sink interface {
	Send(ev event.Event) error
}

// Processor drains a session's event queue, appending every event to the
// store and then forwarding it to the attached sink. There is exactly one
// processor per bound session, so the store sees a single ordered stream.
//
// Detaching the sink does not stop the processor: a client disconnect
// loses delivery only, never persistence.
type Processor struct {
	sessionKey string
	userID     string
	deviceID   string

	store  store.Store
	queue  <-chan event.Event
	logger *slog.Logger

	mu   sync.Mutex
	sink Sink

	done chan struct{}
}

// NewProcessor creates a processor for one session's event queue
func NewProcessor(st store.Store, queue <-chan event.Event, sessionKey, userID, deviceID string) *Processor {
	return &Processor{
		sessionKey: sessionKey,
		userID:     userID,
		deviceID:   deviceID,
		store:      st,
		queue:      queue,
		logger:     slog.Default().With("component", "processor", "session_key", sessionKey),
		done:       make(chan struct{}),
	}
}

// Attach sets the sink receiving forwarded events
func (p *Processor) Attach(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Detach drops the sink. The drain loop keeps persisting events.
func (p *Processor) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = nil
}

// Run drains the queue until it is closed or ctx is canceled.
// Intended to run in its own goroutine.
func (p *Processor) Run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.queue:
			if !ok {
				return
			}
			p.handle(ctx, ev)
		}
	}
}

// Done is closed when the drain loop exits
func (p *Processor) Done() <-chan struct{} {
	return p.done
}

// handle persists one event, then forwards it if a sink is attached
func (p *Processor) handle(ctx context.Context, ev event.Event) {
	payload, err := json.Marshal(ev.Content)
	if err != nil {
		p.logger.Error("marshaling event payload", "type", ev.Type, "error", err)
		payload = []byte("{}")
	}

	_, err = p.store.AppendEvent(ctx, &store.Event{
		SessionKey: p.sessionKey,
		UserID:     p.userID,
		DeviceID:   p.deviceID,
		Type:       string(ev.Type),
		Payload:    string(payload),
	})
	if err != nil {
		p.logger.Error("persisting event", "type", ev.Type, "error", err)
	}

	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.Send(ev); err != nil {
		// Delivery failures are the connection's problem, not the session's
		p.logger.Warn("forwarding event to client", "type", ev.Type, "error", err)
	}
}
