// Package agent defines the execution-context contracts and per-session
// task plumbing between the gateway and agent implementations.
//
// # Overview
//
// The gateway never talks to an agent implementation directly. It creates a
// Runner through a Factory, hands it a Config describing the bound session
// (identity, workspace, and the session's event queue), and runs queries
// through the Runner. Everything the agent produces flows back through the
// event queue.
//
// # Processor
//
// Each bound session has exactly one Processor draining its event queue.
// Every event is appended to the store first, then forwarded to the
// attached Sink (the client connection). This gives the session a single
// persistence pathway: events are durably ordered no matter how many
// clients come and go.
//
// Detach drops the sink without stopping the drain loop, so a client
// disconnect loses delivery only. A task still running keeps emitting
// events and they keep being persisted.
//
// # Slot
//
// Slot enforces the one-in-flight-query rule per connection:
//
//	err := slot.Start(ctx, func(ctx context.Context) { ... })
//	if errors.Is(err, agent.ErrTaskActive) {
//	    // reject: a query is already being processed
//	}
//
// Cancel requests cooperative cancellation through the task's context and
// reports whether anything was running. A task that finishes before the
// cancellation lands simply completes.
//
// # Thread Safety
//
// Processor and Slot are safe for concurrent use. The Config's queue
// channel is owned by the gateway; the agent only sends on it.
package agent
