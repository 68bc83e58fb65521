// Package gateway orchestrates the relay-gateway server components.
//
// # Overview
//
// The gateway is the central coordinator: it owns the HTTP server carrying
// the websocket endpoint and the REST API, and composes the injected store,
// identity resolver, agent factory, and prompt enhancer.
//
// # Connection Lifecycle
//
// Each websocket connection walks a fixed state machine:
//
//	Handshaking -> Authenticated -> Ready <-> Busy -> Closed
//
// The handshake resolves identity from the connection headers, requires the
// X-Device-ID header, computes the composite session key
// (user_id + "_" + device_id), provisions a workspace, activates the
// session in the store, and emits connection_established. Handshake
// failures close the connection; everything after is non-fatal.
//
// The dispatch loop decodes {type, content} envelopes and routes them:
// init_agent, query, workspace_info, ping, cancel, enhance_prompt.
// Malformed JSON and handler errors produce an error event and the loop
// continues. Only transport errors end the connection.
//
// # Single-Flight Queries
//
// Each connection holds one task slot. A query while a task is running is
// rejected with "A query is already being processed". The processing ack
// is always written before the task spawns, so clients observe
// ack-before-result ordering. Cancellation is cooperative.
//
// # Detach, Don't Destroy
//
// On disconnect the connection's event processor keeps running: the sink
// is detached, any running task is canceled, and the event queue is closed
// only once the task reaches a terminal state. Events a task emits after
// the client is gone are still persisted.
//
// # HTTP API
//
//	GET  /api/sessions/{device_id}         session listing with first messages
//	GET  /api/sessions/{session_id}/events full event history, ascending
//	POST /api/upload                       file upload into a session workspace
//	GET  /health                           liveness and connection count
package gateway
