// ABOUTME: Websocket connection handling: handshake, dispatch loop, and cleanup
// ABOUTME: Each connection owns its session binding, task slot, and event processor

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/event"
	"github.com/2389/relay-gateway/internal/identity"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/workspace"
)

// queueSize buffers the per-session event queue between agent and processor
const queueSize = 256

// writeTimeout bounds a single outbound websocket write
const writeTimeout = 10 * time.Second

// conn is the per-connection record. It is owned by the dispatch loop;
// only the cleanup path touches it from outside, and cleanup is idempotent.
type conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	sessionKey string
	userID     string
	deviceID   string

	workspace *workspace.Manager

	queue     chan event.Event
	processor *agent.Processor
	runner    agent.Runner
	slot      agent.Slot

	writeMu sync.Mutex

	cleanupOnce sync.Once
}

// send writes one event to the client, serialized per connection
func (c *conn) send(ev event.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.ws, ev)
}

// Send implements agent.Sink for forwarded session events
func (c *conn) Send(ev event.Event) error {
	return c.send(ev)
}

// handleWS runs the full connection lifecycle: handshake, dispatch loop,
// cleanup on disconnect.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &conn{
		ws:     ws,
		logger: g.logger.With("component", "conn", "remote", r.RemoteAddr),
	}
	defer func() {
		g.cleanup(c)
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}()

	if !g.handshake(r, c) {
		return
	}

	g.connections.Add(1)
	defer g.connections.Add(-1)

	g.dispatch(r.Context(), c)
}

// handshake authenticates the connection and binds it to a session.
// Returns false if the connection must close; the failure event has
// already been sent.
func (g *Gateway) handshake(r *http.Request, c *conn) bool {
	creds := identity.Credentials{
		Token:     bearerToken(r.Header.Get("Authorization")),
		APIKey:    r.Header.Get("X-API-Key"),
		ClientKey: r.Header.Get("X-Client-Key"),
		DeviceID:  r.Header.Get("X-Device-ID"),
	}

	resolveCtx, cancel := context.WithTimeout(r.Context(), g.identityTimeout)
	defer cancel()

	userID, err := g.resolver.Resolve(resolveCtx, creds)
	if err != nil {
		c.logger.Warn("identity resolution failed", "error", err)
		_ = c.send(event.Errorf("User authentication failed."))
		return false
	}

	// The device header is checked after identity, so an unauthenticated
	// client never learns which header it was missing.
	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		_ = c.send(event.Errorf("X-Device-ID header is required and was not found."))
		return false
	}

	c.userID = userID
	c.deviceID = deviceID
	c.sessionKey = userID + "_" + deviceID
	c.logger = c.logger.With("session_key", c.sessionKey)

	ws, wsID, err := workspace.Provision(g.workspaceRoot)
	if err != nil {
		c.logger.Error("workspace provisioning failed", "error", err)
		_ = c.send(event.Errorf("Failed to provision workspace"))
		return false
	}
	c.workspace = ws

	err = g.store.CreateOrReactivateSession(r.Context(), &store.Session{
		Key:           c.sessionKey,
		UserID:        userID,
		DeviceID:      deviceID,
		WorkspaceID:   wsID,
		WorkspacePath: ws.Root,
	})
	if err != nil {
		c.logger.Error("session activation failed", "error", err)
		_ = c.send(event.Errorf("Failed to activate session"))
		return false
	}

	// Single persistence pathway for the session: one queue, one processor.
	// The processor outlives the connection (detach-not-destroy), so it runs
	// on a background context and stops when the queue closes.
	c.queue = make(chan event.Event, queueSize)
	c.processor = agent.NewProcessor(g.store, c.queue, c.sessionKey, userID, deviceID)
	c.processor.Attach(c)
	go c.processor.Run(context.Background())

	c.logger.Info("connection established")
	return c.send(event.Event{
		Type: event.TypeConnectionEstablished,
		Content: map[string]any{
			"message":        "Connected to relay gateway",
			"workspace_path": ws.Root,
		},
	}) == nil
}

// bearerToken strips the Bearer prefix from an Authorization header value
func bearerToken(header string) string {
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return header
}

// dispatch runs the message loop until the transport fails or closes.
// Handler errors are reported to the client and never end the loop;
// only transport errors are fatal.
func (g *Gateway) dispatch(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.logger.Info("connection closed", "error", err)
			return
		}

		var msg event.Event
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.send(event.Errorf("Invalid JSON format"))
			continue
		}

		if err := g.handleMessage(ctx, c, msg); err != nil {
			_ = c.send(event.Errorf("%s", err.Error()))
		}
	}
}

// handleMessage routes one inbound message. Returned errors are reported
// to the client as error events.
func (g *Gateway) handleMessage(ctx context.Context, c *conn, msg event.Event) error {
	switch msg.Type {
	case event.TypeInitAgent:
		return g.handleInitAgent(ctx, c, msg.Content)
	case event.TypeQuery:
		return g.handleQuery(ctx, c, msg.Content)
	case event.TypeWorkspaceInfo:
		return c.send(event.Event{
			Type:    event.TypeWorkspaceInfo,
			Content: map[string]any{"path": c.workspace.Root},
		})
	case event.TypePing:
		return c.send(event.Event{Type: event.TypePong, Content: map[string]any{}})
	case event.TypeCancel:
		return g.handleCancel(c)
	case event.TypeEnhancePrompt:
		return g.handleEnhancePrompt(ctx, c, msg.Content)
	default:
		return fmt.Errorf("Unknown message type: %s", msg.Type)
	}
}

// handleInitAgent binds an execution context to the connection.
// A second init_agent silently replaces the binding.
func (g *Gateway) handleInitAgent(ctx context.Context, c *conn, content map[string]any) error {
	toolArgs, _ := content["tool_args"].(map[string]any)

	runner, err := g.factory.New(ctx, agent.Config{
		SessionKey: c.sessionKey,
		UserID:     c.userID,
		DeviceID:   c.deviceID,
		Workspace:  c.workspace.Root,
		ToolArgs:   toolArgs,
		Queue:      c.queue,
	})
	if err != nil {
		return fmt.Errorf("Failed to initialize agent: %s", err.Error())
	}

	if c.runner != nil {
		c.logger.Debug("replacing bound agent")
	}
	c.runner = runner

	return c.send(event.Event{
		Type:    event.TypeAgentInitialized,
		Content: map[string]any{"message": "Agent initialized"},
	})
}

// handleQuery starts a task running the bound agent. The processing ack is
// written before the task spawns so the client observes ack-before-result.
func (g *Gateway) handleQuery(ctx context.Context, c *conn, content map[string]any) error {
	if c.runner == nil {
		return fmt.Errorf("Agent not initialized")
	}

	if c.slot.Active() {
		return fmt.Errorf("A query is already being processed")
	}

	text, _ := content["text"].(string)
	resume, _ := content["resume"].(bool)
	files := stringSlice(content["files"])

	// Record the user's message in the session log through the same
	// pathway the agent's own events take.
	userMsg := map[string]any{"text": text}
	if len(files) > 0 {
		userMsg["files"] = files
	}
	c.queue <- event.Event{Type: event.TypeUserMessage, Content: userMsg}

	if err := c.send(event.Event{
		Type:    event.TypeProcessing,
		Content: map[string]any{"message": "Processing your request"},
	}); err != nil {
		return nil // transport is gone; the read loop will notice
	}

	runner := c.runner
	queue := c.queue
	err := c.slot.Start(context.Background(), func(taskCtx context.Context) {
		if err := runner.Run(taskCtx, text, files, resume); err != nil {
			// Reported if a client is attached, persisted regardless
			queue <- event.Errorf("%s", err.Error())
		}
	})
	if err != nil {
		// The dispatch loop is the only task starter, so this only fires
		// if a task slipped in between the Active check and here.
		return fmt.Errorf("A query is already being processed")
	}
	return nil
}

// handleCancel requests cooperative cancellation of the running task
func (g *Gateway) handleCancel(c *conn) error {
	if !c.slot.Cancel() {
		return fmt.Errorf("No active query to cancel")
	}
	return c.send(event.System("Query canceled"))
}

// handleEnhancePrompt relays a draft query to the prompt enhancer
func (g *Gateway) handleEnhancePrompt(ctx context.Context, c *conn, content map[string]any) error {
	if g.enhancer == nil {
		return fmt.Errorf("Prompt enhancement is not available")
	}

	text, _ := content["text"].(string)
	files := stringSlice(content["files"])

	result, err := g.enhancer.Enhance(ctx, text, files)
	if err != nil {
		return fmt.Errorf("%s", err.Error())
	}

	return c.send(event.Event{
		Type: event.TypePromptGenerated,
		Content: map[string]any{
			"result":           result,
			"original_request": text,
		},
	})
}

// cleanup releases the connection's resources. Idempotent, and tolerant of
// connections that never finished the handshake. The processor's sink is
// detached rather than the processor destroyed: a task still running keeps
// emitting events and they keep being persisted.
func (g *Gateway) cleanup(c *conn) {
	c.cleanupOnce.Do(func() {
		if c.processor != nil {
			c.processor.Detach()
		}

		c.slot.Cancel()

		if c.queue != nil {
			// Close the queue once the task is terminal so the processor
			// drains everything and then stops.
			queue := c.queue
			slot := &c.slot
			go func() {
				slot.Wait()
				close(queue)
			}()
		}

		c.logger.Info("connection cleaned up")
	})
}

// stringSlice converts a decoded JSON array into []string, dropping
// non-string elements
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
