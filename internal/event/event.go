// ABOUTME: Realtime event envelope shared by the socket, the store, and agents
// ABOUTME: Defines the wire vocabulary for inbound and outbound messages

package event

import "fmt"

// Type tags an event on the wire and in the event log.
type Type string

// Inbound message types (client -> gateway).
const (
	TypeInitAgent     Type = "init_agent"
	TypeQuery         Type = "query"
	TypeWorkspaceInfo Type = "workspace_info"
	TypePing          Type = "ping"
	TypeCancel        Type = "cancel"
	TypeEnhancePrompt Type = "enhance_prompt"
)

// Outbound message types (gateway -> client).
const (
	TypeConnectionEstablished Type = "connection_established"
	TypeAgentInitialized      Type = "agent_initialized"
	TypeProcessing            Type = "processing"
	TypePong                  Type = "pong"
	TypeSystem                Type = "system"
	TypePromptGenerated       Type = "prompt_generated"
	TypeError                 Type = "error"
)

// Event types that only exist in the persisted log or the agent stream.
const (
	TypeUserMessage   Type = "user_message"
	TypeAgentThinking Type = "agent_thinking"
	TypeAgentResponse Type = "agent_response"
	TypeToolUse       Type = "tool_use"
	TypeToolResult    Type = "tool_result"
)

// Event is the `{type, content}` envelope exchanged over the persistent
// connection and appended to the session log.
type Event struct {
	Type    Type           `json:"type"`
	Content map[string]any `json:"content"`
}

// Errorf builds an error event with a formatted message.
func Errorf(format string, args ...any) Event {
	return Event{
		Type:    TypeError,
		Content: map[string]any{"message": fmt.Sprintf(format, args...)},
	}
}

// System builds a system event with the given message.
func System(msg string) Event {
	return Event{
		Type:    TypeSystem,
		Content: map[string]any{"message": msg},
	}
}
