package parley

import (
	"encoding/json"

	"github.com/nevindra/parley/schema"
)

// --- Executor protocol types ---

type Message struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"` // executor-specific (e.g. thought signatures)
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// TransitionCall is an executor's request to run one named transition.
// At most one per response.
type TransitionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Frame describes one ancestor activation for context assembly: enough for
// the executor to understand where the current sub-dialog hangs in the
// conversation, without exposing ancestor state.
type Frame struct {
	NodeID       string `json:"node_id"`
	Instructions string `json:"instructions"`
}

// ExecutorRequest is the assembled context for one run-loop iteration.
type ExecutorRequest struct {
	SessionID    string                 `json:"session_id,omitempty"`
	NodeID       string                 `json:"node_id"`
	Instructions string                 `json:"instructions"`
	Ancestry     []Frame                `json:"ancestry,omitempty"` // root first, parent of the leaf last
	Messages     []Message              `json:"messages"`
	Tools        []ToolDescriptor       `json:"tools,omitempty"`
	Transitions  []TransitionDescriptor `json:"transitions,omitempty"`
}

// ExecutorResponse carries what the capability proposed for this iteration:
// assistant content, zero or more tool calls, and optionally one transition.
// A response with no tool calls and no transition ends the turn.
type ExecutorResponse struct {
	Content    string          `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	Transition *TransitionCall `json:"transition,omitempty"`
	Usage      Usage           `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDescriptor is the executor-facing description of a tool or command.
type ToolDescriptor struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  schema.Schema `json:"parameters"`
}

// TransitionDescriptor is the executor-facing description of a transition
// available from the current leaf.
type TransitionDescriptor struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  schema.Schema `json:"parameters,omitempty"` // nil for code transitions
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

func SystemMessage(text string) Message {
	return Message{Role: "system", Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: callID}
}
