package parley

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nevindra/parley/schema"
)

// ToolContext is the capability object handed to tool and command handlers.
// It exposes the owning leaf's state without sharing a mutable reference
// into the live tree.
type ToolContext interface {
	// NodeID returns the identifier of the node the handler runs on.
	NodeID() string
	// State returns a deep copy of the leaf's current state.
	State() map[string]any
	// RequestPatch merges partial into the leaf's state. Nested records merge
	// key by key; scalars and lists replace wholesale. The merged result is
	// validated against the node's schema before commit; on failure the
	// state is unchanged and the error describes every violation.
	RequestPatch(partial map[string]any) error
}

// ToolFunc is a tool or command handler. input has already passed schema
// validation. A returned error becomes a recoverable error outcome; it never
// aborts the run loop.
type ToolFunc func(ctx context.Context, input map[string]any, tc ToolContext) (ToolReply, error)

// Tool is one named capability the executor may invoke on a node. Tools are
// asynchronous from the conversation's point of view: the executor proposes
// the call and receives the outcome as a tool message on the next iteration.
type Tool struct {
	Name        string
	Description string
	Parameters  schema.Schema
	Handler     ToolFunc
}

// Command is the synchronous counterpart of [Tool]: the caller invokes it
// directly and receives the outcome with no executor round trip. Used for
// deterministic operations (health checks, fixed replies).
type Command struct {
	Name        string
	Description string
	Parameters  schema.Schema
	Handler     ToolFunc
}

// ToolReply is what a handler returns on success. Content is for the
// executor (kept in machine context). UserMessage, when set, is surfaced to
// the user verbatim and never reprocessed by the executor; the two channels
// are delivered separately, never concatenated.
type ToolReply struct {
	Content     string
	UserMessage string
}

// Text returns a reply carrying only executor-facing content.
func Text(content string) ToolReply {
	return ToolReply{Content: content}
}

// ToolOutcome is the normalized result of one tool or command execution.
type ToolOutcome struct {
	Content     string `json:"content"`
	UserMessage string `json:"user_message,omitempty"`
	IsError     bool   `json:"is_error,omitempty"`
}

// ToolPack groups tools and commands shared by every node of a charter.
// Node-local definitions shadow pack definitions with the same name.
type ToolPack struct {
	tools    []Tool
	commands []Command
}

// NewToolPack creates an empty pack.
func NewToolPack() *ToolPack {
	return &ToolPack{}
}

// Add registers a shared tool.
func (p *ToolPack) Add(t Tool) {
	p.tools = append(p.tools, t)
}

// AddCommand registers a shared command.
func (p *ToolPack) AddCommand(c Command) {
	p.commands = append(p.commands, c)
}

// --- execution ---

// runTool validates raw arguments and invokes the handler. Every failure
// mode is converted to an error outcome: invalid JSON, schema violations
// (the handler is not invoked, state is not touched), handler errors, and
// handler panics. Error outcomes flow back to the executor as ordinary tool
// results so the model can self-correct.
func runTool(ctx context.Context, name string, params schema.Schema, handler ToolFunc, args json.RawMessage, tc ToolContext) (outcome ToolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = ToolOutcome{
				Content: fmt.Sprintf("tool %s panicked: %v", name, r),
				IsError: true,
			}
		}
	}()

	input, err := decodeArgs(args)
	if err != nil {
		return ToolOutcome{
			Content: fmt.Sprintf("tool %s: invalid arguments: %v", name, err),
			IsError: true,
		}
	}

	if err := schema.Validate(params, input); err != nil {
		return ToolOutcome{
			Content: fmt.Sprintf("tool %s: %v", name, err),
			IsError: true,
		}
	}

	if handler == nil {
		return ToolOutcome{
			Content: fmt.Sprintf("tool %s: no handler", name),
			IsError: true,
		}
	}

	reply, err := handler(ctx, input, tc)
	if err != nil {
		return ToolOutcome{
			Content: fmt.Sprintf("tool %s: %v", name, err),
			IsError: true,
		}
	}
	return ToolOutcome{Content: reply.Content, UserMessage: reply.UserMessage}
}

// decodeArgs unmarshals raw tool arguments. Empty input means no arguments.
func decodeArgs(args json.RawMessage) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// Descriptor returns the executor-facing description of the tool.
func (t Tool) Descriptor() ToolDescriptor {
	return ToolDescriptor{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Descriptor returns the caller-facing description of the command.
func (c Command) Descriptor() ToolDescriptor {
	return ToolDescriptor{Name: c.Name, Description: c.Description, Parameters: c.Parameters}
}
