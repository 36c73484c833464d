package parley

import (
	"fmt"

	"github.com/nevindra/parley/schema"
)

// Node is one conversational mode: instructions for the executor, a typed
// state shape, the tools and commands available while the node is active,
// and the transitions that lead out of it. Nodes are immutable once
// constructed; identity is the identifier, not structural equality.
type Node struct {
	id           string
	instructions string
	stateSchema  schema.Schema
	defaultState map[string]any
	executor     string

	tools           map[string]Tool
	toolOrder       []string
	commands        map[string]Command
	commandOrder    []string
	transitions     map[string]Transition
	transitionOrder []string
}

// NodeOption configures a node under construction.
type NodeOption func(*Node) error

// WithSchema declares the node's state shape. State writes (initial state,
// defaults, tool patches) are validated against it before commit.
func WithSchema(s schema.Schema) NodeOption {
	return func(n *Node) error {
		n.stateSchema = s
		return nil
	}
}

// WithDefaultState declares the state a fresh activation starts with when a
// move or spawn supplies none. Validated against the node's schema at
// construction.
func WithDefaultState(state map[string]any) NodeOption {
	return func(n *Node) error {
		n.defaultState = schema.Clone(state)
		return nil
	}
}

// WithExecutor names the executor capability that drives this node. Empty
// means the charter's default. The name is resolved when a machine is
// constructed.
func WithExecutor(name string) NodeOption {
	return func(n *Node) error {
		n.executor = name
		return nil
	}
}

// WithTool adds a tool. Tool and command names share one namespace per node.
func WithTool(t Tool) NodeOption {
	return func(n *Node) error {
		if t.Name == "" {
			return fmt.Errorf("tool name is required")
		}
		if n.hasToolName(t.Name) {
			return fmt.Errorf("duplicate tool name: %s", t.Name)
		}
		n.tools[t.Name] = t
		n.toolOrder = append(n.toolOrder, t.Name)
		return nil
	}
}

// WithCommand adds a synchronous command.
func WithCommand(c Command) NodeOption {
	return func(n *Node) error {
		if c.Name == "" {
			return fmt.Errorf("command name is required")
		}
		if n.hasToolName(c.Name) {
			return fmt.Errorf("duplicate command name: %s", c.Name)
		}
		n.commands[c.Name] = c
		n.commandOrder = append(n.commandOrder, c.Name)
		return nil
	}
}

// WithTransition adds a transition out of this node. A node-local name
// shadows a charter-level transition with the same name.
func WithTransition(t Transition) NodeOption {
	return func(n *Node) error {
		if t.Name == "" {
			return fmt.Errorf("transition name is required")
		}
		if t.Handler == nil {
			return fmt.Errorf("transition %s: handler is required", t.Name)
		}
		if _, dup := n.transitions[t.Name]; dup {
			return fmt.Errorf("duplicate transition name: %s", t.Name)
		}
		n.transitions[t.Name] = t
		n.transitionOrder = append(n.transitionOrder, t.Name)
		return nil
	}
}

// NewNode constructs an immutable node. The default state, if any, must
// satisfy the node's schema; a violation fails construction.
func NewNode(id, instructions string, opts ...NodeOption) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node id is required")
	}
	n := &Node{
		id:           id,
		instructions: instructions,
		tools:        make(map[string]Tool),
		commands:     make(map[string]Command),
		transitions:  make(map[string]Transition),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, WrapNodeError(id, err)
		}
	}
	if n.defaultState != nil {
		if err := schema.Validate(n.stateSchema, n.defaultState); err != nil {
			return nil, WrapNodeError(id, fmt.Errorf("default state: %w", err))
		}
	}
	return n, nil
}

// MustNode is NewNode that panics on error, for charter literals built at
// program start.
func MustNode(id, instructions string, opts ...NodeOption) *Node {
	n, err := NewNode(id, instructions, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Node) hasToolName(name string) bool {
	if _, ok := n.tools[name]; ok {
		return true
	}
	_, ok := n.commands[name]
	return ok
}

// ID returns the node identifier, unique within its charter.
func (n *Node) ID() string { return n.id }

// Instructions returns the executor-facing instruction text.
func (n *Node) Instructions() string { return n.instructions }

// Schema returns the node's state shape. Nil means the node is stateless.
func (n *Node) Schema() schema.Schema { return n.stateSchema }

// DefaultState returns a copy of the declared default state, or nil.
func (n *Node) DefaultState() map[string]any {
	if n.defaultState == nil {
		return nil
	}
	return schema.Clone(n.defaultState)
}

// ExecutorName returns the declared executor name; empty means the
// charter's default.
func (n *Node) ExecutorName() string { return n.executor }

// Tools returns the node-local tools in registration order.
func (n *Node) Tools() []Tool {
	out := make([]Tool, 0, len(n.toolOrder))
	for _, name := range n.toolOrder {
		out = append(out, n.tools[name])
	}
	return out
}

// Commands returns the node-local commands in registration order.
func (n *Node) Commands() []Command {
	out := make([]Command, 0, len(n.commandOrder))
	for _, name := range n.commandOrder {
		out = append(out, n.commands[name])
	}
	return out
}

// Transitions returns the node-local transitions in registration order.
func (n *Node) Transitions() []Transition {
	out := make([]Transition, 0, len(n.transitionOrder))
	for _, name := range n.transitionOrder {
		out = append(out, n.transitions[name])
	}
	return out
}
