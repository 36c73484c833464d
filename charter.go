package parley

import (
	"fmt"
	"sort"
)

// Charter is the static, immutable definition of one kind of agent: its
// nodes, its cross-cutting transitions, its shared tool pack, and the
// registry of named executor capabilities. Built once and safely shared
// read-only across every machine running it.
type Charter struct {
	name string

	nodes     map[string]*Node
	nodeOrder []string

	transitions     map[string]Transition
	transitionOrder []string

	executors       map[string]Executor
	defaultExecutor string

	pack *ToolPack
}

// CharterOption configures a charter under construction.
type CharterOption func(*Charter) error

// WithNode adds a node. Node identifiers must be unique.
func WithNode(n *Node) CharterOption {
	return func(c *Charter) error {
		if n == nil {
			return fmt.Errorf("node is nil")
		}
		if _, dup := c.nodes[n.ID()]; dup {
			return fmt.Errorf("duplicate node id: %s", n.ID())
		}
		c.nodes[n.ID()] = n
		c.nodeOrder = append(c.nodeOrder, n.ID())
		return nil
	}
}

// WithNodes adds several nodes.
func WithNodes(nodes ...*Node) CharterOption {
	return func(c *Charter) error {
		for _, n := range nodes {
			if err := WithNode(n)(c); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithCharterTransition adds a cross-cutting transition visible from every
// node. When a node declares a transition with the same name, the node-local
// definition takes precedence while that node is the leaf.
func WithCharterTransition(t Transition) CharterOption {
	return func(c *Charter) error {
		if t.Name == "" {
			return fmt.Errorf("transition name is required")
		}
		if t.Handler == nil {
			return fmt.Errorf("transition %s: handler is required", t.Name)
		}
		if _, dup := c.transitions[t.Name]; dup {
			return fmt.Errorf("duplicate charter transition name: %s", t.Name)
		}
		c.transitions[t.Name] = t
		c.transitionOrder = append(c.transitionOrder, t.Name)
		return nil
	}
}

// WithExecutors registers executor capabilities, keyed by Name(). The first
// registered executor is the default for nodes that do not name one;
// WithDefaultExecutor overrides that.
func WithExecutors(execs ...Executor) CharterOption {
	return func(c *Charter) error {
		for _, e := range execs {
			if e == nil || e.Name() == "" {
				return fmt.Errorf("executor with empty name")
			}
			if _, dup := c.executors[e.Name()]; dup {
				return fmt.Errorf("duplicate executor name: %s", e.Name())
			}
			if len(c.executors) == 0 && c.defaultExecutor == "" {
				c.defaultExecutor = e.Name()
			}
			c.executors[e.Name()] = e
		}
		return nil
	}
}

// WithDefaultExecutor names the executor used by nodes that declare none.
func WithDefaultExecutor(name string) CharterOption {
	return func(c *Charter) error {
		c.defaultExecutor = name
		return nil
	}
}

// WithToolPack attaches tools and commands shared by every node. Node-local
// definitions shadow pack definitions with the same name.
func WithToolPack(p *ToolPack) CharterOption {
	return func(c *Charter) error {
		c.pack = p
		return nil
	}
}

// NewCharter constructs an immutable charter. Construction is the single
// validation gate for static structure: duplicate identifiers fail here, and
// the declared default executor must be registered. Executor references on
// nodes are resolved when a machine is constructed, so the failure can name
// the tree that carries them.
func NewCharter(name string, opts ...CharterOption) (*Charter, error) {
	if name == "" {
		return nil, fmt.Errorf("charter name is required")
	}
	c := &Charter{
		name:        name,
		nodes:       make(map[string]*Node),
		transitions: make(map[string]Transition),
		executors:   make(map[string]Executor),
		pack:        NewToolPack(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("charter %s: %w", name, err)
		}
	}
	if len(c.nodes) == 0 {
		return nil, fmt.Errorf("charter %s: at least one node is required", name)
	}
	if c.defaultExecutor != "" {
		if _, ok := c.executors[c.defaultExecutor]; !ok {
			return nil, fmt.Errorf("charter %s: default executor %s is not registered (available: %v)",
				name, c.defaultExecutor, c.ExecutorNames())
		}
	}
	return c, nil
}

// Name returns the charter name.
func (c *Charter) Name() string { return c.name }

// Node looks up a node by identifier.
func (c *Charter) Node(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// NodeIDs returns every node identifier in registration order.
func (c *Charter) NodeIDs() []string {
	out := make([]string, len(c.nodeOrder))
	copy(out, c.nodeOrder)
	return out
}

// Executor looks up a registered executor capability by name.
func (c *Charter) Executor(name string) (Executor, bool) {
	e, ok := c.executors[name]
	return e, ok
}

// ExecutorNames returns the registered executor names, sorted.
func (c *Charter) ExecutorNames() []string {
	names := make([]string, 0, len(c.executors))
	for name := range c.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// executorFor resolves the capability driving node: the node's declared
// name, or the charter default.
func (c *Charter) executorFor(n *Node) (Executor, string, error) {
	name := n.ExecutorName()
	if name == "" {
		name = c.defaultExecutor
	}
	if name == "" {
		return nil, "", WrapNodeError(n.ID(), fmt.Errorf("%w: none declared and no default (available: %v)",
			ErrUnknownExecutor, c.ExecutorNames()))
	}
	e, ok := c.executors[name]
	if !ok {
		return nil, "", WrapNodeError(n.ID(), fmt.Errorf("%w: %s (available: %v)",
			ErrUnknownExecutor, name, c.ExecutorNames()))
	}
	return e, name, nil
}

// resolveTransition finds the transition visible from node under name:
// node-local definitions first, then charter-level ones.
func (c *Charter) resolveTransition(n *Node, name string) (Transition, bool) {
	if t, ok := n.transitions[name]; ok {
		return t, true
	}
	t, ok := c.transitions[name]
	return t, ok
}

// transitionsFor lists the transitions visible from node in stable order:
// node-local first (registration order), then charter-level ones not
// shadowed by a node-local name.
func (c *Charter) transitionsFor(n *Node) []Transition {
	out := make([]Transition, 0, len(n.transitionOrder)+len(c.transitionOrder))
	out = append(out, n.Transitions()...)
	for _, name := range c.transitionOrder {
		if _, shadowed := n.transitions[name]; shadowed {
			continue
		}
		out = append(out, c.transitions[name])
	}
	return out
}

// findTool resolves a tool visible from node: node-local first, then the
// shared pack.
func (c *Charter) findTool(n *Node, name string) (Tool, bool) {
	if t, ok := n.tools[name]; ok {
		return t, true
	}
	for _, t := range c.pack.tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// findCommand resolves a command visible from node: node-local first, then
// the shared pack.
func (c *Charter) findCommand(n *Node, name string) (Command, bool) {
	if cmd, ok := n.commands[name]; ok {
		return cmd, true
	}
	for _, cmd := range c.pack.commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

// toolsFor lists the tools visible from node in stable order: node-local
// first, then pack tools not shadowed by a node-local name (tools or
// commands both shadow).
func (c *Charter) toolsFor(n *Node) []Tool {
	out := make([]Tool, 0, len(n.toolOrder)+len(c.pack.tools))
	out = append(out, n.Tools()...)
	for _, t := range c.pack.tools {
		if n.hasToolName(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// commandsFor lists the commands visible from node, same shadowing rule as
// toolsFor.
func (c *Charter) commandsFor(n *Node) []Command {
	out := make([]Command, 0, len(n.commandOrder)+len(c.pack.commands))
	out = append(out, n.Commands()...)
	for _, cmd := range c.pack.commands {
		if n.hasToolName(cmd.Name) {
			continue
		}
		out = append(out, cmd)
	}
	return out
}
