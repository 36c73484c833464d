package parley

import (
	"github.com/nevindra/parley/schema"
)

// Instance is one activation of a node: a reference to the node and the
// current state value, which is always valid per the node's schema. At most
// one child; the chain of instances is the conversation's call stack, and
// only the deepest instance (the leaf) receives turns.
type Instance struct {
	node  *Node
	state map[string]any
	child *Instance
}

// NewInstance constructs an activation of node. A nil state selects the
// node's declared default; a node with neither fails with
// ErrMissingInitialState. The chosen state must satisfy the node's schema or
// construction fails with a validation error naming the node.
func NewInstance(node *Node, state map[string]any) (*Instance, error) {
	resolved, err := resolveInitialState(node, state, state != nil)
	if err != nil {
		return nil, err
	}
	return &Instance{node: node, state: resolved}, nil
}

// resolveInitialState picks the explicit state when supplied, else the
// node's default, else fails; the winner is validated and deep-copied so the
// instance owns it.
func resolveInitialState(node *Node, state map[string]any, explicit bool) (map[string]any, error) {
	chosen := state
	if !explicit {
		chosen = node.defaultState
		if chosen == nil && len(node.stateSchema) > 0 {
			return nil, WrapNodeError(node.ID(), ErrMissingInitialState)
		}
		if chosen == nil {
			chosen = map[string]any{}
		}
	}
	if chosen == nil {
		chosen = map[string]any{}
	}
	if err := schema.Validate(node.stateSchema, chosen); err != nil {
		return nil, WrapNodeError(node.ID(), err)
	}
	return schema.Clone(chosen), nil
}

// Node returns the node this instance activates.
func (i *Instance) Node() *Node { return i.node }

// State returns a deep copy of the current state.
func (i *Instance) State() map[string]any {
	return schema.Clone(i.state)
}

// Child returns the child instance, or nil at the leaf.
func (i *Instance) Child() *Instance { return i.child }

// Leaf returns the deepest instance of the chain rooted here.
func (i *Instance) Leaf() *Instance {
	cur := i
	for cur.child != nil {
		cur = cur.child
	}
	return cur
}

// Depth returns the number of instances from here to the leaf, inclusive.
func (i *Instance) Depth() int {
	d := 0
	for cur := i; cur != nil; cur = cur.child {
		d++
	}
	return d
}

// chain returns the instances from here to the leaf, root end first.
func (i *Instance) chain() []*Instance {
	var out []*Instance
	for cur := i; cur != nil; cur = cur.child {
		out = append(out, cur)
	}
	return out
}

// clone deep-copies the chain rooted here. Node references are shared (nodes
// are immutable); state values are copied.
func (i *Instance) clone() *Instance {
	if i == nil {
		return nil
	}
	return &Instance{
		node:  i.node,
		state: schema.Clone(i.state),
		child: i.child.clone(),
	}
}

// parentOf walks from i looking for the instance whose child is target.
// Returns nil when target is i itself or not in the chain.
func (i *Instance) parentOf(target *Instance) *Instance {
	for cur := i; cur != nil; cur = cur.child {
		if cur.child == target {
			return cur
		}
	}
	return nil
}

// setState commits a validated state value. Callers validate first; this
// only installs the copy.
func (i *Instance) setState(state map[string]any) {
	i.state = schema.Clone(state)
}

// replaceLeaf swaps the chain's leaf for repl and returns the new root.
// Ancestors are untouched; replacing a root leaf returns repl itself.
func replaceLeaf(root, repl *Instance) *Instance {
	leaf := root.Leaf()
	if leaf == root {
		return repl
	}
	root.parentOf(leaf).child = repl
	return root
}

// pushLeaf attaches child beneath the current leaf and returns the root.
func pushLeaf(root, child *Instance) *Instance {
	root.Leaf().child = child
	return root
}

// popLeaf removes the leaf. Returns the root and true while a parent
// remains; returns nil and false when the root itself was popped (the
// session is over).
func popLeaf(root *Instance) (*Instance, bool) {
	leaf := root.Leaf()
	if leaf == root {
		return nil, false
	}
	root.parentOf(leaf).child = nil
	return root, true
}
