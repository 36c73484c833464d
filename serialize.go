package parley

import (
	"encoding/json"
	"fmt"

	"github.com/nevindra/parley/schema"
)

// PortableInstance is the durable form of one activation: the node by
// identifier (never by value), the state, and the child, mirroring the live
// chain shape exactly.
type PortableInstance struct {
	Node  string            `json:"node"`
	State map[string]any    `json:"state"`
	Child *PortableInstance `json:"child,omitempty"`
}

// Serialize converts a live chain into its portable form. A nil tree (a
// terminated session) serializes to nil.
func Serialize(root *Instance) *PortableInstance {
	if root == nil {
		return nil
	}
	return &PortableInstance{
		Node:  root.node.ID(),
		State: schema.Clone(root.state),
		Child: Serialize(root.child),
	}
}

// Deserialize reconstructs a live chain from its portable form, resolving
// every node identifier against the CURRENT charter and re-validating every
// state value against that node's current schema. This is how schema
// evolution is handled: a snapshot taken under an older charter either still
// satisfies today's schemas or fails here.
//
// Any unknown node or validation failure is fatal for the whole
// reconstruction; a session cannot be partially resumed.
func Deserialize(c *Charter, p *PortableInstance) (*Instance, error) {
	if p == nil {
		return nil, nil
	}
	node, ok := c.Node(p.Node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, p.Node)
	}
	state := p.State
	if state == nil {
		state = map[string]any{}
	}
	if err := schema.Validate(node.Schema(), state); err != nil {
		return nil, WrapNodeError(node.ID(), err)
	}
	child, err := Deserialize(c, p.Child)
	if err != nil {
		return nil, err
	}
	return &Instance{
		node:  node,
		state: schema.Clone(state),
		child: child,
	}, nil
}

// EncodeSnapshot marshals the portable form of a live chain.
func EncodeSnapshot(root *Instance) (json.RawMessage, error) {
	raw, err := json.Marshal(Serialize(root))
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// DecodeSnapshot unmarshals a portable form and reconstructs the live chain
// against charter. Empty or null input yields a nil tree.
func DecodeSnapshot(c *Charter, raw json.RawMessage) (*Instance, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p *PortableInstance
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return Deserialize(c, p)
}
