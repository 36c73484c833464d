package parley

import (
	"context"

	"github.com/nevindra/parley/schema"
)

// TransitionFunc executes a transition against the current leaf. args is the
// validated argument map for transitions that declare a Parameters schema,
// and the raw decoded map (no contract) for code transitions. The returned
// TransitionResult is applied to the instance tree by the machine.
type TransitionFunc func(ctx context.Context, args map[string]any, tc ToolContext) (TransitionResult, error)

// Transition is a named edge out of a node (or a charter-level edge visible
// from every node). A nil Parameters schema marks a code transition: no
// exposed argument contract, arguments pass through unvalidated. A non-nil
// schema marks a general transition whose arguments the executor must
// satisfy.
type Transition struct {
	Name        string
	Description string
	Parameters  schema.Schema
	Handler     TransitionFunc
}

// Descriptor returns the executor-facing description of the transition.
func (t Transition) Descriptor() TransitionDescriptor {
	return TransitionDescriptor{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// TransitionKind distinguishes the three outcomes a transition can produce.
type TransitionKind string

const (
	TransitionMove  TransitionKind = "move"
	TransitionSpawn TransitionKind = "spawn"
	TransitionCede  TransitionKind = "cede"
)

// TransitionResult is the single outcome of one transition execution:
// exactly one of move, spawn, or cede. Construct with [MoveTo], [Spawn], or
// [Cede]; the zero value is invalid.
type TransitionResult struct {
	kind     TransitionKind
	nodeID   string
	state    map[string]any
	hasState bool
	message  string
	isolate  bool
}

// TransitionOption configures a move or spawn result.
type TransitionOption func(*TransitionResult)

// WithState supplies the explicit initial state for the target instance.
// Without it, the target node's declared default applies; a node with
// neither fails with ErrMissingInitialState.
func WithState(state map[string]any) TransitionOption {
	return func(r *TransitionResult) {
		r.state = state
		r.hasState = true
	}
}

// Isolated starts a spawned child with an empty message view: the
// sub-dialog's context excludes the conversation that preceded the spawn.
// Ignored by move and cede.
func Isolated() TransitionOption {
	return func(r *TransitionResult) { r.isolate = true }
}

// MoveTo produces a result that replaces the current leaf with a fresh
// activation of nodeID. Ancestors are untouched.
func MoveTo(nodeID string, opts ...TransitionOption) TransitionResult {
	r := TransitionResult{kind: TransitionMove, nodeID: nodeID}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Spawn produces a result that pushes a fresh activation of nodeID as the
// child of the current leaf; the former leaf becomes its parent.
func Spawn(nodeID string, opts ...TransitionOption) TransitionResult {
	r := TransitionResult{kind: TransitionSpawn, nodeID: nodeID}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Cede produces a result that pops the current leaf and delivers message
// into the parent's next-turn context. Ceding the root ends the session.
func Cede(message string) TransitionResult {
	return TransitionResult{kind: TransitionCede, message: message}
}

// Kind reports which outcome this result carries.
func (r TransitionResult) Kind() TransitionKind { return r.kind }

// NodeID returns the target node for move and spawn results.
func (r TransitionResult) NodeID() string { return r.nodeID }

// Message returns the cede result message.
func (r TransitionResult) Message() string { return r.message }
