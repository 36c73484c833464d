package parley

// Step is one durable record of a single run-loop iteration: which instance
// produced it, the messages exchanged, any transition that was applied, and
// the resulting instance snapshot. Immutable once appended to the machine's
// history.
type Step struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	NodeID string `json:"node_id"` // leaf node at the start of the iteration

	// Messages exchanged during the iteration, in order: the assistant
	// message, tool results, and any cede note delivered to the new leaf.
	Messages []Message `json:"messages"`

	// UserReplies carries verbatim user-channel tool replies. This is the
	// second delivery channel of a tool reply; it never reaches the executor
	// and is never merged with Messages.
	UserReplies []string `json:"user_replies,omitempty"`

	// Transition records the applied transition, if the iteration produced one.
	Transition *AppliedTransition `json:"transition,omitempty"`

	// Snapshot is the portable form of the instance tree after the
	// iteration committed. Durable before the next iteration begins.
	Snapshot *PortableInstance `json:"snapshot,omitempty"`

	Usage Usage `json:"usage"`

	// EndOfTurn marks an iteration whose response proposed no tool calls
	// and no transition: the assistant content is final and the machine is
	// idle until the next user message.
	EndOfTurn bool `json:"end_of_turn"`

	// Terminated marks the iteration that ceded the root: the session is
	// over and no further steps follow.
	Terminated bool `json:"terminated"`

	CreatedAt int64 `json:"created_at"`
}

// AppliedTransition describes a transition the machine applied to its tree.
type AppliedTransition struct {
	Name string         `json:"name"`
	Kind TransitionKind `json:"kind"`
	From string         `json:"from"`
	To   string         `json:"to,omitempty"`      // empty for cede
	Cede string         `json:"message,omitempty"` // cede result message
}

// --- machine events ---

// EventType labels the moments a machine reports through its event callback.
type EventType string

const (
	EventStepStart         EventType = "step_start"
	EventExecutorReturn    EventType = "executor_return"
	EventToolApplied       EventType = "tool_applied"
	EventTransitionApplied EventType = "transition_applied"
	EventStepCommit        EventType = "step_commit"
)

// Event is one observation of run-loop progress. Step is set only for
// EventStepCommit.
type Event struct {
	Type   EventType
	NodeID string
	Name   string // tool or transition name, when applicable
	Step   *Step
}

// EventFunc receives machine events. Called synchronously from the run
// loop; it must not call back into the machine.
type EventFunc func(Event)
