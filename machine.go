package parley

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// RunState is the phase of a machine's run loop.
type RunState string

const (
	// StateIdle means the machine is between iterations, waiting for input
	// or the next Advance call.
	StateIdle RunState = "idle"
	// StateAwaitingInference means an executor call is in flight.
	StateAwaitingInference RunState = "awaiting_inference"
	// StateApplyingEffects means tool calls and any transition from the
	// last response are being applied.
	StateApplyingEffects RunState = "applying_effects"
	// StateTerminated means the root instance ceded; the session is over.
	StateTerminated RunState = "terminated"
)

// contextMark records where an isolated sub-dialog's message view begins.
// Marks form a stack alongside the instance chain: a mark is pushed by an
// isolated spawn and popped when that instance cedes.
type contextMark struct {
	depth int // depth of the isolated instance in the chain
	floor int // index into the message history where its view starts
}

// Machine drives one conversation session: a charter shared read-only with
// every other machine running it, a live instance tree, the message history,
// and an append-only sequence of committed steps.
//
// A Machine is not safe for concurrent use. Drive it from a single
// goroutine; distinct machines are fully independent.
type Machine struct {
	charter  *Charter
	root     *Instance
	steps    []Step
	runState RunState

	messages []Message
	marks    []contextMark

	usage     Usage
	sessionID string
	turnLimit int

	logger     *slog.Logger
	tracer     Tracer
	processors *ProcessorChain
	guard      *InjectionGuard
	onEvent    EventFunc
}

const defaultTurnLimit = 10

// MachineOption configures a machine at construction.
type MachineOption func(*machineConfig)

type machineConfig struct {
	initialNode  string
	initialState map[string]any
	sessionID    string
	messages     []Message
	turnLimit    int
	logger       *slog.Logger
	tracer       Tracer
	processors   []any
	guard        *InjectionGuard
	onEvent      EventFunc
}

// WithInitialNode selects the node the root instance activates. Defaults to
// the charter's first registered node.
func WithInitialNode(nodeID string) MachineOption {
	return func(c *machineConfig) { c.initialNode = nodeID }
}

// WithInitialState supplies the root instance's initial state, overriding
// the node's declared default.
func WithInitialState(state map[string]any) MachineOption {
	return func(c *machineConfig) { c.initialState = state }
}

// WithSessionID fixes the session identifier. Defaults to a fresh id.
func WithSessionID(id string) MachineOption {
	return func(c *machineConfig) { c.sessionID = id }
}

// WithMessages seeds the message history, typically with messages loaded
// from a turn store when resuming a restored session.
func WithMessages(msgs ...Message) MachineOption {
	return func(c *machineConfig) { c.messages = append(c.messages, msgs...) }
}

// WithTurnLimit caps the number of steps one Turn call will run before
// giving up with ErrTurnLimit. The zero value uses a built-in default of 10.
func WithTurnLimit(n int) MachineOption {
	return func(c *machineConfig) { c.turnLimit = n }
}

// WithLogger sets the structured logger. If not set, a no-op logger is used
// (no output).
func WithLogger(l *slog.Logger) MachineOption {
	return func(c *machineConfig) { c.logger = l }
}

// WithTracer sets the tracer. When set, the machine emits spans for each
// run-loop iteration. Use observer.NewTracer() for an OTEL-backed
// implementation.
func WithTracer(t Tracer) MachineOption {
	return func(c *machineConfig) { c.tracer = t }
}

// WithProcessors adds processors to the machine's execution pipeline. Each
// processor must implement at least one of PreExecuteProcessor,
// PostExecuteProcessor, or PostToolProcessor. Processors run in registration
// order at their respective hook points.
func WithProcessors(processors ...any) MachineOption {
	return func(c *machineConfig) { c.processors = append(c.processors, processors...) }
}

// WithGuard screens user input through an InjectionGuard before it enters
// the message history.
func WithGuard(g *InjectionGuard) MachineOption {
	return func(c *machineConfig) { c.guard = g }
}

// WithEventFunc registers a callback observing run-loop progress. Called
// synchronously; it must not call back into the machine.
func WithEventFunc(fn EventFunc) MachineOption {
	return func(c *machineConfig) { c.onEvent = fn }
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

func buildMachineConfig(opts []MachineOption) machineConfig {
	var c machineConfig
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	if c.turnLimit <= 0 {
		c.turnLimit = defaultTurnLimit
	}
	return c
}

// NewMachine creates a machine for one session of the given charter. The
// root instance activates the configured initial node with the configured
// state, the node's default state, or fails with ErrMissingInitialState.
// Construction verifies that every node in the tree resolves to a
// registered executor; a dangling reference fails here, naming the
// available executors.
func NewMachine(c *Charter, opts ...MachineOption) (*Machine, error) {
	if c == nil {
		return nil, fmt.Errorf("machine: charter is required")
	}
	cfg := buildMachineConfig(opts)

	nodeID := cfg.initialNode
	if nodeID == "" {
		nodeID = c.nodeOrder[0]
	}
	node, ok := c.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("machine: %w: %s", ErrUnknownNode, nodeID)
	}
	root, err := NewInstance(node, cfg.initialState)
	if err != nil {
		return nil, fmt.Errorf("machine: %w", err)
	}
	return newMachine(c, root, cfg)
}

// Restore reconstructs a machine from a serialized snapshot, re-validating
// every level against the current charter. Any unknown node identifier or
// state validation failure is fatal for the whole reconstruction. The
// message history is not part of the snapshot; seed it with WithMessages
// when the session should resume with context.
func Restore(c *Charter, snapshot json.RawMessage, opts ...MachineOption) (*Machine, error) {
	if c == nil {
		return nil, fmt.Errorf("machine: charter is required")
	}
	root, err := DecodeSnapshot(c, snapshot)
	if err != nil {
		return nil, fmt.Errorf("machine: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("machine: empty snapshot")
	}
	return newMachine(c, root, buildMachineConfig(opts))
}

func newMachine(c *Charter, root *Instance, cfg machineConfig) (*Machine, error) {
	m := &Machine{
		charter:    c,
		root:       root,
		runState:   StateIdle,
		messages:   cfg.messages,
		sessionID:  cfg.sessionID,
		turnLimit:  cfg.turnLimit,
		logger:     cfg.logger,
		tracer:     cfg.tracer,
		processors: NewProcessorChain(),
		guard:      cfg.guard,
		onEvent:    cfg.onEvent,
	}
	if m.sessionID == "" {
		m.sessionID = NewID()
	}
	for _, p := range cfg.processors {
		m.processors.Add(p)
	}
	for _, inst := range root.chain() {
		if _, _, err := c.executorFor(inst.Node()); err != nil {
			return nil, fmt.Errorf("machine: %w", err)
		}
	}
	return m, nil
}

// Charter returns the charter this machine runs.
func (m *Machine) Charter() *Charter { return m.charter }

// SessionID returns the session identifier.
func (m *Machine) SessionID() string { return m.sessionID }

// RunState returns the run loop's current phase.
func (m *Machine) RunState() RunState { return m.runState }

// Terminated reports whether the root instance has ceded.
func (m *Machine) Terminated() bool { return m.runState == StateTerminated }

// Root returns the root of the instance tree.
func (m *Machine) Root() *Instance { return m.root }

// Leaf returns the active instance.
func (m *Machine) Leaf() *Instance { return m.root.Leaf() }

// Steps returns a copy of the committed step history.
func (m *Machine) Steps() []Step {
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// Messages returns a copy of the full message history.
func (m *Machine) Messages() []Message {
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Usage returns the session's accumulated token usage.
func (m *Machine) Usage() Usage { return m.usage }

// Portable returns the portable form of the current instance tree.
func (m *Machine) Portable() *PortableInstance {
	return Serialize(m.root)
}

// Snapshot serializes the current instance tree for a snapshot or turn
// store.
func (m *Machine) Snapshot() (json.RawMessage, error) {
	return EncodeSnapshot(m.root)
}

// Post appends a user message for the next turn. When a guard is
// configured, the input is screened first: a rejection fails here with
// *GuardError and nothing enters the history; an annotation is recorded
// beside the message for the executor to weigh.
func (m *Machine) Post(text string) error {
	if m.runState == StateTerminated {
		return ErrTerminated
	}
	note := ""
	if m.guard != nil {
		var err error
		note, err = m.guard.Check(text)
		if err != nil {
			m.logger.Warn("input rejected", "session", m.sessionID, "error", err)
			return err
		}
	}
	m.messages = append(m.messages, UserMessage(text))
	if note != "" {
		m.messages = append(m.messages, SystemMessage(note))
	}
	return nil
}

func (m *Machine) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
