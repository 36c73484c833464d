package parley

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nevindra/parley/schema"
)

// --- run loop ---

// Advance runs one iteration of the run loop: assemble context for the
// current leaf, invoke its executor, then apply the returned tool calls in
// order followed by at most one transition, and append one Step. Effects
// run against a staged copy of the tree; only a fully applied iteration
// commits, so a cancelled or failed iteration leaves the tree and history
// untouched and may be retried.
//
// The error taxonomy of the result: an executor failure or a structural
// transition failure (unknown target node, missing initial state, invalid
// result state, handler error) fails the iteration with no commit.
// Recoverable conditions (unknown tool or transition name, argument
// validation failures, handler errors inside tools) are converted to error
// results in the committed step so the executor can self-correct.
func (m *Machine) Advance(ctx context.Context) (Step, error) {
	if m.runState == StateTerminated {
		return Step{}, ErrTerminated
	}
	if err := ctx.Err(); err != nil {
		return Step{}, err
	}

	leaf := m.root.Leaf()
	nodeID := leaf.Node().ID()

	iterCtx := ctx
	var span Span
	if m.tracer != nil {
		iterCtx, span = m.tracer.Start(ctx, "machine.step",
			StringAttr("node", nodeID),
			IntAttr("step", len(m.steps)))
		defer span.End()
	}

	m.emit(Event{Type: EventStepStart, NodeID: nodeID})
	m.runState = StateAwaitingInference

	req := m.buildRequest(leaf)
	if err := m.processors.RunPreExecute(iterCtx, &req); err != nil {
		var halt *ErrHalt
		if errors.As(err, &halt) {
			return m.commitStage(nodeID, &stage{root: m.root, marks: m.marks,
				msgs: []Message{AssistantMessage(halt.Response)}}, ExecutorResponse{}, nil, true, false), nil
		}
		m.runState = StateIdle
		return Step{}, err
	}

	exec, execName, err := m.charter.executorFor(leaf.Node())
	if err != nil {
		m.runState = StateIdle
		return Step{}, err
	}

	start := time.Now()
	resp, err := exec.Execute(iterCtx, req)
	executorDuration.WithLabelValues(execName).Observe(time.Since(start).Seconds())
	if err != nil {
		m.runState = StateIdle
		m.logger.Error("executor failed", "session", m.sessionID, "node", nodeID,
			"executor", execName, "error", err)
		if span != nil {
			span.Error(err)
		}
		stepsTotal.WithLabelValues(nodeID, "error").Inc()
		return Step{}, fmt.Errorf("executor %s: %w", execName, err)
	}
	m.emit(Event{Type: EventExecutorReturn, NodeID: nodeID, Name: execName})

	if err := m.processors.RunPostExecute(iterCtx, &resp); err != nil {
		var halt *ErrHalt
		if errors.As(err, &halt) {
			return m.commitStage(nodeID, &stage{root: m.root, marks: m.marks,
				msgs: []Message{AssistantMessage(halt.Response)}}, resp, nil, true, false), nil
		}
		m.runState = StateIdle
		return Step{}, err
	}

	m.runState = StateApplyingEffects
	step, err := m.applyEffects(iterCtx, nodeID, resp)
	if err != nil {
		m.runState = StateIdle
		stepsTotal.WithLabelValues(nodeID, "error").Inc()
		if span != nil {
			span.Error(err)
		}
		return Step{}, err
	}
	if span != nil {
		span.SetAttr(
			IntAttr("tokens.input", resp.Usage.InputTokens),
			IntAttr("tokens.output", resp.Usage.OutputTokens),
			BoolAttr("end_of_turn", step.EndOfTurn))
	}
	m.logger.Info("step committed", "session", m.sessionID, "node", nodeID,
		"step", step.Index, "tools", len(resp.ToolCalls),
		"end_of_turn", step.EndOfTurn, "terminated", step.Terminated)
	return step, nil
}

// Turn posts one user message and advances until the executor ends the turn
// or the session terminates. Steps committed before a failure are returned
// alongside the error; the machine can retry from where it stopped.
func (m *Machine) Turn(ctx context.Context, input string) ([]Step, error) {
	if err := m.Post(input); err != nil {
		return nil, err
	}
	var steps []Step
	for range m.turnLimit {
		step, err := m.Advance(ctx)
		if err != nil {
			return steps, err
		}
		steps = append(steps, step)
		if step.EndOfTurn || step.Terminated {
			return steps, nil
		}
	}
	m.logger.Warn("turn limit reached", "session", m.sessionID, "limit", m.turnLimit)
	return steps, ErrTurnLimit
}

// RunCommand executes a command visible from the current leaf: same
// validation as a tool, synchronous, no executor round trip, no step
// appended. State patches requested by the command commit directly to the
// live leaf.
func (m *Machine) RunCommand(ctx context.Context, name string, args map[string]any) (ToolOutcome, error) {
	if m.runState == StateTerminated {
		return ToolOutcome{}, ErrTerminated
	}
	leaf := m.root.Leaf()
	cmd, ok := m.charter.findCommand(leaf.Node(), name)
	if !ok {
		return ToolOutcome{}, fmt.Errorf("%w: %s (node %s)", ErrUnknownCommand, name, leaf.Node().ID())
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ToolOutcome{}, fmt.Errorf("command %s: %w", name, err)
	}
	outcome := runTool(ctx, cmd.Name, cmd.Parameters, cmd.Handler, raw, &patchContext{leaf: leaf})
	toolCallsTotal.WithLabelValues(cmd.Name, outcomeLabel(outcome)).Inc()
	m.logger.Debug("command executed", "session", m.sessionID, "node", leaf.Node().ID(),
		"command", name, "is_error", outcome.IsError)
	return outcome, nil
}

// buildRequest assembles the executor context for the leaf: its
// instructions, the ancestor frame chain, the message view (trimmed to the
// innermost isolation mark), and the tools and transitions visible from it.
func (m *Machine) buildRequest(leaf *Instance) ExecutorRequest {
	chain := m.root.chain()
	var ancestry []Frame
	for _, inst := range chain[:len(chain)-1] {
		ancestry = append(ancestry, Frame{
			NodeID:       inst.Node().ID(),
			Instructions: inst.Node().Instructions(),
		})
	}

	floor := 0
	if n := len(m.marks); n > 0 {
		floor = m.marks[n-1].floor
	}
	view := m.messages[floor:]
	msgs := make([]Message, len(view))
	copy(msgs, view)

	var tools []ToolDescriptor
	for _, t := range m.charter.toolsFor(leaf.Node()) {
		tools = append(tools, t.Descriptor())
	}
	var transitions []TransitionDescriptor
	for _, t := range m.charter.transitionsFor(leaf.Node()) {
		transitions = append(transitions, t.Descriptor())
	}

	return ExecutorRequest{
		SessionID:    m.sessionID,
		NodeID:       leaf.Node().ID(),
		Instructions: leaf.Node().Instructions(),
		Ancestry:     ancestry,
		Messages:     msgs,
		Tools:        tools,
		Transitions:  transitions,
	}
}

// --- effects ---

// stage accumulates one iteration's effects away from the committed state:
// a deep copy of the instance chain, a copy of the isolation marks, and the
// messages and user replies produced so far. Discarding a stage leaves the
// machine exactly at its last committed step.
type stage struct {
	root    *Instance
	marks   []contextMark
	msgs    []Message
	replies []string
}

func (m *Machine) newStage() *stage {
	marks := make([]contextMark, len(m.marks))
	copy(marks, m.marks)
	return &stage{root: m.root.clone(), marks: marks}
}

// applyEffects applies tool calls in the order returned, each observing
// state committed by its predecessors, then at most one transition, then
// commits the stage as one step. The transition runs last regardless of its
// position in the response, so every patch from the same iteration is
// visible to it.
func (m *Machine) applyEffects(ctx context.Context, nodeID string, resp ExecutorResponse) (Step, error) {
	st := m.newStage()
	sLeaf := st.root.Leaf()

	if resp.Content != "" || len(resp.ToolCalls) > 0 {
		st.msgs = append(st.msgs, Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
	}

	halted := false
	for _, call := range resp.ToolCalls {
		var outcome ToolOutcome
		if tool, ok := m.charter.findTool(sLeaf.Node(), call.Name); ok {
			outcome = runTool(ctx, tool.Name, tool.Parameters, tool.Handler, call.Args, &patchContext{leaf: sLeaf})
		} else {
			outcome = ToolOutcome{
				Content: fmt.Sprintf("tool %s: not available on node %s", call.Name, sLeaf.Node().ID()),
				IsError: true,
			}
		}

		if err := m.processors.RunPostTool(ctx, call, &outcome); err != nil {
			var halt *ErrHalt
			if !errors.As(err, &halt) {
				return Step{}, err
			}
			st.msgs = append(st.msgs, ToolResultMessage(call.ID, outcome.Content), AssistantMessage(halt.Response))
			halted = true
			break
		}

		toolCallsTotal.WithLabelValues(call.Name, outcomeLabel(outcome)).Inc()
		m.emit(Event{Type: EventToolApplied, NodeID: nodeID, Name: call.Name})
		m.logger.Debug("tool applied", "session", m.sessionID, "node", nodeID,
			"tool", call.Name, "is_error", outcome.IsError)

		st.msgs = append(st.msgs, ToolResultMessage(call.ID, outcome.Content))
		if outcome.UserMessage != "" {
			st.replies = append(st.replies, outcome.UserMessage)
		}
	}

	var applied *AppliedTransition
	terminated := false
	if !halted && resp.Transition != nil {
		var err error
		applied, terminated, err = m.applyTransition(ctx, resp.Transition, st)
		if err != nil {
			return Step{}, err
		}
		if applied != nil {
			transitionsTotal.WithLabelValues(string(applied.Kind), applied.From, applied.To).Inc()
			m.emit(Event{Type: EventTransitionApplied, NodeID: nodeID, Name: applied.Name})
		}
	}

	// A response proposing no further action ends the turn.
	endOfTurn := halted || terminated ||
		(len(resp.ToolCalls) == 0 && resp.Transition == nil)

	if err := ctx.Err(); err != nil {
		return Step{}, err
	}
	return m.commitStage(nodeID, st, resp, applied, endOfTurn, terminated), nil
}

// applyTransition resolves and executes one transition against the staged
// leaf. A name that does not resolve or arguments that fail validation are
// recoverable: a note joins the staged messages and no transition applies.
// A handler failure or an unappliable result is structural and fails the
// iteration.
func (m *Machine) applyTransition(ctx context.Context, call *TransitionCall, st *stage) (*AppliedTransition, bool, error) {
	leaf := st.root.Leaf()
	from := leaf.Node().ID()

	t, ok := m.charter.resolveTransition(leaf.Node(), call.Name)
	if !ok {
		st.msgs = append(st.msgs, SystemMessage(
			fmt.Sprintf("transition %s: not available from node %s", call.Name, from)))
		return nil, false, nil
	}

	args, err := decodeArgs(call.Args)
	if err != nil {
		st.msgs = append(st.msgs, SystemMessage(
			fmt.Sprintf("transition %s: invalid arguments: %v", call.Name, err)))
		return nil, false, nil
	}
	if t.Parameters != nil {
		if err := schema.Validate(t.Parameters, args); err != nil {
			st.msgs = append(st.msgs, SystemMessage(
				fmt.Sprintf("transition %s: %v", call.Name, err)))
			return nil, false, nil
		}
	}

	result, err := runTransition(ctx, t, args, &patchContext{leaf: leaf})
	if err != nil {
		return nil, false, WrapTransitionError(from, call.Name, err)
	}

	switch result.kind {
	case TransitionMove:
		inst, err := m.activate(call.Name, from, result)
		if err != nil {
			return nil, false, err
		}
		st.root = replaceLeaf(st.root, inst)
		return &AppliedTransition{Name: call.Name, Kind: TransitionMove, From: from, To: inst.Node().ID()}, false, nil

	case TransitionSpawn:
		inst, err := m.activate(call.Name, from, result)
		if err != nil {
			return nil, false, err
		}
		st.root = pushLeaf(st.root, inst)
		if result.isolate {
			st.marks = append(st.marks, contextMark{
				depth: st.root.Depth(),
				floor: len(m.messages) + len(st.msgs),
			})
		}
		return &AppliedTransition{Name: call.Name, Kind: TransitionSpawn, From: from, To: inst.Node().ID()}, false, nil

	case TransitionCede:
		depth := st.root.Depth()
		parent, ok := popLeaf(st.root)
		if !ok {
			// Root ceded: the session is over. The tree keeps its final
			// shape for inspection and snapshots.
			return &AppliedTransition{Name: call.Name, Kind: TransitionCede, From: from, Cede: result.message}, true, nil
		}
		st.root = parent
		if n := len(st.marks); n > 0 && st.marks[n-1].depth == depth {
			st.marks = st.marks[:n-1]
		}
		st.msgs = append(st.msgs, SystemMessage(
			fmt.Sprintf("sub-dialog %s returned: %s", from, result.message)))
		return &AppliedTransition{Name: call.Name, Kind: TransitionCede, From: from, Cede: result.message}, false, nil

	default:
		return nil, false, WrapTransitionError(from, call.Name, fmt.Errorf("handler returned no outcome"))
	}
}

// activate builds the instance a move or spawn installs, resolving its
// initial state per the explicit-else-default rule.
func (m *Machine) activate(name, from string, r TransitionResult) (*Instance, error) {
	target, ok := m.charter.Node(r.nodeID)
	if !ok {
		return nil, WrapTransitionError(from, name, fmt.Errorf("%w: %s", ErrUnknownNode, r.nodeID))
	}
	state, err := resolveInitialState(target, r.state, r.hasState)
	if err != nil {
		return nil, WrapTransitionError(from, name, err)
	}
	return &Instance{node: target, state: state}, nil
}

// commitStage swaps the staged tree in, appends the staged messages and one
// Step, and settles the run state. This is the single mutation point of a
// run-loop iteration.
func (m *Machine) commitStage(nodeID string, st *stage, resp ExecutorResponse, applied *AppliedTransition, endOfTurn, terminated bool) Step {
	m.root = st.root
	m.marks = st.marks
	m.messages = append(m.messages, st.msgs...)
	m.usage.InputTokens += resp.Usage.InputTokens
	m.usage.OutputTokens += resp.Usage.OutputTokens

	step := Step{
		ID:          NewID(),
		Index:       len(m.steps),
		NodeID:      nodeID,
		Messages:    st.msgs,
		UserReplies: st.replies,
		Transition:  applied,
		Snapshot:    Serialize(m.root),
		Usage:       resp.Usage,
		EndOfTurn:   endOfTurn,
		Terminated:  terminated,
		CreatedAt:   NowUnix(),
	}
	m.steps = append(m.steps, step)

	if terminated {
		m.runState = StateTerminated
	} else {
		m.runState = StateIdle
	}
	stepsTotal.WithLabelValues(nodeID, "ok").Inc()
	m.emit(Event{Type: EventStepCommit, NodeID: nodeID, Step: &step})
	return step
}

// runTransition invokes a transition handler with panic recovery. A panic
// is a structural failure of the transition, not of the process.
func runTransition(ctx context.Context, t Transition, args map[string]any, tc ToolContext) (result TransitionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if t.Handler == nil {
		return TransitionResult{}, fmt.Errorf("no handler")
	}
	return t.Handler(ctx, args, tc)
}

// --- tool context ---

// patchContext exposes one instance's state to a handler. Patches merge per
// the state-merge rules and validate against the owning node's schema
// before committing to the instance; handlers never hold a live reference
// into the tree.
type patchContext struct {
	leaf *Instance
}

var _ ToolContext = (*patchContext)(nil)

func (p *patchContext) NodeID() string { return p.leaf.Node().ID() }

func (p *patchContext) State() map[string]any { return p.leaf.State() }

func (p *patchContext) RequestPatch(partial map[string]any) error {
	merged := schema.Merge(p.leaf.state, partial)
	if err := schema.Validate(p.leaf.Node().Schema(), merged); err != nil {
		return WrapNodeError(p.leaf.Node().ID(), err)
	}
	p.leaf.setState(merged)
	return nil
}
