package parley

import (
	"context"
	"fmt"
	"testing"
)

// scriptExecutor plays pre-configured responses in order and records every
// request it receives. Failing once the script runs out keeps a looping
// machine from spinning forever on a test mistake.
type scriptExecutor struct {
	name      string
	responses []ExecutorResponse
	calls     int
	requests  []ExecutorRequest
}

func script(responses ...ExecutorResponse) *scriptExecutor {
	return &scriptExecutor{name: "script", responses: responses}
}

func (s *scriptExecutor) Name() string { return s.name }

func (s *scriptExecutor) Execute(_ context.Context, req ExecutorRequest) (ExecutorResponse, error) {
	s.requests = append(s.requests, req)
	if s.calls >= len(s.responses) {
		return ExecutorResponse{}, fmt.Errorf("script exhausted after %d responses", len(s.responses))
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

var _ Executor = (*scriptExecutor)(nil)

// --- charter and machine helpers ---

func mustCharter(t *testing.T, exec Executor, nodes ...*Node) *Charter {
	t.Helper()
	c, err := NewCharter("test", WithNodes(nodes...), WithExecutors(exec))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mustMachine(t *testing.T, c *Charter, opts ...MachineOption) *Machine {
	t.Helper()
	m, err := NewMachine(c, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// --- canned transitions and tools ---

// moveTransition returns a code transition that replaces the leaf with a
// fresh activation of target. A nil state defers to the target's default.
func moveTransition(name, target string, state map[string]any) Transition {
	return Transition{
		Name: name,
		Handler: func(context.Context, map[string]any, ToolContext) (TransitionResult, error) {
			if state != nil {
				return MoveTo(target, WithState(state)), nil
			}
			return MoveTo(target), nil
		},
	}
}

// spawnTransition returns a code transition that pushes target beneath the
// current leaf.
func spawnTransition(name, target string, opts ...TransitionOption) Transition {
	return Transition{
		Name: name,
		Handler: func(context.Context, map[string]any, ToolContext) (TransitionResult, error) {
			return Spawn(target, opts...), nil
		},
	}
}

// cedeTransition returns a code transition that pops the leaf with message.
func cedeTransition(name, message string) Transition {
	return Transition{
		Name: name,
		Handler: func(context.Context, map[string]any, ToolContext) (TransitionResult, error) {
			return Cede(message), nil
		},
	}
}

// patchTool returns a tool whose handler merges patch into the leaf state.
func patchTool(name string, patch map[string]any) Tool {
	return Tool{
		Name:        name,
		Description: "patches state",
		Handler: func(_ context.Context, _ map[string]any, tc ToolContext) (ToolReply, error) {
			if err := tc.RequestPatch(patch); err != nil {
				return ToolReply{}, err
			}
			return Text("patched"), nil
		},
	}
}
