package parley

import "context"

// Executor is the pluggable inference capability: it turns an assembled
// context into assistant content, proposed tool calls, and at most one
// transition request. Implementations wrap an LLM, a voice transport, or a
// deterministic script; the machine never looks inside.
//
// Execute may block arbitrarily long (network call); it must honor ctx. A
// returned error fails the current iteration only: committed history and
// the instance tree are untouched and the caller may retry.
type Executor interface {
	// Name identifies the executor in the charter registry and in logs.
	Name() string
	// Execute produces the response for one run-loop iteration.
	Execute(ctx context.Context, req ExecutorRequest) (ExecutorResponse, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc struct {
	ExecName string
	Fn       func(ctx context.Context, req ExecutorRequest) (ExecutorResponse, error)
}

func (e ExecutorFunc) Name() string { return e.ExecName }

func (e ExecutorFunc) Execute(ctx context.Context, req ExecutorRequest) (ExecutorResponse, error) {
	return e.Fn(ctx, req)
}

var _ Executor = ExecutorFunc{}
