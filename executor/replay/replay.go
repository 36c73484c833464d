// Package replay provides a deterministic, scripted implementation of the
// executor capability. It plays back canned responses in order and fails
// once the script is exhausted, which makes machine behavior fully
// reproducible in tests, demos, and offline runs of recorded sessions.
package replay

import (
	"context"
	"fmt"
	"sync"

	parley "github.com/nevindra/parley"
)

// Executor plays back a fixed script of responses. Safe for concurrent use,
// though a script shared between machines will interleave.
type Executor struct {
	name string

	mu       sync.Mutex
	script   []parley.ExecutorResponse
	next     int
	requests []parley.ExecutorRequest
}

// Option configures the executor.
type Option func(*Executor)

// WithName overrides the registry name (default "replay"). Use distinct
// names when one charter carries several scripted executors.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// New creates a scripted executor that returns the given responses in order.
func New(responses []parley.ExecutorResponse, opts ...Option) *Executor {
	e := &Executor{
		name:   "replay",
		script: responses,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Name() string { return e.name }

// Execute returns the next scripted response. Once the script runs out every
// further call fails with a *parley.ErrExecutor; the error is not marked
// retryable since replaying the same call can never succeed.
func (e *Executor) Execute(ctx context.Context, req parley.ExecutorRequest) (parley.ExecutorResponse, error) {
	if err := ctx.Err(); err != nil {
		return parley.ExecutorResponse{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.requests = append(e.requests, req)
	if e.next >= len(e.script) {
		return parley.ExecutorResponse{}, &parley.ErrExecutor{
			Executor: e.name,
			Message:  fmt.Sprintf("script exhausted after %d responses", len(e.script)),
		}
	}
	resp := e.script[e.next]
	e.next++
	return resp, nil
}

// Remaining reports how many scripted responses have not been played yet.
func (e *Executor) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.script) - e.next
}

// Requests returns a copy of every request seen so far, in call order.
// Useful for asserting what context the machine assembled.
func (e *Executor) Requests() []parley.ExecutorRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]parley.ExecutorRequest, len(e.requests))
	copy(out, e.requests)
	return out
}

var _ parley.Executor = (*Executor)(nil)
