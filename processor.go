package parley

import (
	"context"
	"fmt"
)

// PreExecuteProcessor runs before the assembled context is sent to the
// executor. Implementations can modify the request (add/remove/transform
// messages) or return an error to halt the iteration.
// Return ErrHalt to short-circuit with a canned response.
// Must be safe for concurrent use across machines.
type PreExecuteProcessor interface {
	PreExecute(ctx context.Context, req *ExecutorRequest) error
}

// PostExecuteProcessor runs after the executor responds, before effects are
// applied. Implementations can modify the response (transform content,
// filter tool calls) or return an error to halt the iteration.
// Return ErrHalt to short-circuit with a canned response.
// Must be safe for concurrent use across machines.
type PostExecuteProcessor interface {
	PostExecute(ctx context.Context, resp *ExecutorResponse) error
}

// PostToolProcessor runs after each tool execution, before the outcome is
// appended to the message history.
// Implementations can modify the outcome (redact content, transform output)
// or return an error to halt the iteration.
// Return ErrHalt to short-circuit with a canned response.
// Must be safe for concurrent use across machines.
type PostToolProcessor interface {
	PostTool(ctx context.Context, call ToolCall, outcome *ToolOutcome) error
}

// ErrHalt signals that a processor wants to stop the iteration and place a
// specific assistant reply in the step instead. The run loop catches
// ErrHalt, commits a step carrying Response, and returns it with a nil
// error. Tool effects applied before the halt stand.
type ErrHalt struct {
	Response string
}

func (e *ErrHalt) Error() string { return "processor halted: " + e.Response }

// ProcessorChain holds an ordered list of processors and runs them at each
// hook point. Processors are type-asserted at each phase — a processor only
// participates in phases whose interface it implements.
type ProcessorChain struct {
	processors []any
}

// NewProcessorChain creates an empty chain.
func NewProcessorChain() *ProcessorChain {
	return &ProcessorChain{}
}

// Add appends a processor to the chain. The processor must implement at
// least one of PreExecuteProcessor, PostExecuteProcessor, or
// PostToolProcessor. Panics if p implements none of the three interfaces.
func (c *ProcessorChain) Add(p any) {
	_, isPre := p.(PreExecuteProcessor)
	_, isPost := p.(PostExecuteProcessor)
	_, isPostTool := p.(PostToolProcessor)
	if !isPre && !isPost && !isPostTool {
		panic(fmt.Sprintf("parley: processor %T implements none of PreExecuteProcessor, PostExecuteProcessor, PostToolProcessor", p))
	}
	c.processors = append(c.processors, p)
}

// RunPreExecute runs all PreExecuteProcessor hooks in registration order.
// Stops and returns the first non-nil error.
func (c *ProcessorChain) RunPreExecute(ctx context.Context, req *ExecutorRequest) error {
	for _, p := range c.processors {
		if pre, ok := p.(PreExecuteProcessor); ok {
			if err := pre.PreExecute(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunPostExecute runs all PostExecuteProcessor hooks in registration order.
// Stops and returns the first non-nil error.
func (c *ProcessorChain) RunPostExecute(ctx context.Context, resp *ExecutorResponse) error {
	for _, p := range c.processors {
		if post, ok := p.(PostExecuteProcessor); ok {
			if err := post.PostExecute(ctx, resp); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunPostTool runs all PostToolProcessor hooks in registration order.
// Stops and returns the first non-nil error.
func (c *ProcessorChain) RunPostTool(ctx context.Context, call ToolCall, outcome *ToolOutcome) error {
	for _, p := range c.processors {
		if pt, ok := p.(PostToolProcessor); ok {
			if err := pt.PostTool(ctx, call, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of registered processors.
func (c *ProcessorChain) Len() int { return len(c.processors) }
