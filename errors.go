package parley

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for category checks with errors.Is.
var (
	// ErrUnknownNode reports a node identifier that the charter does not define.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownTransition reports a transition name not visible from the current leaf.
	ErrUnknownTransition = errors.New("unknown transition")
	// ErrUnknownExecutor reports an executor name absent from the charter registry.
	ErrUnknownExecutor = errors.New("unknown executor")
	// ErrMissingInitialState reports a move or spawn to a node with neither an
	// explicit state nor a declared default.
	ErrMissingInitialState = errors.New("no explicit state and no default state")
	// ErrTerminated reports a turn driven against a machine whose session has ended.
	ErrTerminated = errors.New("machine terminated")
	// ErrUnknownCommand reports a command name not visible from the current leaf.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTurnLimit reports a turn that hit its step cap before the executor
	// ended it. Committed steps stand; the caller decides whether to keep
	// advancing.
	ErrTurnLimit = errors.New("turn step limit reached")

	// Store sentinels.
	ErrSessionNotFound  = errors.New("session not found")
	ErrTurnNotFound     = errors.New("turn not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// NodeError wraps an error with the node it occurred on.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// WrapNodeError wraps an error with node context. Returns nil for nil err.
func WrapNodeError(nodeID string, err error) error {
	if err == nil {
		return nil
	}
	return &NodeError{NodeID: nodeID, Err: err}
}

// TransitionError wraps an error with the transition and source node it
// occurred on.
type TransitionError struct {
	NodeID string
	Name   string
	Err    error
}

func (e *TransitionError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("transition %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("transition %q from node %s: %v", e.Name, e.NodeID, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// WrapTransitionError wraps an error with transition context. Returns nil
// for nil err.
func WrapTransitionError(nodeID, name string, err error) error {
	if err == nil {
		return nil
	}
	return &TransitionError{NodeID: nodeID, Name: name, Err: err}
}

// ErrExecutor reports a failure inside an executor capability. Retryable
// marks failures worth another attempt (backend overload, transient
// transport trouble); WithRetry honors it.
type ErrExecutor struct {
	Executor  string
	Message   string
	Retryable bool
}

func (e *ErrExecutor) Error() string {
	return fmt.Sprintf("%s: %s", e.Executor, e.Message)
}

// ErrHTTP reports a transport failure from a remote executor backend.
// RetryAfter carries the server's Retry-After hint when present.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
