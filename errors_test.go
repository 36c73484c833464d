package parley

import (
	"errors"
	"testing"
	"time"
)

func TestErrExecutorMessage(t *testing.T) {
	tests := []struct {
		executor string
		message  string
		want     string
	}{
		{"anthropic", "rate limited", "anthropic: rate limited"},
		{"voice", "transport reset", "voice: transport reset"},
	}
	for _, tt := range tests {
		e := &ErrExecutor{Executor: tt.executor, Message: tt.message}
		if got := e.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrHTTPMessage(t *testing.T) {
	e := &ErrHTTP{Status: 429, Body: "slow down", RetryAfter: time.Second}
	if got := e.Error(); got != "http 429: slow down" {
		t.Errorf("Error() = %q", got)
	}

	zero := &ErrHTTP{}
	if got := zero.Error(); got != "http 0: " {
		t.Errorf("Error() = %q", got)
	}
}

func TestNodeErrorWraps(t *testing.T) {
	err := WrapNodeError("booking", ErrMissingInitialState)
	if got := err.Error(); got != "node booking: no explicit state and no default state" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrMissingInitialState) {
		t.Error("errors.Is should see through the wrapper")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "booking" {
		t.Errorf("errors.As: %+v", nodeErr)
	}
}

func TestTransitionErrorFormats(t *testing.T) {
	withNode := WrapTransitionError("desk", "to_booking", errors.New("boom"))
	if got := withNode.Error(); got != `transition "to_booking" from node desk: boom` {
		t.Errorf("Error() = %q", got)
	}

	bare := WrapTransitionError("", "to_booking", errors.New("boom"))
	if got := bare.Error(); got != `transition "to_booking": boom` {
		t.Errorf("Error() = %q", got)
	}
}

func TestTransitionErrorUnwrap(t *testing.T) {
	err := WrapTransitionError("desk", "warp", ErrUnknownNode)
	if !errors.Is(err, ErrUnknownNode) {
		t.Error("errors.Is should see through the wrapper")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if WrapNodeError("desk", nil) != nil {
		t.Error("WrapNodeError(nil) should be nil")
	}
	if WrapTransitionError("desk", "warp", nil) != nil {
		t.Error("WrapTransitionError(nil) should be nil")
	}
}

func TestGuardErrorMessage(t *testing.T) {
	e := &GuardError{Reason: "injection pattern (layer 1)"}
	if got := e.Error(); got != "input rejected: injection pattern (layer 1)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrHaltMessage(t *testing.T) {
	e := &ErrHalt{Response: "we are closed"}
	if got := e.Error(); got != "processor halted: we are closed" {
		t.Errorf("Error() = %q", got)
	}
}
