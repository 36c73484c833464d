package parley

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func namedExec(name string) Executor {
	return ExecutorFunc{
		ExecName: name,
		Fn: func(context.Context, ExecutorRequest) (ExecutorResponse, error) {
			return ExecutorResponse{}, nil
		},
	}
}

// --- construction ---

func TestNewCharterValidation(t *testing.T) {
	tests := []struct {
		name    string
		charter string
		opts    []CharterOption
		wantErr string
	}{
		{
			name:    "empty name",
			charter: "",
			opts:    []CharterOption{WithNode(MustNode("a", "A."))},
			wantErr: "name is required",
		},
		{
			name:    "no nodes",
			charter: "empty",
			opts:    nil,
			wantErr: "at least one node",
		},
		{
			name:    "nil node",
			charter: "broken",
			opts:    []CharterOption{WithNode(nil)},
			wantErr: "node is nil",
		},
		{
			name:    "duplicate node id",
			charter: "dup",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithNode(MustNode("a", "A again.")),
			},
			wantErr: "duplicate node id: a",
		},
		{
			name:    "duplicate executor name",
			charter: "dup-exec",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithExecutors(namedExec("alpha"), namedExec("alpha")),
			},
			wantErr: "duplicate executor name: alpha",
		},
		{
			name:    "empty executor name",
			charter: "anon-exec",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithExecutors(ExecutorFunc{}),
			},
			wantErr: "empty name",
		},
		{
			name:    "unregistered default executor",
			charter: "bad-default",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithExecutors(namedExec("alpha")),
				WithDefaultExecutor("ghost"),
			},
			wantErr: "default executor ghost",
		},
		{
			name:    "charter transition without name",
			charter: "anon-transition",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithCharterTransition(Transition{Handler: func(context.Context, map[string]any, ToolContext) (TransitionResult, error) {
					return Cede("done"), nil
				}}),
			},
			wantErr: "transition name is required",
		},
		{
			name:    "charter transition without handler",
			charter: "no-handler",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithCharterTransition(Transition{Name: "restart"}),
			},
			wantErr: "handler is required",
		},
		{
			name:    "duplicate charter transition",
			charter: "dup-transition",
			opts: []CharterOption{
				WithNode(MustNode("a", "A.")),
				WithCharterTransition(cedeTransition("restart", "over")),
				WithCharterTransition(cedeTransition("restart", "over")),
			},
			wantErr: "duplicate charter transition",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCharter(tt.charter, tt.opts...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCharterAccessors(t *testing.T) {
	c, err := NewCharter("support",
		WithNodes(MustNode("c", "C."), MustNode("a", "A."), MustNode("b", "B.")),
		WithExecutors(namedExec("zeta"), namedExec("alpha")),
	)
	if err != nil {
		t.Fatal(err)
	}

	if c.Name() != "support" {
		t.Errorf("Name = %q", c.Name())
	}
	ids := c.NodeIDs()
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("NodeIDs = %v, want registration order [c a b]", ids)
	}
	names := c.ExecutorNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("ExecutorNames = %v, want sorted [alpha zeta]", names)
	}
	if _, ok := c.Node("b"); !ok {
		t.Error("Node(b) not found")
	}
	if _, ok := c.Node("ghost"); ok {
		t.Error("Node(ghost) should not resolve")
	}
	if _, ok := c.Executor("zeta"); !ok {
		t.Error("Executor(zeta) not found")
	}
}

// --- executor resolution ---

func TestExecutorForFirstRegisteredIsDefault(t *testing.T) {
	plain := MustNode("a", "A.")
	c, err := NewCharter("support",
		WithNode(plain),
		WithExecutors(namedExec("alpha"), namedExec("beta")),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, name, err := c.executorFor(plain)
	if err != nil {
		t.Fatal(err)
	}
	if name != "alpha" {
		t.Errorf("resolved %q, want the first registered %q", name, "alpha")
	}
}

func TestExecutorForDeclaredDefault(t *testing.T) {
	plain := MustNode("a", "A.")
	c, err := NewCharter("support",
		WithNode(plain),
		WithExecutors(namedExec("alpha"), namedExec("beta")),
		WithDefaultExecutor("beta"),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, name, err := c.executorFor(plain)
	if err != nil {
		t.Fatal(err)
	}
	if name != "beta" {
		t.Errorf("resolved %q, want the declared default %q", name, "beta")
	}
}

func TestExecutorForNodeOverride(t *testing.T) {
	voice := MustNode("a", "A.", WithExecutor("beta"))
	c, err := NewCharter("support",
		WithNode(voice),
		WithExecutors(namedExec("alpha"), namedExec("beta")),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, name, err := c.executorFor(voice)
	if err != nil {
		t.Fatal(err)
	}
	if name != "beta" {
		t.Errorf("resolved %q, want the node's own %q", name, "beta")
	}
}

func TestExecutorForUnknownListsAvailable(t *testing.T) {
	voice := MustNode("a", "A.", WithExecutor("ghost"))
	c, err := NewCharter("support",
		WithNode(voice),
		WithExecutors(namedExec("alpha")),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = c.executorFor(voice)
	if !errors.Is(err, ErrUnknownExecutor) {
		t.Fatalf("expected ErrUnknownExecutor, got %v", err)
	}
	if !strings.Contains(err.Error(), "ghost") || !strings.Contains(err.Error(), "alpha") {
		t.Errorf("error should name the missing and available executors, got %v", err)
	}
}

func TestExecutorForNoneRegistered(t *testing.T) {
	plain := MustNode("a", "A.")
	c, err := NewCharter("support", WithNode(plain))
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = c.executorFor(plain)
	if !errors.Is(err, ErrUnknownExecutor) {
		t.Fatalf("expected ErrUnknownExecutor, got %v", err)
	}
	if !strings.Contains(err.Error(), "none declared") {
		t.Errorf("error = %v", err)
	}
}

// --- transition visibility ---

func TestCharterTransitionVisibleFromEveryNode(t *testing.T) {
	a := MustNode("a", "A.")
	b := MustNode("b", "B.")
	c, err := NewCharter("support",
		WithNodes(a, b),
		WithCharterTransition(cedeTransition("restart", "starting over")),
	)
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []*Node{a, b} {
		if _, ok := c.resolveTransition(n, "restart"); !ok {
			t.Errorf("restart not visible from %s", n.ID())
		}
		found := false
		for _, tr := range c.transitionsFor(n) {
			if tr.Name == "restart" {
				found = true
			}
		}
		if !found {
			t.Errorf("transitionsFor(%s) missing restart", n.ID())
		}
	}
}

func TestNodeTransitionShadowsCharter(t *testing.T) {
	local := Transition{
		Name:        "escalate",
		Description: "node-level",
		Handler: func(context.Context, map[string]any, ToolContext) (TransitionResult, error) {
			return MoveTo("a"), nil
		},
	}
	global := Transition{
		Name:        "escalate",
		Description: "charter-level",
		Handler: func(context.Context, map[string]any, ToolContext) (TransitionResult, error) {
			return Cede("escalated"), nil
		},
	}
	a := MustNode("a", "A.", WithTransition(local))
	b := MustNode("b", "B.")
	c, err := NewCharter("support",
		WithNodes(a, b),
		WithCharterTransition(global),
	)
	if err != nil {
		t.Fatal(err)
	}

	got, ok := c.resolveTransition(a, "escalate")
	if !ok || got.Description != "node-level" {
		t.Errorf("from a: resolved %q, want the node-local definition", got.Description)
	}
	got, ok = c.resolveTransition(b, "escalate")
	if !ok || got.Description != "charter-level" {
		t.Errorf("from b: resolved %q, want the charter definition", got.Description)
	}

	// The shadowed charter transition must not show up twice.
	count := 0
	for _, tr := range c.transitionsFor(a) {
		if tr.Name == "escalate" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("transitionsFor(a) lists escalate %d times, want 1", count)
	}
}

// --- tool pack visibility ---

func TestPackToolsVisibleFromEveryNode(t *testing.T) {
	pack := NewToolPack()
	pack.Add(Tool{
		Name:        "weather",
		Description: "pack-level",
		Handler: func(context.Context, map[string]any, ToolContext) (ToolReply, error) {
			return Text("sunny"), nil
		},
	})
	pack.AddCommand(Command{
		Name: "status",
		Handler: func(context.Context, map[string]any, ToolContext) (ToolReply, error) {
			return Text("all good"), nil
		},
	})
	a := MustNode("a", "A.")
	c, err := NewCharter("support", WithNode(a), WithToolPack(pack))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := c.findTool(a, "weather"); !ok {
		t.Error("pack tool not visible")
	}
	if _, ok := c.findCommand(a, "status"); !ok {
		t.Error("pack command not visible")
	}
	if got := len(c.toolsFor(a)); got != 1 {
		t.Errorf("toolsFor = %d entries, want 1", got)
	}
	if got := len(c.commandsFor(a)); got != 1 {
		t.Errorf("commandsFor = %d entries, want 1", got)
	}
}

func TestNodeToolShadowsPack(t *testing.T) {
	pack := NewToolPack()
	pack.Add(Tool{
		Name:        "weather",
		Description: "pack-level",
		Handler: func(context.Context, map[string]any, ToolContext) (ToolReply, error) {
			return Text("sunny"), nil
		},
	})
	local := Tool{
		Name:        "weather",
		Description: "node-level",
		Handler: func(context.Context, map[string]any, ToolContext) (ToolReply, error) {
			return Text("indoors"), nil
		},
	}
	a := MustNode("a", "A.", WithTool(local))
	b := MustNode("b", "B.")
	c, err := NewCharter("support", WithNodes(a, b), WithToolPack(pack))
	if err != nil {
		t.Fatal(err)
	}

	got, ok := c.findTool(a, "weather")
	if !ok || got.Description != "node-level" {
		t.Errorf("from a: resolved %q, want the node-local tool", got.Description)
	}
	got, ok = c.findTool(b, "weather")
	if !ok || got.Description != "pack-level" {
		t.Errorf("from b: resolved %q, want the pack tool", got.Description)
	}
	if got := len(c.toolsFor(a)); got != 1 {
		t.Errorf("toolsFor(a) = %d entries, want the shadowing one only", got)
	}
}

func TestNodeCommandShadowsPackTool(t *testing.T) {
	// A node-local command occupies the shared namespace, so the pack tool of
	// the same name disappears from that node's tool listing.
	pack := NewToolPack()
	pack.Add(Tool{
		Name: "lookup",
		Handler: func(context.Context, map[string]any, ToolContext) (ToolReply, error) {
			return Text("found"), nil
		},
	})
	a := MustNode("a", "A.", WithCommand(Command{
		Name: "lookup",
		Handler: func(context.Context, map[string]any, ToolContext) (ToolReply, error) {
			return Text("local"), nil
		},
	}))
	c, err := NewCharter("support", WithNode(a), WithToolPack(pack))
	if err != nil {
		t.Fatal(err)
	}

	if got := len(c.toolsFor(a)); got != 0 {
		t.Errorf("toolsFor(a) = %d entries, want 0", got)
	}
	if _, ok := c.findCommand(a, "lookup"); !ok {
		t.Error("node command should resolve")
	}
}
