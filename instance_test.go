package parley

import (
	"errors"
	"testing"

	"github.com/nevindra/parley/schema"
)

func statefulNode(id string) *Node {
	return MustNode(id, "Instructions.",
		WithSchema(schema.Schema{"city": schema.String()}),
	)
}

// --- initial state resolution ---

func TestNewInstanceExplicitState(t *testing.T) {
	inst, err := NewInstance(statefulNode("a"), map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatal(err)
	}
	if got := inst.State()["city"]; got != "Oslo" {
		t.Errorf("city = %v", got)
	}
}

func TestNewInstanceDefaultState(t *testing.T) {
	n := MustNode("a", "Instructions.",
		WithSchema(schema.Schema{"city": schema.String()}),
		WithDefaultState(map[string]any{"city": "Bergen"}),
	)
	inst, err := NewInstance(n, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := inst.State()["city"]; got != "Bergen" {
		t.Errorf("city = %v", got)
	}
}

func TestNewInstanceExplicitOverridesDefault(t *testing.T) {
	n := MustNode("a", "Instructions.",
		WithSchema(schema.Schema{"city": schema.String()}),
		WithDefaultState(map[string]any{"city": "Bergen"}),
	)
	inst, err := NewInstance(n, map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatal(err)
	}
	if got := inst.State()["city"]; got != "Oslo" {
		t.Errorf("city = %v, want the explicit value", got)
	}
}

func TestNewInstanceMissingState(t *testing.T) {
	_, err := NewInstance(statefulNode("a"), nil)
	if !errors.Is(err, ErrMissingInitialState) {
		t.Fatalf("expected ErrMissingInitialState, got %v", err)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "a" {
		t.Errorf("error should name the node, got %v", err)
	}
}

func TestNewInstanceStateViolation(t *testing.T) {
	_, err := NewInstance(statefulNode("a"), map[string]any{"city": 42})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) {
		t.Errorf("expected *NodeError, got %v", err)
	}
}

func TestNewInstanceSchemalessDefaultsEmpty(t *testing.T) {
	inst, err := NewInstance(MustNode("a", "Instructions."), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := inst.State(); got == nil || len(got) != 0 {
		t.Errorf("state = %v, want an empty map", got)
	}
}

func TestNewInstanceCopiesCallerState(t *testing.T) {
	seed := map[string]any{"city": "Oslo"}
	inst, err := NewInstance(statefulNode("a"), seed)
	if err != nil {
		t.Fatal(err)
	}
	seed["city"] = "Bergen"
	if got := inst.State()["city"]; got != "Oslo" {
		t.Errorf("city = %v, caller's map leaked in", got)
	}
}

func TestInstanceStateIsCopy(t *testing.T) {
	inst, err := NewInstance(statefulNode("a"), map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatal(err)
	}
	view := inst.State()
	view["city"] = "Bergen"
	if got := inst.State()["city"]; got != "Oslo" {
		t.Errorf("city = %v, returned copy aliased the instance", got)
	}
}

// --- chain shape ---

func chain3(t *testing.T) *Instance {
	t.Helper()
	a, err := NewInstance(MustNode("a", "A."), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewInstance(MustNode("b", "B."), nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewInstance(MustNode("c", "C."), nil)
	if err != nil {
		t.Fatal(err)
	}
	a.child = b
	b.child = c
	return a
}

func TestChainShape(t *testing.T) {
	root := chain3(t)

	if got := root.Depth(); got != 3 {
		t.Errorf("Depth = %d, want 3", got)
	}
	if got := root.Leaf().Node().ID(); got != "c" {
		t.Errorf("leaf = %q, want c", got)
	}
	ids := make([]string, 0, 3)
	for _, inst := range root.chain() {
		ids = append(ids, inst.Node().ID())
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("chain = %v, want root end first [a b c]", ids)
	}
	if got := root.parentOf(root.Leaf()); got == nil || got.Node().ID() != "b" {
		t.Errorf("parentOf(leaf) = %v, want b", got)
	}
	if got := root.parentOf(root); got != nil {
		t.Errorf("parentOf(root) = %v, want nil", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	root, err := NewInstance(statefulNode("a"), map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := NewInstance(statefulNode("b"), map[string]any{"city": "Bergen"})
	if err != nil {
		t.Fatal(err)
	}
	root.child = child

	copied := root.clone()
	root.Leaf().setState(map[string]any{"city": "Tromsø"})

	if got := copied.Leaf().State()["city"]; got != "Bergen" {
		t.Errorf("clone leaf city = %v, want isolated from the original", got)
	}
	// Nodes are immutable and shared, not copied.
	if copied.Node() != root.Node() || copied.Leaf().Node() != root.Leaf().Node() {
		t.Error("clone should share node references")
	}
	if got := copied.Depth(); got != 2 {
		t.Errorf("clone depth = %d, want 2", got)
	}
}

// --- leaf surgery ---

func TestReplaceLeafAtRoot(t *testing.T) {
	root, _ := NewInstance(MustNode("a", "A."), nil)
	repl, _ := NewInstance(MustNode("b", "B."), nil)

	got := replaceLeaf(root, repl)
	if got != repl {
		t.Errorf("replacing a root leaf should return the replacement")
	}
}

func TestReplaceLeafDeep(t *testing.T) {
	root := chain3(t)
	repl, _ := NewInstance(MustNode("d", "D."), nil)

	got := replaceLeaf(root, repl)
	if got != root {
		t.Error("deep replacement keeps the root")
	}
	if got.Depth() != 3 || got.Leaf().Node().ID() != "d" {
		t.Errorf("chain after replace: depth %d leaf %q, want 3 and d", got.Depth(), got.Leaf().Node().ID())
	}
}

func TestPushAndPopLeaf(t *testing.T) {
	root, _ := NewInstance(MustNode("a", "A."), nil)
	child, _ := NewInstance(MustNode("b", "B."), nil)

	got := pushLeaf(root, child)
	if got.Depth() != 2 || got.Leaf().Node().ID() != "b" {
		t.Fatalf("after push: depth %d leaf %q", got.Depth(), got.Leaf().Node().ID())
	}

	got, ok := popLeaf(got)
	if !ok || got.Depth() != 1 || got.Leaf().Node().ID() != "a" {
		t.Fatalf("after pop: ok=%v depth %d", ok, got.Depth())
	}

	if popped, ok := popLeaf(got); ok || popped != nil {
		t.Errorf("popping a root should report the end of the chain, got %v, %v", popped, ok)
	}
}
