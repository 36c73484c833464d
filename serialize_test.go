package parley

import (
	"errors"
	"testing"

	"github.com/nevindra/parley/schema"
)

func serializeCharter(t *testing.T) *Charter {
	t.Helper()
	c, err := NewCharter("support",
		WithNodes(
			MustNode("desk", "Front desk.",
				WithSchema(schema.Schema{"queue": schema.String()})),
			MustNode("ticket", "Handle one ticket.",
				WithSchema(schema.Schema{"severity": schema.Int()})),
		),
	)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSerializeMirrorsChain(t *testing.T) {
	c := serializeCharter(t)
	deskNode, _ := c.Node("desk")
	ticketNode, _ := c.Node("ticket")

	root, err := NewInstance(deskNode, map[string]any{"queue": "vip"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := NewInstance(ticketNode, map[string]any{"severity": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	root.child = child

	p := Serialize(root)
	if p.Node != "desk" || p.State["queue"] != "vip" {
		t.Errorf("root = %+v", p)
	}
	if p.Child == nil || p.Child.Node != "ticket" || p.Child.State["severity"] != int64(2) {
		t.Errorf("child = %+v", p.Child)
	}
	if p.Child.Child != nil {
		t.Error("leaf should have no child")
	}

	// The portable form owns its state.
	p.State["queue"] = "walk-in"
	if got := root.State()["queue"]; got != "vip" {
		t.Errorf("mutating the portable form changed the live chain: %v", got)
	}
}

func TestSerializeNil(t *testing.T) {
	if Serialize(nil) != nil {
		t.Error("a terminated tree serializes to nil")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := serializeCharter(t)
	deskNode, _ := c.Node("desk")
	ticketNode, _ := c.Node("ticket")

	root, err := NewInstance(deskNode, map[string]any{"queue": "vip"})
	if err != nil {
		t.Fatal(err)
	}
	child, err := NewInstance(ticketNode, map[string]any{"severity": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	root.child = child

	raw, err := EncodeSnapshot(root)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := DecodeSnapshot(c, raw)
	if err != nil {
		t.Fatal(err)
	}

	// Numbers decode as float64, so compare the re-encoded forms.
	again, err := EncodeSnapshot(restored)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(raw) {
		t.Errorf("round trip drifted:\n got %s\nwant %s", again, raw)
	}
	if restored.Node() != deskNode || restored.Leaf().Node() != ticketNode {
		t.Error("restored chain should resolve to the charter's node values")
	}
	if restored.Depth() != 2 {
		t.Errorf("depth = %d, want 2", restored.Depth())
	}
}

func TestDeserializeUnknownNode(t *testing.T) {
	c := serializeCharter(t)
	_, err := Deserialize(c, &PortableInstance{Node: "ghost", State: map[string]any{}})
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestDeserializeRevalidatesAgainstCurrentSchema(t *testing.T) {
	// A snapshot written under an older charter whose severity was a string.
	c := serializeCharter(t)
	stale := &PortableInstance{
		Node:  "desk",
		State: map[string]any{"queue": "vip"},
		Child: &PortableInstance{
			Node:  "ticket",
			State: map[string]any{"severity": "high"},
		},
	}
	_, err := Deserialize(c, stale)
	if err == nil {
		t.Fatal("expected a validation failure against the current schema")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "ticket" {
		t.Errorf("error should name the failing node, got %v", err)
	}
}

func TestDeserializeNilStateBecomesEmpty(t *testing.T) {
	c, err := NewCharter("support", WithNode(MustNode("plain", "No state.")))
	if err != nil {
		t.Fatal(err)
	}
	inst, err := Deserialize(c, &PortableInstance{Node: "plain"})
	if err != nil {
		t.Fatal(err)
	}
	if got := inst.State(); got == nil || len(got) != 0 {
		t.Errorf("state = %v, want an empty map", got)
	}
}

func TestDecodeSnapshotEmpty(t *testing.T) {
	c := serializeCharter(t)
	for _, raw := range [][]byte{nil, []byte(""), []byte("null")} {
		inst, err := DecodeSnapshot(c, raw)
		if err != nil {
			t.Errorf("raw %q: %v", raw, err)
		}
		if inst != nil {
			t.Errorf("raw %q: tree = %v, want nil", raw, inst)
		}
	}
}

func TestDecodeSnapshotMalformed(t *testing.T) {
	c := serializeCharter(t)
	if _, err := DecodeSnapshot(c, []byte(`{broken`)); err == nil {
		t.Error("expected a decode error")
	}
}
