// Package parley orchestrates multi-turn LLM conversations as hierarchical,
// schema-validated state machines.
//
// A charter describes the static graph: nodes (one per conversational mode,
// each with instructions, a typed state schema, tools, and transitions),
// charter-level transitions, a shared tool pack, and named executor backends. A
// machine is one live session against a charter: a stack of node activations
// (the instance tree), an append-only step history, and a run loop that
// drives one conversational turn at a time.
//
// # Quick Start
//
// Declare the graph, build a machine, and feed it user input:
//
//	greet, err := parley.NewNode("greet", "Greet the caller and collect their name.",
//		parley.WithSchema(schema.Schema{"name": schema.String()}),
//		parley.WithDefaultState(map[string]any{"name": ""}),
//		parley.WithTransition(parley.Transition{
//			Name:        "to_booking",
//			Description: "Move on once the caller's name is known.",
//			Handler: func(ctx context.Context, args map[string]any, tc parley.ToolContext) (parley.TransitionResult, error) {
//				return parley.MoveTo("booking"), nil
//			},
//		}),
//	)
//
//	charter, err := parley.NewCharter("support",
//		parley.WithNodes(greet, booking),
//		parley.WithExecutors(exec),
//	)
//
//	m, err := parley.NewMachine(charter)
//	steps, err := m.Turn(ctx, "hi, I'd like to book a table")
//
// Each Step is durable on commit: its snapshot round-trips through
// [Serialize] and [Restore], so a session survives a process restart.
//
// # Core Contracts
//
//   - [Charter], [Node], [Transition] — the static graph, validated once at construction
//   - [Instance] — one activation holding validated state; activations chain into a stack
//   - [Machine] — one session: tree, history, run loop
//   - [Executor] — the pluggable inference backend (wrap with [WithRetry], [WithRateLimit])
//   - [Tool], [Command] — schema-validated capabilities; tools round-trip through
//     the model, commands run synchronously beside it
//   - [TurnStore], [SnapshotStore] — the persistence collaborators
//
// # Included Implementations
//
// Stores: store/sqlite (embedded), store/postgres (server), store/redis
// (live snapshots). Executors: executor/replay (scripted, for tests and
// offline replays). Observability: observer (OpenTelemetry wiring).
//
// See cmd/parley for a complete runnable example.
package parley
