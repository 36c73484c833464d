// Command parley runs a scripted restaurant-concierge session end to end:
// it builds a small charter, replays a canned executor script against it,
// and records every turn in the configured store.
//
// The script stands in for a live inference backend, so the binary runs
// offline and produces the same session every time. Point PARLEY_CONFIG at a
// TOML file to pick the store backend, rate limits, and observability.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	parley "github.com/nevindra/parley"
	"github.com/nevindra/parley/executor/replay"
	"github.com/nevindra/parley/internal/config"
	"github.com/nevindra/parley/observer"
	"github.com/nevindra/parley/schema"
	"github.com/nevindra/parley/store/postgres"
	"github.com/nevindra/parley/store/redis"
	"github.com/nevindra/parley/store/sqlite"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg := config.Load(os.Getenv("PARLEY_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// 2. Observability (optional)
	machineOpts := []parley.MachineOption{
		parley.WithTurnLimit(cfg.Session.TurnLimit),
	}
	if cfg.Session.ID != "" {
		machineOpts = append(machineOpts, parley.WithSessionID(cfg.Session.ID))
	}
	if cfg.Observer.Enabled {
		_, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(context.Background())
		logger = observer.Logger("parley")
		machineOpts = append(machineOpts, parley.WithTracer(observer.NewTracer()))
	}
	machineOpts = append(machineOpts, parley.WithLogger(logger))

	// 3. Input guard
	if cfg.Guard.Enabled {
		var guardOpts []parley.GuardOption
		if cfg.Guard.Action == "annotate" {
			guardOpts = append(guardOpts, parley.Annotate())
		}
		machineOpts = append(machineOpts, parley.WithGuard(parley.NewInjectionGuard(guardOpts...)))
	}

	// 4. Build the executor: scripted replay behind retry and rate limiting
	var exec parley.Executor = replay.New(demoScript())
	exec = parley.WithRetry(exec,
		parley.RetryMaxAttempts(cfg.Executor.MaxAttempts),
		parley.RetryLogger(logger))
	if cfg.Executor.RPM > 0 || cfg.Executor.TPM > 0 {
		var rlOpts []parley.RateLimitOption
		if cfg.Executor.RPM > 0 {
			rlOpts = append(rlOpts, parley.RPM(cfg.Executor.RPM))
		}
		if cfg.Executor.TPM > 0 {
			rlOpts = append(rlOpts, parley.TPM(cfg.Executor.TPM))
		}
		exec = parley.WithRateLimit(exec, rlOpts...)
	}

	// 5. Build the charter and machine
	charter, err := buildCharter(exec)
	if err != nil {
		log.Fatalf("charter: %v", err)
	}
	m, err := parley.NewMachine(charter, machineOpts...)
	if err != nil {
		log.Fatalf("machine: %v", err)
	}

	// 6. Open the turn store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()
	if err := store.Init(ctx); err != nil {
		log.Fatalf("store init: %v", err)
	}
	rec, err := parley.NewRecorder(store, m, parley.RecorderLogger(logger))
	if err != nil {
		log.Fatalf("recorder: %v", err)
	}

	// 7. Snapshot store (optional)
	var snaps *redis.Store
	if cfg.Snapshot.Enabled {
		snaps = redis.New(cfg.Snapshot.Address, cfg.Snapshot.Password, cfg.Snapshot.DB,
			redis.WithTTL(time.Duration(cfg.Snapshot.TTLHours)*time.Hour))
		defer snaps.Close()
	}

	// 8. Commands run synchronously, outside the inference loop
	if out, cmdErr := m.RunCommand(ctx, "hours", nil); cmdErr == nil {
		fmt.Printf("  [hours] %s\n", out.Content)
	}

	// 9. Drive the conversation
	inputs := []string{
		"Hi, do you have a table tonight?",
		"Four of us, around seven.",
		"Perfect, thanks. Bye!",
	}
	for _, input := range inputs {
		fmt.Printf("user> %s\n", input)
		steps, err := m.Turn(ctx, input)
		for _, step := range steps {
			printStep(step)
			if _, recErr := rec.Record(ctx, step); recErr != nil {
				log.Fatalf("record: %v", recErr)
			}
		}
		if err != nil {
			log.Fatalf("turn: %v", err)
		}
		if snaps != nil {
			snap, snapErr := m.Snapshot()
			if snapErr == nil {
				if saveErr := snaps.SaveSnapshot(ctx, m.SessionID(), snap); saveErr != nil {
					logger.Warn("snapshot save failed", "error", saveErr)
				}
			}
		}
		if m.Terminated() {
			break
		}
	}

	// 10. Summary
	usage := m.Usage()
	fmt.Printf("\nsession %s: %d steps, %d input + %d output tokens\n",
		m.SessionID(), len(m.Steps()), usage.InputTokens, usage.OutputTokens)
}

// buildCharter assembles the demo concierge: a greeting node that hands over
// to a booking node, which checks availability with a tool and ends the
// session with a code transition.
func buildCharter(exec parley.Executor) (*parley.Charter, error) {
	greet, err := parley.NewNode("greet",
		"Greet the caller warmly and find out what they need. Move to booking once they ask for a table.",
		parley.WithCommand(parley.Command{
			Name:        "hours",
			Description: "Opening hours of the restaurant.",
			Handler: func(_ context.Context, _ map[string]any, _ parley.ToolContext) (parley.ToolReply, error) {
				return parley.Text("open daily 17:00-23:00"), nil
			},
		}),
		parley.WithTransition(parley.Transition{
			Name:        "to_booking",
			Description: "Start a booking once party size and date are known.",
			Parameters: schema.Schema{
				"party_size": schema.Int(),
				"date":       schema.String(),
			},
			Handler: func(_ context.Context, args map[string]any, _ parley.ToolContext) (parley.TransitionResult, error) {
				return parley.MoveTo("booking", parley.WithState(map[string]any{
					"party_size": args["party_size"],
					"date":       args["date"],
					"confirmed":  false,
				})), nil
			},
		}),
	)
	if err != nil {
		return nil, err
	}

	booking, err := parley.NewNode("booking",
		"Confirm availability with check_tables, read back the details, then finish.",
		parley.WithSchema(schema.Schema{
			"party_size": schema.Int(),
			"date":       schema.String(),
			"confirmed":  schema.Bool(),
		}),
		parley.WithTool(parley.Tool{
			Name:        "check_tables",
			Description: "Check table availability for the requested date.",
			Parameters:  schema.Schema{"date": schema.String()},
			Handler: func(_ context.Context, input map[string]any, tc parley.ToolContext) (parley.ToolReply, error) {
				if err := tc.RequestPatch(map[string]any{"confirmed": true}); err != nil {
					return parley.ToolReply{}, err
				}
				return parley.ToolReply{
					Content:     fmt.Sprintf("2 tables free for %v", input["date"]),
					UserMessage: "Good news — we have a table for you.",
				}, nil
			},
		}),
		parley.WithTransition(parley.Transition{
			Name:        "finish",
			Description: "Close the conversation once the booking is confirmed.",
			Handler: func(_ context.Context, _ map[string]any, _ parley.ToolContext) (parley.TransitionResult, error) {
				return parley.Cede("booking confirmed"), nil
			},
		}),
	)
	if err != nil {
		return nil, err
	}

	return parley.NewCharter("concierge",
		parley.WithNodes(greet, booking),
		parley.WithExecutors(exec),
		parley.WithDefaultExecutor(exec.Name()),
	)
}

// demoScript is the canned executor side of the conversation, one response
// per run-loop iteration.
func demoScript() []parley.ExecutorResponse {
	return []parley.ExecutorResponse{
		{
			Content: "Hi! Welcome to Casa Verde. How can I help you tonight?",
			Usage:   parley.Usage{InputTokens: 42, OutputTokens: 14},
		},
		{
			Content:    "A table for four tonight at seven — let me get that started.",
			Transition: &parley.TransitionCall{Name: "to_booking", Args: json.RawMessage(`{"party_size": 4, "date": "tonight 19:00"}`)},
			Usage:      parley.Usage{InputTokens: 58, OutputTokens: 21},
		},
		{
			Content:   "Checking availability for you now.",
			ToolCalls: []parley.ToolCall{{ID: "call-1", Name: "check_tables", Args: json.RawMessage(`{"date": "tonight 19:00"}`)}},
			Usage:     parley.Usage{InputTokens: 77, OutputTokens: 18},
		},
		{
			Content: "You are booked: four people, tonight at 19:00.",
			Usage:   parley.Usage{InputTokens: 95, OutputTokens: 16},
		},
		{
			Content:    "Thanks for calling Casa Verde — see you tonight!",
			Transition: &parley.TransitionCall{Name: "finish"},
			Usage:      parley.Usage{InputTokens: 104, OutputTokens: 12},
		},
	}
}

// openStore picks the turn store backend from config.
func openStore(ctx context.Context, cfg config.Config) (parley.TurnStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	case "sqlite":
		s := sqlite.New(cfg.Store.Path)
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func printStep(step parley.Step) {
	for _, msg := range step.Messages {
		switch msg.Role {
		case "assistant":
			if msg.Content != "" {
				fmt.Printf("concierge> %s\n", msg.Content)
			}
		case "tool":
			fmt.Printf("  [tool] %s\n", msg.Content)
		}
	}
	for _, reply := range step.UserReplies {
		fmt.Printf("concierge* %s\n", reply)
	}
	if step.Transition != nil {
		if step.Transition.Kind == "cede" {
			fmt.Printf("  [cede] %s: %s\n", step.Transition.From, step.Transition.Cede)
		} else {
			fmt.Printf("  [%s] %s -> %s\n", step.Transition.Kind, step.Transition.From, step.Transition.To)
		}
	}
}
