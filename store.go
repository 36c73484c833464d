package parley

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Session groups the turns of one conversation against one charter.
type Session struct {
	ID          string `json:"id"`
	Charter     string `json:"charter"`
	CurrentTurn string `json:"current_turn,omitempty"` // most recent turn on the active branch
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Turn is the durable record of one machine step. ParentID chains turns into
// branches: creating a turn whose parent is not the session's current turn
// starts a sibling branch without touching the original.
type Turn struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	ParentID  string          `json:"parent_id,omitempty"` // empty for the first turn
	NodeID    string          `json:"node_id"`
	Snapshot  json.RawMessage `json:"snapshot"`        // portable form when the turn began
	Final     json.RawMessage `json:"final,omitempty"` // portable form after effects; set on finalize
	Finalized bool            `json:"finalized"`
	CreatedAt int64           `json:"created_at"`
}

// StoredMessage is one persisted message. TurnID may be empty: such messages
// predate turn tracking and are visible under every branch.
type StoredMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`
	Message
	CreatedAt int64 `json:"created_at"`
}

// TurnStore is the persistence collaborator: sessions, parent-chained turns,
// and messages. Branching needs no dedicated structure — history "as of" a
// turn is an ancestor-chain walk.
type TurnStore interface {
	// --- Sessions ---
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)

	// --- Turns ---
	// CreateTurn records the start of a turn and advances the session's
	// current-turn pointer to it.
	CreateTurn(ctx context.Context, t Turn) error
	// FinalizeTurn stores the post-effects snapshot and the messages
	// exchanged during the turn.
	FinalizeTurn(ctx context.Context, turnID string, final json.RawMessage, msgs []StoredMessage) error
	GetTurn(ctx context.Context, id string) (Turn, error)

	// --- Messages ---
	AddMessage(ctx context.Context, m StoredMessage) error
	// MessagesAsOf lists the messages visible from turnID, oldest first:
	// those attached to the turn or any of its ancestors, plus messages
	// with no turn reference.
	MessagesAsOf(ctx context.Context, sessionID, turnID string) ([]StoredMessage, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// SnapshotStore holds the latest portable form per session for fast resume,
// separate from the append-only turn history.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, snapshot json.RawMessage) error
	LoadSnapshot(ctx context.Context, sessionID string) (json.RawMessage, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
	ListSnapshots(ctx context.Context) ([]string, error)
	Close() error
}

// --- Recorder ---

// Recorder writes machine steps to a TurnStore, maintaining the parent-turn
// chain. The host drives it: one Record call per consumed Step. Not safe for
// concurrent use; one Recorder per machine.
type Recorder struct {
	store     TurnStore
	sessionID string
	charter   string
	parent    string          // last recorded turn, parent of the next one
	start     json.RawMessage // portable form at the start of the next turn
	began     bool
	logger    *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// RecorderLogger sets the logger for persistence debug output.
func RecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// ResumeFrom makes turnID the parent of the next recorded turn. Recording
// after resuming from an earlier turn creates a sibling branch.
func ResumeFrom(turnID string) RecorderOption {
	return func(r *Recorder) { r.parent = turnID }
}

// NewRecorder builds a Recorder for m. The machine's current portable form
// becomes the start snapshot of the first recorded turn.
func NewRecorder(store TurnStore, m *Machine, opts ...RecorderOption) (*Recorder, error) {
	start, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		store:     store,
		sessionID: m.SessionID(),
		charter:   m.Charter().Name(),
		start:     start,
		logger:    nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record persists one committed step as a created-and-finalized turn and
// returns the new turn's identifier. The first call also creates the session
// row if the store does not have it yet.
func (r *Recorder) Record(ctx context.Context, step Step) (string, error) {
	if !r.began {
		if _, err := r.store.GetSession(ctx, r.sessionID); err != nil {
			now := NowUnix()
			s := Session{ID: r.sessionID, Charter: r.charter, CreatedAt: now, UpdatedAt: now}
			if err := r.store.CreateSession(ctx, s); err != nil {
				return "", err
			}
		}
		r.began = true
	}

	final, err := json.Marshal(step.Snapshot)
	if err != nil {
		return "", err
	}
	turn := Turn{
		ID:        NewID(),
		SessionID: r.sessionID,
		ParentID:  r.parent,
		NodeID:    step.NodeID,
		Snapshot:  r.start,
		CreatedAt: NowUnix(),
	}
	if err := r.store.CreateTurn(ctx, turn); err != nil {
		return "", err
	}

	msgs := make([]StoredMessage, 0, len(step.Messages))
	for _, m := range step.Messages {
		msgs = append(msgs, StoredMessage{
			ID:        NewID(),
			SessionID: r.sessionID,
			TurnID:    turn.ID,
			Message:   m,
			CreatedAt: NowUnix(),
		})
	}
	if err := r.store.FinalizeTurn(ctx, turn.ID, final, msgs); err != nil {
		return "", err
	}

	r.parent = turn.ID
	r.start = final
	r.logger.Debug("turn recorded", "session", r.sessionID, "turn", turn.ID, "node", step.NodeID, "messages", len(msgs))
	return turn.ID, nil
}
