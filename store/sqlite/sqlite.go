// Package sqlite implements parley.TurnStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/parley"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements parley.TurnStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ parley.TurnStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			charter TEXT NOT NULL,
			current_turn TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			parent_id TEXT,
			node_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			final TEXT,
			finalized INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_turns_parent ON turns(parent_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_turn ON messages(turn_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess parley.Session) error {
	start := time.Now()
	s.logger.Debug("sqlite: create session", "id", sess.ID, "charter", sess.Charter)

	var currentTurn *string
	if sess.CurrentTurn != "" {
		currentTurn = &sess.CurrentTurn
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, charter, current_turn, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Charter, currentTurn, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create session failed", "id", sess.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("sqlite: create session ok", "id", sess.ID, "duration", time.Since(start))
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (parley.Session, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get session", "id", id)

	var sess parley.Session
	var currentTurn sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, charter, current_turn, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.Charter, &currentTurn, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return parley.Session{}, fmt.Errorf("%w: %s", parley.ErrSessionNotFound, id)
	}
	if err != nil {
		s.logger.Error("sqlite: get session failed", "id", id, "error", err, "duration", time.Since(start))
		return parley.Session{}, fmt.Errorf("get session: %w", err)
	}
	if currentTurn.Valid {
		sess.CurrentTurn = currentTurn.String
	}
	s.logger.Debug("sqlite: get session ok", "id", id, "duration", time.Since(start))
	return sess, nil
}

// CreateTurn inserts a turn and advances the owning session's current-turn
// pointer in one transaction.
func (s *Store) CreateTurn(ctx context.Context, t parley.Turn) error {
	start := time.Now()
	s.logger.Debug("sqlite: create turn", "id", t.ID, "session_id", t.SessionID, "parent_id", t.ParentID, "node_id", t.NodeID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var parentID *string
	if t.ParentID != "" {
		parentID = &t.ParentID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, parent_id, node_id, snapshot, finalized, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		t.ID, t.SessionID, parentID, t.NodeID, string(t.Snapshot), t.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: insert turn failed", "id", t.ID, "error", err)
		return fmt.Errorf("insert turn: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET current_turn = ?, updated_at = ? WHERE id = ?`,
		t.ID, t.CreatedAt, t.SessionID,
	)
	if err != nil {
		s.logger.Error("sqlite: advance session head failed", "session_id", t.SessionID, "error", err)
		return fmt.Errorf("advance session head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: create turn commit failed", "id", t.ID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: create turn ok", "id", t.ID, "duration", time.Since(start))
	return nil
}

// FinalizeTurn stores the post-effects snapshot and the turn's messages in
// one transaction.
func (s *Store) FinalizeTurn(ctx context.Context, turnID string, final json.RawMessage, msgs []parley.StoredMessage) error {
	start := time.Now()
	s.logger.Debug("sqlite: finalize turn", "id", turnID, "messages", len(msgs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE turns SET final = ?, finalized = 1 WHERE id = ?`,
		string(final), turnID,
	)
	if err != nil {
		s.logger.Error("sqlite: finalize turn failed", "id", turnID, "error", err)
		return fmt.Errorf("finalize turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", parley.ErrTurnNotFound, turnID)
	}

	for _, m := range msgs {
		if err := insertMessage(ctx, tx, m); err != nil {
			s.logger.Error("sqlite: insert turn message failed", "turn_id", turnID, "message_id", m.ID, "error", err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: finalize turn commit failed", "id", turnID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: finalize turn ok", "id", turnID, "messages", len(msgs), "duration", time.Since(start))
	return nil
}

// GetTurn returns a turn by ID.
func (s *Store) GetTurn(ctx context.Context, id string) (parley.Turn, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get turn", "id", id)

	t, err := scanTurn(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, parent_id, node_id, snapshot, final, finalized, created_at
		 FROM turns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return parley.Turn{}, fmt.Errorf("%w: %s", parley.ErrTurnNotFound, id)
	}
	if err != nil {
		s.logger.Error("sqlite: get turn failed", "id", id, "error", err, "duration", time.Since(start))
		return parley.Turn{}, fmt.Errorf("get turn: %w", err)
	}
	s.logger.Debug("sqlite: get turn ok", "id", id, "duration", time.Since(start))
	return t, nil
}

// AddMessage inserts one message. An empty TurnID leaves the turn reference
// NULL: such messages are visible under every branch.
func (s *Store) AddMessage(ctx context.Context, m parley.StoredMessage) error {
	start := time.Now()
	s.logger.Debug("sqlite: add message", "id", m.ID, "session_id", m.SessionID, "turn_id", m.TurnID, "role", m.Role)

	if err := insertMessage(ctx, s.db, m); err != nil {
		s.logger.Error("sqlite: add message failed", "id", m.ID, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("sqlite: add message ok", "id", m.ID, "duration", time.Since(start))
	return nil
}

// MessagesAsOf lists the messages visible from turnID, oldest first: those
// attached to the turn or any of its ancestors, plus messages with no turn
// reference. An empty turnID returns only the unreferenced messages.
func (s *Store) MessagesAsOf(ctx context.Context, sessionID, turnID string) ([]parley.StoredMessage, error) {
	start := time.Now()
	s.logger.Debug("sqlite: messages as of", "session_id", sessionID, "turn_id", turnID)

	ancestors, err := s.ancestorSet(ctx, turnID)
	if err != nil {
		s.logger.Error("sqlite: messages as of failed", "turn_id", turnID, "error", err, "duration", time.Since(start))
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, role, content, tool_calls, tool_call_id, metadata, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		s.logger.Error("sqlite: messages as of query failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("messages as of: %w", err)
	}
	defer rows.Close()

	var msgs []parley.StoredMessage
	scanned := 0
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		scanned++
		if m.TurnID == "" || ancestors[m.TurnID] {
			msgs = append(msgs, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	s.logger.Debug("sqlite: messages as of ok", "scanned", scanned, "returned", len(msgs), "duration", time.Since(start))
	return msgs, nil
}

// ancestorSet walks the parent chain from turnID and returns the set of
// turn IDs on it, turnID included. The visited set doubles as a guard
// against a corrupted chain that loops.
func (s *Store) ancestorSet(ctx context.Context, turnID string) (map[string]bool, error) {
	set := make(map[string]bool)
	cur := turnID
	for cur != "" && !set[cur] {
		set[cur] = true
		var parent sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT parent_id FROM turns WHERE id = ?`, cur).Scan(&parent)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", parley.ErrTurnNotFound, cur)
		}
		if err != nil {
			return nil, fmt.Errorf("walk turn chain: %w", err)
		}
		cur = ""
		if parent.Valid {
			cur = parent.String
		}
	}
	return set, nil
}

// DB returns the underlying *sql.DB for callers that need direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// execer covers *sql.DB and *sql.Tx for the shared insert helper.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, m parley.StoredMessage) error {
	var turnID *string
	if m.TurnID != "" {
		turnID = &m.TurnID
	}
	var toolCalls *string
	if len(m.ToolCalls) > 0 {
		data, _ := json.Marshal(m.ToolCalls)
		v := string(data)
		toolCalls = &v
	}
	var toolCallID *string
	if m.ToolCallID != "" {
		toolCallID = &m.ToolCallID
	}
	var metadata *string
	if len(m.Metadata) > 0 {
		v := string(m.Metadata)
		metadata = &v
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, turn_id, role, content, tool_calls, tool_call_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, turnID, m.Role, m.Content, toolCalls, toolCallID, metadata, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (parley.Turn, error) {
	var t parley.Turn
	var parentID sql.NullString
	var snapshot string
	var final sql.NullString
	var finalized int
	if err := row.Scan(&t.ID, &t.SessionID, &parentID, &t.NodeID, &snapshot, &final, &finalized, &t.CreatedAt); err != nil {
		return parley.Turn{}, err
	}
	if parentID.Valid {
		t.ParentID = parentID.String
	}
	t.Snapshot = json.RawMessage(snapshot)
	if final.Valid {
		t.Final = json.RawMessage(final.String)
	}
	t.Finalized = finalized != 0
	return t, nil
}

func scanMessage(row scanner) (parley.StoredMessage, error) {
	var m parley.StoredMessage
	var turnID, toolCalls, toolCallID, metadata sql.NullString
	if err := row.Scan(&m.ID, &m.SessionID, &turnID, &m.Role, &m.Content, &toolCalls, &toolCallID, &metadata, &m.CreatedAt); err != nil {
		return parley.StoredMessage{}, fmt.Errorf("scan message: %w", err)
	}
	if turnID.Valid {
		m.TurnID = turnID.String
	}
	if toolCalls.Valid {
		_ = json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls)
	}
	if toolCallID.Valid {
		m.ToolCallID = toolCallID.String
	}
	if metadata.Valid {
		m.Metadata = json.RawMessage(metadata.String)
	}
	return m, nil
}
