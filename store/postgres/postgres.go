// Package postgres implements parley.TurnStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/parley"
)

// Store implements parley.TurnStore backed by PostgreSQL. Turn ancestry
// queries run server-side via a recursive CTE.
type Store struct {
	pool *pgxpool.Pool
}

var _ parley.TurnStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			charter TEXT NOT NULL,
			current_turn TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			parent_id TEXT,
			node_id TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			final JSONB,
			finalized BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS turns_session_idx ON turns(session_id)`,
		`CREATE INDEX IF NOT EXISTS turns_parent_idx ON turns(parent_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_call_id TEXT,
			metadata JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS messages_turn_idx ON messages(turn_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess parley.Session) error {
	var currentTurn *string
	if sess.CurrentTurn != "" {
		currentTurn = &sess.CurrentTurn
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, charter, current_turn, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.Charter, currentTurn, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (parley.Session, error) {
	var sess parley.Session
	var currentTurn *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, charter, current_turn, created_at, updated_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.Charter, &currentTurn, &sess.CreatedAt, &sess.UpdatedAt)
	if err == pgx.ErrNoRows {
		return parley.Session{}, fmt.Errorf("%w: %s", parley.ErrSessionNotFound, id)
	}
	if err != nil {
		return parley.Session{}, fmt.Errorf("postgres: get session: %w", err)
	}
	if currentTurn != nil {
		sess.CurrentTurn = *currentTurn
	}
	return sess, nil
}

// --- Turns ---

// CreateTurn inserts a turn and advances the owning session's current-turn
// pointer in one transaction.
func (s *Store) CreateTurn(ctx context.Context, t parley.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var parentID *string
	if t.ParentID != "" {
		parentID = &t.ParentID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO turns (id, session_id, parent_id, node_id, snapshot, finalized, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, FALSE, $6)`,
		t.ID, t.SessionID, parentID, t.NodeID, string(t.Snapshot), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert turn: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE sessions SET current_turn = $1, updated_at = $2 WHERE id = $3`,
		t.ID, t.CreatedAt, t.SessionID)
	if err != nil {
		return fmt.Errorf("postgres: advance session head: %w", err)
	}
	return tx.Commit(ctx)
}

// FinalizeTurn stores the post-effects snapshot and the turn's messages in
// one transaction.
func (s *Store) FinalizeTurn(ctx context.Context, turnID string, final json.RawMessage, msgs []parley.StoredMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE turns SET final = $1::jsonb, finalized = TRUE WHERE id = $2`,
		string(final), turnID)
	if err != nil {
		return fmt.Errorf("postgres: finalize turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", parley.ErrTurnNotFound, turnID)
	}

	for _, m := range msgs {
		if err := insertMessage(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetTurn(ctx context.Context, id string) (parley.Turn, error) {
	var t parley.Turn
	var parentID *string
	var snapshot, final []byte
	var finalized bool
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, parent_id, node_id, snapshot, final, finalized, created_at
		 FROM turns WHERE id = $1`, id,
	).Scan(&t.ID, &t.SessionID, &parentID, &t.NodeID, &snapshot, &final, &finalized, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return parley.Turn{}, fmt.Errorf("%w: %s", parley.ErrTurnNotFound, id)
	}
	if err != nil {
		return parley.Turn{}, fmt.Errorf("postgres: get turn: %w", err)
	}
	if parentID != nil {
		t.ParentID = *parentID
	}
	t.Snapshot = json.RawMessage(snapshot)
	if final != nil {
		t.Final = json.RawMessage(final)
	}
	t.Finalized = finalized
	return t, nil
}

// --- Messages ---

func (s *Store) AddMessage(ctx context.Context, m parley.StoredMessage) error {
	return insertMessage(ctx, s.pool, m)
}

// MessagesAsOf lists the messages visible from turnID, oldest first: those
// attached to the turn or any of its ancestors (resolved server-side via a
// recursive CTE), plus messages with no turn reference. An empty turnID
// returns only the unreferenced messages.
func (s *Store) MessagesAsOf(ctx context.Context, sessionID, turnID string) ([]parley.StoredMessage, error) {
	var rows pgx.Rows
	var err error
	if turnID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, session_id, turn_id, role, content, tool_calls, tool_call_id, metadata, created_at
			 FROM messages
			 WHERE session_id = $1 AND turn_id IS NULL
			 ORDER BY created_at, id`,
			sessionID)
	} else {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT TRUE FROM turns WHERE id = $1`, turnID).Scan(&exists); err != nil {
			if err == pgx.ErrNoRows {
				return nil, fmt.Errorf("%w: %s", parley.ErrTurnNotFound, turnID)
			}
			return nil, fmt.Errorf("postgres: check turn: %w", err)
		}
		rows, err = s.pool.Query(ctx,
			`WITH RECURSIVE ancestors AS (
				SELECT id, parent_id FROM turns WHERE id = $2
				UNION ALL
				SELECT t.id, t.parent_id FROM turns t JOIN ancestors a ON t.id = a.parent_id
			 )
			 SELECT m.id, m.session_id, m.turn_id, m.role, m.content, m.tool_calls, m.tool_call_id, m.metadata, m.created_at
			 FROM messages m
			 WHERE m.session_id = $1
			   AND (m.turn_id IS NULL OR m.turn_id IN (SELECT id FROM ancestors))
			 ORDER BY m.created_at, m.id`,
			sessionID, turnID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: messages as of: %w", err)
	}
	defer rows.Close()

	var msgs []parley.StoredMessage
	for rows.Next() {
		var m parley.StoredMessage
		var turnRef, toolCallID *string
		var toolCalls, metadata []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &turnRef, &m.Role, &m.Content, &toolCalls, &toolCallID, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		if turnRef != nil {
			m.TurnID = *turnRef
		}
		if toolCalls != nil {
			_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		}
		if toolCallID != nil {
			m.ToolCallID = *toolCallID
		}
		if metadata != nil {
			m.Metadata = json.RawMessage(metadata)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Lifecycle ---

// Close is a no-op: the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// execer covers *pgxpool.Pool and pgx.Tx for the shared insert helper.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
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
	_, err := db.Exec(ctx,
		`INSERT INTO messages (id, session_id, turn_id, role, content, tool_calls, tool_call_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9)`,
		m.ID, m.SessionID, turnID, m.Role, m.Content, toolCalls, toolCallID, metadata, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert message: %w", err)
	}
	return nil
}
