// Package redis implements parley.SnapshotStore on Redis: the latest
// portable form per session, with optional TTL and a ZSET index for
// listing live sessions.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nevindra/parley"
	backend "github.com/redis/go-redis/v9"
)

// Store implements parley.SnapshotStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ parley.SnapshotStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets the expiration for snapshots. Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPrefix sets the key prefix for snapshots.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Store connected to the given Redis server.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "parley:snapshot:",
		ttl:    0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// SaveSnapshot stores the portable form for a session and indexes it.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	pipe := s.client.Pipeline()

	pipe.Set(ctx, s.key(sessionID), []byte(snapshot), s.ttl)

	// Index score = expiry time; entries whose score has passed are pruned
	// lazily on List. With no TTL the score is far enough in the future to
	// never expire.
	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: sessionID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves the portable form for a session.
func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (json.RawMessage, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, fmt.Errorf("%w: %s", parley.ErrSnapshotNotFound, sessionID)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return json.RawMessage(val), nil
}

// DeleteSnapshot removes a session's snapshot and its index entry.
func (s *Store) DeleteSnapshot(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	_, err := pipe.Exec(ctx)
	return err
}

// ListSnapshots returns the session IDs with a live snapshot, pruning
// index entries whose TTL has passed.
func (s *Store) ListSnapshots(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("prune expired snapshots: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
