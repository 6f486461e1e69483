package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var (
	_ ports.RemoteStore   = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "dwsm:session:"

// Store implements ports.RemoteStore using one Redis hash per session.
// The hash fields are the domain.Field* keys, so the staleness check is a single HGET.
type Store struct {
	client      *backend.Client
	ownsClient  bool
	prefix      string
	ttlGrace    time.Duration
	pingTimeout time.Duration
}

type Option func(*Store)

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTLGrace sets how long a snapshot outlives its inactivity window in Redis.
func WithTTLGrace(grace time.Duration) Option {
	return func(s *Store) {
		s.ttlGrace = grace
	}
}

// WithPingTimeout bounds the connectivity check performed by Start.
func WithPingTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.pingTimeout = d
	}
}

// New creates a new Redis store that owns its client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	store := NewFromClient(rdb, opts...)
	store.ownsClient = true
	return store
}

// NewFromClient creates a new Redis store from an existing client.
// The client is not closed by Stop.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:      client,
		prefix:      DefaultPrefix,
		ttlGrace:    time.Minute,
		pingTimeout: 2 * time.Second,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Start checks connectivity.
func (s *Store) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Stop closes the client when the store created it.
func (s *Store) Stop(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

// SaveSession writes the snapshot hash and indexes it.
func (s *Store) SaveSession(ctx context.Context, meta domain.MetaData) error {
	if meta.ID == "" {
		return domain.ErrInvalidSessionID
	}
	fields, err := meta.Fields()
	if err != nil {
		return err
	}

	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}

	key := s.key(meta.ID)
	ttl := s.ttl(meta)

	pipe := s.client.TxPipeline()

	// 1. Replace the hash so stale fields never survive
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}

	// 2. Add to Index (ZSET)
	// Score = Now + TTL. If TTL = 0, Score = +Inf (approx).
	score := float64(time.Now().Add(ttl).Unix())
	if ttl == 0 {
		score = 4102444800 // 2100-01-01
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  score,
		Member: meta.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *Store) ttl(meta domain.MetaData) time.Duration {
	if meta.MaxInactiveInterval <= 0 {
		return 0
	}
	return time.Duration(meta.MaxInactiveInterval)*time.Second + s.ttlGrace
}

// IsStored reports whether the session hash exists.
func (s *Store) IsStored(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check redis: %w", err)
	}
	return n > 0, nil
}

// GetSessionMetaData loads the whole hash. A missing key yields nil, nil.
func (s *Store) GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	meta, err := domain.DecodeMetaData(fields)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetSessionMetaDataField reads a single hash field.
func (s *Store) GetSessionMetaDataField(ctx context.Context, sessionID, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, s.key(sessionID), field).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get field from redis: %w", err)
	}
	return val, true, nil
}

// RemoveSession deletes the hash and its index entry.
func (s *Store) RemoveSession(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// ListSessions returns indexed sessions, pruning expired index entries first.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())

	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}
