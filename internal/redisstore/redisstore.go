// Package redisstore keeps wizard sessions in Redis so several server
// processes can share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

const defaultPrefix = "eventstudy:wizard:"

// client is the subset of redis.Cmdable the store needs.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Options configures Open.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Store implements eventstudy.SessionStore. Each session is one JSON value
// whose expiry is refreshed on every Set.
type Store struct {
	rdb    client
	closer func() error
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ eventstudy.SessionStore = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	s := newStore(rdb, opts.Prefix, opts.TTL)
	s.closer = rdb.Close
	return s, nil
}

func newStore(rdb client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = eventstudy.DefaultSessionTTL
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) Get(ctx context.Context, id string) (*eventstudy.WizardSession, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to load wizard session", err)
	}
	var session eventstudy.WizardSession
	if err := json.Unmarshal(raw, &session); err != nil {
		// A value this build cannot read is treated as no session.
		return nil, nil
	}
	if session.ID == "" {
		session.ID = id
	}
	return &session, nil
}

func (s *Store) Set(ctx context.Context, session *eventstudy.WizardSession) error {
	if session == nil || session.ID == "" {
		return eventstudy.NewError(eventstudy.ErrCodeInvalidInput, "session id is required")
	}
	session.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(session)
	if err != nil {
		return eventstudy.WrapError(eventstudy.ErrCodeInternal, "failed to encode wizard session", err)
	}
	if err := s.rdb.Set(ctx, s.key(session.ID), raw, s.ttl).Err(); err != nil {
		return eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to save wizard session", err)
	}
	return nil
}

func (s *Store) Pop(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to clear wizard session", err)
	}
	return nil
}
