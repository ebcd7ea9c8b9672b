// Package cache fronts an override store with Redis so hot authorization
// paths avoid a database round trip per request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/inventra/internal/authz"
)

const keyPrefix = "authz:override"

type envelope struct {
	Present  bool            `json:"present"`
	Override *authz.Override `json:"override,omitempty"`
}

var _ authz.OverrideStore = (*Store)(nil)

// Store caches active-override lookups. Redis is never the source of truth:
// any Redis failure falls through to the wrapped store. Expiry is still
// evaluated on every read, so cached documents never outlive ExpiresAt.
//
// Documents are keyed by a per-pair version that upserts bump, so a load
// racing an upsert can only populate a version nobody reads any more.
type Store struct {
	inner  authz.OverrideStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New wraps inner with a Redis cache.
func New(inner authz.OverrideStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Key returns the cache key prefix for (user, business).
func Key(userID, businessID int64) string {
	return fmt.Sprintf("%s:%d:%d", keyPrefix, userID, businessID)
}

func versionKey(userID, businessID int64) string {
	return Key(userID, businessID) + ":ver"
}

func documentKey(userID, businessID, version int64) string {
	return fmt.Sprintf("%s:v%d", Key(userID, businessID), version)
}

// ActiveOverride serves from Redis when possible.
func (s *Store) ActiveOverride(ctx context.Context, userID, businessID int64, now time.Time) (*authz.Override, error) {
	version, ok := s.version(ctx, userID, businessID)
	if !ok {
		return s.inner.ActiveOverride(ctx, userID, businessID, now)
	}
	key := documentKey(userID, businessID, version)
	if env, ok := s.get(ctx, key); ok {
		return activeFrom(env, now), nil
	}

	// The load is shared with every waiter on key, so it must outlive the
	// caller that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		o, err := s.inner.ActiveOverride(loadCtx, userID, businessID, now)
		if err != nil {
			return nil, err
		}
		env := envelope{Present: o != nil, Override: o}
		s.set(loadCtx, key, env)
		return env, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return activeFrom(res.Val.(envelope), now), nil
	}
}

// UpsertOverride writes through and drops the cached entry.
func (s *Store) UpsertOverride(ctx context.Context, p authz.UpsertParams) (authz.Override, authz.HistoryEntry, error) {
	o, entry, err := s.inner.UpsertOverride(ctx, p)
	if err != nil {
		return o, entry, err
	}
	s.Invalidate(ctx, p.UserID, p.BusinessID)
	return o, entry, nil
}

// QueryHistory is not cached.
func (s *Store) QueryHistory(ctx context.Context, f authz.HistoryFilter) ([]authz.HistoryEntry, error) {
	return s.inner.QueryHistory(ctx, f)
}

// DeactivateExpired passes through; cached documents already honour expiry.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.inner.DeactivateExpired(ctx, now)
}

// Invalidate bumps the version for (user, business), orphaning any cached
// document. When the bump fails the document under the current version is
// deleted instead; readers then miss and reload from the wrapped store.
func (s *Store) Invalidate(ctx context.Context, userID, businessID int64) {
	if s.client == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	key := versionKey(userID, businessID)
	err := s.client.Incr(ctx, key).Err()
	if err == nil {
		return
	}
	s.logger.Warn("override cache invalidate", slog.String("key", key), slog.Any("error", err))

	version, ok := s.version(ctx, userID, businessID)
	if !ok {
		// Unreadable version means readers bypass the cache anyway.
		return
	}
	doc := documentKey(userID, businessID, version)
	if err := s.client.Del(ctx, doc).Err(); err != nil {
		s.logger.Error("override cache evict",
			slog.String("key", doc), slog.Any("error", err))
	}
}

func (s *Store) version(ctx context.Context, userID, businessID int64) (int64, bool) {
	if s.client == nil {
		return 0, false
	}
	ver, err := s.client.Get(ctx, versionKey(userID, businessID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		s.logger.Warn("override cache version", slog.Int64("user_id", userID), slog.Any("error", err))
		return 0, false
	}
	return ver, true
}

func (s *Store) get(ctx context.Context, key string) (envelope, bool) {
	if s.client == nil {
		return envelope{}, false
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("override cache get", slog.String("key", key), slog.Any("error", err))
		}
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("override cache decode", slog.String("key", key), slog.Any("error", err))
		return envelope{}, false
	}
	return env, true
}

func (s *Store) set(ctx context.Context, key string, env envelope) {
	if s.client == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("override cache set", slog.String("key", key), slog.Any("error", err))
	}
}

func activeFrom(env envelope, now time.Time) *authz.Override {
	if !env.Present || !env.Override.ActiveAt(now) {
		return nil
	}
	o := *env.Override
	o.Added = o.Added.Clone()
	o.Removed = o.Removed.Clone()
	return &o
}
