// Package cachestore puts a snapshot cache in front of the durable store.
//
// Reads are read-through: a hit is served from the cache, a miss is loaded
// from the durable store and written back with the cache TTL. Writes go to
// the durable store first and, only when at least one row was affected,
// delete every cache key the write could have made stale.
//
// A failing cache never fails a request: the read falls through to the
// durable store and skips repopulation. A failing durable store fails the
// operation with an error wrapping store.ErrUnavailable.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pliu/nowchat/internal/channel"
	"github.com/pliu/nowchat/internal/models"
	"github.com/pliu/nowchat/internal/store"
)

// DefaultTimeout bounds a single durable store round-trip.
const DefaultTimeout = 5 * time.Second

// UsersKey caches the full user list.
const UsersKey = "Users"

// HistoryKey returns the cache key for a conversation.
func HistoryKey(k channel.Key) string {
	return "Chat_" + string(k)
}

// Source tells where a read was served from.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
)

// WriteResult is the outcome of a durable write. OK is false when the write
// affected no rows.
type WriteResult struct {
	OK       bool  `json:"ok"`
	Affected int64 `json:"affected"`
}

// Cache is the subset of the snapshot cache used here.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the cache-aside store.
type Store struct {
	db      store.Store
	cache   Cache
	timeout time.Duration
	logger  *slog.Logger

	flights singleflight.Group
	locks   keyLocks

	degraded atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds each durable store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for degraded-cache warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(db store.Store, c Cache, opts ...Option) *Store {
	s := &Store{
		db:      db,
		cache:   c,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Degraded returns how many requests bypassed the cache because it failed.
func (s *Store) Degraded() uint64 {
	return s.degraded.Load()
}

// Ping checks the durable store.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// ReadThrough serves key from the cache or, on a miss, from loader. Empty
// results are valid and cached; they are returned as an empty, non-nil slice.
func ReadThrough[T any](ctx context.Context, s *Store, key string, loader func(context.Context) ([]T, error)) ([]T, Source, error) {
	var cached []T
	found, err := s.cache.Get(ctx, key, &cached)
	if err == nil && found {
		if cached == nil {
			cached = []T{}
		}
		return cached, SourceCache, nil
	}

	if err != nil {
		s.degraded.Add(1)
		s.logger.Warn("cache read failed, serving from store", "key", key, "error", err)
		items, err := s.load(ctx, key, func(ctx context.Context) (any, error) { return loader(ctx) })
		if err != nil {
			return nil, "", err
		}
		return nonNil(items.([]T)), SourceStore, nil
	}

	// The shared load is detached from the caller that started it so that
	// one caller going away does not fail the others waiting on the key.
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		unlock := s.locks.lock(key)
		defer unlock()

		items, err := s.load(detached, key, func(ctx context.Context) (any, error) { return loader(ctx) })
		if err != nil {
			return nil, err
		}
		items = nonNil(items.([]T))
		setCtx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()
		if err := s.cache.Set(setCtx, key, items); err != nil {
			s.degraded.Add(1)
			s.logger.Warn("cache populate failed", "key", key, "error", err)
		}
		return items, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		return res.Val.([]T), SourceStore, nil
	case <-ctx.Done():
		return nil, "", unavailable(key, ctx.Err())
	}
}

// WriteAndInvalidate runs op against the durable store and, when it affected
// at least one row, deletes keys from the cache. A write that affects no rows
// is reported through WriteResult.OK and leaves the cache untouched.
func (s *Store) WriteAndInvalidate(ctx context.Context, op func(context.Context) (int64, error), keys ...string) (WriteResult, error) {
	unlock := s.locks.lock(keys...)
	defer unlock()

	v, err := s.load(ctx, "write", func(ctx context.Context) (any, error) { return op(ctx) })
	if err != nil {
		return WriteResult{}, err
	}
	affected := v.(int64)
	if affected <= 0 {
		return WriteResult{Affected: affected}, nil
	}

	// The write is committed; invalidate even if the caller has gone away.
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.cache.Delete(delCtx, keys...); err != nil {
		// The entries still expire with their TTL.
		s.degraded.Add(1)
		s.logger.Error("cache invalidation failed", "keys", keys, "error", err)
	}
	return WriteResult{OK: true, Affected: affected}, nil
}

// load runs fn under the durable store timeout and classifies its error.
func (s *Store) load(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return v, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Users returns every user.
func (s *Store) Users(ctx context.Context) ([]models.User, Source, error) {
	return ReadThrough(ctx, s, UsersKey, s.db.ListUsers)
}

// GetUser is an uncached point read.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	v, err := s.load(ctx, "get user", func(ctx context.Context) (any, error) { return s.db.GetUserByID(ctx, id) })
	if err != nil {
		return nil, err
	}
	return v.(*models.User), nil
}

// History returns the conversation between a and b, oldest first.
func (s *Store) History(ctx context.Context, a, b string) ([]models.Message, Source, error) {
	return ReadThrough(ctx, s, HistoryKey(channel.Canonicalize(a, b)), func(ctx context.Context) ([]models.Message, error) {
		return s.db.GetChatMessages(ctx, a, b)
	})
}

// SendMessage stores msg and invalidates the conversation snapshot.
func (s *Store) SendMessage(ctx context.Context, msg *models.Message) (WriteResult, error) {
	key := HistoryKey(channel.Canonicalize(msg.FromID, msg.ToID))
	return s.WriteAndInvalidate(ctx, func(ctx context.Context) (int64, error) {
		return s.db.SaveMessage(ctx, msg)
	}, key)
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) (WriteResult, error) {
	return s.WriteAndInvalidate(ctx, func(ctx context.Context) (int64, error) {
		return s.db.CreateUser(ctx, u)
	}, UsersKey)
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) (WriteResult, error) {
	return s.WriteAndInvalidate(ctx, func(ctx context.Context) (int64, error) {
		return s.db.UpdateUser(ctx, u)
	}, UsersKey)
}

func (s *Store) DeleteUser(ctx context.Context, id int64) (WriteResult, error) {
	return s.WriteAndInvalidate(ctx, func(ctx context.Context) (int64, error) {
		return s.db.DeleteUser(ctx, id)
	}, UsersKey)
}

// sortedUnique is used to take several key locks in a fixed order.
func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}
