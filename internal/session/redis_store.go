package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

const (
	sessionKeyPrefix = "research:session:"
	sessionIndexKey  = "research:sessions"
	listLimit        = 200
)

// RedisStore persists JSON snapshots in Redis with a TTL and keeps a local
// LRU cache in front of it. Only finished sessions are cached, and only for
// Options.CacheTTL; running sessions are always read from Redis because
// another replica may be advancing them.
type RedisStore struct {
	client      *circuitbreaker.RedisWrapper
	logger      *zap.Logger
	opts        Options
	mu          sync.RWMutex
	localCache  map[string]cacheEntry
	cacheAccess map[string]time.Time
}

type cacheEntry struct {
	session   *research.Session
	expiresAt time.Time
}

// NewRedisClient dials addr and wraps it in a circuit breaker. The password
// comes from REDIS_PASSWORD.
func NewRedisClient(ctx context.Context, addr string, logger *zap.Logger) (*circuitbreaker.RedisWrapper, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	client := circuitbreaker.NewRedisWrapper(rc, "session", logger)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore builds a store on an existing client.
func NewRedisStore(client *circuitbreaker.RedisWrapper, opts Options, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:      client,
		logger:      logger,
		opts:        opts.withDefaults(),
		localCache:  make(map[string]cacheEntry),
		cacheAccess: make(map[string]time.Time),
	}
}

// Create registers a pending session.
func (r *RedisStore) Create(ctx context.Context, topic string, depth research.Depth) (*research.Session, error) {
	s := research.NewSession(topic, depth, r.opts.Now())
	if err := r.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := r.client.ZAdd(ctx, sessionIndexKey, &redis.Z{
		Score:  float64(s.CreatedAt.UnixNano()),
		Member: s.ID,
	}).Err(); err != nil {
		r.logger.Warn("Failed to index session", zap.String("session_id", s.ID), zap.Error(err))
	}
	metrics.SessionsCreated.Inc()
	r.logger.Info("Created research session",
		zap.String("session_id", s.ID),
		zap.String("depth", string(depth)),
	)
	return s.Clone(), nil
}

// Get returns a copy of the session, from the local cache when possible.
func (r *RedisStore) Get(ctx context.Context, id string) (*research.Session, error) {
	if cached := r.cached(id); cached != nil {
		metrics.SessionCacheHits.Inc()
		return cached.Clone(), nil
	}
	metrics.SessionCacheMisses.Inc()

	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s research.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	r.cache(&s)
	return s.Clone(), nil
}

// List returns summaries of indexed sessions, newest first. Index entries
// whose snapshot has expired are pruned.
func (r *RedisStore) List(ctx context.Context) ([]research.Summary, error) {
	ids, err := r.client.ZRevRange(ctx, sessionIndexKey, 0, listLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]research.Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			r.client.ZRem(ctx, sessionIndexKey, id)
			continue
		}
		if err != nil {
			r.logger.Warn("Skipping unreadable session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		out = append(out, s.Summarize())
	}
	return out, nil
}

// Save writes a snapshot of s with the store TTL.
func (r *RedisStore) Save(ctx context.Context, s *research.Session) error {
	if err := validate(s); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.ID), data, r.opts.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	r.cache(s.Clone())
	return nil
}

// Discard archives the session, then deletes its snapshot and index entry.
func (r *RedisStore) Discard(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.opts.Archiver != nil {
		if err := r.opts.Archiver.ArchiveSession(ctx, s); err != nil {
			r.logger.Warn("Failed to archive session", zap.String("session_id", id), zap.Error(err))
		}
	}

	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	r.client.ZRem(ctx, sessionIndexKey, id)

	r.mu.Lock()
	delete(r.localCache, id)
	delete(r.cacheAccess, id)
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
	r.mu.Unlock()

	r.logger.Info("Discarded research session", zap.String("session_id", id))
	return nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// RedisWrapper returns the underlying client for health checks.
func (r *RedisStore) RedisWrapper() *circuitbreaker.RedisWrapper {
	return r.client
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// cached returns the local copy of id while it is fresh. Expired entries are
// evicted so the caller falls through to Redis.
func (r *RedisStore) cached(id string) *research.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.localCache[id]
	if !ok {
		return nil
	}
	now := r.opts.Now()
	if !now.Before(entry.expiresAt) {
		delete(r.localCache, id)
		delete(r.cacheAccess, id)
		metrics.SessionCacheEvictions.Inc()
		metrics.SessionCacheSize.Set(float64(len(r.localCache)))
		return nil
	}
	r.cacheAccess[id] = now
	return entry.session
}

func (r *RedisStore) cache(s *research.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !s.Status.Terminal() {
		delete(r.localCache, s.ID)
		delete(r.cacheAccess, s.ID)
	} else {
		now := r.opts.Now()
		r.localCache[s.ID] = cacheEntry{session: s, expiresAt: now.Add(r.opts.CacheTTL)}
		r.cacheAccess[s.ID] = now
		r.cleanupLocalCache()
	}
	metrics.SessionCacheSize.Set(float64(len(r.localCache)))
}

// cleanupLocalCache drops the least recently used half once the cache
// exceeds MaxSessions.
func (r *RedisStore) cleanupLocalCache() {
	if len(r.localCache) <= r.opts.MaxSessions {
		return
	}
	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(r.localCache))
	for id := range r.localCache {
		entries = append(entries, accessEntry{id: id, time: r.cacheAccess[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].time.Before(entries[j].time) })

	toRemove := len(r.localCache) - r.opts.MaxSessions/2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(r.localCache, entries[i].id)
		delete(r.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
