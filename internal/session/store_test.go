package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
}

func (a *recordingArchiver) ArchiveSession(_ context.Context, s *research.Session) error {
	a.mu.Lock()
	a.archived = append(a.archived, s.ID)
	a.mu.Unlock()
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisStore(t *testing.T, mr *miniredis.Miniredis, opts Options) *RedisStore {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(circuitbreaker.NewRedisWrapper(rc, "session-test", zaptest.NewLogger(t)), opts, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, store Store, archiver *recordingArchiver, clk *clock) {
	ctx := context.Background()

	first, err := store.Create(ctx, "first topic", research.DepthBasic)
	require.NoError(t, err)
	assert.Equal(t, research.StatusPending, first.Status)
	assert.Equal(t, 2, first.IterationCap)

	clk.advance(time.Second)
	second, err := store.Create(ctx, "second topic", research.DepthComprehensive)
	require.NoError(t, err)

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first topic", got.Topic)

	// mutating a returned copy does not touch the store
	got.Topic = "changed"
	again, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first topic", again.Topic)

	// Save persists changes
	again.SetStatus(research.StatusCompleted, clk.now())
	again.Report = "report"
	require.NoError(t, store.Save(ctx, again))
	saved, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, research.StatusCompleted, saved.Status)
	assert.Equal(t, "report", saved.Report)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	require.NoError(t, store.Discard(ctx, first.ID))
	assert.Equal(t, []string{first.ID}, archiver.archived)
	_, err = store.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, store.Discard(ctx, "missing"), ErrSessionNotFound)
	assert.ErrorIs(t, store.Save(ctx, &research.Session{}), ErrInvalidSession)
}

func TestMemoryStore_Contract(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	archiver := &recordingArchiver{}
	store := NewMemoryStore(Options{Archiver: archiver, Now: clk.now}, zaptest.NewLogger(t))
	storeContract(t, store, archiver, clk)
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	archiver := &recordingArchiver{}
	store := newRedisStore(t, mr, Options{Archiver: archiver, Now: clk.now})
	storeContract(t, store, archiver, clk)
}

func TestMemoryStore_Expiry(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(Options{TTL: time.Hour, Now: clk.now}, zaptest.NewLogger(t))
	ctx := context.Background()

	s, err := store.Create(ctx, "t", research.DepthBasic)
	require.NoError(t, err)

	clk.advance(2 * time.Hour)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore_EvictsOnlyFinishedSessions(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(Options{MaxSessions: 2, Now: clk.now}, zaptest.NewLogger(t))
	ctx := context.Background()

	done, err := store.Create(ctx, "done", research.DepthBasic)
	require.NoError(t, err)
	done.SetStatus(research.StatusCompleted, clk.now())
	require.NoError(t, store.Save(ctx, done))

	running := make([]*research.Session, 0, 2)
	for i := 0; i < 2; i++ {
		clk.advance(time.Second)
		s, err := store.Create(ctx, "running", research.DepthBasic)
		require.NoError(t, err)
		running = append(running, s)
	}

	_, err = store.Get(ctx, done.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	for _, s := range running {
		_, err := store.Get(ctx, s.ID)
		assert.NoError(t, err)
	}

	// nothing finished left to evict: the store grows
	clk.advance(time.Second)
	_, err = store.Create(ctx, "running", research.DepthBasic)
	require.NoError(t, err)
	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestRedisStore_ReadsThroughFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	writer := newRedisStore(t, mr, Options{})
	s, err := writer.Create(ctx, "shared", research.DepthModerate)
	require.NoError(t, err)
	s.Memory.SavePlan(research.Plan(s.Topic, s.Depth))
	require.NoError(t, writer.Save(ctx, s))

	reader := newRedisStore(t, mr, Options{})
	got, err := reader.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Topic)
	assert.Equal(t, s.Memory.Plan, got.Memory.Plan)

	assert.True(t, mr.Exists(sessionKeyPrefix+s.ID))
	assert.Greater(t, mr.TTL(sessionKeyPrefix+s.ID), time.Duration(0))
}

func TestRedisStore_ReplicasSeeEachOthersWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts := Options{TTL: time.Hour, CacheTTL: time.Minute, Now: clk.now}

	replicaA := newRedisStore(t, mr, opts)
	replicaB := newRedisStore(t, mr, opts)

	s, err := replicaB.Create(ctx, "shared", research.DepthBasic)
	require.NoError(t, err)
	got, err := replicaA.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, research.StatusPending, got.Status)

	// a running session is never served from A's cache
	s.SetStatus(research.StatusCompleted, clk.now())
	s.Report = "done"
	require.NoError(t, replicaB.Save(ctx, s))
	got, err = replicaA.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, research.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Report)

	// finished sessions are cached for at most CacheTTL
	require.NoError(t, replicaB.Discard(ctx, s.ID))
	_, err = replicaA.Get(ctx, s.ID)
	require.NoError(t, err)
	clk.advance(time.Minute)
	_, err = replicaA.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_ExpiredSnapshotNotServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newRedisStore(t, mr, Options{TTL: time.Minute, Now: clk.now})

	s, err := store.Create(ctx, "short lived", research.DepthBasic)
	require.NoError(t, err)
	s.SetStatus(research.StatusCompleted, clk.now())
	require.NoError(t, store.Save(ctx, s))
	_, err = store.Get(ctx, s.ID)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	clk.advance(2 * time.Minute)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	store.mu.RLock()
	assert.NotContains(t, store.localCache, s.ID)
	store.mu.RUnlock()
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	writer := newRedisStore(t, mr, Options{TTL: time.Minute})
	s, err := writer.Create(ctx, "short lived", research.DepthBasic)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	reader := newRedisStore(t, mr, Options{})
	list, err := reader.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	members, err := mr.ZMembers(sessionIndexKey)
	if err == nil {
		assert.NotContains(t, members, s.ID)
	}
}

func TestRedisStore_InvalidSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set(sessionKeyPrefix+"bad", "{not json"))

	store := newRedisStore(t, mr, Options{})
	_, err := store.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestCheckpoint_StoresCopy(t *testing.T) {
	store := NewMemoryStore(Options{}, zaptest.NewLogger(t))
	ctx := context.Background()
	s := research.NewSession("t", research.DepthBasic, time.Now())

	require.NoError(t, Checkpoint(store)(ctx, s))
	s.Topic = "mutated later"

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", got.Topic)
}
