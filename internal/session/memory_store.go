package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

type memoryEntry struct {
	session   *research.Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Once over MaxSessions the oldest
// finished sessions are dropped; running sessions are never evicted.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	opts     Options
	logger   *zap.Logger
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts Options, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Create registers a pending session.
func (m *MemoryStore) Create(ctx context.Context, topic string, depth research.Depth) (*research.Session, error) {
	s := research.NewSession(topic, depth, m.opts.Now())
	if err := m.Save(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionsCreated.Inc()
	m.logger.Info("Created research session",
		zap.String("session_id", s.ID),
		zap.String("depth", string(depth)),
	)
	return s.Clone(), nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(ctx context.Context, id string) (*research.Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.opts.Now().After(e.expiresAt) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

// List returns summaries, newest first.
func (m *MemoryStore) List(ctx context.Context) ([]research.Summary, error) {
	now := m.opts.Now()
	m.mu.RLock()
	out := make([]research.Summary, 0, len(m.sessions))
	for _, e := range m.sessions {
		if now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.session.Summarize())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Save stores a copy of s and refreshes its expiry.
func (m *MemoryStore) Save(ctx context.Context, s *research.Session) error {
	if err := validate(s); err != nil {
		return err
	}
	now := m.opts.Now()
	m.mu.Lock()
	m.sessions[s.ID] = &memoryEntry{session: s.Clone(), expiresAt: now.Add(m.opts.TTL)}
	m.evictLocked()
	m.mu.Unlock()
	return nil
}

// Discard archives and removes a session.
func (m *MemoryStore) Discard(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.opts.Archiver != nil {
		if err := m.opts.Archiver.ArchiveSession(ctx, s); err != nil {
			m.logger.Warn("Failed to archive session", zap.String("session_id", id), zap.Error(err))
		}
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("Discarded research session", zap.String("session_id", id))
	return nil
}

func (m *MemoryStore) evictLocked() {
	if len(m.sessions) <= m.opts.MaxSessions {
		return
	}
	var finished []*research.Session
	for _, e := range m.sessions {
		if e.session.Status.Terminal() {
			finished = append(finished, e.session)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].UpdatedAt.Before(finished[j].UpdatedAt)
	})
	for _, s := range finished {
		if len(m.sessions) <= m.opts.MaxSessions {
			break
		}
		delete(m.sessions, s.ID)
		metrics.SessionCacheEvictions.Inc()
	}
}
