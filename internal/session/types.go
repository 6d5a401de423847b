package session

import (
	"context"
	"errors"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when session data is invalid
	ErrInvalidSession = errors.New("invalid session")
)

// Store keeps research sessions between requests. Sessions handed out are
// copies; callers persist changes with Save.
type Store interface {
	Create(ctx context.Context, topic string, depth research.Depth) (*research.Session, error)
	Get(ctx context.Context, id string) (*research.Session, error)
	List(ctx context.Context) ([]research.Summary, error)
	Save(ctx context.Context, s *research.Session) error
	Discard(ctx context.Context, id string) error
}

// Archiver receives sessions before they are discarded.
type Archiver interface {
	ArchiveSession(ctx context.Context, s *research.Session) error
}

// Options shared by the store implementations.
type Options struct {
	TTL         time.Duration
	MaxSessions int
	// CacheTTL bounds how long RedisStore serves a finished session from
	// its local cache before reading Redis again.
	CacheTTL time.Duration
	Archiver    Archiver
	Now         func() time.Time
}

const (
	defaultTTL         = 24 * time.Hour
	defaultMaxSessions = 10000
	defaultCacheTTL    = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = defaultMaxSessions
	}
	if o.CacheTTL <= 0 || o.CacheTTL > o.TTL {
		o.CacheTTL = min(defaultCacheTTL, o.TTL)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Checkpoint adapts a Store into the engine's checkpoint hook.
func Checkpoint(store Store) research.CheckpointFunc {
	return func(ctx context.Context, s *research.Session) error {
		return store.Save(ctx, s.Clone())
	}
}

func validate(s *research.Session) error {
	if s == nil || s.ID == "" {
		return ErrInvalidSession
	}
	return nil
}
