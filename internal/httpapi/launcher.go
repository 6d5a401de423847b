package httpapi

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

// ErrShuttingDown is returned by Launch after Shutdown started.
var ErrShuttingDown = errors.New("launcher is shutting down")

// Launcher runs stored sessions to completion outside the request that
// created them.
type Launcher interface {
	Launch(s *research.Session) error
	// Cancel stops a running session and waits until it has stopped
	// writing to the store. It reports whether the session was running.
	Cancel(ctx context.Context, id string) (bool, error)
}

// Runner is what LocalLauncher executes; *research.LeadResearcher
// satisfies it.
type Runner interface {
	Run(ctx context.Context, s *research.Session) (string, error)
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// LocalLauncher runs sessions on goroutines of this process.
type LocalLauncher struct {
	runner Runner
	logger *zap.Logger

	base     context.Context
	stop     context.CancelFunc
	mu       sync.Mutex
	running  map[string]*run
	wg       sync.WaitGroup
	shutdown bool
}

// NewLocalLauncher creates a launcher using runner.
func NewLocalLauncher(runner Runner, logger *zap.Logger) *LocalLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &LocalLauncher{
		runner:  runner,
		logger:  logger,
		base:    base,
		stop:    stop,
		running: make(map[string]*run),
	}
}

// Launch starts s in the background.
func (l *LocalLauncher) Launch(s *research.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return ErrShuttingDown
	}
	if _, ok := l.running[s.ID]; ok {
		return research.ErrSessionNotPending
	}

	ctx, cancel := context.WithCancel(l.base)
	r := &run{cancel: cancel, done: make(chan struct{})}
	l.running[s.ID] = r
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer close(r.done)
		defer cancel()
		defer func() {
			l.mu.Lock()
			delete(l.running, s.ID)
			l.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				l.logger.Error("Research session panicked", zap.String("session_id", s.ID), zap.Any("panic", p))
			}
		}()

		if _, err := l.runner.Run(ctx, s); err != nil {
			l.logger.Warn("Research session ended with error", zap.String("session_id", s.ID), zap.Error(err))
		}
	}()
	return nil
}

// Cancel stops the session's run, if any.
func (l *LocalLauncher) Cancel(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	r, ok := l.running[id]
	l.mu.Unlock()
	if !ok {
		return false, nil
	}
	r.cancel()
	select {
	case <-r.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Running returns the number of sessions in flight.
func (l *LocalLauncher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}

// Shutdown refuses new sessions and waits for running ones. When ctx
// expires first the remaining sessions are cancelled, which fails them.
func (l *LocalLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.shutdown = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.stop()
		<-done
		return ctx.Err()
	}
}
