package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
)

// Registrar adds workflows and activities to a worker.
type Registrar interface {
	Register(r worker.Registry)
}

// Dial connects to Temporal, retrying with a growing delay until ctx ends.
func Dial(ctx context.Context, cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger),
	}
	for attempt := 1; ; attempt++ {
		c, err := client.DialContext(ctx, opts)
		if err == nil {
			logger.Info("Connected to Temporal",
				zap.String("host", cfg.HostPort),
				zap.String("namespace", cfg.Namespace),
			)
			return c, nil
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", cfg.HostPort),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to temporal at %s: %w", cfg.HostPort, err)
		case <-time.After(delay):
		}
	}
}

// StartWorker registers reg on taskQueue and starts polling. The returned
// worker must be stopped by the caller.
func StartWorker(c client.Client, taskQueue string, maxActivities int, reg Registrar, logger *zap.Logger) (worker.Worker, error) {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxActivities,
	})
	reg.Register(w)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("failed to start temporal worker: %w", err)
	}
	logger.Info("Temporal worker started", zap.String("queue", taskQueue))
	return w, nil
}
