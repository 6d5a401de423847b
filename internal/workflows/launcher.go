package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

const startTimeout = 10 * time.Second

// Launcher starts sessions as ResearchWorkflow executions whose workflow id
// is the session id.
type Launcher struct {
	client    client.Client
	taskQueue string
	delay     time.Duration
	logger    *zap.Logger
}

// NewLauncher creates a Temporal-backed launcher.
func NewLauncher(c client.Client, taskQueue string, interBatchDelay time.Duration, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{client: c, taskQueue: taskQueue, delay: interBatchDelay, logger: logger}
}

// Launch starts the workflow for s.
func (l *Launcher) Launch(s *research.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	opts := client.StartWorkflowOptions{
		ID:                       s.ID,
		TaskQueue:                l.taskQueue,
		WorkflowExecutionTimeout: 2 * time.Hour,
	}
	in := ResearchInput{
		SessionID:       s.ID,
		Topic:           s.Topic,
		Depth:           s.Depth,
		CreatedAt:       s.CreatedAt,
		InterBatchDelay: l.delay,
	}
	run, err := l.client.ExecuteWorkflow(ctx, opts, ResearchWorkflowName, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return fmt.Errorf("%w: %s", research.ErrSessionNotPending, s.ID)
		}
		return fmt.Errorf("failed to start research workflow: %w", err)
	}
	l.logger.Info("Research workflow started",
		zap.String("session_id", s.ID),
		zap.String("run_id", run.GetRunID()),
		zap.String("task_queue", l.taskQueue),
	)
	return nil
}

// Cancel requests cancellation and waits for the workflow to close.
func (l *Launcher) Cancel(ctx context.Context, id string) (bool, error) {
	if err := l.client.CancelWorkflow(ctx, id, ""); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to cancel workflow %s: %w", id, err)
	}
	err := l.client.GetWorkflow(ctx, id, "").Get(ctx, nil)
	if err != nil && ctx.Err() != nil {
		return true, ctx.Err()
	}
	if err != nil && !temporal.IsCanceledError(err) {
		l.logger.Debug("Cancelled workflow closed with error", zap.String("session_id", id), zap.Error(err))
	}
	return true, nil
}
