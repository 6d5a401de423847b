package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

func TestLauncher_Launch(t *testing.T) {
	mockClient := &mocks.Client{}
	mockRun := &mocks.WorkflowRun{}
	mockRun.On("GetRunID").Return("run-1")

	s := research.NewSession("offshore wind", research.DepthModerate, time.Now())
	var captured ResearchInput
	mockClient.On("ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == s.ID && opts.TaskQueue == "research"
		}),
		ResearchWorkflowName,
		mock.AnythingOfType("workflows.ResearchInput"),
	).Run(func(args mock.Arguments) {
		captured = args.Get(3).(ResearchInput)
	}).Return(mockRun, nil)

	l := NewLauncher(mockClient, "research", 100*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, l.Launch(s))
	assert.Equal(t, s.ID, captured.SessionID)
	assert.Equal(t, "offshore wind", captured.Topic)
	assert.Equal(t, research.DepthModerate, captured.Depth)
	assert.Equal(t, 100*time.Millisecond, captured.InterBatchDelay)
	mockClient.AssertExpectations(t)
}

func TestLauncher_LaunchErrors(t *testing.T) {
	s := research.NewSession("x", research.DepthBasic, time.Now())

	dup := &mocks.Client{}
	dup.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "req", "run"))
	assert.ErrorIs(t, NewLauncher(dup, "q", 0, nil).Launch(s), research.ErrSessionNotPending)

	down := &mocks.Client{}
	down.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))
	err := NewLauncher(down, "q", 0, nil).Launch(s)
	require.Error(t, err)
	assert.NotErrorIs(t, err, research.ErrSessionNotPending)
}

func TestLauncher_Cancel(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		mockClient := &mocks.Client{}
		mockRun := &mocks.WorkflowRun{}
		mockClient.On("CancelWorkflow", mock.Anything, "s1", "").Return(nil)
		mockClient.On("GetWorkflow", mock.Anything, "s1", "").Return(mockRun)
		mockRun.On("Get", mock.Anything, nil).Return(temporal.NewCanceledError())

		stopped, err := NewLauncher(mockClient, "q", 0, nil).Cancel(context.Background(), "s1")
		require.NoError(t, err)
		assert.True(t, stopped)
	})

	t.Run("not running", func(t *testing.T) {
		mockClient := &mocks.Client{}
		mockClient.On("CancelWorkflow", mock.Anything, "s2", "").Return(serviceerror.NewNotFound("workflow not found"))

		stopped, err := NewLauncher(mockClient, "q", 0, nil).Cancel(context.Background(), "s2")
		require.NoError(t, err)
		assert.False(t, stopped)
	})

	t.Run("wait times out", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		mockClient := &mocks.Client{}
		mockRun := &mocks.WorkflowRun{}
		mockClient.On("CancelWorkflow", mock.Anything, "s3", "").Return(nil)
		mockClient.On("GetWorkflow", mock.Anything, "s3", "").Return(mockRun)
		mockRun.On("Get", mock.Anything, nil).Return(context.Canceled)

		stopped, err := NewLauncher(mockClient, "q", 0, nil).Cancel(ctx, "s3")
		assert.True(t, stopped)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
