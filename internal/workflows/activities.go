package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/session"
)

// Activities holds the collaborators ResearchWorkflow's activities call.
type Activities struct {
	deps   research.Dependencies
	synth  research.Synthesizer
	cfg    research.Config
	store  session.Store
	sink   research.ProgressSink
	logger *zap.Logger
}

// NewActivities creates the activity set. store and sink may be nil, in
// which case checkpoints are dropped.
func NewActivities(deps research.Dependencies, synth research.Synthesizer, cfg research.Config, store session.Store, sink research.ProgressSink, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		deps:   deps,
		synth:  synth,
		cfg:    cfg,
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// ExecuteSubagent runs one Subagent against the snapshot it was given. Page
// content in the result is trimmed before it enters workflow history.
func (a *Activities) ExecuteSubagent(ctx context.Context, in SubagentInput) (research.SubagentResult, error) {
	agent := research.NewSubagent(in.ID, in.Aspect, in.Iteration, in.Snapshot, a.deps, a.cfg, a.logger)
	res := agent.Execute(ctx)
	res.TrimContent(payloadContentChars)
	activity.GetLogger(ctx).Debug("Subagent finished",
		"subagent_id", in.ID,
		"state", string(res.State),
		"sources", len(res.Sources),
	)
	return res, nil
}

// SynthesizeReport renders the report and applies citations.
func (a *Activities) SynthesizeReport(ctx context.Context, s *research.Session) (SynthesisResult, error) {
	if s == nil {
		return SynthesisResult{}, fmt.Errorf("synthesize: nil session")
	}
	report := a.synth.Synthesize(s)
	cited := research.NewCitationAgent().Process(s, report)
	ids := make([]int, len(s.Sources))
	for i, src := range s.Sources {
		ids[i] = src.CitationID
	}
	return SynthesisResult{Report: cited, CitationIDs: ids}, nil
}

// CheckpointSession stores the session copy and publishes the event.
func (a *Activities) CheckpointSession(ctx context.Context, in CheckpointInput) error {
	if in.Session != nil && a.store != nil {
		if err := a.store.Save(ctx, in.Session); err != nil {
			return fmt.Errorf("failed to checkpoint session %s: %w", in.Session.ID, err)
		}
	}
	if in.Event != nil && a.sink != nil {
		a.sink.Report(*in.Event)
	}
	return nil
}

// Register adds ResearchWorkflow and its activities to a worker.
func (a *Activities) Register(r worker.Registry) {
	r.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: ResearchWorkflowName})
	r.RegisterActivityWithOptions(a.ExecuteSubagent, activity.RegisterOptions{Name: ActivityExecuteSubagent})
	r.RegisterActivityWithOptions(a.SynthesizeReport, activity.RegisterOptions{Name: ActivitySynthesizeReport})
	r.RegisterActivityWithOptions(a.CheckpointSession, activity.RegisterOptions{Name: ActivityCheckpoint})
}
