package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

// Registered names of the workflow and its activities.
const (
	ResearchWorkflowName     = "ResearchWorkflow"
	ActivityExecuteSubagent  = "ExecuteSubagent"
	ActivitySynthesizeReport = "SynthesizeReport"
	ActivityCheckpoint       = "CheckpointSession"
)

// ResearchInput starts a ResearchWorkflow for a session created by the API.
type ResearchInput struct {
	SessionID       string         `json:"session_id"`
	Topic           string         `json:"topic"`
	Depth           research.Depth `json:"depth"`
	CreatedAt       time.Time      `json:"created_at"`
	InterBatchDelay time.Duration  `json:"inter_batch_delay"`
	// SubagentTimeout bounds one ExecuteSubagent attempt.
	SubagentTimeout time.Duration `json:"subagent_timeout,omitempty"`
}

// ResearchResult is returned by a completed ResearchWorkflow.
type ResearchResult struct {
	SessionID  string `json:"session_id"`
	Report     string `json:"report"`
	ExitReason string `json:"exit_reason"`
	Sources    int    `json:"sources"`
	Coverage   int    `json:"coverage"`
}

// SubagentInput is the argument of the ExecuteSubagent activity.
type SubagentInput struct {
	ID        string            `json:"id"`
	Aspect    string            `json:"aspect"`
	Iteration int               `json:"iteration"`
	Snapshot  research.Snapshot `json:"snapshot"`
}

// SynthesisResult carries the cited report and the citation ids assigned to
// the session's sources, aligned with Session.Sources.
type SynthesisResult struct {
	Report      string `json:"report"`
	CitationIDs []int  `json:"citation_ids"`
}

// CheckpointInput persists a session copy and/or publishes one progress
// event. Either field may be nil.
type CheckpointInput struct {
	Session *research.Session  `json:"session,omitempty"`
	Event   *research.Progress `json:"event,omitempty"`
}

const defaultSubagentTimeout = 5 * time.Minute

// payloadContentChars caps the page content carried in activity payloads and
// workflow history. The report quotes shorter excerpts than this.
const payloadContentChars = 1000

// ResearchWorkflow runs the research loop durably. Planning, aspect
// selection, merging and evaluation happen in workflow code; every network
// call happens in activities.
func ResearchWorkflow(ctx workflow.Context, in ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ResearchWorkflow started",
		"session_id", in.SessionID,
		"depth", string(in.Depth),
	)

	timeout := in.SubagentTimeout
	if timeout <= 0 {
		timeout = defaultSubagentTimeout
	}
	r := &workflowRun{
		ctx: ctx,
		s:   research.NewSessionWithID(in.SessionID, in.Topic, in.Depth, in.CreatedAt),
		subagentCtx: workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: timeout,
			// Provider failures are absorbed inside the Subagent; nothing is retried.
			RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
		}),
		synthCtx: workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 2 * time.Minute,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		}),
	}

	s := r.s
	s.Memory.SavePlan(research.Plan(s.Topic, s.Depth))
	r.transition(research.StatusPlanning, &research.Progress{
		Type:    research.EventSessionStarted,
		Message: fmt.Sprintf("Planned %d aspects", len(s.Memory.Plan)),
		Payload: map[string]interface{}{"plan": s.Memory.Plan},
	})

	if err := r.iterate(in.InterBatchDelay); err != nil {
		return ResearchResult{}, r.fail(err)
	}

	r.transition(research.StatusSynthesizing, nil)
	var synth SynthesisResult
	if err := workflow.ExecuteActivity(r.synthCtx, ActivitySynthesizeReport, s.TrimContent(payloadContentChars)).Get(ctx, &synth); err != nil {
		return ResearchResult{}, r.fail(err)
	}
	r.transition(research.StatusCiting, nil)
	for i, id := range synth.CitationIDs {
		if i < len(s.Sources) {
			s.Sources[i].CitationID = id
		}
	}
	s.Report = synth.Report

	r.transition(research.StatusCompleted, &research.Progress{
		Type:    research.EventSessionCompleted,
		Message: s.ExitReason,
		Payload: map[string]interface{}{
			"sources":  len(s.Sources),
			"coverage": s.CoverageScore(),
		},
	})
	logger.Info("ResearchWorkflow completed",
		"session_id", s.ID,
		"iterations", len(s.Memory.History),
		"sources", len(s.Sources),
	)
	return ResearchResult{
		SessionID:  s.ID,
		Report:     s.Report,
		ExitReason: s.ExitReason,
		Sources:    len(s.Sources),
		Coverage:   s.CoverageScore(),
	}, nil
}

type workflowRun struct {
	ctx         workflow.Context
	s           *research.Session
	subagentCtx workflow.Context
	synthCtx    workflow.Context
}

func (r *workflowRun) iterate(delay time.Duration) error {
	s := r.s
	for iter := 0; iter < s.IterationCap; iter++ {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		aspects := research.SelectAspects(s, iter)
		if len(aspects) == 0 {
			s.ExitReason = research.ExitNoAspects
			return nil
		}

		s.Iteration = iter
		r.transition(research.StatusResearching, &research.Progress{
			Type:    research.EventIterationStarted,
			Message: fmt.Sprintf("Iteration %d researching %d aspects", iter+1, len(aspects)),
			Payload: map[string]interface{}{"aspects": aspects},
		})

		results := r.runBatch(iter, aspects)
		for _, res := range results {
			added := s.Merge(res)
			r.publish(&research.Progress{
				Type:    research.EventSubagentCompleted,
				Aspect:  res.Aspect,
				Message: fmt.Sprintf("%d new sources", added),
				Payload: map[string]interface{}{
					"subagent_id": res.ID,
					"state":       res.State,
					"sources":     len(res.Sources),
					"added":       added,
				},
			})
		}
		if err := r.ctx.Err(); err != nil {
			return err
		}

		s.SetStatus(research.StatusEvaluating, workflow.Now(r.ctx))
		result := research.Evaluate(s, iter, aspects)
		s.Memory.SetGaps(result.Gaps)
		s.Memory.AppendIterationResult(result)
		r.checkpoint(r.ctx, true, &research.Progress{
			Type:    research.EventIterationEvaluated,
			Message: result.Reasoning,
			Payload: map[string]interface{}{
				"coverage": result.CoverageScore,
				"sources":  result.SourceCount,
				"gaps":     research.GapStrings(result.Gaps),
				"decision": result.Decision,
			},
		})

		if result.Decision == research.DecisionExit {
			s.ExitReason = result.Reasoning
			return nil
		}
		if delay > 0 {
			if err := workflow.Sleep(r.ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// runBatch starts one ExecuteSubagent activity per aspect and collects the
// results in completion order. A failed activity yields a failed result so
// the aspect stays uncovered.
func (r *workflowRun) runBatch(iter int, aspects []string) []research.SubagentResult {
	s := r.s
	results := make([]research.SubagentResult, 0, len(aspects))
	sel := workflow.NewSelector(r.ctx)
	for i, aspect := range aspects {
		in := SubagentInput{
			ID:        research.SubagentID(s.ID, iter, i),
			Aspect:    aspect,
			Iteration: iter,
			Snapshot:  s.Snapshot(aspect),
		}
		future := workflow.ExecuteActivity(r.subagentCtx, ActivityExecuteSubagent, in)
		sel.AddFuture(future, func(f workflow.Future) {
			var res research.SubagentResult
			if err := f.Get(r.ctx, &res); err != nil {
				workflow.GetLogger(r.ctx).Warn("Subagent activity failed",
					"subagent_id", in.ID,
					"aspect", aspect,
					"error", err,
				)
				now := workflow.Now(r.ctx)
				res = research.SubagentResult{
					ID:          in.ID,
					Aspect:      aspect,
					Iteration:   iter,
					State:       research.SubagentFailed,
					StartedAt:   now,
					CompletedAt: now,
					Error:       err.Error(),
				}
			}
			results = append(results, res)
		})
	}
	for range aspects {
		sel.Select(r.ctx)
	}
	return results
}

func (r *workflowRun) fail(err error) error {
	s := r.s
	s.Error = err.Error()
	if s.ExitReason == "" {
		s.ExitReason = "Research aborted: " + err.Error()
	}
	// the run context may be cancelled; record the failure anyway
	dctx, _ := workflow.NewDisconnectedContext(r.ctx)
	s.SetStatus(research.StatusFailed, workflow.Now(dctx))
	r.checkpoint(dctx, true, &research.Progress{
		Type:    research.EventSessionFailed,
		Message: s.Error,
	})
	return fmt.Errorf("research session %s failed: %w", s.ID, err)
}

func (r *workflowRun) transition(status research.Status, ev *research.Progress) {
	r.s.SetStatus(status, workflow.Now(r.ctx))
	r.checkpoint(r.ctx, true, ev)
}

func (r *workflowRun) publish(ev *research.Progress) {
	r.checkpoint(r.ctx, false, ev)
}

// checkpoint runs the CheckpointSession activity and waits for it so
// events reach subscribers in order. Failures are logged only.
func (r *workflowRun) checkpoint(ctx workflow.Context, withSession bool, ev *research.Progress) {
	in := CheckpointInput{}
	if withSession {
		in.Session = r.s.TrimContent(payloadContentChars)
	}
	if ev != nil {
		ev.SessionID = r.s.ID
		ev.Iteration = r.s.Iteration
		ev.Timestamp = workflow.Now(ctx)
		in.Event = ev
	}
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	if err := workflow.ExecuteActivity(actx, ActivityCheckpoint, in).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Checkpoint failed",
			"session_id", r.s.ID,
			"status", string(r.s.Status),
			"error", err,
		)
	}
}
