package research

import "time"

// Progress event types emitted while a session runs.
const (
	EventSessionStarted     = "SESSION_STARTED"
	EventIterationStarted   = "ITERATION_STARTED"
	EventSubagentCompleted  = "SUBAGENT_COMPLETED"
	EventIterationEvaluated = "ITERATION_EVALUATED"
	EventSessionCompleted   = "SESSION_COMPLETED"
	EventSessionFailed      = "SESSION_FAILED"
)

// Progress is a single observable step of a running session.
type Progress struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Iteration int                    `json:"iteration"`
	Aspect    string                 `json:"aspect,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ProgressSink receives progress events. Implementations must not block.
type ProgressSink interface {
	Report(p Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(Progress)

// Report calls f(p).
func (f ProgressFunc) Report(p Progress) { f(p) }

type nopSink struct{}

func (nopSink) Report(Progress) {}
