// Package interceptors tags outgoing provider calls with the Temporal
// execution that issued them.
package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// Header names set on requests issued from inside an activity.
const (
	HeaderWorkflowID = "X-Workflow-ID"
	HeaderRunID      = "X-Run-ID"
)

// WorkflowRoundTripper adds workflow metadata to outgoing HTTP requests.
// Outside an activity context requests pass through unchanged.
type WorkflowRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowRoundTripper wraps base, or http.DefaultTransport when nil.
func NewWorkflowRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper.
func (w *WorkflowRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if !activity.IsActivity(ctx) {
		return w.base.RoundTrip(req)
	}
	info := activity.GetInfo(ctx)
	if info.WorkflowExecution.ID == "" {
		return w.base.RoundTrip(req)
	}
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(ctx)
	req.Header.Set(HeaderWorkflowID, info.WorkflowExecution.ID)
	req.Header.Set(HeaderRunID, info.WorkflowExecution.RunID)
	return w.base.RoundTrip(req)
}
