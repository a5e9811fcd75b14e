package interceptors

import (
	"context"
	"net/http"

	"go.temporal.io/sdk/activity"
)

// WorkflowHTTPRoundTripper tags outgoing provider requests made from inside
// the research activity with the workflow execution ids.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper.
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if id, runID, ok := workflowIDs(req.Context()); ok {
		req = req.Clone(req.Context())
		req.Header.Set("X-Workflow-ID", id)
		req.Header.Set("X-Run-ID", runID)
	}
	return w.base.RoundTrip(req)
}

// workflowIDs reads the activity info. activity.GetInfo panics outside an
// activity context, e.g. in the CLI or tests.
func workflowIDs(ctx context.Context) (id, runID string, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	info := activity.GetInfo(ctx)
	if info.WorkflowExecution.ID == "" {
		return "", "", false
	}
	return info.WorkflowExecution.ID, info.WorkflowExecution.RunID, true
}
