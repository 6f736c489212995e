package flow

import "context"

// Endpoint updates ratchet the process into explicit flow at the store layer;
// there is no operation that goes back to implicit.

func (e *Engine) SetEntry(ctx context.Context, p *Process, activityID string) (*Result, error) {
	if p.ActivityByID(activityID) == nil {
		return nil, ErrActivityNotFound
	}
	return e.updateEndpoints(ctx, p.ID, EndpointChange{Entry: &activityID})
}

func (e *Engine) ClearEntry(ctx context.Context, p *Process) (*Result, error) {
	return e.updateEndpoints(ctx, p.ID, EndpointChange{ClearEntry: true})
}

func (e *Engine) SetExit(ctx context.Context, p *Process, activityID string) (*Result, error) {
	if p.ActivityByID(activityID) == nil {
		return nil, ErrActivityNotFound
	}
	return e.updateEndpoints(ctx, p.ID, EndpointChange{Exit: &activityID})
}

func (e *Engine) ClearExit(ctx context.Context, p *Process) (*Result, error) {
	return e.updateEndpoints(ctx, p.ID, EndpointChange{ClearExit: true})
}

func (e *Engine) updateEndpoints(ctx context.Context, processID string, change EndpointChange) (*Result, error) {
	step := Step{Kind: StepResolveEndpoints, Detail: endpointDetail(change)}
	if err := e.store.UpdateFlowEndpoints(ctx, processID, change); err != nil {
		return e.finish(ctx, processID, nil, &step, err)
	}
	return e.finish(ctx, processID, []Step{step}, nil, nil)
}

func endpointDetail(change EndpointChange) string {
	detail := ""
	switch {
	case change.ClearEntry:
		detail = "entry=none"
	case change.Entry != nil:
		detail = "entry=" + *change.Entry
	}
	switch {
	case change.ClearExit:
		detail = joinDetail(detail, "exit=none")
	case change.Exit != nil:
		detail = joinDetail(detail, "exit="+*change.Exit)
	}
	return detail
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
