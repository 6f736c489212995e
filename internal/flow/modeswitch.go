package flow

import "context"

// disconnectDerived converts a process from implicit to explicit flow because
// the user deleted a connection that only exists by derivation. The deleted
// connection is one of Start->first, last->End, or activity[i]->activity[i+1].
//
// Endpoints are resolved first: the deleted side is cleared, the surviving
// side keeps its prior effective value (the stored endpoint, or the first/last
// activity by order when none was stored). Then, for a pair deletion, every
// other consecutive pair of the original chain is materialized as a stored
// edge: n-2 edges for n activities, never n-1. The store flips the process to
// explicit flow as a side effect of the endpoint write.
//
// The edge writes are independent calls. If one fails partway the process is
// already explicit with an incomplete edge set; the Result reports which pairs
// made it so the caller can surface what is missing, and the reconciliation
// read returns the state as the store now has it. There is no rollback.
func (e *Engine) disconnectDerived(ctx context.Context, p *Process, req DisconnectRequest) (*Result, error) {
	ordered := p.ActivitiesByOrder()
	if len(ordered) == 0 {
		return nil, ErrNotDerived
	}

	const noPair = -1
	deletedPair := noPair
	startDeleted := false
	endDeleted := false

	switch {
	case req.Source == VirtualStartID:
		if req.Target != ordered[0].ID {
			return nil, ErrNotDerived
		}
		startDeleted = true
	case req.Target == VirtualEndID:
		if req.Source != ordered[len(ordered)-1].ID {
			return nil, ErrNotDerived
		}
		endDeleted = true
	default:
		for i := 0; i < len(ordered)-1; i++ {
			if ordered[i].ID == req.Source && ordered[i+1].ID == req.Target {
				deletedPair = i
				break
			}
		}
		if deletedPair == noPair {
			return nil, ErrNotDerived
		}
	}

	change := EndpointChange{}
	if startDeleted {
		change.ClearEntry = true
	} else {
		change.Entry = effectiveEntry(p, ordered)
	}
	if endDeleted {
		change.ClearExit = true
	} else {
		change.Exit = effectiveExit(p, ordered)
	}

	var completed []Step
	resolve := Step{Kind: StepResolveEndpoints, Detail: endpointDetail(change)}
	if err := e.store.UpdateFlowEndpoints(ctx, p.ID, change); err != nil {
		return e.finish(ctx, p.ID, completed, &resolve, err)
	}
	completed = append(completed, resolve)

	if deletedPair != noPair {
		for i := 0; i < len(ordered)-1; i++ {
			if i == deletedPair {
				continue
			}
			draft := EdgeDraft{
				SourceActivityID: ordered[i].ID,
				TargetActivityID: ordered[i+1].ID,
				EdgeType:         DefaultEdgeType,
			}
			step := Step{Kind: StepCreateEdge, Detail: draft.SourceActivityID + "->" + draft.TargetActivityID}
			if _, err := e.store.CreateEdge(ctx, p.ID, draft); err != nil {
				return e.finish(ctx, p.ID, completed, &step, err)
			}
			completed = append(completed, step)
		}
	}

	return e.finish(ctx, p.ID, completed, nil, nil)
}

// effectiveEntry is the entry the process behaves as having while implicit:
// the stored endpoint if set, otherwise the first activity by order.
func effectiveEntry(p *Process, ordered []Activity) *string {
	if p.EntryActivityID != nil {
		id := *p.EntryActivityID
		return &id
	}
	id := ordered[0].ID
	return &id
}

func effectiveExit(p *Process, ordered []Activity) *string {
	if p.ExitActivityID != nil {
		id := *p.ExitActivityID
		return &id
	}
	id := ordered[len(ordered)-1].ID
	return &id
}
