package flow

import "context"

// DefaultEdgeType is what the editor renders when a connection carries no
// explicit style.
const DefaultEdgeType = "smoothstep"

// Connect creates a user-drawn connection. Connections from the virtual Start
// node or to the virtual End node are routed to the entry/exit endpoints
// instead of creating an edge row. Duplicate triples are rejected by the
// store, not pre-validated here.
func (e *Engine) Connect(ctx context.Context, p *Process, source, target, sourceHandle string) (*Result, error) {
	if source == VirtualStartID {
		return e.SetEntry(ctx, p, target)
	}
	if target == VirtualEndID {
		return e.SetExit(ctx, p, source)
	}
	if p.ActivityByID(source) == nil || p.ActivityByID(target) == nil {
		return nil, ErrActivityNotFound
	}

	draft := EdgeDraft{
		SourceActivityID: source,
		TargetActivityID: target,
		SourceHandle:     sourceHandle,
		EdgeType:         DefaultEdgeType,
	}
	step := Step{Kind: StepCreateEdge, Detail: source + "->" + target}
	if _, err := e.store.CreateEdge(ctx, p.ID, draft); err != nil {
		return e.finish(ctx, p.ID, nil, &step, err)
	}
	return e.finish(ctx, p.ID, []Step{step}, nil, nil)
}

// DisconnectRequest identifies the connection the user removed: a stored edge
// by id, or a derived connection by its endpoint pair (using the virtual
// start/end ids where applicable).
type DisconnectRequest struct {
	EdgeID string `json:"edgeId,omitempty"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

// Disconnect removes a connection. In explicit mode this is a plain edge (or
// endpoint) removal. In implicit mode the connection is derived, and removing
// it converts the process to explicit flow via the mode switch.
func (e *Engine) Disconnect(ctx context.Context, p *Process, req DisconnectRequest) (*Result, error) {
	if !p.UseExplicitFlow {
		return e.disconnectDerived(ctx, p, req)
	}

	if req.Source == VirtualStartID {
		return e.ClearEntry(ctx, p)
	}
	if req.Target == VirtualEndID {
		return e.ClearExit(ctx, p)
	}

	edgeID := req.EdgeID
	if edgeID == "" {
		for _, edge := range p.Edges {
			if edge.SourceActivityID == req.Source && edge.TargetActivityID == req.Target {
				edgeID = edge.ID
				break
			}
		}
	}
	if edgeID == "" || p.EdgeByID(edgeID) == nil {
		return nil, ErrEdgeNotFound
	}

	step := Step{Kind: StepDeleteEdge, Detail: edgeID}
	if err := e.store.DeleteEdge(ctx, p.ID, edgeID); err != nil {
		return e.finish(ctx, p.ID, nil, &step, err)
	}
	return e.finish(ctx, p.ID, []Step{step}, nil, nil)
}
