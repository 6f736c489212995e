package flow

import (
	"context"
	"fmt"
)

// UpdatePositions batch-persists node coordinates. Positions are orthogonal to
// order and edges; a failed write leaves them stale until the next drag, with
// no retry.
func (e *Engine) UpdatePositions(ctx context.Context, p *Process, moves []PositionUpdate) (*Result, error) {
	for _, m := range moves {
		if p.ActivityByID(m.ActivityID) == nil {
			return nil, ErrActivityNotFound
		}
	}
	if len(moves) == 0 {
		return e.finish(ctx, p.ID, nil, nil, nil)
	}

	step := Step{Kind: StepUpdatePositions, Detail: fmt.Sprintf("%d activities", len(moves))}
	if err := e.store.UpdateActivityPositions(ctx, p.ID, moves); err != nil {
		return e.finish(ctx, p.ID, nil, &step, err)
	}
	return e.finish(ctx, p.ID, []Step{step}, nil, nil)
}
