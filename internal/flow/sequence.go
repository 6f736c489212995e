package flow

import (
	"context"
	"fmt"
)

// AppendActivity creates an activity at the end of the sequence. Order is
// always count+1 regardless of what the draft carries.
func (e *Engine) AppendActivity(ctx context.Context, p *Process, draft ActivityDraft) (*Result, error) {
	if draft.Type == "" {
		draft.Type = ActivityManual
	}
	if !KnownActivityType(draft.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivityType, draft.Type)
	}
	draft.Order = len(p.Activities) + 1

	step := Step{Kind: StepCreateActivity, Detail: draft.Name}
	if _, err := e.store.CreateActivity(ctx, p.ID, draft); err != nil {
		return e.finish(ctx, p.ID, nil, &step, err)
	}
	return e.finish(ctx, p.ID, []Step{step}, nil, nil)
}

// MoveActivity removes the activity from its position in the order-sorted
// sequence, reinserts it at targetIndex (0-based, clamped), and renumbers the
// whole sequence 1..n. Each changed order is persisted with an independent
// update in ascending sequence position; a failure partway leaves a mixed
// ordering that only the reconciliation read resolves.
func (e *Engine) MoveActivity(ctx context.Context, p *Process, activityID string, targetIndex int) (*Result, error) {
	ordered := p.ActivitiesByOrder()
	from := -1
	for i, a := range ordered {
		if a.ID == activityID {
			from = i
			break
		}
	}
	if from == -1 {
		return nil, ErrActivityNotFound
	}

	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(ordered)-1 {
		targetIndex = len(ordered) - 1
	}

	moved := ordered[from]
	seq := append(ordered[:from:from], ordered[from+1:]...)
	seq = append(seq[:targetIndex:targetIndex], append([]Activity{moved}, seq[targetIndex:]...)...)

	return e.renumber(ctx, p.ID, seq, nil)
}

// RemoveActivity deletes the activity and compacts order for the remainder.
// Edges touching the activity and endpoints pointing at it are cleaned up by
// the store as part of the delete.
func (e *Engine) RemoveActivity(ctx context.Context, p *Process, activityID string) (*Result, error) {
	ordered := p.ActivitiesByOrder()
	idx := -1
	for i, a := range ordered {
		if a.ID == activityID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrActivityNotFound
	}

	del := Step{Kind: StepDeleteActivity, Detail: activityID}
	if err := e.store.DeleteActivity(ctx, p.ID, activityID); err != nil {
		return e.finish(ctx, p.ID, nil, &del, err)
	}

	remaining := append(ordered[:idx:idx], ordered[idx+1:]...)
	return e.renumber(ctx, p.ID, remaining, []Step{del})
}

// renumber persists order = 1-based index for every activity whose order
// changed, walking the new sequence ascending.
func (e *Engine) renumber(ctx context.Context, processID string, seq []Activity, completed []Step) (*Result, error) {
	for i, a := range seq {
		want := i + 1
		if a.Order == want {
			continue
		}
		step := Step{Kind: StepUpdateOrder, Detail: fmt.Sprintf("%s=%d", a.ID, want)}
		ord := want
		if err := e.store.UpdateActivity(ctx, processID, a.ID, ActivityPatch{Order: &ord}); err != nil {
			return e.finish(ctx, processID, completed, &step, err)
		}
		completed = append(completed, step)
	}
	return e.finish(ctx, processID, completed, nil, nil)
}
