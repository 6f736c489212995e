package flow

import (
	"context"
	"log"
)

// Engine executes editor commands against the persistence collaborator. It
// assumes a single logical writer per process: no version checks, no locks.
// Every command ends with a reconciliation read because the collaborator has
// no transaction spanning the command's calls.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Refresh re-fetches the authoritative process view.
func (e *Engine) Refresh(ctx context.Context, processID string) (*Process, error) {
	return e.store.FetchProcess(ctx, processID)
}

// finish closes out a command: it re-fetches the process and assembles the
// Result. cause is the first failed persistence call, nil on full success.
// The reconciliation read is best effort; if it also fails the Result carries
// no process and the caller works from stale state until the next read.
func (e *Engine) finish(ctx context.Context, processID string, completed []Step, failed *Step, cause error) (*Result, error) {
	res := &Result{
		Outcome:   OutcomeComplete,
		Completed: completed,
		Failed:    failed,
		Err:       cause,
	}
	if cause != nil {
		if len(completed) > 0 {
			res.Outcome = OutcomePartial
		} else {
			res.Outcome = OutcomeFailed
		}
	}

	fresh, err := e.store.FetchProcess(ctx, processID)
	if err != nil {
		log.Printf("flow: reconciliation fetch for %s failed: %v", processID, err)
	} else {
		res.Process = fresh
	}
	return res, cause
}
