package flow

type StepKind string

const (
	StepCreateActivity   StepKind = "create-activity"
	StepUpdateOrder      StepKind = "update-order"
	StepDeleteActivity   StepKind = "delete-activity"
	StepResolveEndpoints StepKind = "resolve-endpoints"
	StepCreateEdge       StepKind = "create-edge"
	StepDeleteEdge       StepKind = "delete-edge"
	StepUpdatePositions  StepKind = "update-positions"
)

// Step is one persistence call inside a command. Detail identifies the touched
// entity (activity id, "source->target" pair, ...).
type Step struct {
	Kind   StepKind `json:"kind"`
	Detail string   `json:"detail,omitempty"`
}

type Outcome string

const (
	// OutcomeComplete: every step of the command was persisted.
	OutcomeComplete Outcome = "complete"
	// OutcomePartial: some steps were persisted before one failed. The store
	// keeps whatever was written; Completed tells the caller how far it got.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed: the first persistence call failed, nothing was written.
	OutcomeFailed Outcome = "failed"
)

// Result reports how a command against the persistence collaborator went.
// Process is the re-fetched authoritative view; it may be nil when the
// reconciliation read itself failed.
type Result struct {
	Outcome   Outcome  `json:"outcome"`
	Completed []Step   `json:"completedSteps"`
	Failed    *Step    `json:"failedStep,omitempty"`
	Err       error    `json:"-"`
	Process   *Process `json:"process,omitempty"`
}

// ErrorMessage is the failure text for API responses; empty on success.
func (r *Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
