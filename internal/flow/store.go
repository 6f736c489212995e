package flow

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrProcessNotFound  = errors.New("flow: process not found")
	ErrActivityNotFound = errors.New("flow: activity not found")
	ErrEdgeNotFound     = errors.New("flow: edge not found")
	// ErrDuplicateEdge is returned by the store when an edge with the same
	// (process, source, target, sourceHandle) triple already exists.
	ErrDuplicateEdge = errors.New("flow: duplicate edge")
	// ErrUnknownActivityType rejects drafts and patches carrying a type the
	// editor does not know.
	ErrUnknownActivityType = errors.New("flow: unknown activity type")
	// ErrNotDerived is returned when a disconnect request in implicit mode
	// does not match any connection the deriver would produce.
	ErrNotDerived = errors.New("flow: connection is not part of the derived chain")
)

type ActivityDraft struct {
	Order           int             `json:"order"`
	Name            string          `json:"name"`
	Type            ActivityType    `json:"activityType"`
	PositionX       float64         `json:"positionX"`
	PositionY       float64         `json:"positionY"`
	LinkedProcessID *string         `json:"linkedProcessId,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// ActivityPatch is a partial update; nil fields are left unchanged.
type ActivityPatch struct {
	Order              *int          `json:"order,omitempty"`
	Name               *string       `json:"name,omitempty"`
	Type               *ActivityType `json:"activityType,omitempty"`
	LinkedProcessID    *string       `json:"linkedProcessId,omitempty"`
	ClearLinkedProcess bool          `json:"clearLinkedProcess,omitempty"`
	PositionX          *float64      `json:"positionX,omitempty"`
	PositionY          *float64      `json:"positionY,omitempty"`
}

type PositionUpdate struct {
	ActivityID string  `json:"activityId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

type EdgeDraft struct {
	SourceActivityID string `json:"sourceActivityId"`
	TargetActivityID string `json:"targetActivityId"`
	SourceHandle     string `json:"sourceHandle,omitempty"`
	EdgeType         string `json:"edgeType"`
	Animated         bool   `json:"animated"`
}

// EndpointChange updates the process entry/exit anchors. Clearing is flagged
// explicitly so the store can tell "set to empty" apart from "no change".
type EndpointChange struct {
	Entry      *string `json:"entryActivityId,omitempty"`
	Exit       *string `json:"exitActivityId,omitempty"`
	ClearEntry bool    `json:"clearEntry,omitempty"`
	ClearExit  bool    `json:"clearExit,omitempty"`
}

// Store is the external persistence collaborator the engine drives. Mutations
// are independent calls with no transaction spanning them; after a failure the
// engine resynchronizes with FetchProcess rather than rolling back.
//
// Creating or deleting an edge and any endpoint change must also flip the
// process to explicit flow as a store-side effect; nothing ever flips it back.
type Store interface {
	FetchProcess(ctx context.Context, processID string) (*Process, error)
	CreateActivity(ctx context.Context, processID string, draft ActivityDraft) (*Activity, error)
	UpdateActivity(ctx context.Context, processID, activityID string, patch ActivityPatch) error
	DeleteActivity(ctx context.Context, processID, activityID string) error
	UpdateActivityPositions(ctx context.Context, processID string, moves []PositionUpdate) error
	CreateEdge(ctx context.Context, processID string, draft EdgeDraft) (*Edge, error)
	DeleteEdge(ctx context.Context, processID, edgeID string) error
	UpdateFlowEndpoints(ctx context.Context, processID string, change EndpointChange) error
}
