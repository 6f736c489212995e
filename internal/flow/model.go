// Package flow keeps a process's activities and connections coherent as the
// visual editor mutates them. A process starts in implicit mode, where
// connectivity is derived from activity order; the first time a derived
// connection is removed the process is converted to explicit mode and the
// surviving connections are materialized as stored edges. The conversion is
// one-way.
package flow

import (
	"encoding/json"
	"sort"
	"time"
)

// Virtual node ids used by the editor for the Start and End anchors. They are
// never persisted as activities; connections touching them are stored as
// entry/exit fields on the process.
const (
	VirtualStartID = "start"
	VirtualEndID   = "end"
)

type ActivityType string

const (
	ActivityManual      ActivityType = "manual"
	ActivityAutomated   ActivityType = "automated"
	ActivityHybrid      ActivityType = "hybrid"
	ActivityHandoff     ActivityType = "handoff"
	ActivityDecision    ActivityType = "decision"
	ActivityOperation   ActivityType = "operation"
	ActivityInspection  ActivityType = "inspection"
	ActivityTransport   ActivityType = "transport"
	ActivityDelay       ActivityType = "delay"
	ActivityStorage     ActivityType = "storage"
	ActivityDocument    ActivityType = "document"
	ActivityDatabase    ActivityType = "database"
	ActivityManualInput ActivityType = "manualInput"
	ActivityDisplay     ActivityType = "display"
)

var knownActivityTypes = map[ActivityType]struct{}{
	ActivityManual:      {},
	ActivityAutomated:   {},
	ActivityHybrid:      {},
	ActivityHandoff:     {},
	ActivityDecision:    {},
	ActivityOperation:   {},
	ActivityInspection:  {},
	ActivityTransport:   {},
	ActivityDelay:       {},
	ActivityStorage:     {},
	ActivityDocument:    {},
	ActivityDatabase:    {},
	ActivityManualInput: {},
	ActivityDisplay:     {},
}

// KnownActivityType reports whether t is one of the editor's activity types.
func KnownActivityType(t ActivityType) bool {
	_, ok := knownActivityTypes[t]
	return ok
}

type Process struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Activities      []Activity `json:"activities"`
	Edges           []Edge     `json:"edges"`
	EntryActivityID *string    `json:"entryActivityId,omitempty"`
	ExitActivityID  *string    `json:"exitActivityId,omitempty"`
	UseExplicitFlow bool       `json:"useExplicitFlow"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type Activity struct {
	ID              string          `json:"id"`
	ProcessID       string          `json:"processId"`
	Order           int             `json:"order"`
	Name            string          `json:"name"`
	Type            ActivityType    `json:"activityType"`
	PositionX       float64         `json:"positionX"`
	PositionY       float64         `json:"positionY"`
	LinkedProcessID *string         `json:"linkedProcessId,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

type Edge struct {
	ID               string `json:"id"`
	ProcessID        string `json:"processId"`
	SourceActivityID string `json:"sourceActivityId"`
	TargetActivityID string `json:"targetActivityId"`
	SourceHandle     string `json:"sourceHandle,omitempty"`
	EdgeType         string `json:"edgeType"`
	Animated         bool   `json:"animated"`
}

// ActivitiesByOrder returns the process activities sorted ascending by order.
// The result is a copy; mutating it does not touch the process view.
func (p *Process) ActivitiesByOrder() []Activity {
	ordered := make([]Activity, len(p.Activities))
	copy(ordered, p.Activities)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	return ordered
}

// ActivityByID returns the activity with the given id, or nil.
func (p *Process) ActivityByID(id string) *Activity {
	for i := range p.Activities {
		if p.Activities[i].ID == id {
			return &p.Activities[i]
		}
	}
	return nil
}

// EdgeByID returns the stored edge with the given id, or nil.
func (p *Process) EdgeByID(id string) *Edge {
	for i := range p.Edges {
		if p.Edges[i].ID == id {
			return &p.Edges[i]
		}
	}
	return nil
}
