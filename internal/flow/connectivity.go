package flow

// Connection is one effective link in a process flow. Derived connections have
// no EdgeID; connections touching the virtual anchors use VirtualStartID and
// VirtualEndID as endpoints.
type Connection struct {
	EdgeID       string `json:"edgeId,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Derived      bool   `json:"derived"`
}

// Connectivity is the tagged union over the two flow representations. While a
// process is implicit, connectivity is derived from activity order and stored
// edges are ignored; once explicit, the stored edge set is authoritative.
type Connectivity interface {
	Connections() []Connection
	Explicit() bool
}

// ConnectivityOf picks the representation the process is currently in.
func ConnectivityOf(p *Process) Connectivity {
	if p.UseExplicitFlow {
		return explicitFlow{p: p}
	}
	return implicitFlow{ordered: p.ActivitiesByOrder()}
}

type implicitFlow struct {
	ordered []Activity
}

func (f implicitFlow) Explicit() bool { return false }

func (f implicitFlow) Connections() []Connection {
	if len(f.ordered) == 0 {
		return []Connection{}
	}
	conns := make([]Connection, 0, len(f.ordered)+1)
	conns = append(conns, Connection{Source: VirtualStartID, Target: f.ordered[0].ID, Derived: true})
	conns = append(conns, DeriveEdges(f.ordered)...)
	conns = append(conns, Connection{Source: f.ordered[len(f.ordered)-1].ID, Target: VirtualEndID, Derived: true})
	return conns
}

type explicitFlow struct {
	p *Process
}

func (f explicitFlow) Explicit() bool { return true }

func (f explicitFlow) Connections() []Connection {
	conns := make([]Connection, 0, len(f.p.Edges)+2)
	if f.p.EntryActivityID != nil {
		conns = append(conns, Connection{Source: VirtualStartID, Target: *f.p.EntryActivityID})
	}
	for _, e := range f.p.Edges {
		conns = append(conns, Connection{
			EdgeID:       e.ID,
			Source:       e.SourceActivityID,
			Target:       e.TargetActivityID,
			SourceHandle: e.SourceHandle,
		})
	}
	if f.p.ExitActivityID != nil {
		conns = append(conns, Connection{Source: *f.p.ExitActivityID, Target: VirtualEndID})
	}
	return conns
}

// DeriveEdges computes the implicit activity-to-activity connections for a
// sequence already sorted by order: exactly n-1 consecutive pairs for n
// activities. It never includes the virtual Start/End links and persists
// nothing.
func DeriveEdges(ordered []Activity) []Connection {
	if len(ordered) < 2 {
		return []Connection{}
	}
	conns := make([]Connection, 0, len(ordered)-1)
	for i := 0; i < len(ordered)-1; i++ {
		conns = append(conns, Connection{
			Source:  ordered[i].ID,
			Target:  ordered[i+1].ID,
			Derived: true,
		})
	}
	return conns
}
