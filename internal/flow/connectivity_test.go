package flow

import (
	"fmt"
	"testing"
)

func TestDeriveEdgesYieldsConsecutivePairs(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			p := implicitProcess(n)
			conns := DeriveEdges(p.ActivitiesByOrder())

			want := n - 1
			if want < 0 {
				want = 0
			}
			if len(conns) != want {
				t.Fatalf("expected %d derived connections, got %d", want, len(conns))
			}
			for i, c := range conns {
				if c.Source != fmt.Sprintf("act%d", i+1) || c.Target != fmt.Sprintf("act%d", i+2) {
					t.Fatalf("connection %d = %s->%s, not consecutive", i, c.Source, c.Target)
				}
				if !c.Derived || c.EdgeID != "" {
					t.Fatalf("derived connection %d must be marked derived with no edge id", i)
				}
			}
		})
	}
}

func TestDeriveEdgesIgnoresInputSliceOrderField(t *testing.T) {
	// Callers pass an order-sorted slice; ActivitiesByOrder handles shuffles.
	p := &Process{ID: "p", Activities: []Activity{
		{ID: "c", Order: 3}, {ID: "a", Order: 1}, {ID: "b", Order: 2},
	}}
	conns := DeriveEdges(p.ActivitiesByOrder())
	if len(conns) != 2 || conns[0].Source != "a" || conns[1].Target != "c" {
		t.Fatalf("unexpected derivation %+v", conns)
	}
}

func TestImplicitConnectivityIncludesVirtualAnchors(t *testing.T) {
	p := implicitProcess(3)
	conn := ConnectivityOf(p)
	if conn.Explicit() {
		t.Fatal("process without explicit flow must derive connectivity")
	}

	conns := conn.Connections()
	if len(conns) != 4 {
		t.Fatalf("expected start + 2 pairs + end = 4 connections, got %d", len(conns))
	}
	if conns[0].Source != VirtualStartID || conns[0].Target != "act1" {
		t.Fatalf("expected Start->act1 first, got %+v", conns[0])
	}
	if conns[3].Source != "act3" || conns[3].Target != VirtualEndID {
		t.Fatalf("expected act3->End last, got %+v", conns[3])
	}
}

func TestImplicitConnectivityEmptyProcess(t *testing.T) {
	conns := ConnectivityOf(&Process{ID: "p"}).Connections()
	if len(conns) != 0 {
		t.Fatalf("empty process has no connectivity, got %+v", conns)
	}
}

func TestExplicitConnectivityTrustsStoredEdges(t *testing.T) {
	entry := "act2"
	p := &Process{
		ID:              "p",
		UseExplicitFlow: true,
		EntryActivityID: &entry,
		Activities:      implicitProcess(3).Activities,
		Edges: []Edge{
			{ID: "e1", SourceActivityID: "act2", TargetActivityID: "act1", SourceHandle: "no"},
		},
	}

	conn := ConnectivityOf(p)
	if !conn.Explicit() {
		t.Fatal("expected explicit connectivity")
	}
	conns := conn.Connections()

	// Start->act2 (entry), stored edge, and no End link since exit is unset.
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d: %+v", len(conns), conns)
	}
	if conns[0].Source != VirtualStartID || conns[0].Target != "act2" {
		t.Fatalf("expected Start->act2, got %+v", conns[0])
	}
	if conns[1].EdgeID != "e1" || conns[1].SourceHandle != "no" || conns[1].Derived {
		t.Fatalf("stored edge mangled: %+v", conns[1])
	}
}

func TestExplicitConnectivityIgnoresActivityOrder(t *testing.T) {
	// Once explicit, the stored edge set is authoritative even though the
	// order-derived chain would say otherwise.
	p := &Process{ID: "p", UseExplicitFlow: true, Activities: implicitProcess(4).Activities}
	conns := ConnectivityOf(p).Connections()
	if len(conns) != 0 {
		t.Fatalf("explicit process with no edges and no endpoints has no connectivity, got %+v", conns)
	}
}
