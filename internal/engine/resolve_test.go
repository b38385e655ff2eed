package engine

import "testing"

func TestNodeIDs(t *testing.T) {
	nodes := []NodeResult{{NodeID: "a"}, {NodeID: "b"}, {NodeID: "c"}}
	ids := nodeIDs(nodes)
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], ids[i])
		}
	}
}

func TestDedupeNodes(t *testing.T) {
	nodes := []NodeResult{
		{NodeID: "a", QualifiedName: "A"},
		{NodeID: "b", QualifiedName: "B"},
		{NodeID: "a", QualifiedName: "A-duplicate"},
	}
	out := dedupeNodes(nodes)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique nodes, got %d", len(out))
	}
	if out[0].NodeID != "a" || out[0].QualifiedName != "A" {
		t.Errorf("expected first occurrence of a to be kept, got %+v", out[0])
	}
	if out[1].NodeID != "b" {
		t.Errorf("expected b to be kept, got %+v", out[1])
	}
}

func TestDedupeEdges(t *testing.T) {
	edges := []EdgeResult{
		{SourceNodeID: "a", TargetNodeID: "b", Kind: "calls"},
		{SourceNodeID: "a", TargetNodeID: "b", Kind: "calls"},
		{SourceNodeID: "a", TargetNodeID: "b", Kind: "references"},
		{SourceNodeID: "b", TargetNodeID: "a", Kind: "calls"},
	}
	out := dedupeEdges(edges)
	if len(out) != 3 {
		t.Fatalf("expected 3 unique edges, got %d", len(out))
	}
}

func TestTruncate_NoOpUnderLimit(t *testing.T) {
	result := &ResolveResult{
		Nodes: []NodeResult{{NodeID: "a"}, {NodeID: "b"}},
		Edges: []EdgeResult{{SourceNodeID: "a", TargetNodeID: "b", Kind: "calls"}},
	}
	truncate(result, 10)
	if result.Truncated {
		t.Error("expected no truncation when under the node limit")
	}
	if len(result.Nodes) != 2 {
		t.Errorf("expected nodes unchanged, got %d", len(result.Nodes))
	}
}

func TestTruncate_DropsExcessNodesAndDanglingEdges(t *testing.T) {
	result := &ResolveResult{
		Nodes: []NodeResult{{NodeID: "a"}, {NodeID: "b"}, {NodeID: "c"}},
		Edges: []EdgeResult{
			{SourceNodeID: "a", TargetNodeID: "b", Kind: "calls"},
			{SourceNodeID: "b", TargetNodeID: "c", Kind: "calls"},
		},
	}
	truncate(result, 2)

	if !result.Truncated {
		t.Error("expected Truncated to be set")
	}
	if len(result.Nodes) != 2 {
		t.Fatalf("expected 2 nodes kept, got %d", len(result.Nodes))
	}
	if len(result.Edges) != 1 {
		t.Fatalf("expected edge touching dropped node c to be removed, got %d edges", len(result.Edges))
	}
	if result.Edges[0].TargetNodeID != "b" {
		t.Errorf("expected surviving edge a->b, got %+v", result.Edges[0])
	}
}

func TestTruncate_StripsSnippetsAboveThreshold(t *testing.T) {
	nodes := make([]NodeResult, snippetNodeThreshold+1)
	for i := range nodes {
		nodes[i] = NodeResult{NodeID: string(rune('a' + i)), SourceCode: "some source"}
	}
	result := &ResolveResult{Nodes: nodes}

	truncate(result, 1000)

	for i, n := range result.Nodes {
		if n.SourceCode != "" {
			t.Errorf("node %d: expected SourceCode stripped above snippet threshold, got %q", i, n.SourceCode)
		}
	}
}

func TestTruncate_DefaultsWhenMaxNodesZero(t *testing.T) {
	nodes := make([]NodeResult, 5)
	for i := range nodes {
		nodes[i] = NodeResult{NodeID: string(rune('a' + i))}
	}
	result := &ResolveResult{Nodes: nodes}

	truncate(result, 0)

	if result.Truncated {
		t.Error("expected no truncation for a small result set under the implicit default cap")
	}
	if len(result.Nodes) != 5 {
		t.Errorf("expected all 5 nodes kept, got %d", len(result.Nodes))
	}
}
