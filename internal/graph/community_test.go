package graph

import (
	"testing"
	"time"
)

// denseClique wires every ordered pair among addrs with one transaction.
func denseClique(g *Graph, prefix string, addrs []string) {
	for i, a := range addrs {
		for j, b := range addrs {
			if i == j {
				continue
			}
			g.AddTransaction(prefix+a+b, []AddressValue{av(a, 100)}, []AddressValue{av(b, 100)}, time.Time{})
		}
	}
}

func partitionOf(parts [][]string, addr string) int {
	for i, members := range parts {
		for _, a := range members {
			if a == addr {
				return i
			}
		}
	}
	return -1
}

func TestCommunities_EmptyGraph(t *testing.T) {
	g := New()
	parts := g.Communities()
	if len(parts) != 0 {
		t.Errorf("Expected empty partition for empty graph. Got: %v", parts)
	}
}

func TestCommunities_IsAPartition(t *testing.T) {
	g := New()
	denseClique(g, "x", []string{"a1", "a2", "a3"})
	denseClique(g, "y", []string{"b1", "b2", "b3"})
	g.AddTransaction("bridge", []AddressValue{av("a1", 1)}, []AddressValue{av("b1", 1)}, time.Time{})

	parts := g.Communities()

	seen := make(map[string]int)
	for _, members := range parts {
		if len(members) == 0 {
			t.Fatal("Partition must not contain empty communities")
		}
		for _, addr := range members {
			seen[addr]++
		}
	}
	for _, addr := range g.Nodes() {
		if seen[addr] != 1 {
			t.Errorf("Address %s appears %d times in the partition, expected exactly once", addr, seen[addr])
		}
	}
	if len(seen) != g.NodeCount() {
		t.Errorf("Partition covers %d addresses, graph has %d", len(seen), g.NodeCount())
	}
}

func TestCommunities_TwoCliquesWeakBridge(t *testing.T) {
	// Two dense triangles joined by a single light edge: greedy modularity
	// should keep each clique together and apart from the other.
	g := New()
	denseClique(g, "x", []string{"a1", "a2", "a3"})
	denseClique(g, "y", []string{"b1", "b2", "b3"})
	g.AddTransaction("bridge", []AddressValue{av("a1", 1)}, []AddressValue{av("b1", 1)}, time.Time{})

	parts := g.Communities()

	if partitionOf(parts, "a1") != partitionOf(parts, "a2") ||
		partitionOf(parts, "a2") != partitionOf(parts, "a3") {
		t.Errorf("Clique a* split across communities: %v", parts)
	}
	if partitionOf(parts, "b1") != partitionOf(parts, "b2") ||
		partitionOf(parts, "b2") != partitionOf(parts, "b3") {
		t.Errorf("Clique b* split across communities: %v", parts)
	}
	if partitionOf(parts, "a1") == partitionOf(parts, "b1") {
		t.Errorf("Weakly bridged cliques merged into one community: %v", parts)
	}
}

func TestCommunities_SelfLoopTolerated(t *testing.T) {
	// An address sending change back to itself produces a self-loop, which
	// the projection must absorb without breaking the partition property.
	g := New()
	g.AddTransaction("t1", []AddressValue{av("A", 100)}, []AddressValue{av("A", 60), av("B", 40)}, time.Time{})

	parts := g.Communities()
	total := 0
	for _, members := range parts {
		total += len(members)
	}
	if total != g.NodeCount() {
		t.Errorf("Partition size %d does not cover %d nodes", total, g.NodeCount())
	}
}
