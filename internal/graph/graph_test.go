package graph

import (
	"math"
	"testing"
	"time"
)

func av(addr string, value int64) AddressValue {
	return AddressValue{Address: addr, Value: value}
}

func TestAddTransaction_OutputShareApportioning(t *testing.T) {
	// tx1: A pays 100 sats split into B (60) and C (40).
	// Expected edges: A→B weight 0.6, A→C weight 0.4.
	g := New()
	g.AddTransaction("tx1",
		[]AddressValue{av("A", 100)},
		[]AddressValue{av("B", 60), av("C", 40)},
		time.Time{})

	ab := g.Edge("A", "B")
	if ab == nil {
		t.Fatal("Expected edge A→B to exist")
	}
	if math.Abs(ab.Weight-0.6) > 1e-9 {
		t.Errorf("Expected A→B weight 0.6. Got: %f", ab.Weight)
	}
	if ab.TxCount != 1 || ab.TotalValue != 60 || ab.FirstTx != "tx1" {
		t.Errorf("Unexpected A→B attributes: %+v", *ab)
	}

	ac := g.Edge("A", "C")
	if ac == nil {
		t.Fatal("Expected edge A→C to exist")
	}
	if math.Abs(ac.Weight-0.4) > 1e-9 {
		t.Errorf("Expected A→C weight 0.4. Got: %f", ac.Weight)
	}
	if ac.TotalValue != 40 || ac.TxCount != 1 {
		t.Errorf("Unexpected A→C attributes: %+v", *ac)
	}
}

func TestAddTransaction_EdgeAggregationAcrossTxs(t *testing.T) {
	// Two separate transactions along the same A→B pair must aggregate into
	// one edge with summed weight and value, and first_tx from the first.
	g := New()
	g.AddTransaction("tx1", []AddressValue{av("A", 100)}, []AddressValue{av("B", 100)}, time.Time{})
	g.AddTransaction("tx2", []AddressValue{av("A", 50)}, []AddressValue{av("B", 50)}, time.Time{})

	edge := g.Edge("A", "B")
	if edge == nil {
		t.Fatal("Expected edge A→B")
	}
	if math.Abs(edge.Weight-2.0) > 1e-9 {
		t.Errorf("Expected aggregated weight 2.0. Got: %f", edge.Weight)
	}
	if edge.TxCount != 2 || edge.TotalValue != 150 {
		t.Errorf("Expected txCount=2 totalValue=150. Got: %+v", *edge)
	}
	if edge.FirstTx != "tx1" {
		t.Errorf("first_tx is provenance of edge creation, expected tx1. Got: %s", edge.FirstTx)
	}
	if g.EdgeCount() != 1 {
		t.Errorf("Expected a single aggregated edge. Got: %d", g.EdgeCount())
	}
}

func TestAddTransaction_DegenerateOutputsSkipped(t *testing.T) {
	// All-zero outputs make the share division undefined; the transaction
	// must be skipped and counted, never propagated as a fault.
	g := New()
	g.AddTransaction("tx1", []AddressValue{av("A", 100)}, []AddressValue{av("B", 0)}, time.Time{})

	if g.NodeCount() != 0 || g.EdgeCount() != 0 {
		t.Errorf("Degenerate tx must not touch the graph. Nodes: %d, edges: %d", g.NodeCount(), g.EdgeCount())
	}
	if g.SkippedTxs() != 1 {
		t.Errorf("Expected skipped counter 1. Got: %d", g.SkippedTxs())
	}
	if g.TxCount() != 0 {
		t.Errorf("Degenerate tx must not count as admitted. Got: %d", g.TxCount())
	}
}

func TestAddTransaction_MultiInputDoubleCountingPreserved(t *testing.T) {
	// Observed behavior: a 2-input transaction contributes each output's
	// value to BOTH source edges, inflating total_value. This is kept as-is
	// because downstream thresholds were tuned against it.
	g := New()
	g.AddTransaction("tx1",
		[]AddressValue{av("A", 70), av("B", 30)},
		[]AddressValue{av("C", 100)},
		time.Time{})

	m, err := g.AddressMetrics("C")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m.TotalReceived != 200 {
		t.Errorf("Expected inflated total received 200 (100 per input edge). Got: %d", m.TotalReceived)
	}
}

func TestAddressMetrics_EndToEndScenario(t *testing.T) {
	// tx1: inputs [(A, 100)], outputs [(B, 60), (C, 40)].
	g := New()
	g.AddTransaction("tx1",
		[]AddressValue{av("A", 100)},
		[]AddressValue{av("B", 60), av("C", 40)},
		time.Time{})

	m, err := g.AddressMetrics("A")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m.OutDegree != 2 || m.InDegree != 0 {
		t.Errorf("Expected out_degree=2 in_degree=0. Got: out=%d in=%d", m.OutDegree, m.InDegree)
	}
	if m.TotalSent != 100 {
		t.Errorf("Expected total_sent=100. Got: %d", m.TotalSent)
	}
	if m.TotalReceived != 0 {
		t.Errorf("Expected total_received=0. Got: %d", m.TotalReceived)
	}
}

func TestAddressMetrics_NotFound(t *testing.T) {
	g := New()
	g.AddTransaction("tx1", []AddressValue{av("A", 1)}, []AddressValue{av("B", 1)}, time.Time{})

	if _, err := g.AddressMetrics("Z"); err != ErrAddressNotFound {
		t.Errorf("Expected ErrAddressNotFound. Got: %v", err)
	}
}

func TestClusteringCoefficient(t *testing.T) {
	// A's neighbors are B, C, D. Only the B-C pair is connected, so the
	// coefficient is 1/3. D exists but has no link to B or C.
	g := New()
	g.AddTransaction("t1", []AddressValue{av("A", 1)}, []AddressValue{av("B", 1)}, time.Time{})
	g.AddTransaction("t2", []AddressValue{av("A", 1)}, []AddressValue{av("C", 1)}, time.Time{})
	g.AddTransaction("t3", []AddressValue{av("A", 1)}, []AddressValue{av("D", 1)}, time.Time{})
	g.AddTransaction("t4", []AddressValue{av("B", 1)}, []AddressValue{av("C", 1)}, time.Time{})

	m, err := g.AddressMetrics("A")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(m.ClusteringCoefficient-1.0/3.0) > 1e-9 {
		t.Errorf("Expected clustering coefficient 1/3. Got: %f", m.ClusteringCoefficient)
	}

	// B has two neighbors (A and C) which are connected: coefficient 1.
	mb, _ := g.AddressMetrics("B")
	if math.Abs(mb.ClusteringCoefficient-1.0) > 1e-9 {
		t.Errorf("Expected clustering coefficient 1 for B. Got: %f", mb.ClusteringCoefficient)
	}

	// D has a single neighbor: coefficient defined as 0.
	md, _ := g.AddressMetrics("D")
	if md.ClusteringCoefficient != 0 {
		t.Errorf("Expected clustering coefficient 0 for D. Got: %f", md.ClusteringCoefficient)
	}
}

func TestGraphStats(t *testing.T) {
	g := New()
	g.AddTransaction("tx1",
		[]AddressValue{av("A", 100)},
		[]AddressValue{av("B", 60), av("C", 40)},
		time.Time{})

	if g.NodeCount() != 3 || g.EdgeCount() != 2 {
		t.Errorf("Expected 3 nodes, 2 edges. Got: %d, %d", g.NodeCount(), g.EdgeCount())
	}
	if g.TotalVolume() != 100 {
		t.Errorf("Expected total volume 100. Got: %d", g.TotalVolume())
	}
	// Density for 3 nodes: 2 edges / (3·2) = 1/3.
	if math.Abs(g.Density()-1.0/3.0) > 1e-9 {
		t.Errorf("Expected density 1/3. Got: %f", g.Density())
	}
}
