package graph

import (
	"errors"
	"time"

	"github.com/rawblock/txgraph-engine/pkg/models"
)

// Weighted Transaction Graph
//
// Nodes are addresses, edges are aggregated fund flows. One directed edge
// exists per ordered (source, destination) pair, regardless of how many
// transactions moved value along it; each contributing transaction folds
// its share into the edge attributes.
//
// Weight apportioning follows the output-value share model: a transaction
// paying outputs O distributes weight out_val/Σ(out_vals) along every
// (input, output) edge it creates. The share depends only on the output,
// not on which input it is paired with.
//
// Known quirk, preserved deliberately: total_value accumulates the full
// output value once per (input, output) pair, so a transaction with k
// inputs contributes each output value k times across its source edges.
// Aggregate received/sent figures are therefore inflated for addresses in
// multi-input transactions. Downstream risk thresholds were tuned against
// this behavior, so it must not be "fixed" silently.
//
// A graph instance is mutated only while a snapshot is being built; once
// published it is read-only, which is what makes lock-free concurrent
// queries safe.

// ErrAddressNotFound is returned for query operations on addresses that
// have no edges in the current snapshot.
var ErrAddressNotFound = errors.New("address not found in transaction graph")

// Flow is the aggregated directed edge between two addresses.
type Flow struct {
	Weight     float64 `json:"weight"`     // accumulated proportional value share
	TxCount    int     `json:"txCount"`    // contributions, one per (input, output) pairing
	TotalValue int64   `json:"totalValue"` // accumulated output value in Satoshis
	FirstTx    string  `json:"firstTx"`    // provenance: tx that created the edge
}

// AddressValue is one deduplicated (address, value) pair on either side of
// a transaction.
type AddressValue struct {
	Address string
	Value   int64
}

// Graph is the directed flow graph for one snapshot generation.
type Graph struct {
	nodes map[string]struct{}
	out   map[string]map[string]*Flow // src -> dst -> edge
	in    map[string]map[string]*Flow // dst -> src -> same edge
	edges int

	txCount    int // admitted transactions
	skippedTxs int // degenerate transactions (zero total output value)
	newestSeen time.Time
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]struct{}),
		out:   make(map[string]map[string]*Flow),
		in:    make(map[string]map[string]*Flow),
	}
}

// AddTransaction folds one transaction into the graph: every (input, output)
// pair in the cartesian product contributes share = out_val/Σ(out_vals) to
// the corresponding edge. A transaction whose outputs sum to zero would make
// the share undefined, so it is skipped and counted rather than faulting.
func (g *Graph) AddTransaction(txHash string, inputs, outputs []AddressValue, firstSeen time.Time) {
	var totalOut int64
	for _, out := range outputs {
		totalOut += out.Value
	}
	if len(inputs) == 0 || len(outputs) == 0 || totalOut <= 0 {
		g.skippedTxs++
		return
	}

	for _, in := range inputs {
		for _, out := range outputs {
			share := float64(out.Value) / float64(totalOut)
			g.accumulate(in.Address, out.Address, txHash, share, out.Value)
		}
	}

	g.txCount++
	if firstSeen.After(g.newestSeen) {
		g.newestSeen = firstSeen
	}
}

// accumulate adds one contribution to the (src, dst) edge, creating it on
// first touch. Edge attributes only ever grow within a snapshot.
func (g *Graph) accumulate(src, dst, txHash string, share float64, outValue int64) {
	g.nodes[src] = struct{}{}
	g.nodes[dst] = struct{}{}

	fwd, ok := g.out[src]
	if !ok {
		fwd = make(map[string]*Flow)
		g.out[src] = fwd
	}

	edge, ok := fwd[dst]
	if !ok {
		edge = &Flow{FirstTx: txHash}
		fwd[dst] = edge

		rev, ok := g.in[dst]
		if !ok {
			rev = make(map[string]*Flow)
			g.in[dst] = rev
		}
		rev[src] = edge
		g.edges++
	}

	edge.Weight += share
	edge.TxCount++
	edge.TotalValue += outValue
}

// HasNode reports whether the address has any edge in the graph.
func (g *Graph) HasNode(addr string) bool {
	_, ok := g.nodes[addr]
	return ok
}

// Nodes returns every address in the graph, in no particular order.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for addr := range g.nodes {
		nodes = append(nodes, addr)
	}
	return nodes
}

// Edge returns the directed edge from src to dst, or nil.
func (g *Graph) Edge(src, dst string) *Flow {
	return g.out[src][dst]
}

// Degrees returns the in- and out-degree (distinct edge counts) of addr.
func (g *Graph) Degrees(addr string) (in, out int) {
	return len(g.in[addr]), len(g.out[addr])
}

// NodeCount returns the number of addresses.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of distinct directed edges.
func (g *Graph) EdgeCount() int { return g.edges }

// TxCount returns the number of admitted transactions.
func (g *Graph) TxCount() int { return g.txCount }

// SkippedTxs returns the number of degenerate transactions dropped during
// construction.
func (g *Graph) SkippedTxs() int { return g.skippedTxs }

// NewestSeen returns the most recent first-seen timestamp among admitted
// transactions (zero if none carried one).
func (g *Graph) NewestSeen() time.Time { return g.newestSeen }

// TotalVolume returns the sum of total_value over every edge. Inherits the
// multi-input double counting described in the package comment.
func (g *Graph) TotalVolume() int64 {
	var total int64
	for _, fwd := range g.out {
		for _, edge := range fwd {
			total += edge.TotalValue
		}
	}
	return total
}

// Density returns the directed graph density E/(n(n-1)).
func (g *Graph) Density() float64 {
	n := len(g.nodes)
	if n < 2 {
		return 0
	}
	return float64(g.edges) / (float64(n) * float64(n-1))
}

// AvgDegree returns the mean total degree (in + out) per node.
func (g *Graph) AvgDegree() float64 {
	n := len(g.nodes)
	if n == 0 {
		return 0
	}
	return 2 * float64(g.edges) / float64(n)
}

// AddressMetrics returns the per-address network metrics, or
// ErrAddressNotFound if the address has no edges in this snapshot.
func (g *Graph) AddressMetrics(addr string) (models.AddressMetrics, error) {
	if !g.HasNode(addr) {
		return models.AddressMetrics{}, ErrAddressNotFound
	}

	m := models.AddressMetrics{Address: addr}
	for _, edge := range g.in[addr] {
		m.InDegree++
		m.TotalReceived += edge.TotalValue
	}
	for _, edge := range g.out[addr] {
		m.OutDegree++
		m.TotalSent += edge.TotalValue
	}
	m.ClusteringCoefficient = g.clusteringCoefficient(addr)

	return m, nil
}

// neighbors returns the undirected neighborhood of addr, excluding addr
// itself (self-loops do not make an address its own neighbor).
func (g *Graph) neighbors(addr string) map[string]struct{} {
	neigh := make(map[string]struct{})
	for dst := range g.out[addr] {
		if dst != addr {
			neigh[dst] = struct{}{}
		}
	}
	for src := range g.in[addr] {
		if src != addr {
			neigh[src] = struct{}{}
		}
	}
	return neigh
}

// connected reports whether u and v share an edge in either direction.
func (g *Graph) connected(u, v string) bool {
	if _, ok := g.out[u][v]; ok {
		return true
	}
	_, ok := g.out[v][u]
	return ok
}

// clusteringCoefficient computes the local clustering coefficient of addr
// in the undirected projection: the fraction of its neighbor pairs that
// are themselves connected. Fewer than two neighbors yields 0.
func (g *Graph) clusteringCoefficient(addr string) float64 {
	neigh := g.neighbors(addr)
	k := len(neigh)
	if k < 2 {
		return 0
	}

	ordered := make([]string, 0, k)
	for n := range neigh {
		ordered = append(ordered, n)
	}

	links := 0
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if g.connected(ordered[i], ordered[j]) {
				links++
			}
		}
	}

	return 2 * float64(links) / (float64(k) * float64(k-1))
}
