package graph

import "sort"

// Community Detector — greedy modularity optimization (Louvain)
//
// Runs on the undirected projection of the flow graph: an edge exists
// between A and B if either directed edge exists, with weight equal to the
// sum of both directions. The classic two-phase scheme is used:
//
//   Phase 1 (local moving): repeatedly move each node to the neighboring
//   community with the largest modularity gain until a full pass makes no
//   move.
//   Phase 2 (aggregation): collapse each community into a single node and
//   repeat on the condensed graph.
//
// Output is a partition: disjoint, non-empty address sets covering every
// node exactly once. Community ordering carries no meaning; only size and
// membership do.
//
// References:
//   - Blondel et al., "Fast unfolding of communities in large networks" (2008)
//   - Newman, "Modularity and community structure in networks" (2006)

const louvainEps = 1e-12

// projection is the undirected weighted view used by Louvain. Self-loops
// are tracked separately so degree bookkeeping stays exact through the
// aggregation levels.
type projection struct {
	n     int
	adj   []map[int]float64 // symmetric, no self entries
	selfW []float64
	deg   []float64 // k_i = Σ_j adj[i][j] + 2·selfW[i]
	m2    float64   // 2m = Σ_i k_i
}

// project builds the undirected projection. The index assignment is sorted
// so results are reproducible for a given graph.
func (g *Graph) project() (*projection, []string) {
	labels := g.Nodes()
	sort.Strings(labels)
	index := make(map[string]int, len(labels))
	for i, addr := range labels {
		index[addr] = i
	}

	p := &projection{
		n:     len(labels),
		adj:   make([]map[int]float64, len(labels)),
		selfW: make([]float64, len(labels)),
	}
	for i := range p.adj {
		p.adj[i] = make(map[int]float64)
	}

	for src, fwd := range g.out {
		i := index[src]
		for dst, edge := range fwd {
			j := index[dst]
			if i == j {
				p.selfW[i] += edge.Weight
				continue
			}
			p.adj[i][j] += edge.Weight
			p.adj[j][i] += edge.Weight
		}
	}

	p.recomputeDegrees()
	return p, labels
}

func (p *projection) recomputeDegrees() {
	p.deg = make([]float64, p.n)
	p.m2 = 0
	for i := 0; i < p.n; i++ {
		d := 2 * p.selfW[i]
		for _, w := range p.adj[i] {
			d += w
		}
		p.deg[i] = d
		p.m2 += d
	}
}

// Communities partitions the graph into address clusters. The empty graph
// yields an empty partition.
func (g *Graph) Communities() [][]string {
	p, labels := g.project()
	if p.n == 0 {
		return [][]string{}
	}

	// All-zero edge weights leave modularity undefined; fall back to
	// singletons, which is still a valid partition.
	if p.m2 <= 0 {
		parts := make([][]string, len(labels))
		for i, addr := range labels {
			parts[i] = []string{addr}
		}
		return parts
	}

	// assign[i] is the community of original node i, composed across levels.
	assign := make([]int, p.n)
	for i := range assign {
		assign[i] = i
	}

	for {
		comm, moved := louvainLocalMove(p)
		if !moved {
			break
		}
		comm, count := renumber(comm)
		for i := range assign {
			assign[i] = comm[assign[i]]
		}
		if count == p.n {
			break // no reduction possible
		}
		p = aggregate(p, comm, count)
	}

	grouped := make(map[int][]string)
	for i, c := range assign {
		grouped[c] = append(grouped[c], labels[i])
	}

	parts := make([][]string, 0, len(grouped))
	for _, members := range grouped {
		sort.Strings(members)
		parts = append(parts, members)
	}
	// Largest first; deterministic ordering for stable API output.
	sort.Slice(parts, func(a, b int) bool {
		if len(parts[a]) != len(parts[b]) {
			return len(parts[a]) > len(parts[b])
		}
		return parts[a][0] < parts[b][0]
	})
	return parts
}

// louvainLocalMove runs the local moving phase on p and returns the node
// community assignment plus whether any node moved at all.
func louvainLocalMove(p *projection) ([]int, bool) {
	comm := make([]int, p.n)
	commTot := make([]float64, p.n) // Σtot: total degree per community
	for i := 0; i < p.n; i++ {
		comm[i] = i
		commTot[i] = p.deg[i]
	}

	anyMoved := false
	for {
		movedInPass := false
		for i := 0; i < p.n; i++ {
			ci := comm[i]

			// Weight from i to each neighboring community.
			nw := map[int]float64{ci: 0}
			for j, w := range p.adj[i] {
				nw[comm[j]] += w
			}

			// Remove i from its community before evaluating gains.
			commTot[ci] -= p.deg[i]

			best, bestGain := ci, nw[ci]-commTot[ci]*p.deg[i]/p.m2
			for c, w := range nw {
				if c == ci {
					continue
				}
				gain := w - commTot[c]*p.deg[i]/p.m2
				if gain > bestGain+louvainEps {
					best, bestGain = c, gain
				}
			}

			commTot[best] += p.deg[i]
			if best != ci {
				comm[i] = best
				movedInPass = true
				anyMoved = true
			}
		}
		if !movedInPass {
			return comm, anyMoved
		}
	}
}

// renumber maps arbitrary community ids to the dense range [0, count).
func renumber(comm []int) ([]int, int) {
	next := 0
	ids := make(map[int]int)
	out := make([]int, len(comm))
	for i, c := range comm {
		id, ok := ids[c]
		if !ok {
			id = next
			ids[c] = id
			next++
		}
		out[i] = id
	}
	return out, next
}

// aggregate condenses each community into a single node. Intra-community
// weight (including member self-loops) becomes the merged node's self-loop,
// so total degree and 2m are preserved across levels.
func aggregate(p *projection, comm []int, count int) *projection {
	next := &projection{
		n:     count,
		adj:   make([]map[int]float64, count),
		selfW: make([]float64, count),
	}
	for i := range next.adj {
		next.adj[i] = make(map[int]float64)
	}

	for i := 0; i < p.n; i++ {
		ci := comm[i]
		next.selfW[ci] += p.selfW[i]
		for j, w := range p.adj[i] {
			if j < i {
				continue // count each undirected pair once
			}
			cj := comm[j]
			if ci == cj {
				next.selfW[ci] += w
				continue
			}
			next.adj[ci][cj] += w
			next.adj[cj][ci] += w
		}
	}

	next.recomputeDegrees()
	return next
}
