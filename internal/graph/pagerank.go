package graph

// Centrality Engine — weighted PageRank
//
// Standard power iteration over the directed, weight-apportioned graph:
//
//   rank(v) = (1-α)/N + α · Σ_{u→v} rank(u) · w(u,v)/outStrength(u)
//
// Dangling nodes (zero weighted out-strength) must redistribute their mass
// uniformly, otherwise the scores leak and stop summing to 1; a naive
// iteration without this step produces a distribution that decays toward
// the teleport term alone.
//
// Convergence is declared when the L1 change between iterations drops
// below the tolerance. If the iteration budget is exhausted first, the
// best available approximation is returned: an approximate ranking is
// still useful to every consumer, and nothing depends on exact stationary
// values.
//
// References:
//   - Page et al., "The PageRank Citation Ranking" (1999)
//   - Langville & Meyer, "Deeper Inside PageRank" (2004)

const (
	// DefaultDamping is the standard PageRank damping factor.
	DefaultDamping = 0.85

	pagerankTolerance = 1e-8
	pagerankMaxIters  = 100
)

// PageRank computes the centrality score of every address. Scores are
// non-negative and sum to 1 over a non-empty graph; the empty graph yields
// an empty map.
func (g *Graph) PageRank(alpha float64) map[string]float64 {
	n := len(g.nodes)
	if n == 0 {
		return map[string]float64{}
	}

	nodes := g.Nodes()
	nf := float64(n)

	// Weighted out-strength per node. Nodes whose outgoing edges all carry
	// zero weight behave exactly like dangling nodes.
	outStrength := make(map[string]float64, n)
	for src, fwd := range g.out {
		for _, edge := range fwd {
			outStrength[src] += edge.Weight
		}
	}

	rank := make(map[string]float64, n)
	for _, addr := range nodes {
		rank[addr] = 1 / nf
	}

	base := (1 - alpha) / nf
	for iter := 0; iter < pagerankMaxIters; iter++ {
		next := make(map[string]float64, n)
		danglingMass := 0.0

		for _, addr := range nodes {
			next[addr] = base
		}
		for _, src := range nodes {
			strength := outStrength[src]
			if strength == 0 {
				danglingMass += rank[src]
				continue
			}
			for dst, edge := range g.out[src] {
				next[dst] += alpha * rank[src] * edge.Weight / strength
			}
		}

		// Uniform redistribution of dangling mass keeps Σ scores = 1.
		spread := alpha * danglingMass / nf
		for _, addr := range nodes {
			next[addr] += spread
		}

		diff := 0.0
		for _, addr := range nodes {
			d := next[addr] - rank[addr]
			if d < 0 {
				d = -d
			}
			diff += d
		}
		rank = next
		if diff < pagerankTolerance {
			break
		}
	}

	return rank
}
