package graph

// Path Finder — directed shortest-path fund tracing
//
// Breadth-first search over directed edges only: the result is the route
// funds could actually have moved along, not mere undirected association.
// The hop budget is a hard bound — a path that would need more than
// maxHops edges is reported as "no path", which keeps worst-case work
// proportional to the reachable neighborhood instead of the whole graph.

// TracePath returns the shortest directed path from source to target as an
// ordered address sequence, or nil when either endpoint is absent, no
// directed path exists, or the shortest path exceeds maxHops edges.
// TracePath(a, a, h) returns [a] for any h >= 0. Between equal-length
// paths the choice is arbitrary, but the returned length is always minimal.
func (g *Graph) TracePath(source, target string, maxHops int) []string {
	if !g.HasNode(source) || !g.HasNode(target) {
		return nil
	}
	if source == target {
		return []string{source}
	}
	if maxHops < 1 {
		return nil
	}

	parent := map[string]string{source: ""}
	frontier := []string{source}

	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, u := range frontier {
			for v := range g.out[u] {
				if _, seen := parent[v]; seen {
					continue
				}
				parent[v] = u
				if v == target {
					return reconstruct(parent, source, target)
				}
				next = append(next, v)
			}
		}
		frontier = next
	}

	return nil
}

func reconstruct(parent map[string]string, source, target string) []string {
	var rev []string
	for at := target; at != ""; at = parent[at] {
		rev = append(rev, at)
		if at == source {
			break
		}
	}

	path := make([]string, len(rev))
	for i, addr := range rev {
		path[len(rev)-1-i] = addr
	}
	return path
}
