package graph

// Schedule returns a topological order of nodeIDs using Kahn's algorithm.
//
// Nodes that become eligible at the same time are ordered first-in
// first-out, seeded in the order of nodeIDs, so identical input always
// produces the identical order. Edges naming unknown nodes are ignored.
// Nodes on a cycle, and nodes downstream of one, never reach in-degree zero
// and are left out of the result; Excluded reports them.
func Schedule(nodeIDs []string, edges []Edge) []string {
	known := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		known[id] = true
	}

	inDegree := make(map[string]int, len(nodeIDs))
	successors := make(map[string][]string, len(nodeIDs))
	for _, e := range edges {
		src, dst := string(e.Source), string(e.Target)
		if !known[src] || !known[dst] {
			continue
		}
		successors[src] = append(successors[src], dst)
		inDegree[dst]++
	}

	queue := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(nodeIDs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range successors[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

// Excluded returns the ids of nodeIDs missing from order, in submission
// order.
func Excluded(nodeIDs, order []string) []string {
	scheduled := make(map[string]bool, len(order))
	for _, id := range order {
		scheduled[id] = true
	}
	var out []string
	for _, id := range nodeIDs {
		if !scheduled[id] {
			out = append(out, id)
		}
	}
	return out
}
