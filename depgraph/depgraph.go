// Package depgraph provides utilities for directed graphs, represented as
// a mapping from node keys to edges. An edge a -> b reads "a depends on b".
package depgraph

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/pgbind/pgsys/textutils"
)

// Reachable returns the roots and every node reachable from them. The
// walk stops at the first error returned by edges.
func Reachable[K comparable](roots []K, edges func(K) ([]K, error)) (map[K]struct{}, error) {
	seen := make(map[K]struct{}, len(roots))
	queue := slices.Clone(roots)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, ok := seen[node]; ok {
			continue
		}
		seen[node] = struct{}{}
		next, err := edges(node)
		if err != nil {
			return nil, err
		}
		queue = append(queue, next...)
	}
	return seen, nil
}

// CycleError indicates that the graph contains a cycle, preventing
// topological ordering.
type CycleError struct {
	// Nodes on the cycle, the first one repeated at the end.
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// TopoSort orders nodes so that every node comes after all nodes it has
// edges to (dependencies first), using Kahn's algorithm. Edges to nodes not
// in nodes are ignored. Ties are broken by cmp.Compare, so the order is
// deterministic.
func TopoSort[K cmp.Ordered](nodes []K, edges func(K) []K) ([]K, error) {
	inSet := make(map[K]bool, len(nodes))
	for _, n := range nodes {
		inSet[n] = true
	}

	// remaining[n] counts the unsorted dependencies of n,
	// dependents[d] lists the nodes depending on d.
	remaining := make(map[K]int, len(nodes))
	dependents := make(map[K][]K, len(nodes))
	for n := range inSet {
		seen := map[K]bool{}
		for _, d := range edges(n) {
			if !inSet[d] || seen[d] {
				continue
			}
			seen[d] = true
			remaining[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready []K
	for n := range inSet {
		if remaining[n] == 0 {
			ready = append(ready, n)
		}
	}

	res := make([]K, 0, len(inSet))
	for len(ready) > 0 {
		slices.Sort(ready)
		n := ready[0]
		ready = ready[1:]
		res = append(res, n)
		for _, dep := range dependents[n] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(res) != len(inSet) {
		var stuck []K
		for n := range inSet {
			if remaining[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		slices.Sort(stuck)
		return nil, &CycleError{Cycle: findCycle(stuck, edges, remaining)}
	}
	return res, nil
}

// findCycle walks from the smallest stuck node along edges to other stuck
// nodes until a node repeats. Every stuck node has such an edge.
func findCycle[K cmp.Ordered](stuck []K, edges func(K) []K, remaining map[K]int) []string {
	pos := map[K]int{}
	var path []K
	n := stuck[0]
	for {
		if i, ok := pos[n]; ok {
			var res []string
			for _, k := range path[i:] {
				res = append(res, fmt.Sprint(k))
			}
			return append(res, fmt.Sprint(n))
		}
		pos[n] = len(path)
		path = append(path, n)
		next := slices.Sorted(slices.Values(edges(n)))
		for _, d := range next {
			if remaining[d] > 0 {
				n = d
				break
			}
		}
	}
}

// DOTCode generates graphviz DOT code to visualize a graph.
// nodes represents all nodes included in the graph.
// name is the name of the digraph, prelude DOT code inserted
// in the beginning, and nodeAttrs should return a string representing
// a node's attributes (in []).
func DOTCode[K comparable](nodes []K, edges func(K) []K, name, prelude string, nodeAttrs func(K) string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "digraph %q {\n", name)
	if prelude = strings.TrimSpace(prelude); prelude != "" {
		b.WriteString(textutils.IndentString(prelude, "  ", 1))
		b.WriteByte('\n')
	}
	nodeIDs := map[K]int{}
	for id, key := range nodes {
		fmt.Fprintf(&b, "  %v", id)
		if attrs := nodeAttrs(key); attrs != "" {
			b.WriteByte(' ')
			b.WriteString(attrs)
		}
		b.WriteByte('\n')
		nodeIDs[key] = id
	}
	for id, key := range nodes {
		edgs := slices.DeleteFunc(slices.Clone(edges(key)), func(k K) bool {
			_, ok := nodeIDs[k]
			return !ok
		})
		if len(edgs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %v -> {", id)
		for i, edg := range edgs {
			if i != 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%v", nodeIDs[edg])
		}
		fmt.Fprintf(&b, "}\n")
	}
	fmt.Fprintf(&b, "}\n")
	return b.Bytes()
}
