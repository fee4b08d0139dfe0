package resolver

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/depgraph"
	"github.com/pgbind/pgsys/manifest"
)

// Node is one pinned artifact.
type Node struct {
	ID       artifact.ID
	Manifest *manifest.Manifest
	// Direct dependencies, both phases, sorted.
	Deps []artifact.ID

	// Phases the artifact is needed in.
	Runtime bool
	Build   bool
	// Enabled features per phase, sorted.
	RuntimeFeatures []string
	BuildFeatures   []string
}

func (n *Node) Phases() []manifest.Phase {
	var res []manifest.Phase
	if n.Runtime {
		res = append(res, manifest.PhaseRuntime)
	}
	if n.Build {
		res = append(res, manifest.PhaseBuild)
	}
	return res
}

type Resolution struct {
	Root artifact.ID
	// Every pinned artifact including the root, by name.
	Nodes map[string]*Node
	// Build order: every artifact after its dependencies.
	Order []artifact.ID
}

func (r *Resolution) Node(name string) (*Node, bool) {
	n, ok := r.Nodes[name]
	return n, ok
}

func (r *Resolution) sorted(filter func(*Node) bool) []*Node {
	var res []*Node
	for _, name := range slices.Sorted(maps.Keys(r.Nodes)) {
		if name == r.Root.Name {
			continue
		}
		if n := r.Nodes[name]; filter(n) {
			res = append(res, n)
		}
	}
	return res
}

// Runtime returns the artifacts shipped with the root, sorted by name.
// Build-only artifacts are excluded.
func (r *Resolution) Runtime() []*Node {
	return r.sorted(func(n *Node) bool { return n.Runtime })
}

// BuildOnly returns the artifacts needed only to run generation.
func (r *Resolution) BuildOnly() []*Node {
	return r.sorted(func(n *Node) bool { return n.Build && !n.Runtime })
}

// All returns every pinned artifact except the root, sorted by name.
func (r *Resolution) All() []*Node {
	return r.sorted(func(*Node) bool { return true })
}

// DOT renders the resolved graph for graphviz. Runtime artifacts are
// drawn solid, build-only ones dashed.
func (r *Resolution) DOT() []byte {
	nodes := slices.SortedFunc(maps.Values(r.Nodes), func(a, b *Node) int {
		return artifact.Compare(a.ID, b.ID)
	})
	keys := make([]artifact.ID, len(nodes))
	for i, n := range nodes {
		keys[i] = n.ID
	}
	return depgraph.DOTCode(
		keys,
		func(id artifact.ID) []artifact.ID { return r.Nodes[id.Name].Deps },
		r.Root.String(),
		`node[shape=box]`,
		func(id artifact.ID) string {
			n := r.Nodes[id.Name]
			attrs := []string{fmt.Sprintf("label=%q", id.String())}
			switch {
			case id == r.Root:
				attrs = append(attrs, "style=bold")
			case !n.Runtime:
				attrs = append(attrs, "style=dashed")
			}
			return "[" + strings.Join(attrs, ", ") + "]"
		},
	)
}
