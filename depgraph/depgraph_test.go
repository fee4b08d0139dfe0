package depgraph_test

import (
	"errors"
	"testing"

	"github.com/pgbind/pgsys/depgraph"
	"github.com/stretchr/testify/require"
)

func edgesOf(g map[string][]string) func(string) []string {
	return func(k string) []string { return g[k] }
}

func TestTopoSort(t *testing.T) {
	require := require.New(t)

	g := map[string][]string{
		"pg-sys":    {"pg-macros", "memoffset", "bindgen"},
		"pg-macros": {"pg-utils"},
		"bindgen":   {"pg-utils", "external"},
		"pg-utils":  {},
		"memoffset": {},
	}
	order, err := depgraph.TopoSort([]string{"pg-sys", "pg-macros", "bindgen", "pg-utils", "memoffset"}, edgesOf(g))
	require.NoError(err)
	require.Equal([]string{"memoffset", "pg-utils", "bindgen", "pg-macros", "pg-sys"}, order)

	order, err = depgraph.TopoSort(nil, edgesOf(g))
	require.NoError(err)
	require.Empty(order)
}

func TestTopoSortCycle(t *testing.T) {
	require := require.New(t)

	g := map[string][]string{
		"root": {"a"},
		"a":    {"b"},
		"b":    {"c"},
		"c":    {"a"},
		"d":    {},
	}
	_, err := depgraph.TopoSort([]string{"root", "a", "b", "c", "d"}, edgesOf(g))
	var cycleErr *depgraph.CycleError
	require.ErrorAs(err, &cycleErr)
	require.Equal([]string{"a", "b", "c", "a"}, cycleErr.Cycle)
	require.Equal("dependency cycle: a -> b -> c -> a", err.Error())

	_, err = depgraph.TopoSort([]string{"x"}, edgesOf(map[string][]string{"x": {"x"}}))
	require.ErrorAs(err, &cycleErr)
	require.Equal([]string{"x", "x"}, cycleErr.Cycle)
}

func TestReachable(t *testing.T) {
	require := require.New(t)

	g := map[string][]string{
		"a": {"b"},
		"b": {"a", "c"},
		"d": {"a"},
	}
	next := func(k string) ([]string, error) { return g[k], nil }
	reached, err := depgraph.Reachable([]string{"a"}, next)
	require.NoError(err)
	require.Equal(map[string]struct{}{"a": {}, "b": {}, "c": {}}, reached)

	errMissing := errors.New("missing")
	_, err = depgraph.Reachable([]string{"d"}, func(k string) ([]string, error) {
		if k == "c" {
			return nil, errMissing
		}
		return next(k)
	})
	require.ErrorIs(err, errMissing)
}

func TestDOTCode(t *testing.T) {
	require := require.New(t)

	g := map[string][]string{
		"a": {"b", "outside"},
		"b": {},
	}
	dot := depgraph.DOTCode([]string{"a", "b"}, edgesOf(g), "deps", "node[shape=box]", func(k string) string {
		return "[label=\"" + k + "\"]"
	})
	require.Equal(`digraph "deps" {
  node[shape=box]
  0 [label="a"]
  1 [label="b"]
  0 -> {1}
}
`, string(dot))
}
