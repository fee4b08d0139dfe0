package resolver_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgbind/pgsys/depgraph"
	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/registry"
	"github.com/pgbind/pgsys/resolver"
	"github.com/stretchr/testify/require"
)

func pkg(t *testing.T, name, version, rest string) *manifest.Manifest {
	t.Helper()
	src := fmt.Sprintf("[package]\nname = %q\nversion = %q\n%v", name, version, rest)
	m, err := manifest.Parse(name+"@"+version, []byte(src))
	require.NoError(t, err)
	return m
}

const rootDeps = `
[features]
pg13 = ["memoffset/unstable"]
pg14 = []

[dependencies]
memoffset = "0.6.5"
pg-macros = { path = "../pg-macros", version = "=0.4.5" }
`

const rootBuildDeps = `
[build-dependencies]
bindgen = { version = "0.59.2", default-features = false, features = ["runtime"] }
pg-utils = { path = "../pg-utils", version = "=0.4.5" }
`

func testRegistry(t *testing.T, extra ...*manifest.Manifest) *registry.Memory {
	reg := registry.NewMemory(extra...)
	for _, v := range []string{"0.6.4", "0.6.5", "0.6.9", "0.7.0"} {
		reg.Add(pkg(t, "memoffset", v, `
[features]
default = ["std"]
std = []
unstable = []
`))
	}
	reg.Add(pkg(t, "pg-macros", "0.4.4", ""))
	reg.Add(pkg(t, "pg-macros", "0.4.5", `
[dependencies]
once-cell = "1.8"
[build-dependencies]
syn = "1"
`))
	reg.Add(pkg(t, "pg-utils", "0.4.5", ""))
	reg.Add(pkg(t, "bindgen", "0.59.2", `
[features]
default = ["runtime", "logging"]
runtime = []
logging = []
[dependencies]
clang-sys = "1"
log = { version = "0.4", features = ["std"] }
`))
	reg.Add(pkg(t, "clang-sys", "1.0.0", ""))
	reg.Add(pkg(t, "clang-sys", "1.3.0", ""))
	reg.Add(pkg(t, "log", "0.4.14", `
[features]
default = []
std = []
`))
	reg.Add(pkg(t, "once-cell", "1.8.0", ""))
	reg.Add(pkg(t, "once-cell", "1.9.0", ""))
	reg.Add(pkg(t, "syn", "1.0.80", ""))
	return reg
}

func resolve(t *testing.T, root *manifest.Manifest, reg registry.Registry, opts resolver.Options) (*resolver.Resolution, error) {
	t.Helper()
	set, err := feature.Resolve(root, feature.Request{Features: []string{"pg13"}})
	require.NoError(t, err)
	return resolver.Resolve(context.Background(), root, set, reg, opts)
}

func ids(nodes []*resolver.Node) []string {
	var res []string
	for _, n := range nodes {
		res = append(res, n.ID.String())
	}
	return res
}

func TestResolve(t *testing.T) {
	require := require.New(t)

	root := pkg(t, "pg-sys", "0.4.5", rootDeps+rootBuildDeps)
	res, err := resolve(t, root, testRegistry(t), resolver.Options{})
	require.NoError(err)

	require.Equal([]string{
		"memoffset@0.6.9",
		"once-cell@1.9.0",
		"pg-macros@0.4.5",
	}, ids(res.Runtime()))
	require.Equal([]string{
		"bindgen@0.59.2",
		"clang-sys@1.3.0",
		"log@0.4.14",
		"pg-utils@0.4.5",
		"syn@1.0.80",
	}, ids(res.BuildOnly()))

	memoffset, _ := res.Node("memoffset")
	require.Equal([]string{"default", "std", "unstable"}, memoffset.RuntimeFeatures)
	require.False(memoffset.Build)

	bindgen, _ := res.Node("bindgen")
	require.Equal([]string{"runtime"}, bindgen.BuildFeatures)
	require.Empty(bindgen.RuntimeFeatures)

	log, _ := res.Node("log")
	require.Equal([]string{"default", "std"}, log.BuildFeatures)

	rootNode, _ := res.Node("pg-sys")
	require.Equal([]string{"pg13"}, rootNode.RuntimeFeatures)

	// Dependencies come first in the build order.
	pos := map[string]int{}
	for i, id := range res.Order {
		pos[id.Name] = i
	}
	require.Len(pos, 9)
	require.Equal(len(res.Order)-1, pos["pg-sys"])
	for _, n := range res.Nodes {
		for _, d := range n.Deps {
			require.Less(pos[d.Name], pos[n.ID.Name], "%v before %v", d, n.ID)
		}
	}
}

func TestBuildDepsDoNotChangeRuntime(t *testing.T) {
	require := require.New(t)
	reg := testRegistry(t)

	full, err := resolve(t, pkg(t, "pg-sys", "0.4.5", rootDeps+rootBuildDeps), reg, resolver.Options{})
	require.NoError(err)
	runtimeOnly, err := resolve(t, pkg(t, "pg-sys", "0.4.5", rootDeps), reg, resolver.Options{})
	require.NoError(err)

	require.Equal(ids(runtimeOnly.Runtime()), ids(full.Runtime()))
	for _, n := range full.Runtime() {
		other, ok := runtimeOnly.Node(n.ID.Name)
		require.True(ok)
		require.Equal(other.RuntimeFeatures, n.RuntimeFeatures, n.ID.String())
	}
	// pg-macros still needs its own generator dependency.
	require.Equal([]string{"syn@1.0.80"}, ids(runtimeOnly.BuildOnly()))
}

func TestBuildDemandOnRuntimeArtifact(t *testing.T) {
	require := require.New(t)
	reg := testRegistry(t, pkg(t, "gen", "1.0.0", `
[dependencies]
memoffset = "<0.6.8"
`))

	root := pkg(t, "pg-sys", "0.4.5", rootDeps+`
[build-dependencies]
gen = "1"
`)
	_, err := resolve(t, root, reg, resolver.Options{})
	var conflict *resolver.ConflictError
	require.ErrorAs(err, &conflict)
	require.Equal("memoffset", conflict.Name)
	require.Equal("0.6.9", conflict.Fixed)
	require.Equal([]string{"0.6.4", "0.6.5", "0.6.9", "0.7.0"}, conflict.Available)
	msg := err.Error()
	require.Contains(msg, "gen@1.0.0 requires <0.6.8 (build)")
	require.Contains(msg, "version 0.6.9 is fixed by the runtime dependencies")
	require.Contains(msg, "available: 0.6.4, 0.6.5, 0.6.9, 0.7.0")
}

func TestBacktrack(t *testing.T) {
	require := require.New(t)
	reg := registry.NewMemory(
		pkg(t, "a", "1.0.0", "[dependencies]\nc = \"1\"\n"),
		pkg(t, "a", "1.1.0", "[dependencies]\nc = \"2\"\n"),
		pkg(t, "c", "1.0.0", ""),
		pkg(t, "c", "2.0.0", ""),
	)
	root := pkg(t, "pg-sys", "0.4.5", "[features]\npg13 = []\n[dependencies]\na = \"1\"\nc = \"1\"\n")

	res, err := resolve(t, root, reg, resolver.Options{})
	require.NoError(err)
	require.Equal([]string{"a@1.0.0", "c@1.0.0"}, ids(res.Runtime()))

	// b@2.0.0 pins the a that clashes on c, so b has to go back as well.
	reg.Add(pkg(t, "b", "1.0.0", "[dependencies]\na = \"1\"\n"))
	reg.Add(pkg(t, "b", "2.0.0", "[dependencies]\na = \"=1.1.0\"\n"))
	root = pkg(t, "pg-sys", "0.4.5", "[features]\npg13 = []\n[dependencies]\nb = \">=1\"\nc = \"1\"\n")
	res, err = resolve(t, root, reg, resolver.Options{})
	require.NoError(err)
	require.Equal([]string{"a@1.0.0", "b@1.0.0", "c@1.0.0"}, ids(res.Runtime()))

	// Unsatisfiable: the root itself pins the clashing a.
	root = pkg(t, "pg-sys", "0.4.5", "[features]\npg13 = []\n[dependencies]\na = \"=1.1.0\"\nb = \">=1\"\nc = \"1\"\n")
	_, err = resolve(t, root, reg, resolver.Options{})
	var conflict *resolver.ConflictError
	require.ErrorAs(err, &conflict)
	require.Equal("c", conflict.Name)
}

func TestBacktrackBuildOnly(t *testing.T) {
	require := require.New(t)
	reg := testRegistry(t,
		pkg(t, "gen", "1.0.0", "[dependencies]\nmemoffset = \"0.6\"\n"),
		pkg(t, "gen", "1.1.0", "[dependencies]\nmemoffset = \"0.7\"\n"),
	)
	root := pkg(t, "pg-sys", "0.4.5", rootDeps+"\n[build-dependencies]\ngen = \"1\"\n")

	res, err := resolve(t, root, reg, resolver.Options{})
	require.NoError(err)
	n, _ := res.Node("gen")
	require.Equal("1.0.0", n.ID.Version)
	n, _ = res.Node("memoffset")
	require.Equal("0.6.9", n.ID.Version)
}

func TestBacktrackLimit(t *testing.T) {
	require := require.New(t)
	reg := registry.NewMemory(
		pkg(t, "a", "1.0.0", "[dependencies]\nc = \"1\"\n"),
		pkg(t, "a", "1.1.0", "[dependencies]\nc = \"2\"\n"),
		pkg(t, "a", "1.2.0", "[dependencies]\nc = \"2\"\n"),
		pkg(t, "c", "1.0.0", ""),
		pkg(t, "c", "2.0.0", ""),
	)
	root := pkg(t, "pg-sys", "0.4.5", "[features]\npg13 = []\n[dependencies]\na = \"1\"\nc = \"1\"\n")

	_, err := resolve(t, root, reg, resolver.Options{MaxBacktracks: 1})
	var conflict *resolver.ConflictError
	require.ErrorAs(err, &conflict)
	require.Equal("c", conflict.Name)

	res, err := resolve(t, root, reg, resolver.Options{})
	require.NoError(err)
	n, _ := res.Node("a")
	require.Equal("1.0.0", n.ID.Version)
}

func TestLockPreference(t *testing.T) {
	require := require.New(t)
	root := pkg(t, "pg-sys", "0.4.5", rootDeps+rootBuildDeps)
	reg := testRegistry(t)

	lock := &resolver.Lockfile{Artifacts: []resolver.LockedArtifact{
		{Name: "memoffset", Version: "0.6.5"},
		{Name: "clang-sys", Version: "1.0.0"},
	}}
	res, err := resolve(t, root, reg, resolver.Options{Lock: lock})
	require.NoError(err)
	n, _ := res.Node("memoffset")
	require.Equal("0.6.5", n.ID.Version)
	n, _ = res.Node("clang-sys")
	require.Equal("1.0.0", n.ID.Version)

	// A locked version that no longer satisfies is ignored.
	lock.Artifacts[0].Version = "0.6.4"
	res, err = resolve(t, root, reg, resolver.Options{Lock: lock})
	require.NoError(err)
	n, _ = res.Node("memoffset")
	require.Equal("0.6.9", n.ID.Version)
}

func TestSiblingConflict(t *testing.T) {
	require := require.New(t)
	reg := testRegistry(t, pkg(t, "pg-extras", "1.0.0", `
[dependencies]
pg-macros = "=0.4.4"
`))

	root := pkg(t, "pg-sys", "0.4.5", rootDeps+`pg-extras = "1"`+"\n")
	_, err := resolve(t, root, reg, resolver.Options{})
	var conflict *resolver.ConflictError
	require.ErrorAs(err, &conflict)
	require.Equal("pg-macros", conflict.Name)
	require.Equal([]string{"0.4.4", "0.4.5"}, conflict.Available)
	require.Len(conflict.Demands, 2)
	msg := err.Error()
	require.Contains(msg, "pg-sys@0.4.5 requires =0.4.5 (runtime)")
	require.Contains(msg, "pg-extras@1.0.0 requires =0.4.4 (runtime)")
}

func TestMissingArtifact(t *testing.T) {
	require := require.New(t)

	root := pkg(t, "pg-sys", "0.4.5", `
[features]
pg13 = []
[dependencies]
ghost = "1"
`)
	_, err := resolve(t, root, testRegistry(t), resolver.Options{})
	var conflict *resolver.ConflictError
	require.ErrorAs(err, &conflict)
	require.Empty(conflict.Available)
	require.Contains(err.Error(), "no versions available")
}

func TestCycle(t *testing.T) {
	require := require.New(t)
	reg := registry.NewMemory(
		pkg(t, "a", "1.0.0", "[dependencies]\nb = \"1\"\n"),
		pkg(t, "b", "1.0.0", "[dependencies]\na = \"1\"\n"),
	)
	root := pkg(t, "pg-sys", "0.4.5", "[features]\npg13 = []\n[dependencies]\na = \"1\"\n")

	_, err := resolve(t, root, reg, resolver.Options{})
	var cycleErr *depgraph.CycleError
	require.ErrorAs(err, &cycleErr)
	require.Equal([]string{"a", "b", "a"}, cycleErr.Cycle)
}

func TestUnknownDependencyFeature(t *testing.T) {
	require := require.New(t)

	root := pkg(t, "pg-sys", "0.4.5", `
[features]
pg13 = []
[dependencies]
memoffset = { version = "0.6", features = ["nope"] }
`)
	_, err := resolve(t, root, testRegistry(t), resolver.Options{})
	var unkErr *feature.UnknownFeatureError
	require.ErrorAs(err, &unkErr)
	require.Equal([]string{"nope"}, unkErr.Names)
}

func TestLockfile(t *testing.T) {
	require := require.New(t)

	root := pkg(t, "pg-sys", "0.4.5", rootDeps+rootBuildDeps)
	res, err := resolve(t, root, testRegistry(t), resolver.Options{})
	require.NoError(err)

	lock := res.Lockfile()
	require.Equal("pg-sys@0.4.5", lock.Root)
	require.Len(lock.Artifacts, 8)
	v, ok := lock.Locked("pg-macros")
	require.True(ok)
	require.Equal("0.4.5", v)

	path := filepath.Join(t.TempDir(), resolver.LockFileName)
	require.NoError(resolver.SaveLockfile(path, lock))
	loaded, err := resolver.LoadLockfile(path)
	require.NoError(err)
	require.Equal(lock, loaded)

	for _, a := range loaded.Artifacts {
		if a.Name == "pg-macros" {
			require.Equal([]string{"runtime"}, a.Phases)
			require.Equal([]string{"once-cell@1.9.0", "syn@1.0.80"}, a.Dependencies)
		}
	}
}

func TestDOT(t *testing.T) {
	require := require.New(t)

	root := pkg(t, "pg-sys", "0.4.5", rootDeps+rootBuildDeps)
	res, err := resolve(t, root, testRegistry(t), resolver.Options{})
	require.NoError(err)

	dot := string(res.DOT())
	require.True(strings.HasPrefix(dot, `digraph "pg-sys@0.4.5" {`))
	require.Contains(dot, `[label="pg-sys@0.4.5", style=bold]`)
	require.Contains(dot, `[label="bindgen@0.59.2", style=dashed]`)
	require.Contains(dot, `[label="memoffset@0.6.9"]`)
}
