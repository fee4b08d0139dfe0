package feature_test

import (
	"testing"

	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/manifest"
	"github.com/stretchr/testify/require"
)

const pgSys = `
[package]
name = "pg-sys"
version = "0.4.5"
license = "MIT"

[features]
default = []
pg10 = []
pg11 = []
pg12 = []
pg13 = []
pg14 = []
postgrestd = []

[docs]
feature = "pg14"
target = "linux/amd64"
no-default-features = true
compiler-args = ["--cfg", "docsrs"]
doc-args = ["--cfg", "docsrs"]
`

func parse(t *testing.T, src string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse("pgsys.toml", []byte(src))
	require.NoError(t, err)
	return m
}

func TestResolve(t *testing.T) {
	require := require.New(t)
	m := parse(t, pgSys)

	s, err := feature.Resolve(m, feature.Request{Features: []string{"pg13"}})
	require.NoError(err)
	require.Equal([]string{"default", "pg13"}, s.Features)
	require.Equal("pg13", s.Target)
	require.Equal(13, s.Major)

	s, err = feature.Resolve(m, feature.Request{Features: []string{"pg13"}, NoDefaultFeatures: true})
	require.NoError(err)
	require.Equal([]string{"pg13"}, s.Features)
	for _, flag := range m.VersionFlags() {
		require.Equal(flag == "pg13", s.Has(flag), flag)
	}

	s, err = feature.Resolve(m, feature.Request{Features: []string{"pg11", "postgrestd"}, Cfg: []string{"docsrs", "docsrs"}})
	require.NoError(err)
	require.Equal("pg11", s.Target)
	require.True(s.Has("postgrestd"))
	require.Equal([]string{"default", "docsrs", "pg11", "postgrestd"}, s.Tags())
}

func TestResolveErrors(t *testing.T) {
	require := require.New(t)
	m := parse(t, pgSys)

	_, err := feature.Resolve(m, feature.Request{})
	require.ErrorIs(err, feature.ErrNoTargetVersion)

	_, err = feature.Resolve(m, feature.Request{Features: []string{"postgrestd"}})
	require.ErrorIs(err, feature.ErrNoTargetVersion)

	_, err = feature.Resolve(m, feature.Request{Features: []string{"pg12", "pg14"}})
	var ambErr *feature.AmbiguousTargetError
	require.ErrorAs(err, &ambErr)
	require.Equal([]string{"pg12", "pg14"}, ambErr.Flags)

	_, err = feature.Resolve(m, feature.Request{Features: []string{"pg13", "pg99", "nope"}})
	var unkErr *feature.UnknownFeatureError
	require.ErrorAs(err, &unkErr)
	require.Equal([]string{"nope", "pg99"}, unkErr.Names)

	// Requests of dependency features name a declared dependency.
	m = parse(t, pgSys+"\n[dependencies]\nmemoffset = \"0.6\"\n")
	s, err := feature.Resolve(m, feature.Request{Features: []string{"pg13", "memoffset/unstable"}})
	require.NoError(err)
	require.Equal(map[string][]string{"memoffset": {"unstable"}}, s.DepFeatures)

	_, err = feature.Resolve(m, feature.Request{Features: []string{"pg13", "ghost/anything", "ghost/more"}})
	require.ErrorAs(err, &unkErr)
	require.Equal([]string{"ghost/anything", "ghost/more"}, unkErr.Names)
}

func TestImpliedTarget(t *testing.T) {
	require := require.New(t)
	m := parse(t, `
[package]
name = "x"
version = "1.0.0"
[features]
pg12 = []
pg13 = []
latest = ["pg13"]
both = ["pg12", "pg13"]
`)

	s, err := feature.Resolve(m, feature.Request{Features: []string{"latest"}})
	require.NoError(err)
	require.Equal("pg13", s.Target)
	require.Equal([]string{"latest", "pg13"}, s.Features)

	_, err = feature.Resolve(m, feature.Request{Features: []string{"both"}})
	var ambErr *feature.AmbiguousTargetError
	require.ErrorAs(err, &ambErr)

	err = feature.CheckExclusive(m)
	require.ErrorContains(err, "feature both implies target version flag pg12")
	require.ErrorContains(err, "feature latest implies target version flag pg13")
}

func TestExclusive(t *testing.T) {
	require := require.New(t)
	m := parse(t, pgSys)

	require.NoError(feature.CheckExclusive(m))

	// pg12 alone leaves every other version flag inactive.
	s, err := feature.Resolve(m, feature.Request{Features: []string{"pg12"}, NoDefaultFeatures: true})
	require.NoError(err)
	for _, flag := range []string{"pg10", "pg11", "pg13", "pg14"} {
		require.False(s.Has(flag))
	}
}

func TestSatisfies(t *testing.T) {
	require := require.New(t)
	m := parse(t, pgSys)

	s, err := feature.Resolve(m, feature.Request{Features: []string{"pg13"}, GOOS: "linux", GOARCH: "arm64"})
	require.NoError(err)

	for expr, want := range map[string]bool{
		"pg13":                 true,
		"pg13 || pg14":         true,
		"pg14":                 false,
		"pg13 && !postgrestd":  true,
		"linux && arm64":       true,
		"unix && cgo":          true,
		"windows":              false,
		"//go:build pg13":      true,
		"pg13 && docsrs":       false,
		"(pg10 || pg11) && !x": false,
	} {
		got, err := s.Satisfies(expr)
		require.NoError(err, expr)
		require.Equal(want, got, expr)
	}

	_, err = s.Satisfies("pg13 &&")
	require.Error(err)

	require.True(s.Eval(nil))

	cgo := false
	s, err = feature.Resolve(m, feature.Request{Features: []string{"pg13"}, GOOS: "linux", CGoEnabled: &cgo})
	require.NoError(err)
	ok, err := s.Satisfies("cgo")
	require.NoError(err)
	require.False(ok)
	ok, err = s.Satisfies("linux && !cgo")
	require.NoError(err)
	require.True(ok)
}

func TestDocs(t *testing.T) {
	require := require.New(t)
	m := parse(t, pgSys)

	d, err := feature.Docs(m)
	require.NoError(err)
	require.Equal("linux/amd64", d.Target())
	require.Equal([]string{"pg14"}, d.Set.Features)
	require.Equal("pg14", d.Set.Target)
	require.Equal([]string{"docsrs"}, d.Set.Cfg)
	require.Equal([]string{"--cfg", "docsrs"}, d.DocArgs)

	ok, err := d.Set.Satisfies("docsrs && linux && amd64")
	require.NoError(err)
	require.True(ok)

	_, err = feature.Docs(parse(t, `
[package]
name = "x"
version = "1.0.0"
[features]
pg13 = []
`))
	require.ErrorIs(err, feature.ErrNoDocsProfile)
}
