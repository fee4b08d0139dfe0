package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/release"
	"github.com/pgbind/pgsys/resolver"
)

const (
	testManifest = "../../testdata/ws/pg-sys/pgsys.toml"
	testRegistry = "../../testdata/registry"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	t.Log(stderr.String())
	return stdout.String(), err
}

func TestCheck(t *testing.T) {
	require := require.New(t)

	out, err := run(t, "check", "-m", testManifest)
	require.NoError(err)
	require.Equal("pg-sys@0.4.5: ok (target versions: pg13, pg14)\n", out)

	_, err = run(t, "check", "-m", "testdata/missing.toml")
	require.Error(err)
}

func TestFeatures(t *testing.T) {
	require := require.New(t)

	out, err := run(t, "features", "-m", testManifest, "-F", "pg13", "--goos", "linux", "--goarch", "amd64", "--format", "json")
	require.NoError(err)
	var view featuresView
	require.NoError(json.Unmarshal([]byte(out), &view))
	require.Equal("pg13", view.Target)
	require.Equal(13, view.Major)
	require.Equal([]string{"default", "pg13"}, view.Features)
	require.Equal(map[string][]string{"memoffset": {"unstable"}}, view.DepFeatures)
	require.Equal("linux/amd64", view.Platform)

	out, err = run(t, "features", "-m", testManifest, "-F", "pg14,postgrestd")
	require.NoError(err)
	require.Contains(out, "postgrestd")
	require.Contains(out, "target version 14")

	_, err = run(t, "features", "-m", testManifest, "-F", "pg13,pg14")
	require.Error(err)
	_, err = run(t, "features", "-m", testManifest)
	require.Error(err)
	_, err = run(t, "features", "-m", testManifest, "-F", "pg13", "--format", "xml")
	require.ErrorContains(err, "unknown output format")
}

func TestDocs(t *testing.T) {
	require := require.New(t)

	out, err := run(t, "docs", "-m", testManifest, "-F", "pg13", "--format", "yaml")
	require.NoError(err)
	require.Contains(out, "feature: pg14\n")
	require.Contains(out, "target: linux/amd64\n")
	require.Contains(out, "- docsrs\n")
}

func TestResolve(t *testing.T) {
	require := require.New(t)
	lockPath := filepath.Join(t.TempDir(), "pgsys.lock")

	out, err := run(t, "resolve", "-m", testManifest, "-F", "pg13", "--registry", testRegistry, "--lock", lockPath, "--format", "json")
	require.NoError(err)
	var lock resolver.Lockfile
	require.NoError(json.Unmarshal([]byte(out), &lock))
	require.Equal("pg-sys@0.4.5", lock.Root)
	versions := map[string]string{}
	for _, a := range lock.Artifacts {
		versions[a.Name] = a.Version
	}
	require.Equal("0.6.5", versions["memoffset"])
	require.Equal("0.4.5", versions["pg-macros"])
	require.Equal("0.59.2", versions["bindgen"])

	saved, err := resolver.LoadLockfile(lockPath)
	require.NoError(err)
	require.Equal(lock.Artifacts, saved.Artifacts)

	jsonCache := filepath.Join(t.TempDir(), "cache.json")
	_, err = run(t, "resolve", "-m", testManifest, "-F", "pg13", "--registry", testRegistry, "--lock", lockPath, "--cache", jsonCache)
	require.NoError(err)
	data, err := os.ReadFile(jsonCache)
	require.NoError(err)
	require.Contains(string(data), "memoffset")

	cachePath := filepath.Join(t.TempDir(), "cache.cbor")
	out, err = run(t, "graph", "-m", testManifest, "-F", "pg14", "--registry", testRegistry, "--cache", cachePath)
	require.NoError(err)
	require.Contains(out, "digraph")
	require.Contains(out, "bindgen")
	require.FileExists(cachePath)
}

func TestEmitAndGenerate(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	out, err := run(t, "emit", "-m", testManifest, "-o", dir)
	require.NoError(err)
	require.Contains(out, "files to "+dir)
	require.FileExists(filepath.Join(dir, "zz_target_pg13.go"))
	require.FileExists(filepath.Join(dir, "zz_target_pg14.go"))

	out, err = run(t, "generate", "-m", testManifest, "-F", "pg14", "-o", dir, "--stats")
	require.NoError(err)
	require.Contains(out, "pg14: emitted")
	require.Contains(out, "generated 2 units into "+dir)
	require.Contains(out, "==TOTAL==")

	data, err := os.ReadFile(filepath.Join(dir, "pg14_only_pg14.go"))
	require.NoError(err)
	require.Contains(string(data), "const pg14_onlyMajor = 14")
}

func TestRelease(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	require.NoError(os.CopyFS(dir, os.DirFS("../../release/testdata/ws")))
	path := filepath.Join(dir, release.FileName)

	_, err := run(t, "release", "check", "-w", path)
	var driftErr *release.DriftError
	require.ErrorAs(err, &driftErr)

	out, err := run(t, "release", "sync", "-w", path)
	require.NoError(err)
	require.Equal("updated to 0.4.5: pg-macros\n", out)

	out, err = run(t, "release", "check", "-w", path)
	require.NoError(err)
	require.Equal("3 members at 0.4.5\n", out)

	out, err = run(t, "release", "bump", "0.5.0", "-w", path)
	require.NoError(err)
	require.Contains(out, "updated to 0.5.0: ")

	_, err = run(t, "release", "bump", "0.4.9", "-w", path)
	require.Error(err)
}

func TestInit(t *testing.T) {
	require := require.New(t)
	dir := filepath.Join(t.TempDir(), "engine-sys")

	out, err := run(t, "init", "engine-sys", "--dir", dir, "--majors", "13,12,13")
	require.NoError(err)
	path := filepath.Join(dir, manifest.FileName)
	require.Equal("wrote "+path+"\n", out)

	m, err := manifest.Load(path)
	require.NoError(err)
	require.NoError(m.Validate())
	require.Equal("0.1.0", m.Package.Version)
	require.Equal([]string{"pg12", "pg13"}, m.VersionFlags())
	require.Equal("pg13", m.Docs.Feature)

	_, err = run(t, "init", "engine-sys", "--dir", dir)
	require.ErrorContains(err, "already exists")

	_, err = run(t, "init", "other", "--dir", t.TempDir(), "--majors", "x")
	require.ErrorContains(err, "invalid major version")
}
