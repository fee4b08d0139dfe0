package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/registry"
	"github.com/stretchr/testify/require"
)

func TestDir(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	reg := &registry.Dir{Root: "testdata/registry"}

	vs, err := reg.Versions(ctx, "memoffset")
	require.NoError(err)
	require.Equal([]string{"0.6.4", "0.6.5", "0.7.0"}, vs)

	_, err = reg.Versions(ctx, "nothing")
	require.ErrorIs(err, registry.ErrNotFound)

	m, err := reg.Manifest(ctx, artifact.New("bindgen", "0.59.2"))
	require.NoError(err)
	require.Equal("0.6", m.Dependencies["memoffset"].Version)

	_, err = reg.Manifest(ctx, artifact.New("bindgen", "0.60.0"))
	require.ErrorIs(err, registry.ErrNotFound)

	pub := &registry.Dir{Root: t.TempDir()}
	require.NoError(pub.Publish(m))
	vs, err = pub.Versions(ctx, "bindgen")
	require.NoError(err)
	require.Equal([]string{"0.59.2"}, vs)
}

func serveDir(t *testing.T, root string) (*httptest.Server, *atomic.Int32) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		name, rest, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/@v/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		if rest == "list" {
			vs, err := (&registry.Dir{Root: root}).Versions(r.Context(), name)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(strings.Join(vs, "\n") + "\n"))
			return
		}
		http.ServeFile(w, r, filepath.Join(root, name, rest))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestHTTP(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv, _ := serveDir(t, "testdata/registry")
	reg := &registry.HTTP{BaseURL: srv.URL, Client: srv.Client()}

	vs, err := reg.Versions(ctx, "memoffset")
	require.NoError(err)
	require.Equal([]string{"0.6.4", "0.6.5", "0.7.0"}, vs)

	m, err := reg.Manifest(ctx, artifact.New("memoffset", "0.6.5"))
	require.NoError(err)
	require.Equal("memoffset@0.6.5", m.ID().String())

	_, err = reg.Versions(ctx, "nothing")
	require.ErrorIs(err, registry.ErrNotFound)
	_, err = reg.Manifest(ctx, artifact.New("memoffset", "1.0.0"))
	require.ErrorIs(err, registry.ErrNotFound)
}

func TestWorkspace(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	root, err := manifest.Load("testdata/ws/pg-sys/pgsys.toml")
	require.NoError(err)

	ws, err := registry.NewWorkspace(root, &registry.Dir{Root: "testdata/registry"})
	require.NoError(err)

	_, ok := ws.Local("pg-utils")
	require.True(ok, "siblings of siblings are loaded")

	vs, err := ws.Versions(ctx, "pg-macros")
	require.NoError(err)
	require.Equal([]string{"0.4.5"}, vs)

	m, err := ws.Manifest(ctx, artifact.New("pg-macros", "0.4.5"))
	require.NoError(err)
	require.Contains(m.Dependencies, "pg-utils")

	_, err = ws.Manifest(ctx, artifact.New("pg-macros", "0.4.4"))
	require.ErrorIs(err, registry.ErrNotFound)

	vs, err = ws.Versions(ctx, "memoffset")
	require.NoError(err)
	require.Len(vs, 3)
}

func TestCache(t *testing.T) {
	for _, ext := range []string{".json", ".gob", ".cbor"} {
		t.Run(ext, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			srv, requests := serveDir(t, "testdata/registry")
			base := &registry.HTTP{BaseURL: srv.URL, Client: srv.Client()}

			var fetched atomic.Int32
			cache := registry.NewCache(base, nil, registry.CacheOptions{
				OnFetch:  func(string) { fetched.Add(1) },
				Parallel: 2,
			})
			ids := []artifact.ID{
				artifact.New("memoffset", "0.6.4"),
				artifact.New("memoffset", "0.6.5"),
				artifact.New("bindgen", "0.59.2"),
			}
			require.NoError(cache.Prefetch(ctx, ids))
			n := requests.Load()

			for _, id := range ids {
				m, err := cache.Manifest(ctx, id)
				require.NoError(err)
				require.Equal(id, m.ID())
			}
			vs, err := cache.Versions(ctx, "memoffset")
			require.NoError(err)
			require.Len(vs, 3)
			require.Equal(n, requests.Load(), "served from cache")

			err = cache.Prefetch(ctx, []artifact.ID{artifact.New("memoffset", "5.0.0")})
			require.ErrorIs(err, registry.ErrNotFound)

			path := filepath.Join(t.TempDir(), "cache"+ext)
			require.NoError(cache.SaveToFile(path))

			offline := &registry.HTTP{BaseURL: "http://127.0.0.1:1"}
			loaded, err := registry.NewCacheWithFile(offline, path, registry.CacheOptions{})
			require.NoError(err)
			m, err := loaded.Manifest(ctx, artifact.New("bindgen", "0.59.2"))
			require.NoError(err)
			require.Equal("0.6", m.Dependencies["memoffset"].Version)
			vs, err = loaded.Versions(ctx, "memoffset")
			require.NoError(err)
			require.Equal([]string{"0.6.4", "0.6.5", "0.7.0"}, vs)
		})
	}
}

func TestCacheFileErrors(t *testing.T) {
	require := require.New(t)

	c, err := registry.NewCacheWithFile(registry.NewMemory(), filepath.Join(t.TempDir(), "missing.json"), registry.CacheOptions{})
	require.NoError(err)
	require.NotNil(c)

	bad := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(os.WriteFile(bad, []byte("x"), 0666))
	_, err = registry.NewCacheWithFile(registry.NewMemory(), bad, registry.CacheOptions{})
	require.ErrorContains(err, "unknown cache file extension")
	require.Error(c.SaveToFile(bad))
}

func TestMemory(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a, err := manifest.Parse("a", []byte("[package]\nname = \"a\"\nversion = \"1.0.0\"\n"))
	require.NoError(err)
	a2, err := manifest.Parse("a", []byte("[package]\nname = \"a\"\nversion = \"1.10.0\"\n"))
	require.NoError(err)

	reg := registry.NewMemory(a2, a)
	vs, err := reg.Versions(ctx, "a")
	require.NoError(err)
	require.Equal([]string{"1.0.0", "1.10.0"}, vs)
	require.Equal([]artifact.ID{a.ID(), a2.ID()}, reg.IDs())

	_, err = reg.Manifest(ctx, artifact.New("b", "1.0.0"))
	require.ErrorIs(err, registry.ErrNotFound)
}
