package registry

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/VictoriaMetrics/metrics"
	"github.com/fxamacker/cbor/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
)

var (
	cacheHits   = metrics.NewCounter("pgsys_registry_cache_hits_total")
	cacheMisses = metrics.NewCounter("pgsys_registry_cache_misses_total")
)

// CacheData is the persistent form of a [Cache].
// Descriptors are kept in their TOML form.
type CacheData struct {
	Versions  map[string][]string `json:"versions" cbor:"1,keyasint"`
	Manifests map[string][]byte   `json:"manifests" cbor:"2,keyasint"`
}

type CacheOptions struct {
	// Called before a descriptor or version list is requested from the
	// base registry.
	OnFetch func(what string)
	// Maximum number of parallel requests in [Cache.Prefetch]. Unlimited
	// if <= 0.
	Parallel int
}

// Cache memoizes another registry. It is safe for concurrent use.
type Cache struct {
	Base Registry
	opts CacheOptions

	versions  *xsync.MapOf[string, []string]
	manifests *xsync.MapOf[artifact.ID, []byte]
}

// NewCache returns an empty cache on top of base. data may be nil.
func NewCache(base Registry, data *CacheData, opts CacheOptions) *Cache {
	c := &Cache{
		Base:      base,
		opts:      opts,
		versions:  xsync.NewMapOf[string, []string](),
		manifests: xsync.NewMapOf[artifact.ID, []byte](),
	}
	if data != nil {
		for name, vs := range data.Versions {
			c.versions.Store(name, vs)
		}
		for key, b := range data.Manifests {
			var id artifact.ID
			if err := id.UnmarshalText([]byte(key)); err != nil {
				continue
			}
			c.manifests.Store(id, b)
		}
	}
	return c
}

// NewCacheWithFile loads the cache file at path, if it exists.
// Supported extensions are ".json", ".gob" and ".cbor".
func NewCacheWithFile(base Registry, path string, opts CacheOptions) (*Cache, error) {
	var data *CacheData
	if b, err := os.ReadFile(path); err == nil {
		data = &CacheData{}
		if err := decodeCache(path, b, data); err != nil {
			return nil, fmt.Errorf("read cache %v: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return NewCache(base, data, opts), nil
}

func decodeCache(path string, b []byte, data *CacheData) error {
	switch filepath.Ext(path) {
	case ".json":
		return json.Unmarshal(b, data)
	case ".gob":
		return gob.NewDecoder(bytes.NewReader(b)).Decode(data)
	case ".cbor":
		return cbor.Unmarshal(b, data)
	default:
		return fmt.Errorf("unknown cache file extension %q", filepath.Ext(path))
	}
}

func (c *Cache) fetch(what string) {
	cacheMisses.Inc()
	if c.opts.OnFetch != nil {
		c.opts.OnFetch(what)
	}
}

func (c *Cache) Versions(ctx context.Context, name string) ([]string, error) {
	if vs, ok := c.versions.Load(name); ok {
		cacheHits.Inc()
		return slices.Clone(vs), nil
	}
	c.fetch(name)
	vs, err := c.Base.Versions(ctx, name)
	if err != nil {
		return nil, err
	}
	c.versions.Store(name, vs)
	return slices.Clone(vs), nil
}

// Manifest returns a freshly decoded descriptor on every call, so callers
// may modify it.
func (c *Cache) Manifest(ctx context.Context, id artifact.ID) (*manifest.Manifest, error) {
	if b, ok := c.manifests.Load(id); ok {
		cacheHits.Inc()
		return manifest.Parse(id.String(), b)
	}
	c.fetch(id.String())
	m, err := c.Base.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	c.manifests.Store(id, b)
	return m, nil
}

// Prefetch loads the given descriptors in parallel. The first error
// cancels the remaining requests.
func (c *Cache) Prefetch(ctx context.Context, ids []artifact.ID) error {
	g, ctx := errgroup.WithContext(ctx)
	if c.opts.Parallel > 0 {
		g.SetLimit(c.opts.Parallel)
	}
	for _, id := range ids {
		g.Go(func() error {
			if _, err := c.Versions(ctx, id.Name); err != nil {
				return err
			}
			_, err := c.Manifest(ctx, id)
			return err
		})
	}
	return g.Wait()
}

func (c *Cache) Data() *CacheData {
	data := &CacheData{
		Versions:  map[string][]string{},
		Manifests: map[string][]byte{},
	}
	c.versions.Range(func(name string, vs []string) bool {
		data.Versions[name] = vs
		return true
	})
	c.manifests.Range(func(id artifact.ID, b []byte) bool {
		data.Manifests[id.String()] = b
		return true
	})
	return data
}

// SaveToFile writes the cache in the format given by path's extension.
func (c *Cache) SaveToFile(path string) error {
	var b []byte
	var err error
	switch filepath.Ext(path) {
	case ".json":
		b, err = json.MarshalIndent(c.Data(), "", "    ")
	case ".gob":
		var buf bytes.Buffer
		err = gob.NewEncoder(&buf).Encode(c.Data())
		b = buf.Bytes()
	case ".cbor":
		var em cbor.EncMode
		em, err = cbor.CanonicalEncOptions().EncMode()
		if err == nil {
			b, err = em.Marshal(c.Data())
		}
	default:
		return fmt.Errorf("unknown cache file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0666)
}
