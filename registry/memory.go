package registry

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
)

// Memory is an in-process registry.
type Memory struct {
	mu        sync.RWMutex
	manifests map[artifact.ID]*manifest.Manifest
}

func NewMemory(ms ...*manifest.Manifest) *Memory {
	r := &Memory{manifests: map[artifact.ID]*manifest.Manifest{}}
	for _, m := range ms {
		r.Add(m)
	}
	return r
}

func (r *Memory) Add(m *manifest.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.ID()] = m
}

func (r *Memory) Versions(ctx context.Context, name string) ([]string, error) {
	countRequest("memory", "versions")
	r.mu.RLock()
	defer r.mu.RUnlock()
	var vs []string
	for id := range maps.Keys(r.manifests) {
		if id.Name == name {
			vs = append(vs, id.Version)
		}
	}
	if len(vs) == 0 {
		return nil, notFound(name)
	}
	return sortVersions(vs), nil
}

func (r *Memory) Manifest(ctx context.Context, id artifact.ID) (*manifest.Manifest, error) {
	countRequest("memory", "manifest")
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[id]
	if !ok {
		return nil, notFound(id)
	}
	return m, nil
}

// IDs returns every artifact in the registry, sorted.
func (r *Memory) IDs() []artifact.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.SortedFunc(maps.Keys(r.manifests), artifact.Compare)
}
