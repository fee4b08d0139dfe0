package registry

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
)

// Workspace overlays the sibling (path) dependencies of a root manifest on
// top of a base registry. A sibling shadows every published version of the
// same name: only its local version exists.
type Workspace struct {
	Base  Registry
	local map[string]*manifest.Manifest
}

// NewWorkspace loads the siblings of root, transitively, relative to the
// manifest that declares them. base may be nil.
func NewWorkspace(root *manifest.Manifest, base Registry) (*Workspace, error) {
	w := &Workspace{
		Base:  base,
		local: map[string]*manifest.Manifest{},
	}
	if err := w.addSiblings(root); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Workspace) addSiblings(m *manifest.Manifest) error {
	for _, d := range m.Siblings() {
		if _, ok := w.local[d.Name]; ok {
			continue
		}
		path := d.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(m.Path), path)
		}
		if filepath.Ext(path) != ".toml" {
			path = filepath.Join(path, manifest.FileName)
		}
		sib, err := manifest.Load(path)
		if err != nil {
			return fmt.Errorf("sibling %v of %v: %w", d.Name, m.Package.Name, err)
		}
		if sib.Package.Name != d.Name {
			return fmt.Errorf("sibling %v of %v: %v declares package %v", d.Name, m.Package.Name, path, sib.Package.Name)
		}
		w.local[d.Name] = sib
		if err := w.addSiblings(sib); err != nil {
			return err
		}
	}
	return nil
}

// Local returns the sibling manifest of the given name, if any.
func (w *Workspace) Local(name string) (*manifest.Manifest, bool) {
	m, ok := w.local[name]
	return m, ok
}

func (w *Workspace) Versions(ctx context.Context, name string) ([]string, error) {
	if m, ok := w.local[name]; ok {
		return []string{m.Package.Version}, nil
	}
	if w.Base == nil {
		return nil, notFound(name)
	}
	return w.Base.Versions(ctx, name)
}

func (w *Workspace) Manifest(ctx context.Context, id artifact.ID) (*manifest.Manifest, error) {
	if m, ok := w.local[id.Name]; ok {
		if m.Package.Version != id.Version {
			return nil, notFound(id)
		}
		return m, nil
	}
	if w.Base == nil {
		return nil, notFound(id)
	}
	return w.Base.Manifest(ctx, id)
}
