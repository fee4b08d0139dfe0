package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
)

// Dir is a registry on disk, laid out as <root>/<name>/<version>.toml.
type Dir struct {
	Root string
}

func (d *Dir) Versions(ctx context.Context, name string) ([]string, error) {
	countRequest("dir", "versions")
	if !artifact.ValidName(name) {
		return nil, notFound(name)
	}
	entries, err := os.ReadDir(filepath.Join(d.Root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, err
	}
	var vs []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		vs = append(vs, strings.TrimSuffix(e.Name(), ".toml"))
	}
	return sortVersions(vs), nil
}

func (d *Dir) Manifest(ctx context.Context, id artifact.ID) (*manifest.Manifest, error) {
	countRequest("dir", "manifest")
	if err := id.Check(); err != nil {
		return nil, err
	}
	path := filepath.Join(d.Root, id.Name, id.Version+".toml")
	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(id)
		}
		return nil, err
	}
	if err := checkID(m, id); err != nil {
		return nil, err
	}
	return m, nil
}

// Publish writes m into the registry under its own name and version.
func (d *Dir) Publish(m *manifest.Manifest) error {
	if err := m.ID().Check(); err != nil {
		return err
	}
	dir := filepath.Join(d.Root, m.Package.Name)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	return m.Save(filepath.Join(dir, m.Package.Version+".toml"))
}
