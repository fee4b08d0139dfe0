// Package release keeps the co-released artifacts of a workspace on one
// version. The workspace file is the single source of truth; member
// versions and the exact pins between siblings are derived from it.
package release

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/textutils"
)

// FileName is the conventional workspace file name.
const FileName = "pgsys-workspace.toml"

type file struct {
	Workspace struct {
		Version string   `toml:"version"`
		Members []string `toml:"members"`
	} `toml:"workspace"`
}

type Member struct {
	// As written in the workspace file.
	Dir      string
	Manifest *manifest.Manifest

	dirty bool
}

func (m *Member) Name() string {
	return m.Manifest.Package.Name
}

type Workspace struct {
	Path    string
	Version string
	Members []*Member
}

// Load reads the workspace file and every member manifest. Members are
// directories containing a manifest, or manifest files, relative to the
// workspace file. Member imports are not followed, so that saving a member
// rewrites only its own file.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	err = toml.NewDecoder(bytes.NewReader(data)).
		DisallowUnknownFields().
		Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	if !artifact.ValidVersion(f.Workspace.Version) {
		return nil, fmt.Errorf("%v: invalid workspace version %q", path, f.Workspace.Version)
	}

	ws := &Workspace{Path: path, Version: f.Workspace.Version}
	seen := map[string]string{}
	for _, dir := range f.Workspace.Members {
		mPath := filepath.Join(filepath.Dir(path), dir)
		if filepath.Ext(mPath) != ".toml" {
			mPath = filepath.Join(mPath, manifest.FileName)
		}
		m, err := manifest.ParseFile(mPath)
		if err != nil {
			return nil, fmt.Errorf("member %v: %w", dir, err)
		}
		if prev, ok := seen[m.Package.Name]; ok {
			return nil, fmt.Errorf("members %v and %v both declare package %v", prev, dir, m.Package.Name)
		}
		seen[m.Package.Name] = dir
		ws.Members = append(ws.Members, &Member{Dir: dir, Manifest: m})
	}
	return ws, nil
}

func (ws *Workspace) Member(name string) (*Member, bool) {
	i := slices.IndexFunc(ws.Members, func(m *Member) bool { return m.Name() == name })
	if i == -1 {
		return nil, false
	}
	return ws.Members[i], true
}

// Drift is one place where a member disagrees with the workspace version.
type Drift struct {
	Member string
	// "" for the member's own version, otherwise the sibling dependency.
	Dependency string
	Have, Want string
}

func (d Drift) String() string {
	if d.Dependency == "" {
		return fmt.Sprintf("%v: version is %q, want %q", d.Member, d.Have, d.Want)
	}
	return fmt.Sprintf("%v: sibling %v is pinned to %q, want %q", d.Member, d.Dependency, d.Have, d.Want)
}

type DriftError struct {
	Drifts []Drift
}

func (e *DriftError) Error() string {
	lines := make([]string, len(e.Drifts))
	for i, d := range e.Drifts {
		lines[i] = d.String()
	}
	return "workspace members drifted from the release version:" + textutils.List(lines, "  ")
}

// siblingPins visits every dependency of m naming another workspace member.
func (ws *Workspace) siblingPins(m *Member, fn func(d *manifest.Dependency)) {
	for _, d := range m.Manifest.AllDependencies() {
		if _, ok := ws.Member(d.Name); ok {
			fn(d)
		}
	}
}

// Check reports every member whose version, or whose pin on another
// member, differs from the workspace version.
func (ws *Workspace) Check() error {
	var drifts []Drift
	pin := "=" + ws.Version
	for _, m := range ws.Members {
		if m.Manifest.Package.Version != ws.Version {
			drifts = append(drifts, Drift{Member: m.Name(), Have: m.Manifest.Package.Version, Want: ws.Version})
		}
		ws.siblingPins(m, func(d *manifest.Dependency) {
			if d.Version != pin {
				drifts = append(drifts, Drift{Member: m.Name(), Dependency: d.Name, Have: d.Version, Want: pin})
			}
		})
	}
	if len(drifts) > 0 {
		return &DriftError{Drifts: drifts}
	}
	return nil
}

// Propagate rewrites member versions and sibling pins to the workspace
// version in memory and returns the names of the members that changed.
func (ws *Workspace) Propagate() []string {
	var changed []string
	pin := "=" + ws.Version
	for _, m := range ws.Members {
		if m.Manifest.Package.Version != ws.Version {
			m.Manifest.Package.Version = ws.Version
			m.dirty = true
		}
		ws.siblingPins(m, func(d *manifest.Dependency) {
			if d.Version != pin {
				d.Version = pin
				d.Req = artifact.ExactRequirement(ws.Version)
				m.dirty = true
			}
		})
		if m.dirty {
			changed = append(changed, m.Name())
		}
	}
	return changed
}

// Bump sets a new workspace version, which must be strictly greater than
// the current one, and propagates it.
func (ws *Workspace) Bump(version string) ([]string, error) {
	version = strings.TrimPrefix(version, "v")
	if !artifact.ValidVersion(version) {
		return nil, fmt.Errorf("invalid version %q", version)
	}
	if artifact.CompareVersions(version, ws.Version) <= 0 {
		return nil, fmt.Errorf("new version %v must be greater than %v", version, ws.Version)
	}
	ws.Version = version
	return ws.Propagate(), nil
}

// Save writes the workspace file and every changed member manifest.
func (ws *Workspace) Save() error {
	var f file
	f.Workspace.Version = ws.Version
	for _, m := range ws.Members {
		f.Workspace.Members = append(f.Workspace.Members, m.Dir)
	}
	data, err := toml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ws.Path, data, 0666); err != nil {
		return err
	}
	var errs []error
	for _, m := range ws.Members {
		if !m.dirty {
			continue
		}
		if err := m.Manifest.Save(""); err != nil {
			errs = append(errs, fmt.Errorf("member %v: %w", m.Name(), err))
			continue
		}
		m.dirty = false
	}
	return errors.Join(errs...)
}
