package resolver

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/pgbind/pgsys/manifest"
)

// LockFileName is the conventional lockfile name.
const LockFileName = "pgsys.lock"

const lockfileVersion = 1

type Lockfile struct {
	Version   int              `toml:"version" json:"version" yaml:"version"`
	Root      string           `toml:"root" json:"root" yaml:"root"`
	Artifacts []LockedArtifact `toml:"artifact" json:"artifacts" yaml:"artifacts"`
}

type LockedArtifact struct {
	Name          string   `toml:"name" json:"name" yaml:"name"`
	Version       string   `toml:"version" json:"version" yaml:"version"`
	Phases        []string `toml:"phases" json:"phases" yaml:"phases"`
	Features      []string `toml:"features,omitempty" json:"features,omitempty" yaml:"features,omitempty"`
	BuildFeatures []string `toml:"build-features,omitempty" json:"buildFeatures,omitempty" yaml:"buildFeatures,omitempty"`
	Dependencies  []string `toml:"dependencies,omitempty" json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Locked returns the locked version of an artifact.
func (l *Lockfile) Locked(name string) (string, bool) {
	for _, a := range l.Artifacts {
		if a.Name == name {
			return a.Version, true
		}
	}
	return "", false
}

// Lockfile records every pinned artifact except the root.
func (r *Resolution) Lockfile() *Lockfile {
	l := &Lockfile{
		Version: lockfileVersion,
		Root:    r.Root.String(),
	}
	for _, n := range r.All() {
		a := LockedArtifact{
			Name:          n.ID.Name,
			Version:       n.ID.Version,
			Features:      n.RuntimeFeatures,
			BuildFeatures: n.BuildFeatures,
		}
		for _, p := range n.Phases() {
			a.Phases = append(a.Phases, p.String())
		}
		for _, d := range n.Deps {
			a.Dependencies = append(a.Dependencies, d.String())
		}
		l.Artifacts = append(l.Artifacts, a)
	}
	return l
}

func LoadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l := &Lockfile{}
	err = toml.NewDecoder(bytes.NewReader(data)).
		DisallowUnknownFields().
		Decode(l)
	if err != nil {
		if tErr := (&toml.DecodeError{}); errors.As(err, &tErr) {
			return nil, fmt.Errorf("%v: %w\n%v", path, err, tErr.String())
		}
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	if l.Version != lockfileVersion {
		return nil, fmt.Errorf("%v: unsupported lockfile version %v", path, l.Version)
	}
	for _, a := range l.Artifacts {
		for _, p := range a.Phases {
			if p != manifest.PhaseRuntime.String() && p != manifest.PhaseBuild.String() {
				return nil, fmt.Errorf("%v: %v: unknown phase %q", path, a.Name, p)
			}
		}
	}
	return l, nil
}

func SaveLockfile(path string, l *Lockfile) error {
	var buf bytes.Buffer
	buf.WriteString("# Generated by pgsys. Do not edit by hand.\n")
	if err := toml.NewEncoder(&buf).Encode(l); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0666)
}
