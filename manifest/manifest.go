// Package manifest is the build configuration descriptor of a binding
// artifact: package identity, feature flags (one per supported target major
// version plus auxiliary ones), runtime and build-time dependency lists,
// the doc-build profile and the units handed to the external generator.
package manifest

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pgbind/pgsys/artifact"
)

// FileName is the conventional manifest file name.
const FileName = "pgsys.toml"

// DefaultFeature names the feature enabled unless default features are
// turned off.
const DefaultFeature = "default"

// DefaultVersionPrefix prefixes the major version in target version flags.
const DefaultVersionPrefix = "pg"

type Package struct {
	Name          string   `toml:"name"`
	Version       string   `toml:"version"`
	Authors       []string `toml:"authors,omitempty"`
	License       string   `toml:"license,omitempty"`
	Description   string   `toml:"description,omitempty"`
	Homepage      string   `toml:"homepage,omitempty"`
	Repository    string   `toml:"repository,omitempty"`
	Documentation string   `toml:"documentation,omitempty"`
	Readme        string   `toml:"readme,omitempty"`
}

type Versions struct {
	// Prefix of target version flags, e.g. "pg" for "pg13".
	Prefix string `toml:"prefix,omitempty"`
}

// Docs is the doc-build profile: one feature and one target, applied only
// when generating hosted documentation.
type Docs struct {
	Feature           string   `toml:"feature"`
	Target            string   `toml:"target"` // GOOS/GOARCH
	NoDefaultFeatures bool     `toml:"no-default-features,omitempty"`
	CompilerArgs      []string `toml:"compiler-args,omitempty"`
	DocArgs           []string `toml:"doc-args,omitempty"`
}

type Phase int

const (
	// Needed by the artifact's own compiled output.
	PhaseRuntime Phase = iota
	// Needed only to run the generation step; never shipped.
	PhaseBuild
)

func (p Phase) String() string {
	switch p {
	case PhaseRuntime:
		return "runtime"
	case PhaseBuild:
		return "build"
	default:
		panic("invalid phase")
	}
}

// Dependency is one entry of [dependencies] or [build-dependencies].
// In the file it is either a requirement string or a table.
type Dependency struct {
	Name            string   `toml:"-"`
	Version         string   `toml:"version,omitempty"`
	Path            string   `toml:"path,omitempty"`
	Features        []string `toml:"features,omitempty"`
	DefaultFeatures *bool    `toml:"default-features,omitempty"`

	Phase Phase                `toml:"-"`
	Req   artifact.Requirement `toml:"-"`
}

// Sibling reports whether the dependency is a co-released path dependency.
func (d *Dependency) Sibling() bool {
	return d.Path != ""
}

// UsesDefaultFeatures reports whether the dependency's default feature is
// requested (true unless default-features = false).
func (d *Dependency) UsesDefaultFeatures() bool {
	return d.DefaultFeatures == nil || *d.DefaultFeatures
}

func (d *Dependency) String() string {
	if d.Version == "" {
		return d.Name
	}
	return d.Name + " " + d.Version
}

// Unit is one header/interface description handed to the generator.
type Unit struct {
	Header string      `toml:"header"`
	Output string      `toml:"output"`
	Select *Constraint `toml:"select,omitempty"`
}

type Generate struct {
	// Shell command producing a binding file on stdout.
	Command string `toml:"command,omitempty"`
	OutDir  string `toml:"out-dir,omitempty"`
	Jobs    int    `toml:"jobs,omitempty"`
	Units   []Unit `toml:"unit,omitempty"`
}

type Manifest struct {
	Imports           []string               `toml:"imports,omitempty"`
	Package           Package                `toml:"package"`
	Versions          Versions               `toml:"versions,omitempty"`
	Features          map[string][]string    `toml:"features,omitempty"`
	Docs              *Docs                  `toml:"docs,omitempty"`
	Dependencies      map[string]*Dependency `toml:"-"`
	BuildDependencies map[string]*Dependency `toml:"-"`
	Generate          Generate               `toml:"generate,omitempty"`

	// File the manifest was loaded from, "" if parsed from memory.
	Path string `toml:"-"`
}

// ID returns the manifest's own name@version.
func (m *Manifest) ID() artifact.ID {
	return artifact.New(m.Package.Name, m.Package.Version)
}

func (m *Manifest) VersionPrefix() string {
	if m.Versions.Prefix == "" {
		return DefaultVersionPrefix
	}
	return m.Versions.Prefix
}

func (m *Manifest) versionFlagRegexp() *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(m.VersionPrefix()) + `([1-9][0-9]*)$`)
}

// TargetMajor returns the major version selected by a target version flag.
// ok is false if flag is not a target version flag name.
func (m *Manifest) TargetMajor(flag string) (major int, ok bool) {
	match := m.versionFlagRegexp().FindStringSubmatch(flag)
	if match == nil {
		return 0, false
	}
	major, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return major, true
}

// IsVersionFlag reports whether flag is a declared target version flag.
func (m *Manifest) IsVersionFlag(flag string) bool {
	if _, ok := m.Features[flag]; !ok {
		return false
	}
	_, ok := m.TargetMajor(flag)
	return ok
}

// VersionFlags returns the declared target version flags ordered by major
// version.
func (m *Manifest) VersionFlags() []string {
	var flags []string
	for name := range m.Features {
		if _, ok := m.TargetMajor(name); ok {
			flags = append(flags, name)
		}
	}
	slices.SortFunc(flags, func(a, b string) int {
		ma, _ := m.TargetMajor(a)
		mb, _ := m.TargetMajor(b)
		return ma - mb
	})
	return flags
}

// AuxFeatures returns the declared features that are neither "default" nor
// target version flags, sorted.
func (m *Manifest) AuxFeatures() []string {
	var res []string
	for name := range m.Features {
		if name == DefaultFeature {
			continue
		}
		if _, ok := m.TargetMajor(name); ok {
			continue
		}
		res = append(res, name)
	}
	slices.Sort(res)
	return res
}

// Dependency looks up a dependency by name in both lists, runtime first.
func (m *Manifest) Dependency(name string) (*Dependency, bool) {
	if d, ok := m.Dependencies[name]; ok {
		return d, true
	}
	d, ok := m.BuildDependencies[name]
	return d, ok
}

// AllDependencies returns runtime then build dependencies, each sorted by
// name. A name may appear in both lists.
func (m *Manifest) AllDependencies() []*Dependency {
	var res []*Dependency
	for _, name := range slices.Sorted(maps.Keys(m.Dependencies)) {
		res = append(res, m.Dependencies[name])
	}
	for _, name := range slices.Sorted(maps.Keys(m.BuildDependencies)) {
		res = append(res, m.BuildDependencies[name])
	}
	return res
}

// Siblings returns the path dependencies of both lists.
func (m *Manifest) Siblings() []*Dependency {
	var res []*Dependency
	for _, d := range m.AllDependencies() {
		if d.Sibling() {
			res = append(res, d)
		}
	}
	return res
}

// Closure returns the features transitively implied by names (names
// included) and the "dep/feature" requests met along the way, keyed by
// dependency name. Unknown feature names are returned in unknown.
func (m *Manifest) Closure(names ...string) (features map[string]struct{}, depFeatures map[string][]string, unknown []string) {
	features = map[string]struct{}{}
	depFeatures = map[string][]string{}
	stack := slices.Clone(names)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if dep, feat, ok := strings.Cut(name, "/"); ok {
			if !slices.Contains(depFeatures[dep], feat) {
				depFeatures[dep] = append(depFeatures[dep], feat)
			}
			continue
		}
		if _, ok := features[name]; ok {
			continue
		}
		implied, ok := m.Features[name]
		if !ok {
			if !slices.Contains(unknown, name) {
				unknown = append(unknown, name)
			}
			continue
		}
		features[name] = struct{}{}
		stack = append(stack, implied...)
	}
	for dep := range depFeatures {
		slices.Sort(depFeatures[dep])
	}
	slices.Sort(unknown)
	return
}

func (m *Manifest) String() string {
	return fmt.Sprintf("%v (%v)", m.ID(), m.Path)
}
