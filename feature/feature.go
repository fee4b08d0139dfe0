// Package feature resolves the active feature set of one build: exactly one
// target version flag plus auxiliary features, and the build tags that
// select conditionally compiled regions.
package feature

import (
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"

	"github.com/pgbind/pgsys/manifest"
)

var ErrNoTargetVersion = errors.New("no target version flag selected")

type AmbiguousTargetError struct {
	Flags []string
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("exactly one target version flag must be selected, got %v", strings.Join(e.Flags, ", "))
}

type UnknownFeatureError struct {
	Names []string
}

func (e *UnknownFeatureError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("unknown feature %q", e.Names[0])
	}
	return fmt.Sprintf("unknown features %q", e.Names)
}

type Request struct {
	Features          []string
	NoDefaultFeatures bool
	// Extra cfg tags (e.g. "docsrs").
	Cfg []string
	// Compilation target; the host's if empty.
	GOOS, GOARCH string
	// Whether the "cgo" build tag is satisfied; true if nil.
	CGoEnabled *bool
}

// Set is a resolved feature set.
type Set struct {
	// Active features, sorted.
	Features []string
	// The one active target version flag and its major version.
	Target string
	Major  int
	Cfg    []string
	// Features requested of dependencies through "dep/feature" entries.
	DepFeatures map[string][]string

	GOOS, GOARCH string
	CGoEnabled   bool
}

// Resolve computes the transitive feature closure of req and checks that
// exactly one target version flag ends up active.
func Resolve(m *manifest.Manifest, req Request) (*Set, error) {
	names := slices.Clone(req.Features)
	if !req.NoDefaultFeatures {
		if _, ok := m.Features[manifest.DefaultFeature]; ok {
			names = append(names, manifest.DefaultFeature)
		}
	}
	closure, depFeatures, unknown := m.Closure(names...)
	for dep, feats := range depFeatures {
		if _, ok := m.Dependency(dep); ok {
			continue
		}
		for _, f := range feats {
			unknown = append(unknown, dep+"/"+f)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, &UnknownFeatureError{Names: unknown}
	}

	var targets []string
	for name := range closure {
		if m.IsVersionFlag(name) {
			targets = append(targets, name)
		}
	}
	slices.SortFunc(targets, func(a, b string) int {
		ma, _ := m.TargetMajor(a)
		mb, _ := m.TargetMajor(b)
		return ma - mb
	})
	switch {
	case len(targets) == 0:
		return nil, ErrNoTargetVersion
	case len(targets) > 1:
		return nil, &AmbiguousTargetError{Flags: targets}
	}
	major, _ := m.TargetMajor(targets[0])

	s := &Set{
		Features:    slices.Sorted(maps.Keys(closure)),
		Target:      targets[0],
		Major:       major,
		DepFeatures: depFeatures,
		GOOS:        req.GOOS,
		GOARCH:      req.GOARCH,
		CGoEnabled:  req.CGoEnabled == nil || *req.CGoEnabled,
	}
	for _, tag := range req.Cfg {
		if !slices.Contains(s.Cfg, tag) {
			s.Cfg = append(s.Cfg, tag)
		}
	}
	slices.Sort(s.Cfg)
	if s.GOOS == "" {
		s.GOOS = runtime.GOOS
	}
	if s.GOARCH == "" {
		s.GOARCH = runtime.GOARCH
	}
	return s, nil
}

func (s *Set) Has(feature string) bool {
	_, ok := slices.BinarySearch(s.Features, feature)
	return ok
}

// Tags returns the build tags of the set: active features and cfg tags,
// sorted.
func (s *Set) Tags() []string {
	tags := slices.Concat(s.Features, s.Cfg)
	slices.Sort(tags)
	return slices.Compact(tags)
}

// Tag reports whether a single build tag is satisfied, including the
// platform tags of the set's target.
func (s *Set) Tag(tag string) bool {
	switch tag {
	case s.GOOS, s.GOARCH:
		return true
	case "unix":
		return slices.Contains(manifest.UnixOSes, s.GOOS)
	case "cgo":
		return s.CGoEnabled
	}
	return s.Has(tag) || slices.Contains(s.Cfg, tag)
}

// Eval reports whether c selects the set. A nil constraint selects
// everything.
func (s *Set) Eval(c *manifest.Constraint) bool {
	if c == nil || c.Expr == nil {
		return true
	}
	return c.Eval(s.Tag)
}

// Satisfies parses a build constraint expression and evaluates it against
// the set.
func (s *Set) Satisfies(expr string) (bool, error) {
	c, err := manifest.ParseConstraint(expr)
	if err != nil {
		return false, err
	}
	return s.Eval(c), nil
}

func (s *Set) String() string {
	return fmt.Sprintf("%v [%v]", s.Target, strings.Join(s.Tags(), " "))
}

// CheckExclusive returns an error for every feature that, activated alone,
// would enable a target version flag other than itself.
func CheckExclusive(m *manifest.Manifest) error {
	var errs []error
	for _, v := range m.ExclusivityViolations() {
		errs = append(errs, fmt.Errorf("feature %v implies target version flag %v", v.Feature, v.Implied))
	}
	return errors.Join(errs...)
}
