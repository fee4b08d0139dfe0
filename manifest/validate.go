package manifest

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pgbind/pgsys/artifact"
)

// Rules checked by [Manifest.Validate].
const (
	RulePackage           = "package"
	RuleDependency        = "dependency"
	RulePinConsistency    = "pin-consistency"
	RuleFeatureReference  = "feature-reference"
	RuleDefaultFeature    = "default-feature"
	RuleVersionFlags      = "version-flags"
	RuleVersionExclusive  = "version-exclusivity"
	RuleDocsProfile       = "docs-profile"
	RuleUnitSelect        = "unit-select"
	RuleGenerateOutputDup = "unit-output"
)

// InvariantError is one violated manifest invariant.
type InvariantError struct {
	Rule string
	Msg  string
}

func (e *InvariantError) Error() string {
	return e.Rule + ": " + e.Msg
}

// Validate checks the manifest against the schema and every invariant,
// returning all violations joined. Invariant violations are
// [*InvariantError] values; schema violations are a [*SchemaError].
func (m *Manifest) Validate() error {
	var errs []error
	if err := m.CheckSchema(); err != nil {
		errs = append(errs, err)
	}
	for _, err := range m.Invariants() {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Invariants returns every violated invariant, in a stable order.
func (m *Manifest) Invariants() []*InvariantError {
	var res []*InvariantError
	add := func(rule, format string, a ...any) {
		res = append(res, &InvariantError{Rule: rule, Msg: fmt.Sprintf(format, a...)})
	}

	if !artifact.ValidName(m.Package.Name) {
		add(RulePackage, "invalid package name %q", m.Package.Name)
	}
	if !artifact.ValidVersion(m.Package.Version) {
		add(RulePackage, "invalid package version %q: expected semantic version", m.Package.Version)
	}

	for _, d := range m.AllDependencies() {
		if d.Version == "" && d.Path == "" {
			add(RuleDependency, "%v dependency %v: needs a version or a path", d.Phase, d.Name)
			continue
		}
		if !d.Sibling() {
			continue
		}
		if pin, ok := d.Req.Exact(); !ok || pin != m.Package.Version {
			add(RulePinConsistency, "%v dependency %v: sibling must pin %q, got %q", d.Phase, d.Name, "="+m.Package.Version, d.Version)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(m.Features)) {
		for _, entry := range m.Features[name] {
			if dep, feat, ok := strings.Cut(entry, "/"); ok {
				if _, ok := m.Dependency(dep); !ok || feat == "" {
					add(RuleFeatureReference, "feature %v: %q does not name a feature of a declared dependency", name, entry)
				}
				continue
			}
			if _, ok := m.Features[entry]; !ok {
				add(RuleFeatureReference, "feature %v: implies undeclared feature %q", name, entry)
			}
		}
	}
	for _, d := range m.AllDependencies() {
		for _, feat := range d.Features {
			if feat == "" || strings.Contains(feat, "/") {
				add(RuleFeatureReference, "%v dependency %v: invalid feature %q", d.Phase, d.Name, feat)
			}
		}
	}

	flags := m.VersionFlags()
	if len(flags) == 0 && (m.Docs != nil || len(m.Generate.Units) > 0) {
		add(RuleVersionFlags, "no target version flags declared (expected features named %v<major>)", m.VersionPrefix())
	}
	if _, ok := m.Features[DefaultFeature]; ok {
		closure, _, _ := m.Closure(DefaultFeature)
		for _, flag := range flags {
			if _, ok := closure[flag]; ok {
				add(RuleDefaultFeature, "default feature implies target version flag %v", flag)
			}
		}
	}
	for _, v := range m.ExclusivityViolations() {
		add(RuleVersionExclusive, "feature %v implies target version flag %v", v.Feature, v.Implied)
	}

	if d := m.Docs; d != nil {
		if _, ok := m.Features[d.Feature]; !ok {
			add(RuleDocsProfile, "docs feature %q is not declared", d.Feature)
		} else {
			names := []string{d.Feature}
			if !d.NoDefaultFeatures {
				if _, ok := m.Features[DefaultFeature]; ok {
					names = append(names, DefaultFeature)
				}
			}
			closure, _, _ := m.Closure(names...)
			var active []string
			for _, flag := range flags {
				if _, ok := closure[flag]; ok {
					active = append(active, flag)
				}
			}
			if len(active) != 1 {
				add(RuleDocsProfile, "docs feature %q must select exactly one target version flag, selects %v", d.Feature, active)
			}
		}
		if goos, goarch, ok := strings.Cut(d.Target, "/"); !ok || !slices.Contains(KnownGOOS, goos) || !slices.Contains(KnownGOARCH, goarch) {
			add(RuleDocsProfile, "docs target %q is not a known GOOS/GOARCH pair", d.Target)
		}
	}

	cfg := m.Docs.CfgTags()
	outputs := map[string]int{}
	for i, u := range m.Generate.Units {
		if prev, ok := outputs[u.Output]; ok {
			add(RuleGenerateOutputDup, "units %v and %v both write %q", prev, i, u.Output)
		}
		outputs[u.Output] = i
		for _, tag := range u.Select.Tags() {
			if _, ok := m.Features[tag]; ok || slices.Contains(cfg, tag) || isPlatformTag(tag) {
				continue
			}
			add(RuleUnitSelect, "unit %v (%v): select references unknown tag %q", i, u.Header, tag)
		}
	}

	return res
}

type ExclusivityViolation struct {
	Feature string
	Implied string
}

// ExclusivityViolations returns, for every feature, the target version flags
// other than itself that activating it alone would enable.
func (m *Manifest) ExclusivityViolations() []ExclusivityViolation {
	var res []ExclusivityViolation
	flags := m.VersionFlags()
	for _, name := range slices.Sorted(maps.Keys(m.Features)) {
		if name == DefaultFeature {
			continue
		}
		closure, _, _ := m.Closure(name)
		for _, flag := range flags {
			if flag == name {
				continue
			}
			if _, ok := closure[flag]; ok {
				res = append(res, ExclusivityViolation{Feature: name, Implied: flag})
			}
		}
	}
	return res
}

// CfgTags extracts the cfg tags set by compiler args: "--cfg X", "-tags X"
// and "-tags=X,Y". A nil profile has none.
func (d *Docs) CfgTags() []string {
	if d == nil {
		return nil
	}
	return CfgTags(d.CompilerArgs)
}

func CfgTags(args []string) []string {
	var tags []string
	add := func(list string) {
		for tag := range strings.SplitSeq(list, ",") {
			tag = strings.TrimSpace(tag)
			if tag != "" && !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--cfg" || arg == "-tags" || arg == "--tags":
			if i+1 < len(args) {
				add(args[i+1])
				i++
			}
		case strings.HasPrefix(arg, "--cfg="):
			add(strings.TrimPrefix(arg, "--cfg="))
		case strings.HasPrefix(arg, "-tags="):
			add(strings.TrimPrefix(arg, "-tags="))
		case strings.HasPrefix(arg, "--tags="):
			add(strings.TrimPrefix(arg, "--tags="))
		}
	}
	return tags
}
