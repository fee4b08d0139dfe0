// Package emit writes the Go files that expose the feature configuration of
// a bindings package as build-tag gated constants.
//
// Each target version flag gets a file defining TargetMajor and
// TargetFeature under its own build tag. Two more files reference an
// undefined identifier under the tag combinations selecting no target
// version or more than one, so such builds fail to compile. Every other
// feature gets a FeatureXxx boolean, true under the tags of every feature
// implying it.
package emit

import (
	"errors"
	"fmt"
	"go/build/constraint"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/textutils"
)

// NoDefaultTag is the build tag that disables the default feature, the
// counterpart of requesting no default features.
const NoDefaultTag = "no_default_features"

const filePrefix = "zz_"

type File struct {
	Name string
	Data []byte
}

// InvalidTagError is returned for features whose names cannot be used as
// Go build tags.
type InvalidTagError struct {
	Feature string
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("feature %q is not a valid build tag (allowed: letters, digits, '_' and '.')", e.Feature)
}

func validTag(name string) bool {
	x, err := constraint.Parse("//go:build " + name)
	if err != nil {
		return false
	}
	tag, ok := x.(*constraint.TagExpr)
	return ok && tag.Tag == name
}

func tag(name string) constraint.Expr {
	return &constraint.TagExpr{Tag: name}
}

func not(x constraint.Expr) constraint.Expr {
	return &constraint.NotExpr{X: x}
}

func and(xs ...constraint.Expr) constraint.Expr {
	res := xs[0]
	for _, x := range xs[1:] {
		res = &constraint.AndExpr{X: res, Y: x}
	}
	return res
}

func or(xs ...constraint.Expr) constraint.Expr {
	res := xs[0]
	for _, x := range xs[1:] {
		res = &constraint.OrExpr{X: res, Y: x}
	}
	return res
}

// negate pushes the negation of x into its leaves, so that the twin of a
// gated file reads as a plain constraint.
func negate(x constraint.Expr) constraint.Expr {
	switch x := x.(type) {
	case *constraint.NotExpr:
		return x.X
	case *constraint.AndExpr:
		return &constraint.OrExpr{X: negate(x.X), Y: negate(x.Y)}
	case *constraint.OrExpr:
		return &constraint.AndExpr{X: negate(x.X), Y: negate(x.Y)}
	default:
		return not(x)
	}
}

// FeatureGate returns the build constraint under which feature is active:
// any feature whose closure contains it is set, or, for features implied by
// the default feature, [NoDefaultTag] is not set.
func FeatureGate(m *manifest.Manifest, name string) constraint.Expr {
	var terms []constraint.Expr
	if _, ok := m.Features[manifest.DefaultFeature]; ok {
		if closure, _, _ := m.Closure(manifest.DefaultFeature); hasKey(closure, name) {
			terms = append(terms, not(tag(NoDefaultTag)))
		}
	}
	var names []string
	for other := range m.Features {
		if other == manifest.DefaultFeature {
			continue
		}
		if closure, _, _ := m.Closure(other); hasKey(closure, name) {
			names = append(names, other)
		}
	}
	slices.Sort(names)
	for _, n := range names {
		terms = append(terms, tag(n))
	}
	return or(terms...)
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// Files returns the generated files for the bindings package pkg, sorted by
// name.
func Files(m *manifest.Manifest, pkg string) ([]File, error) {
	flags := m.VersionFlags()
	if len(flags) == 0 {
		return nil, fmt.Errorf("%v: %w: no features named %v<major> declared", m.Package.Name, feature.ErrNoTargetVersion, m.VersionPrefix())
	}
	if err := feature.CheckExclusive(m); err != nil {
		return nil, err
	}
	var errs []error
	for name := range m.Features {
		if name != manifest.DefaultFeature && !validTag(name) {
			errs = append(errs, &InvalidTagError{Feature: name})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var files []File
	add := func(name string, build constraint.Expr, body func(cb *Builder)) error {
		var cb Builder
		cb.Preamble(pkg, build)
		body(&cb)
		data, err := cb.Format(name)
		if err != nil {
			return fmt.Errorf("%v: %w", name, err)
		}
		files = append(files, File{Name: name, Data: data})
		return nil
	}

	for _, flag := range flags {
		major, _ := m.TargetMajor(flag)
		err := add(filePrefix+"target_"+flag+".go", tag(flag), func(cb *Builder) {
			cb.Linef(``)
			cb.Linef(`// TargetMajor is the major engine version these bindings are built for.`)
			cb.Linef(`const TargetMajor = %v`, major)
			cb.Linef(``)
			cb.Linef(`// TargetFeature is the version flag that selected TargetMajor.`)
			cb.Linef(`const TargetFeature = %q`, flag)
		})
		if err != nil {
			return nil, err
		}
	}

	flagList := strings.Join(flags, ", ")
	none := make([]constraint.Expr, len(flags))
	for i, flag := range flags {
		none[i] = not(tag(flag))
	}
	err := add(filePrefix+"target_none.go", and(none...), func(cb *Builder) {
		cb.Linef(``)
		cb.Linef(`// Building requires one of the tags %v.`, flagList)
		cb.Linef(`var _ = %v`, textutils.GoIdent(append(append([]string{"select", "one", "of"}, flags...), "with", "tags")...))
	})
	if err != nil {
		return nil, err
	}

	var pairs []constraint.Expr
	for i, a := range flags {
		for _, b := range flags[i+1:] {
			pairs = append(pairs, and(tag(a), tag(b)))
		}
	}
	if len(pairs) > 0 {
		err := add(filePrefix+"target_conflict.go", or(pairs...), func(cb *Builder) {
			cb.Linef(``)
			cb.Linef(`// At most one of the tags %v may be set.`, flagList)
			cb.Linef(`var _ = %v`, textutils.GoIdent(append(append([]string{"only", "one", "of"}, flags...), "may", "be", "set")...))
		})
		if err != nil {
			return nil, err
		}
	}

	for _, name := range m.AuxFeatures() {
		ident := "Feature" + strcase.ToCamel(name)
		gate := FeatureGate(m, name)
		for _, on := range []bool{true, false} {
			file, build := filePrefix+"feature_"+name+".go", gate
			if !on {
				file, build = filePrefix+"feature_"+name+"_off.go", negate(gate)
			}
			err := add(file, build, func(cb *Builder) {
				cb.Linef(``)
				cb.Linef(`// %v reports whether the %v feature is enabled.`, ident, name)
				cb.Linef(`const %v = %v`, ident, on)
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if cfg := m.Docs.CfgTags(); len(cfg) > 0 {
		terms := make([]constraint.Expr, len(cfg))
		for i, c := range cfg {
			terms[i] = tag(c)
		}
		gate := and(terms...)
		for _, on := range []bool{true, false} {
			file, build := filePrefix+"docs.go", gate
			if !on {
				file, build = filePrefix+"docs_off.go", negate(gate)
			}
			err := add(file, build, func(cb *Builder) {
				cb.Linef(``)
				cb.Linef(`// DocsBuild reports whether this is a documentation build.`)
				cb.Linef(`const DocsBuild = %v`, on)
			})
			if err != nil {
				return nil, err
			}
		}
	}

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	return files, nil
}

// WriteDir writes files into dir and removes previously generated files
// that are no longer part of the set. Files not carrying [Header] are never
// removed. It returns the names of the removed files.
func WriteDir(dir string, files []File) (removed []string, err error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}
	keep := map[string]bool{}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Data, 0666); err != nil {
			return nil, err
		}
		keep[f.Name] = true
	}

	stale, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.go"))
	if err != nil {
		return nil, err
	}
	for _, path := range stale {
		name := filepath.Base(path)
		if keep[name] || !strings.HasPrefix(name, filePrefix+"target_") && !strings.HasPrefix(name, filePrefix+"feature_") && !strings.HasPrefix(name, filePrefix+"docs") {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return removed, err
		}
		if !IsGenerated(data) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}
