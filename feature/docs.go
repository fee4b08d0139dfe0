package feature

import (
	"errors"
	"strings"

	"github.com/pgbind/pgsys/manifest"
)

var ErrNoDocsProfile = errors.New("manifest has no [docs] profile")

// DocBuild is the fixed configuration of a documentation build.
type DocBuild struct {
	Set          *Set
	GOOS, GOARCH string
	CompilerArgs []string
	DocArgs      []string
}

func (d *DocBuild) Target() string {
	return d.GOOS + "/" + d.GOARCH
}

// Docs resolves the doc-build profile. It takes no request: the profile's
// one feature and one target are used regardless of what a caller would
// select for a normal build.
func Docs(m *manifest.Manifest) (*DocBuild, error) {
	p := m.Docs
	if p == nil {
		return nil, ErrNoDocsProfile
	}
	goos, goarch, ok := strings.Cut(p.Target, "/")
	if !ok {
		return nil, errors.New("docs target " + p.Target + ": expected GOOS/GOARCH")
	}
	set, err := Resolve(m, Request{
		Features:          []string{p.Feature},
		NoDefaultFeatures: p.NoDefaultFeatures,
		Cfg:               p.CfgTags(),
		GOOS:              goos,
		GOARCH:            goarch,
	})
	if err != nil {
		return nil, err
	}
	return &DocBuild{
		Set:          set,
		GOOS:         goos,
		GOARCH:       goarch,
		CompilerArgs: p.CompilerArgs,
		DocArgs:      p.DocArgs,
	}, nil
}
