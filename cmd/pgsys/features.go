package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/manifest"
)

func addFeatureFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("features", "F", nil, "features to activate, including exactly one target version flag (e.g. pg13)")
	cmd.Flags().Bool("no-default-features", false, "do not activate the default feature")
	cmd.Flags().StringSlice("cfg", nil, "extra cfg build tags")
	cmd.Flags().String("goos", "", "target operating system (default: host)")
	cmd.Flags().String("goarch", "", "target architecture (default: host)")
	cmd.Flags().Bool("cgo", true, "satisfy the cgo build tag")
}

func (a *app) featureRequest() feature.Request {
	cgo := a.v.GetBool("cgo")
	return feature.Request{
		Features:          a.list("features"),
		NoDefaultFeatures: a.v.GetBool("no-default-features"),
		Cfg:               a.list("cfg"),
		GOOS:              a.v.GetString("goos"),
		GOARCH:            a.v.GetString("goarch"),
		CGoEnabled:        &cgo,
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the manifest against its schema and invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manifest()
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return fmt.Errorf("%v:\n%w", m.Path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v: ok (target versions: %v)\n", m.ID(), strings.Join(m.VersionFlags(), ", "))
			return nil
		},
	}
}

type featuresView struct {
	Package     string              `json:"package" yaml:"package"`
	Target      string              `json:"target" yaml:"target"`
	Major       int                 `json:"major" yaml:"major"`
	Features    []string            `json:"features" yaml:"features"`
	Cfg         []string            `json:"cfg,omitempty" yaml:"cfg,omitempty"`
	DepFeatures map[string][]string `json:"dependencyFeatures,omitempty" yaml:"dependencyFeatures,omitempty"`
	Platform    string              `json:"platform" yaml:"platform"`
}

// featureKinds lists all declared features: target version flags by major
// version, then the default feature, then the rest.
func featureKinds(m *manifest.Manifest) (names, kinds []string) {
	for _, flag := range m.VersionFlags() {
		major, _ := m.TargetMajor(flag)
		names = append(names, flag)
		kinds = append(kinds, fmt.Sprintf("target version %v", major))
	}
	if _, ok := m.Features[manifest.DefaultFeature]; ok {
		names = append(names, manifest.DefaultFeature)
		kinds = append(kinds, "default")
	}
	for _, name := range m.AuxFeatures() {
		names = append(names, name)
		kinds = append(kinds, "")
	}
	return names, kinds
}

func newFeaturesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Resolve the active feature set of a build",
		Example: `  pgsys features -F pg13
  pgsys features -F pg14,postgrestd --no-default-features --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manifest()
			if err != nil {
				return err
			}
			set, err := feature.Resolve(m, a.featureRequest())
			if err != nil {
				return err
			}
			view := featuresView{
				Package:     m.ID().String(),
				Target:      set.Target,
				Major:       set.Major,
				Features:    set.Features,
				Cfg:         set.Cfg,
				DepFeatures: set.DepFeatures,
				Platform:    set.GOOS + "/" + set.GOARCH,
			}
			return a.render(cmd.OutOrStdout(), view, func() *table {
				t := &table{header: []string{"Feature", "Kind", "Active"}}
				names, kinds := featureKinds(m)
				for i, name := range names {
					active := ""
					if set.Has(name) {
						active = "yes"
					}
					t.rows = append(t.rows, []string{name, kinds[i], active})
				}
				for _, dep := range slices.Sorted(maps.Keys(set.DepFeatures)) {
					t.rows = append(t.rows, []string{dep + "/" + strings.Join(set.DepFeatures[dep], ","), "dependency", "yes"})
				}
				return t
			})
		},
	}
	addFeatureFlags(cmd)
	addFormatFlag(cmd)
	return cmd
}

type docsView struct {
	Feature      string   `json:"feature" yaml:"feature"`
	Target       string   `json:"target" yaml:"target"`
	Version      string   `json:"version" yaml:"version"`
	Features     []string `json:"features" yaml:"features"`
	Tags         []string `json:"tags" yaml:"tags"`
	CompilerArgs []string `json:"compilerArgs,omitempty" yaml:"compilerArgs,omitempty"`
	DocArgs      []string `json:"docArgs,omitempty" yaml:"docArgs,omitempty"`
}

func newDocsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Print the documentation build profile",
		Long: `Print the fixed configuration documentation builds use. The profile
selects its own feature and target; feature selection flags are ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range []string{"features", "no-default-features", "cfg", "goos", "goarch", "cgo"} {
				if cmd.Flags().Changed(name) {
					a.logger.Warn("ignoring caller feature selection for the documentation build", "flag", "--"+name)
				}
			}
			m, err := a.manifest()
			if err != nil {
				return err
			}
			d, err := feature.Docs(m)
			if err != nil {
				return err
			}
			view := docsView{
				Feature:      m.Docs.Feature,
				Target:       d.Target(),
				Version:      d.Set.Target,
				Features:     d.Set.Features,
				Tags:         d.Set.Tags(),
				CompilerArgs: d.CompilerArgs,
				DocArgs:      d.DocArgs,
			}
			return a.render(cmd.OutOrStdout(), view, func() *table {
				return &table{
					header: []string{"Setting", "Value"},
					rows: [][]string{
						{"feature", view.Feature},
						{"target", view.Target},
						{"version", view.Version},
						{"features", strings.Join(view.Features, " ")},
						{"tags", strings.Join(view.Tags, " ")},
						{"compiler args", strings.Join(view.CompilerArgs, " ")},
						{"doc args", strings.Join(view.DocArgs, " ")},
					},
				}
			})
		},
	}
	addFeatureFlags(cmd)
	addFormatFlag(cmd)
	return cmd
}
