package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pgbind/pgsys"
	"github.com/pgbind/pgsys/emit"
	"github.com/pgbind/pgsys/gen"
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "", "output directory (default: the manifest's generate.out-dir)")
	cmd.Flags().String("package", "", "Go package name of the bindings (default: artifact name in snake case)")
}

func newEmitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Write the build-tag gated target version and feature files",
		Long: `Write one file per target version flag defining TargetMajor and
TargetFeature, guard files that make builds without exactly one target
version flag fail to compile, and a FeatureXxx constant per feature.
Stale files from earlier runs are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manifest()
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			pkg := a.v.GetString("package")
			if pkg == "" {
				pkg = pgsys.PackageName(m)
			}
			files, err := emit.Files(m, pkg)
			if err != nil {
				return err
			}
			dir := a.v.GetString("out")
			if dir == "" {
				dir = pgsys.OutDir(m)
			}
			removed, err := emit.WriteDir(dir, files)
			if err != nil {
				return err
			}
			for _, name := range removed {
				a.logger.Info("removed stale file", "file", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %v files to %v\n", len(files), dir)
			return nil
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Emit feature files and run the generator for one target version",
		Example: `  pgsys generate -F pg13
  PGSYS_FEATURES=pg14 pgsys generate --jobs 4 --stats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manifest()
			if err != nil {
				return err
			}
			p, err := pgsys.NewPlan(cmd.Context(), m, pgsys.Options{
				Request:     a.featureRequest(),
				SkipResolve: true,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}
			report, err := p.Build(cmd.Context(), pgsys.BuildOptions{
				Package: a.v.GetString("package"),
				Dir:     a.v.GetString("out"),
				Gen: gen.Options{
					Jobs:       a.v.GetInt("jobs"),
					FixImports: a.v.GetBool("fix-imports"),
				},
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			generated := 0
			if report.Generated != nil {
				generated = len(report.Generated.Generated())
			}
			fmt.Fprintf(w, "%v: emitted %v files, generated %v units into %v\n", p.Features.Target, len(report.Emitted), generated, report.Dir)
			if !a.v.GetBool("stats") {
				return nil
			}

			var total time.Duration
			for _, s := range p.Stages {
				total += s.Duration
			}
			percent := func(d time.Duration) string {
				if total == 0 {
					return "0"
				}
				return strconv.FormatFloat(float64(d)/float64(total)*100, 'f', 2, 64)
			}
			t := &table{
				header: []string{"Task", "Time", "Time %"},
				align:  []int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_RIGHT},
			}
			for _, s := range p.Stages {
				t.rows = append(t.rows, []string{s.Name, s.Duration.String(), percent(s.Duration)})
			}
			t.rows = append(t.rows, []string{"==TOTAL==", total.String(), "100"})
			t.render(w)
			return nil
		},
	}
	addFeatureFlags(cmd)
	addOutputFlags(cmd)
	cmd.Flags().IntP("jobs", "j", 0, "concurrent generator runs (default: generate.jobs, then the number of CPUs)")
	cmd.Flags().Bool("fix-imports", false, "add missing and remove unused imports in generated files")
	cmd.Flags().Bool("stats", false, "print timing statistics")
	return cmd
}
