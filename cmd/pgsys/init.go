package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pgbind/pgsys/manifest"
)

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init NAME",
		Short: "Write a starter manifest for a new bindings artifact",
		Example: `  pgsys init pg-sys
  pgsys init engine-sys --dir engine-sys --majors 13,14,15`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.v.GetString("dir")
			path := filepath.Join(dir, manifest.FileName)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%v already exists", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			var majors []int
			for _, s := range a.list("majors") {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 {
					return fmt.Errorf("--majors: invalid major version %q", s)
				}
				majors = append(majors, n)
			}
			if len(majors) == 0 {
				return errors.New("--majors: at least one major version is required")
			}
			slices.Sort(majors)
			majors = slices.Compact(majors)

			m := starter(args[0], majors)
			if err := m.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0777); err != nil {
				return err
			}
			if err := m.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %v\n", path)
			return nil
		},
	}
	cmd.Flags().String("dir", ".", "directory to create the manifest in")
	cmd.Flags().StringSlice("majors", []string{"10", "11", "12", "13", "14"}, "supported engine major versions")
	return cmd
}

// starter is a manifest with one version flag per major version, the
// newest one documented.
func starter(name string, majors []int) *manifest.Manifest {
	m := &manifest.Manifest{
		Package: manifest.Package{
			Name:    name,
			Version: "0.1.0",
		},
		Features: map[string][]string{
			manifest.DefaultFeature: {},
		},
		Generate: manifest.Generate{
			OutDir: "bindings",
		},
	}
	var newest string
	for _, major := range majors {
		newest = manifest.DefaultVersionPrefix + strconv.Itoa(major)
		m.Features[newest] = []string{}
	}
	m.Docs = &manifest.Docs{
		Feature:      newest,
		Target:       "linux/amd64",
		CompilerArgs: []string{"--cfg", "docsrs"},
	}
	return m
}
