package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgbind/pgsys/release"
)

func newReleaseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Keep co-released workspace members on one version",
		Long: `The workspace file declares the release version of all its members.
Member versions and the exact pins between members are derived from it.`,
	}
	cmd.PersistentFlags().StringP("workspace", "w", release.FileName, "path to the workspace file")

	load := func() (*release.Workspace, error) {
		return release.Load(a.v.GetString("workspace"))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Report members that drifted from the release version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ws, err := load()
				if err != nil {
					return err
				}
				if err := ws.Check(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%v members at %v\n", len(ws.Members), ws.Version)
				return nil
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Rewrite member versions and sibling pins to the release version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ws, err := load()
				if err != nil {
					return err
				}
				changed := ws.Propagate()
				if err := ws.Save(); err != nil {
					return err
				}
				report(cmd, ws, changed)
				return nil
			},
		},
		&cobra.Command{
			Use:     "bump VERSION",
			Short:   "Set a new release version and propagate it",
			Example: `  pgsys release bump 0.5.0`,
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ws, err := load()
				if err != nil {
					return err
				}
				prev := ws.Version
				changed, err := ws.Bump(args[0])
				if err != nil {
					return err
				}
				if err := ws.Save(); err != nil {
					return err
				}
				a.logger.Info("bumped release version", "from", prev, "to", ws.Version)
				report(cmd, ws, changed)
				return nil
			},
		},
	)
	return cmd
}

func report(cmd *cobra.Command, ws *release.Workspace, changed []string) {
	w := cmd.OutOrStdout()
	if len(changed) == 0 {
		fmt.Fprintf(w, "all members at %v\n", ws.Version)
		return
	}
	fmt.Fprintf(w, "updated to %v: %v\n", ws.Version, strings.Join(changed, ", "))
}
