package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgbind/pgsys/manifest"
)

// app is the state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: log.New(io.Discard)}

	root := &cobra.Command{
		Use:   "pgsys",
		Short: "Build configuration for multi-version engine bindings",
		Long: `pgsys manages bindings generated for several major versions of a database
engine. A build selects exactly one target version flag (pg10 ... pg14);
pgsys checks the manifest, resolves features and dependencies, and emits
the build-tag gated files the bindings are compiled with.

Every flag can also be set through the environment as PGSYS_<FLAG>
(e.g. PGSYS_LOG_LEVEL=debug), including from .env and .env.local files.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.v.GetBool("metrics") {
				metrics.WritePrometheus(cmd.ErrOrStderr(), false)
			}
			return nil
		},
	}

	root.PersistentFlags().StringP("manifest", "m", manifest.FileName, "path to the manifest")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("metrics", false, "print metrics in Prometheus format to stderr on exit")

	root.AddCommand(
		newCheckCmd(a),
		newFeaturesCmd(a),
		newDocsCmd(a),
		newResolveCmd(a),
		newGraphCmd(a),
		newEmitCmd(a),
		newGenerateCmd(a),
		newReleaseCmd(a),
		newInitCmd(a),
	)
	return root
}

// init loads env files, binds the command's flags and builds the logger.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("pgsys")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := log.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix: "pgsys",
		Level:  level,
	})
	return nil
}

// list reads a list setting, accepting comma-separated entries from both
// flags and environment variables.
func (a *app) list(key string) []string {
	var res []string
	for _, s := range a.v.GetStringSlice(key) {
		for item := range strings.SplitSeq(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				res = append(res, item)
			}
		}
	}
	return res
}

func (a *app) manifest() (*manifest.Manifest, error) {
	m, err := manifest.Load(a.v.GetString("manifest"))
	if err != nil {
		var mErr *manifest.Error
		if errors.As(err, &mErr) {
			a.logger.Debug(mErr.String())
		}
		return nil, err
	}
	a.logger.Debug("loaded manifest", "path", m.Path, "package", m.ID())
	return m, nil
}
