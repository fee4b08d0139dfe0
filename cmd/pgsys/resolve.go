package main

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgbind/pgsys"
	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/registry"
	"github.com/pgbind/pgsys/resolver"
)

func addResolveFlags(cmd *cobra.Command) {
	addFeatureFlags(cmd)
	cmd.Flags().String("registry", "", "registry of published artifacts: a directory or an http(s) URL")
	cmd.Flags().String("cache", "", "registry cache file (.json, .gob or .cbor)")
	cmd.Flags().String("lock", "", "lockfile to prefer versions from and to write the resolution to")
}

// registry opens the configured registry, wrapped in a cache if requested.
// save persists the cache and must be called once resolution is done.
func (a *app) registry() (reg registry.Registry, save func() error, err error) {
	save = func() error { return nil }
	src := a.v.GetString("registry")
	switch {
	case src == "":
		return nil, save, nil
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		reg = &registry.HTTP{BaseURL: src}
	default:
		reg = &registry.Dir{Root: src}
	}

	cachePath := a.v.GetString("cache")
	if cachePath == "" {
		return reg, save, nil
	}
	cache, err := registry.NewCacheWithFile(reg, cachePath, registry.CacheOptions{
		OnFetch: func(what string) {
			a.logger.Debug("registry fetch", "what", what)
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return cache, func() error { return cache.SaveToFile(cachePath) }, nil
}

// plan resolves features and dependencies for the configured request,
// preferring and updating the lockfile if one is configured.
func (a *app) plan(ctx context.Context) (*pgsys.Plan, error) {
	m, err := a.manifest()
	if err != nil {
		return nil, err
	}
	reg, saveCache, err := a.registry()
	if err != nil {
		return nil, err
	}

	lockPath := a.v.GetString("lock")
	var lock *resolver.Lockfile
	if lockPath != "" {
		lock, err = resolver.LoadLockfile(lockPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if cache, ok := reg.(*registry.Cache); ok && lock != nil {
		a.prefetch(ctx, m, cache, lock)
	}

	p, err := pgsys.NewPlan(ctx, m, pgsys.Options{
		Request:  a.featureRequest(),
		Registry: reg,
		Lock:     lock,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := saveCache(); err != nil {
		return nil, err
	}
	if lockPath != "" {
		if err := resolver.SaveLockfile(lockPath, p.Resolution.Lockfile()); err != nil {
			return nil, err
		}
		a.logger.Info("wrote lockfile", "path", lockPath)
	}
	return p, nil
}

// prefetch warms the cache with the published artifacts of the lockfile.
// Failures are logged at debug level and otherwise ignored.
func (a *app) prefetch(ctx context.Context, m *manifest.Manifest, cache *registry.Cache, lock *resolver.Lockfile) {
	var ids []artifact.ID
	for _, la := range lock.Artifacts {
		if la.Name == m.Package.Name {
			continue
		}
		if d, ok := m.Dependency(la.Name); ok && d.Sibling() {
			continue
		}
		ids = append(ids, artifact.New(la.Name, la.Version))
	}
	if err := cache.Prefetch(ctx, ids); err != nil {
		a.logger.Debug("prefetch locked artifacts", "err", err)
	}
}

func newResolveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the dependency graph of a build",
		Long: `Pin one version of every artifact reachable from the manifest for the
selected features. Runtime dependencies are resolved first; build-time
dependencies never change the runtime set.`,
		Example: `  pgsys resolve -F pg13 --registry ./registry
  pgsys resolve -F pg14 --registry https://registry.example.com --cache .pgsys-cache.cbor --lock pgsys.lock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.plan(cmd.Context())
			if err != nil {
				return err
			}
			lock := p.Resolution.Lockfile()
			return a.render(cmd.OutOrStdout(), lock, func() *table {
				t := &table{header: []string{"Artifact", "Version", "Phases", "Features"}}
				for _, n := range p.Resolution.All() {
					var phases []string
					for _, ph := range n.Phases() {
						phases = append(phases, ph.String())
					}
					features := n.RuntimeFeatures
					if !n.Runtime {
						features = n.BuildFeatures
					}
					t.rows = append(t.rows, []string{n.ID.Name, n.ID.Version, strings.Join(phases, ", "), strings.Join(features, " ")})
				}
				return t
			})
		},
	}
	addResolveFlags(cmd)
	addFormatFlag(cmd)
	return cmd
}

func newGraphCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the resolved dependency graph in DOT format",
		Example: `  pgsys graph -F pg13 --registry ./registry | dot -Tsvg > graph.svg`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.plan(cmd.Context())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(p.Resolution.DOT())
			return err
		},
	}
	addResolveFlags(cmd)
	return cmd
}
