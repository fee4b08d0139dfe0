package pgsys

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/iancoleman/strcase"

	"github.com/pgbind/pgsys/emit"
	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/gen"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/registry"
	"github.com/pgbind/pgsys/resolver"
)

type Options struct {
	Request feature.Request
	// Registry for published dependencies. Siblings are always read from
	// the workspace around the manifest.
	Registry registry.Registry
	Lock     *resolver.Lockfile
	// Stop after resolving features.
	SkipResolve bool
	// Skip schema and invariant checks.
	NoValidate bool
	Logger     *log.Logger
}

// Stage is one timed step of a plan or build.
type Stage struct {
	Name     string
	Duration time.Duration
}

// Plan is the configuration of one build: the manifest, its feature set
// and, unless skipped, its resolved dependency graph.
type Plan struct {
	Manifest   *manifest.Manifest
	Features   *feature.Set
	Resolution *resolver.Resolution
	Stages     []Stage

	logger *log.Logger
}

func (p *Plan) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.Stages = append(p.Stages, Stage{Name: name, Duration: time.Since(start)})
	return err
}

// Load loads the manifest at path and plans a build.
func Load(ctx context.Context, path string, opts Options) (*Plan, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	return NewPlan(ctx, m, opts)
}

func NewPlan(ctx context.Context, m *manifest.Manifest, opts Options) (*Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &Plan{Manifest: m, logger: logger}

	if !opts.NoValidate {
		if err := p.timed("validate", m.Validate); err != nil {
			return nil, err
		}
	}

	err := p.timed("features", func() error {
		set, err := feature.Resolve(m, opts.Request)
		if err != nil {
			return fmt.Errorf("%v: %w", m.ID(), err)
		}
		p.Features = set
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("resolved features", "target", p.Features.Target, "features", p.Features.Features)
	if opts.SkipResolve {
		return p, nil
	}

	err = p.timed("resolve", func() error {
		reg, err := registry.NewWorkspace(m, opts.Registry)
		if err != nil {
			return err
		}
		res, err := resolver.Resolve(ctx, m, p.Features, reg, resolver.Options{
			Lock:   opts.Lock,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		p.Resolution = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("resolved dependencies", "runtime", len(p.Resolution.Runtime()), "build", len(p.Resolution.BuildOnly()))
	return p, nil
}

type BuildOptions struct {
	// Go package name of the emitted files. Defaults to the artifact name
	// in snake case.
	Package string
	// Defaults to the manifest's out-dir.
	Dir          string
	SkipGenerate bool
	Gen          gen.Options
}

type BuildReport struct {
	Dir     string
	Emitted []string
	// Stale generated files removed from Dir.
	Removed   []string
	Generated *gen.Report
}

// PackageName is the default Go package name for the bindings of m.
func PackageName(m *manifest.Manifest) string {
	return strcase.ToSnake(m.Package.Name)
}

// OutDir is the directory generated files of m are written to by default:
// its generate.out-dir, relative to the manifest.
func OutDir(m *manifest.Manifest) string {
	dir := "."
	if m.Path != "" {
		dir = filepath.Dir(m.Path)
	}
	return filepath.Join(dir, m.Generate.OutDir)
}

// Build emits the feature files and runs the generator for the plan's
// target version.
func (p *Plan) Build(ctx context.Context, opts BuildOptions) (*BuildReport, error) {
	m := p.Manifest
	if opts.Package == "" {
		opts.Package = PackageName(m)
	}
	if opts.Dir == "" {
		opts.Dir = OutDir(m)
	}
	report := &BuildReport{Dir: opts.Dir}

	err := p.timed("emit", func() error {
		files, err := emit.Files(m, opts.Package)
		if err != nil {
			return err
		}
		for _, f := range files {
			report.Emitted = append(report.Emitted, f.Name)
		}
		report.Removed, err = emit.WriteDir(opts.Dir, files)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("emitted feature files", "dir", opts.Dir, "files", len(report.Emitted), "removed", len(report.Removed))

	if opts.SkipGenerate || len(m.Generate.Units) == 0 {
		return report, nil
	}
	err = p.timed("generate", func() error {
		genOpts := opts.Gen
		if genOpts.OutDir == "" {
			genOpts.OutDir = opts.Dir
		}
		if genOpts.Logger == nil {
			genOpts.Logger = p.logger
		}
		var err error
		report.Generated, err = gen.Run(ctx, m, p.Features, genOpts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
