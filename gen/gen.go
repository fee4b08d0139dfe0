// Package gen runs the external binding generator over the units of a
// manifest for one resolved feature set.
package gen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/build/constraint"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/pgbind/pgsys/emit"
	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/manifest"
)

var ErrNoGenerator = errors.New("no generator configured (set generate.command)")

// Job is one unit to generate for one target version.
type Job struct {
	Unit   manifest.Unit
	Target string
	Major  int
	// Build tags of the feature set.
	Tags []string
	// Working directory: the manifest's directory.
	Dir string
}

// Generator turns a job into Go source.
type Generator interface {
	Generate(ctx context.Context, job Job) ([]byte, error)
}

type GeneratorFunc func(ctx context.Context, job Job) ([]byte, error)

func (f GeneratorFunc) Generate(ctx context.Context, job Job) ([]byte, error) {
	return f(ctx, job)
}

type Options struct {
	// Defaults to a [ShellGenerator] running the manifest's command.
	Generator Generator
	// Defaults to the manifest's out-dir, relative to the manifest.
	OutDir string
	// Maximum number of concurrent generator runs. Defaults to the
	// manifest's jobs, then to the number of CPUs.
	Jobs int
	// Add missing imports to generated files and remove unused ones.
	FixImports bool
	Logger     *log.Logger
}

type Result struct {
	Unit manifest.Unit
	// Written file; empty if the unit was skipped.
	Path    string
	Skipped bool
}

type Report struct {
	Target  string
	Results []Result
}

func (r *Report) Generated() []Result {
	var res []Result
	for _, x := range r.Results {
		if !x.Skipped {
			res = append(res, x)
		}
	}
	return res
}

// OutputName is the file a unit is written to for target: the unit's
// output with the target flag appended, so that outputs for different
// targets coexist in one package.
func OutputName(u manifest.Unit, target string) string {
	return strings.TrimSuffix(u.Output, ".go") + "_" + target + ".go"
}

func unitCounter(status string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`pgsys_gen_units_total{status="` + status + `"}`)
}

// Run generates every unit whose select constraint set satisfies. Units run
// concurrently; the first failure cancels the remaining ones.
func Run(ctx context.Context, m *manifest.Manifest, set *feature.Set, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	dir := "."
	if m.Path != "" {
		dir = filepath.Dir(m.Path)
	}

	g := opts.Generator
	if g == nil {
		if m.Generate.Command == "" {
			return nil, ErrNoGenerator
		}
		g = &ShellGenerator{Command: m.Generate.Command}
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = filepath.Join(dir, m.Generate.OutDir)
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = m.Generate.Jobs
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	report := &Report{Target: set.Target, Results: make([]Result, len(m.Generate.Units))}
	if err := os.MkdirAll(outDir, 0777); err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(jobs)
	for i, u := range m.Generate.Units {
		report.Results[i].Unit = u
		if !set.Eval(u.Select) {
			report.Results[i].Skipped = true
			unitCounter("skipped").Inc()
			logger.Debug("skipping unit", "header", u.Header, "select", u.Select)
			continue
		}
		eg.Go(func() error {
			job := Job{Unit: u, Target: set.Target, Major: set.Major, Tags: set.Tags(), Dir: dir}
			path := filepath.Join(outDir, OutputName(u, set.Target))
			logger.Info("generating", "header", u.Header, "output", path)
			if err := generate(ctx, g, job, path, opts.FixImports); err != nil {
				unitCounter("failed").Inc()
				return fmt.Errorf("unit %v: %w", u.Header, err)
			}
			unitCounter("generated").Inc()
			report.Results[i].Path = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func generate(ctx context.Context, g Generator, job Job, path string, fixImports bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := g.Generate(ctx, job)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return errors.New("generator produced no output")
	}

	var build constraint.Expr = &constraint.TagExpr{Tag: job.Target}
	own, out, err := cutConstraint(out)
	if err != nil {
		return fmt.Errorf("generated code: %w", err)
	}
	if own != nil {
		build = &constraint.AndExpr{X: build, Y: own}
	}

	var cb emit.Builder
	cb.Linef("%v", emit.Header)
	cb.Linef("")
	cb.Linef("//go:build %v", build)
	cb.Linef("")
	cb.Write(string(out))
	data, err := emit.Format(filepath.Base(path), []byte(cb.String()), fixImports)
	if err != nil {
		return fmt.Errorf("format generated code: %w", err)
	}
	return os.WriteFile(path, data, 0666)
}

// cutConstraint removes the build constraint lines ("//go:build" and
// "// +build") above the package clause of src and returns their
// conjunction, nil if there are none.
func cutConstraint(src []byte) (constraint.Expr, []byte, error) {
	var expr constraint.Expr
	var res bytes.Buffer
	inHeader := true
	for line := range bytes.Lines(src) {
		text := strings.TrimSpace(string(line))
		if inHeader && strings.HasPrefix(text, "package ") {
			inHeader = false
		}
		if !inHeader || !(constraint.IsGoBuild(text) || constraint.IsPlusBuild(text)) {
			res.Write(line)
			continue
		}
		if constraint.IsPlusBuild(text) {
			// Superseded by the //go:build line.
			continue
		}
		e, err := constraint.Parse(text)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: %w", text, err)
		}
		if expr == nil {
			expr = e
		} else {
			expr = &constraint.AndExpr{X: expr, Y: e}
		}
	}
	return expr, res.Bytes(), nil
}
