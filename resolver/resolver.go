// Package resolver pins one version of every artifact reachable from a root
// manifest, splits them into runtime and build-time phases and unifies the
// features requested of each.
//
// Resolution runs in two passes. The first pass follows only runtime edges
// and fixes the runtime versions; the second adds build-time edges on top
// of the fixed runtime versions. Build-only dependencies therefore never
// influence what ends up in the runtime set.
//
// Each pass prefers the highest version satisfying all demands. When an
// artifact has no such version, the pass is retried with the versions that
// placed the clashing demands dropped, until a selection is found or no
// candidates remain.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/charmbracelet/log"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/depgraph"
	"github.com/pgbind/pgsys/feature"
	"github.com/pgbind/pgsys/manifest"
	"github.com/pgbind/pgsys/registry"
	"github.com/pgbind/pgsys/textutils"
)

const (
	DefaultMaxRounds     = 64
	DefaultMaxBacktracks = 256
)

var ErrNoConvergence = errors.New("version selection did not converge")

var resolverRounds = metrics.NewCounter("pgsys_resolver_rounds_total")

type Options struct {
	// Versions in the lockfile are preferred while they still satisfy
	// every demand.
	Lock      *Lockfile
	Logger    *log.Logger
	MaxRounds int
	// Maximum number of versions dropped while searching for a selection
	// without conflicts.
	MaxBacktracks int
}

// Demand is one requirement placed on an artifact. Phase is the phase the
// requiring artifact is reached in: a runtime dependency of a build-only
// artifact is a build demand.
type Demand struct {
	From  artifact.ID
	Req   artifact.Requirement
	Phase manifest.Phase
}

func (d Demand) String() string {
	return fmt.Sprintf("%v requires %v (%v)", d.From, d.Req, d.Phase)
}

// ConflictError reports an artifact for which no available version
// satisfies every demand.
type ConflictError struct {
	Name      string
	Demands   []Demand
	Available []string
	// Version the runtime pass selected, if the conflict arose adding
	// build-time dependencies on top of it.
	Fixed string
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no version of %v satisfies all requirements:", e.Name)
	demands := make([]string, len(e.Demands))
	for i, d := range e.Demands {
		demands[i] = d.String()
	}
	b.WriteString(textutils.List(demands, "  "))
	if e.Fixed != "" {
		fmt.Fprintf(&b, "\n  version %v is fixed by the runtime dependencies", e.Fixed)
	}
	if len(e.Available) == 0 {
		b.WriteString("\n  no versions available")
	} else {
		b.WriteString("\n  available: " + strings.Join(e.Available, ", "))
	}
	return b.String()
}

type resolver struct {
	ctx    context.Context
	reg    registry.Registry
	root   *manifest.Manifest
	opts   Options
	logger *log.Logger

	versions  map[string][]string
	manifests map[artifact.ID]*manifest.Manifest
	// Versions fixed by the runtime pass.
	fixed map[string]string
}

// Resolve resolves the dependency graph of root. set is the root's resolved
// feature set; it contributes "dep/feature" requests.
func Resolve(ctx context.Context, root *manifest.Manifest, set *feature.Set, reg registry.Registry, opts Options) (*Resolution, error) {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.MaxBacktracks <= 0 {
		opts.MaxBacktracks = DefaultMaxBacktracks
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	r := &resolver{
		ctx:       ctx,
		reg:       reg,
		root:      root,
		opts:      opts,
		logger:    logger,
		versions:  map[string][]string{},
		manifests: map[artifact.ID]*manifest.Manifest{root.ID(): root},
		fixed:     map[string]string{},
	}

	runtimeSel, err := r.search(false)
	if err != nil {
		return nil, err
	}
	r.fixed = runtimeSel
	sel, err := r.search(true)
	if err != nil {
		return nil, err
	}
	return r.build(sel, set)
}

func (r *resolver) manifest(id artifact.ID) (*manifest.Manifest, error) {
	if m, ok := r.manifests[id]; ok {
		return m, nil
	}
	m, err := r.reg.Manifest(r.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %v: %w", id, err)
	}
	r.manifests[id] = m
	return m, nil
}

func (r *resolver) available(name string) ([]string, error) {
	if name == r.root.Package.Name {
		return []string{r.root.Package.Version}, nil
	}
	if vs, ok := r.versions[name]; ok {
		return vs, nil
	}
	vs, err := r.reg.Versions(r.ctx, name)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("list versions of %v: %w", name, err)
	}
	r.versions[name] = vs
	return vs, nil
}

// edges returns the dependencies of m to follow. withBuild adds build-time
// dependencies.
func edges(m *manifest.Manifest, withBuild bool) []*manifest.Dependency {
	var res []*manifest.Dependency
	for _, d := range m.AllDependencies() {
		if d.Phase == manifest.PhaseBuild && !withBuild {
			continue
		}
		res = append(res, d)
	}
	return res
}

// search runs solve, dropping the versions behind a conflict and retrying
// depth-first. The conflict of the first attempt is reported when every
// retry fails.
func (r *resolver) search(withBuild bool) (map[string]string, error) {
	budget := r.opts.MaxBacktracks
	var try func(excluded map[artifact.ID]bool) (map[string]string, error)
	try = func(excluded map[artifact.ID]bool) (map[string]string, error) {
		sel, err := r.solve(withBuild, excluded)
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return sel, err
		}
		for _, d := range conflict.Demands {
			if d.From == r.root.ID() || excluded[d.From] {
				continue
			}
			if _, ok := r.fixed[d.From.Name]; ok {
				continue
			}
			if budget == 0 {
				break
			}
			budget--
			r.logger.Debug("resolver backtrack", "conflict", conflict.Name, "drop", d.From)
			next := maps.Clone(excluded)
			if next == nil {
				next = map[artifact.ID]bool{}
			}
			next[d.From] = true
			sel, err := try(next)
			if err == nil {
				return sel, nil
			}
			if !errors.As(err, new(*ConflictError)) {
				return nil, err
			}
		}
		return nil, conflict
	}
	return try(nil)
}

// solve iterates version selection to a fixed point. Versions in excluded
// are never selected.
func (r *resolver) solve(withBuild bool, excluded map[artifact.ID]bool) (map[string]string, error) {
	pass := "runtime"
	if withBuild {
		pass = "full"
	}
	sel := map[string]string{}
	for round := 1; ; round++ {
		if round > r.opts.MaxRounds {
			return nil, fmt.Errorf("%w after %v rounds", ErrNoConvergence, r.opts.MaxRounds)
		}
		resolverRounds.Inc()

		demands, err := r.collect(sel, withBuild)
		if err != nil {
			return nil, err
		}
		next := make(map[string]string, len(demands))
		for _, name := range slices.Sorted(maps.Keys(demands)) {
			v, err := r.pick(name, demands[name], excluded)
			if err != nil {
				return nil, err
			}
			next[name] = v
		}
		r.logger.Debug("resolver round", "pass", pass, "round", round, "selected", len(next))
		if maps.Equal(next, sel) {
			return sel, nil
		}
		sel = next
	}
}

// collect walks the graph from the root through the current selection and
// gathers every demand per artifact name.
func (r *resolver) collect(sel map[string]string, withBuild bool) (map[string][]Demand, error) {
	next := func(withBuild bool) func(artifact.ID) ([]artifact.ID, error) {
		return func(id artifact.ID) ([]artifact.ID, error) {
			m, err := r.manifest(id)
			if err != nil {
				return nil, err
			}
			var ids []artifact.ID
			for _, d := range edges(m, withBuild) {
				if v, ok := sel[d.Name]; ok {
					ids = append(ids, artifact.New(d.Name, v))
				}
			}
			return ids, nil
		}
	}
	roots := []artifact.ID{r.root.ID()}
	runtime, err := depgraph.Reachable(roots, next(false))
	if err != nil {
		return nil, err
	}
	reached := runtime
	if withBuild {
		if reached, err = depgraph.Reachable(roots, next(true)); err != nil {
			return nil, err
		}
	}

	ids := slices.SortedFunc(maps.Keys(reached), func(a, b artifact.ID) int {
		switch {
		case a == r.root.ID():
			return -1
		case b == r.root.ID():
			return 1
		}
		return artifact.Compare(a, b)
	})
	demands := map[string][]Demand{}
	for _, id := range ids {
		m, err := r.manifest(id)
		if err != nil {
			return nil, err
		}
		_, onRuntime := runtime[id]
		for _, d := range edges(m, withBuild) {
			phase := d.Phase
			if !onRuntime {
				phase = manifest.PhaseBuild
			}
			demands[d.Name] = append(demands[d.Name], Demand{From: id, Req: d.Req, Phase: phase})
		}
	}
	return demands, nil
}

func (r *resolver) pick(name string, demands []Demand, excluded map[artifact.ID]bool) (string, error) {
	avail, err := r.available(name)
	if err != nil {
		return "", err
	}
	fixed, isFixed := r.fixed[name]
	var candidates []string
	for _, v := range avail {
		if excluded[artifact.New(name, v)] || (isFixed && v != fixed) {
			continue
		}
		candidates = append(candidates, v)
	}
	ok := func(v string) bool {
		for _, d := range demands {
			if !d.Req.Matches(v) {
				return false
			}
		}
		return true
	}
	if r.opts.Lock != nil {
		if v, locked := r.opts.Lock.Locked(name); locked && slices.Contains(candidates, v) && ok(v) {
			return v, nil
		}
	}
	for _, v := range slices.Backward(candidates) {
		if ok(v) {
			return v, nil
		}
	}
	return "", &ConflictError{Name: name, Demands: demands, Available: avail, Fixed: fixed}
}

func (r *resolver) build(sel map[string]string, set *feature.Set) (*Resolution, error) {
	res := &Resolution{
		Root:  r.root.ID(),
		Nodes: map[string]*Node{},
	}
	res.Nodes[r.root.Package.Name] = &Node{ID: r.root.ID(), Manifest: r.root}
	for name, v := range sel {
		if name == r.root.Package.Name {
			continue
		}
		id := artifact.New(name, v)
		m, err := r.manifest(id)
		if err != nil {
			return nil, err
		}
		res.Nodes[name] = &Node{ID: id, Manifest: m}
	}
	for _, n := range res.Nodes {
		for _, d := range n.Manifest.AllDependencies() {
			dep, ok := res.Nodes[d.Name]
			if !ok {
				return nil, fmt.Errorf("internal error: %v: dependency %v not selected", n.ID, d.Name)
			}
			if !slices.Contains(n.Deps, dep.ID) {
				n.Deps = append(n.Deps, dep.ID)
			}
		}
		slices.SortFunc(n.Deps, artifact.Compare)
	}

	order, err := depgraph.TopoSort(slices.Collect(maps.Keys(res.Nodes)), func(name string) []string {
		var names []string
		for _, id := range res.Nodes[name].Deps {
			names = append(names, id.Name)
		}
		return names
	})
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		res.Order = append(res.Order, res.Nodes[name].ID)
	}

	if err := unifyFeatures(res, set); err != nil {
		return nil, err
	}
	return res, nil
}

type phaseKey struct {
	name  string
	phase manifest.Phase
}

type featureRequest struct {
	names      map[string]struct{}
	defaultsOn bool
}

// unifyFeatures computes, per artifact and phase, the union of requested
// features closed over the artifact's feature table. The phases an
// artifact is reached in are recorded along the way.
func unifyFeatures(res *Resolution, set *feature.Set) error {
	root := res.Nodes[res.Root.Name]
	reqs := map[phaseKey]*featureRequest{}
	request := func(key phaseKey, names []string, defaults bool) bool {
		rq, ok := reqs[key]
		if !ok {
			rq = &featureRequest{names: map[string]struct{}{}}
			reqs[key] = rq
		}
		changed := !ok
		if defaults && !rq.defaultsOn {
			rq.defaultsOn = true
			changed = true
		}
		for _, n := range names {
			if _, ok := rq.names[n]; !ok {
				rq.names[n] = struct{}{}
				changed = true
			}
		}
		return changed
	}

	var rootFeatures []string
	var rootDepFeatures map[string][]string
	if set != nil {
		rootFeatures = set.Features
		rootDepFeatures = set.DepFeatures
	}
	root.RuntimeFeatures = rootFeatures
	root.Runtime = true
	for _, d := range root.Manifest.AllDependencies() {
		request(phaseKey{d.Name, d.Phase}, slices.Concat(d.Features, rootDepFeatures[d.Name]), d.UsesDefaultFeatures())
	}

	closures := map[phaseKey][]string{}
	for changed := true; changed; {
		changed = false
		for _, key := range slices.SortedFunc(maps.Keys(reqs), comparePhaseKey) {
			if key.name == res.Root.Name {
				continue
			}
			n := res.Nodes[key.name]
			m := n.Manifest
			rq := reqs[key]
			names := slices.Collect(maps.Keys(rq.names))
			if _, ok := m.Features[manifest.DefaultFeature]; ok && rq.defaultsOn {
				names = append(names, manifest.DefaultFeature)
			}
			closure, depFeatures, unknown := m.Closure(names...)
			if len(unknown) > 0 {
				return fmt.Errorf("%v (%v): %w", n.ID, key.phase, &feature.UnknownFeatureError{Names: unknown})
			}
			closures[key] = slices.Sorted(maps.Keys(closure))
			for _, d := range m.AllDependencies() {
				phase := key.phase
				if d.Phase == manifest.PhaseBuild {
					phase = manifest.PhaseBuild
				}
				if request(phaseKey{d.Name, phase}, slices.Concat(d.Features, depFeatures[d.Name]), d.UsesDefaultFeatures()) {
					changed = true
				}
			}
		}
	}

	for key, features := range closures {
		n := res.Nodes[key.name]
		switch key.phase {
		case manifest.PhaseRuntime:
			n.Runtime = true
			n.RuntimeFeatures = features
		case manifest.PhaseBuild:
			n.Build = true
			n.BuildFeatures = features
		}
	}
	return nil
}

func comparePhaseKey(a, b phaseKey) int {
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}
	return int(a.phase) - int(b.phase)
}
