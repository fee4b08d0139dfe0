// Package registry provides the descriptors of published artifacts to the
// dependency resolver.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/VictoriaMetrics/metrics"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
)

var ErrNotFound = errors.New("not found")

type Registry interface {
	// Versions lists the published versions of an artifact in ascending
	// order. An unknown artifact yields an error wrapping ErrNotFound.
	Versions(ctx context.Context, name string) ([]string, error)
	// Manifest returns the descriptor of one published version.
	Manifest(ctx context.Context, id artifact.ID) (*manifest.Manifest, error)
}

func notFound(what any) error {
	return fmt.Errorf("%v: %w", what, ErrNotFound)
}

// sortVersions drops invalid versions and sorts the rest ascending.
func sortVersions(vs []string) []string {
	vs = slices.DeleteFunc(vs, func(v string) bool {
		return !artifact.ValidVersion(v)
	})
	slices.SortFunc(vs, artifact.CompareVersions)
	return slices.Compact(vs)
}

// checkID makes sure a fetched descriptor describes the requested artifact.
func checkID(m *manifest.Manifest, id artifact.ID) error {
	if m.ID() != id {
		return fmt.Errorf("descriptor for %v describes %v", id, m.ID())
	}
	return nil
}

func countRequest(source, kind string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`pgsys_registry_requests_total{source=%q,kind=%q}`, source, kind)).Inc()
}
