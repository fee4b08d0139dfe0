package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pgbind/pgsys/artifact"
	"github.com/pgbind/pgsys/manifest"
)

// HTTP is a registry served over HTTP:
//
//	GET <base>/<name>/@v/list           newline-separated versions
//	GET <base>/<name>/@v/<version>.toml descriptor
type HTTP struct {
	BaseURL string
	// http.DefaultClient if nil.
	Client *http.Client
}

func (h *HTTP) get(ctx context.Context, what any, elem ...string) ([]byte, error) {
	u, err := url.JoinPath(h.BaseURL, elem...)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, notFound(what)
		}
		return nil, fmt.Errorf("get %v: %v", u, resp.Status)
	}
	return b, nil
}

func (h *HTTP) Versions(ctx context.Context, name string) ([]string, error) {
	countRequest("http", "versions")
	if !artifact.ValidName(name) {
		return nil, notFound(name)
	}
	b, err := h.get(ctx, name, name, "@v", "list")
	if err != nil {
		return nil, err
	}
	return sortVersions(strings.Fields(string(b))), nil
}

func (h *HTTP) Manifest(ctx context.Context, id artifact.ID) (*manifest.Manifest, error) {
	countRequest("http", "manifest")
	if err := id.Check(); err != nil {
		return nil, err
	}
	b, err := h.get(ctx, id, id.Name, "@v", id.Version+".toml")
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(id.String(), b)
	if err != nil {
		return nil, err
	}
	if err := checkID(m, id); err != nil {
		return nil, err
	}
	return m, nil
}
