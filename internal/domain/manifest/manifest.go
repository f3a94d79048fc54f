package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// DefaultDataSource is the data source name looked up when none is configured.
const DefaultDataSource = "mainService"

// ErrDataSourceNotFound indicates the manifest has no data source with the requested name.
var ErrDataSourceNotFound = errors.New("data source not found in manifest")

// Loader is the port for fetching and parsing an application manifest.
type Loader interface {
	// Load fetches the manifest at manifestURL. A single attempt is made.
	Load(ctx context.Context, manifestURL string) (*Manifest, error)
}

// DataSource describes one entry of /sap.app/dataSources.
type DataSource struct {
	Name         string
	URI          string
	Type         string
	LocalURI     string
	ODataVersion string
}

// Manifest is a parsed application descriptor. It is read-only once loaded.
type Manifest struct {
	// URL is the location the manifest was loaded from. Relative references
	// inside the manifest resolve against it.
	URL         string
	AppID       string
	DataSources map[string]DataSource
}

// DataSource returns the data source registered under name.
func (m *Manifest) DataSource(name string) (DataSource, error) {
	if name == "" {
		name = DefaultDataSource
	}
	ds, ok := m.DataSources[name]
	if !ok {
		return DataSource{}, fmt.Errorf("%w: %q", ErrDataSourceNotFound, name)
	}
	return ds, nil
}

// ResolveRootURI turns a data source URI into an absolute path with a
// trailing slash. Full URLs contribute only their path.
func ResolveRootURI(uri string) (string, error) {
	if strings.TrimSpace(uri) == "" {
		return "", errors.New("data source has no uri")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid data source uri %q: %w", uri, err)
	}

	p := path.Clean("/" + u.Path)
	if p != "/" {
		p += "/"
	}
	return p, nil
}

// ResolveReference resolves ref against the location base. base may be a
// URL with a scheme or a plain file path.
func ResolveReference(base, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty reference")
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	if refURL.IsAbs() {
		return ref, nil
	}

	if HasScheme(base) {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base %q: %w", base, err)
		}
		return baseURL.ResolveReference(refURL).String(), nil
	}

	if filepath.IsAbs(ref) {
		return ref, nil
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref)), nil
}

// HasScheme reports whether loc is a URL with a scheme rather than a file path.
func HasScheme(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	// Single-letter schemes are Windows drive letters.
	return len(u.Scheme) > 1
}
