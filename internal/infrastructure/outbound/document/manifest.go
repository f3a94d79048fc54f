package document

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
)

var _ manifest.Loader = (*ManifestLoader)(nil)

// ManifestLoader fetches manifest.json descriptors.
type ManifestLoader struct {
	fetcher *Fetcher
}

// NewManifestLoader creates a loader backed by fetcher.
func NewManifestLoader(fetcher *Fetcher) *ManifestLoader {
	return &ManifestLoader{fetcher: fetcher}
}

// Load fetches and parses the manifest at manifestURL. A descriptor without
// a sap.app section parses to a manifest with no data sources.
func (l *ManifestLoader) Load(ctx context.Context, manifestURL string) (*manifest.Manifest, error) {
	data, err := l.fetcher.Fetch(ctx, manifestURL)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", manifestURL, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("manifest %s is not a JSON object", manifestURL)
	}

	m := &manifest.Manifest{
		URL:         manifestURL,
		AppID:       stringAt(doc, `$["sap.app"].id`),
		DataSources: make(map[string]manifest.DataSource),
	}

	sources, err := jsonpath.Get(`$["sap.app"].dataSources`, doc)
	if err != nil {
		return m, nil
	}
	byName, ok := sources.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("manifest %s: sap.app/dataSources is not an object", manifestURL)
	}

	for name, entry := range byName {
		m.DataSources[name] = manifest.DataSource{
			Name:         name,
			URI:          stringAt(entry, "$.uri"),
			Type:         stringAt(entry, "$.type"),
			LocalURI:     stringAt(entry, "$.settings.localUri"),
			ODataVersion: stringAt(entry, "$.settings.odataVersion"),
		}
	}

	return m, nil
}

// stringAt returns the string at path, or "" when absent or not a string.
func stringAt(v any, path string) string {
	got, err := jsonpath.Get(path, v)
	if err != nil {
		return ""
	}
	s, _ := got.(string)
	return s
}
