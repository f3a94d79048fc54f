package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/antchfx/xmlquery"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
	"github.com/sophialabs/odatamock/internal/domain/odata"
)

var _ odata.Source = (*ODataSource)(nil)

// ODataSource reads EDMX metadata documents and JSON mock data files.
type ODataSource struct {
	fetcher *Fetcher
}

// NewODataSource creates a source backed by fetcher.
func NewODataSource(fetcher *Fetcher) *ODataSource {
	return &ODataSource{fetcher: fetcher}
}

// LoadMetadata fetches and parses the EDMX document at metadataURL.
func (s *ODataSource) LoadMetadata(ctx context.Context, metadataURL string) (*odata.Metadata, error) {
	raw, err := s.fetcher.Fetch(ctx, metadataURL)
	if err != nil {
		return nil, err
	}
	md, err := ParseMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", metadataURL, err)
	}
	return md, nil
}

// ParseMetadata extracts entity types and entity sets from an EDMX document.
// Element names are matched by local name, so both V2 and V4 namespaces work.
func ParseMetadata(raw []byte) (*odata.Metadata, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	schemas := xmlquery.Find(doc, "//*[local-name()='Schema']")
	if len(schemas) == 0 {
		return nil, errors.New("no Schema element found")
	}

	md := &odata.Metadata{
		Raw:         raw,
		EntityTypes: make(map[string]*odata.EntityType),
	}

	for _, schema := range schemas {
		ns := schema.SelectAttr("Namespace")
		for _, et := range xmlquery.Find(schema, "./*[local-name()='EntityType']") {
			t := parseEntityType(ns, et)
			md.EntityTypes[t.QualifiedName()] = t
		}
	}

	for _, schema := range schemas {
		for _, es := range xmlquery.Find(schema, "./*[local-name()='EntityContainer']/*[local-name()='EntitySet']") {
			md.EntitySets = append(md.EntitySets, odata.EntitySet{
				Name:       es.SelectAttr("Name"),
				EntityType: es.SelectAttr("EntityType"),
			})
		}
	}

	return md, nil
}

func parseEntityType(ns string, n *xmlquery.Node) *odata.EntityType {
	t := &odata.EntityType{
		Namespace: ns,
		Name:      n.SelectAttr("Name"),
	}

	for _, ref := range xmlquery.Find(n, "./*[local-name()='Key']/*[local-name()='PropertyRef']") {
		t.Keys = append(t.Keys, ref.SelectAttr("Name"))
	}

	for _, p := range xmlquery.Find(n, "./*[local-name()='Property']") {
		prop := odata.Property{
			Name:     p.SelectAttr("Name"),
			Type:     p.SelectAttr("Type"),
			Nullable: !strings.EqualFold(p.SelectAttr("Nullable"), "false"),
		}
		if ml, err := strconv.Atoi(p.SelectAttr("MaxLength")); err == nil {
			prop.MaxLength = ml
		}
		t.Properties = append(t.Properties, prop)
	}

	return t
}

// LoadEntities reads <baseURL>/<entitySet>.json. The file may hold a bare
// array or an OData V2 envelope ({"d":{"results":[...]}} or {"d":[...]}).
func (s *ODataSource) LoadEntities(ctx context.Context, baseURL, entitySet string) ([]odata.Entity, error) {
	loc := joinLocation(baseURL, entitySet+".json")

	data, err := s.fetcher.Fetch(ctx, loc)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", odata.ErrNoMockdata, entitySet)
		}
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mock data %s: %w", loc, err)
	}

	items, err := extractResults(doc)
	if err != nil {
		return nil, fmt.Errorf("mock data %s: %w", loc, err)
	}

	entities := make([]odata.Entity, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("mock data %s: entry %d is not an object", loc, i)
		}
		entities = append(entities, odata.Entity(obj))
	}
	return entities, nil
}

func extractResults(doc any) ([]any, error) {
	if arr, ok := doc.([]any); ok {
		return arr, nil
	}
	for _, path := range []string{"$.d.results", "$.d", "$.value"} {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
	}
	return nil, errors.New("expected a JSON array of entities")
}

func joinLocation(base, name string) string {
	if manifest.HasScheme(base) {
		return strings.TrimSuffix(base, "/") + "/" + url.PathEscape(name)
	}
	return filepath.Join(base, name)
}
