package odata

import (
	"context"
	"errors"
)

// ErrNoMockdata indicates no mock data file exists for an entity set.
var ErrNoMockdata = errors.New("no mock data for entity set")

// Entity is a single record of an entity set, keyed by property name.
type Entity map[string]any

// Source is the port for reading a service's metadata document and its
// sample data.
type Source interface {
	// LoadMetadata fetches and parses the EDMX document at metadataURL.
	LoadMetadata(ctx context.Context, metadataURL string) (*Metadata, error)
	// LoadEntities reads <baseURL>/<entitySet>.json.
	// Returns ErrNoMockdata if the file does not exist.
	LoadEntities(ctx context.Context, baseURL, entitySet string) ([]Entity, error)
}

// Metadata is the parsed service description.
type Metadata struct {
	// Raw is the document as fetched; it is served verbatim on $metadata.
	Raw         []byte
	EntityTypes map[string]*EntityType
	EntitySets  []EntitySet
}

// EntityType describes the shape of the entities in a set.
type EntityType struct {
	Namespace  string
	Name       string
	Keys       []string
	Properties []Property
}

// QualifiedName returns Namespace.Name.
func (t *EntityType) QualifiedName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Property returns the property named name.
func (t *EntityType) Property(name string) (Property, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Property is a structural property of an entity type.
type Property struct {
	Name      string
	Type      string
	Nullable  bool
	MaxLength int
}

// EntitySet binds a name to an entity type.
type EntitySet struct {
	Name       string
	EntityType string // qualified name
}

// TypeOf returns the entity type of set, or nil if it is not declared.
func (m *Metadata) TypeOf(set EntitySet) *EntityType {
	if t, ok := m.EntityTypes[set.EntityType]; ok {
		return t
	}
	return nil
}
