package backend

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/sophialabs/odatamock/internal/domain/odata"
	"github.com/sophialabs/odatamock/internal/infrastructure/services"
)

// Store errors.
var (
	ErrUnknownEntitySet = errors.New("unknown entity set")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrDuplicateKey     = errors.New("entity with this key already exists")
)

type entitySet struct {
	name     string
	typ      *odata.EntityType
	entities []odata.Entity
}

// store keeps the simulated entity sets in memory. Changes live until the
// next Simulate call.
type store struct {
	mu      sync.RWMutex
	rootURI string
	sets    map[string]*entitySet
}

func newStore(rootURI string, md *odata.Metadata, data map[string][]odata.Entity) *store {
	s := &store{
		rootURI: rootURI,
		sets:    make(map[string]*entitySet, len(md.EntitySets)),
	}
	for _, es := range md.EntitySets {
		set := &entitySet{name: es.Name, typ: md.TypeOf(es)}
		for _, e := range data[es.Name] {
			c := maps.Clone(e)
			s.annotate(set, c)
			set.entities = append(set.entities, c)
		}
		s.sets[es.Name] = set
	}
	return s
}

func (s *store) entityType(set string) (*odata.EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, ok := s.sets[set]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntitySet, set)
	}
	return es.typ, nil
}

// list returns a snapshot of the entities of set.
func (s *store) list(set string) ([]odata.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, ok := s.sets[set]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntitySet, set)
	}
	return slices.Clone(es.entities), nil
}

func (s *store) get(set string, key map[string]any) (odata.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es, idx, err := s.find(set, key)
	if err != nil {
		return nil, err
	}
	return es.entities[idx], nil
}

// insert adds e to set, generating missing key values.
func (s *store) insert(set string, e odata.Entity) (odata.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, ok := s.sets[set]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntitySet, set)
	}

	c := maps.Clone(e)
	delete(c, services.MetadataProperty)
	if es.typ != nil {
		for _, k := range es.typ.Keys {
			if v, ok := c[k]; !ok || v == nil {
				c[k] = nextKeyValue(es, k)
			}
		}
		key := make(map[string]any, len(es.typ.Keys))
		for _, k := range es.typ.Keys {
			key[k] = c[k]
		}
		if slices.ContainsFunc(es.entities, func(x odata.Entity) bool { return MatchesKey(x, key, es.typ) }) {
			return nil, fmt.Errorf("%w: %s(%s)", ErrDuplicateKey, set, FormatKey(c, es.typ))
		}
	}

	s.annotate(es, c)
	es.entities = append(es.entities, c)
	return c, nil
}

// update merges fields into the entity addressed by key. Key properties
// cannot be changed.
func (s *store) update(set string, key map[string]any, fields odata.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, idx, err := s.find(set, key)
	if err != nil {
		return err
	}

	c := maps.Clone(es.entities[idx])
	for name, v := range fields {
		if name == services.MetadataProperty {
			continue
		}
		if _, isKey := key[name]; isKey {
			continue
		}
		c[name] = v
	}
	es.entities[idx] = c
	return nil
}

func (s *store) remove(set string, key map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	es, idx, err := s.find(set, key)
	if err != nil {
		return err
	}
	es.entities = slices.Delete(es.entities, idx, idx+1)
	return nil
}

// find must be called with s.mu held.
func (s *store) find(set string, key map[string]any) (*entitySet, int, error) {
	es, ok := s.sets[set]
	if !ok {
		return nil, -1, fmt.Errorf("%w: %s", ErrUnknownEntitySet, set)
	}
	idx := slices.IndexFunc(es.entities, func(e odata.Entity) bool { return MatchesKey(e, key, es.typ) })
	if idx < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrEntityNotFound, set)
	}
	return es, idx, nil
}

func (s *store) annotate(es *entitySet, e odata.Entity) {
	md := map[string]any{
		"uri": s.rootURI + es.name + "(" + FormatKey(e, es.typ) + ")",
	}
	if es.typ != nil {
		md["type"] = es.typ.QualifiedName()
	}
	e[services.MetadataProperty] = md
}

func nextKeyValue(es *entitySet, name string) any {
	p, _ := es.typ.Property(name)
	switch p.Type {
	case "Edm.Guid":
		return services.NewGUID()
	case "Edm.Int16", "Edm.Int32", "Edm.Byte", "Edm.SByte":
		return float64(maxIntKey(es, name) + 1)
	case "Edm.Int64":
		return strconv.FormatInt(maxIntKey(es, name)+1, 10)
	default:
		return es.name + "_" + strconv.Itoa(len(es.entities)+1)
	}
}

func maxIntKey(es *entitySet, name string) int64 {
	var highest int64
	for _, e := range es.entities {
		var n int64
		switch v := e[name].(type) {
		case float64:
			n = int64(v)
		case int:
			n = int64(v)
		case string:
			n, _ = strconv.ParseInt(v, 10, 64)
		}
		highest = max(highest, n)
	}
	return highest
}
