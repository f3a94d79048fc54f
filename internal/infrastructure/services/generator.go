package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sophialabs/odatamock/internal/domain/odata"
)

// DefaultGeneratedEntries is how many entities are generated for an entity
// set that has no mock data file.
const DefaultGeneratedEntries = 100

var generatorEpoch = time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC)

// GenerateEntities builds n sample entities for set. Values depend only on
// the set name, the property and the 1-based index, so repeated runs yield
// the same data.
func GenerateEntities(set string, t *odata.EntityType, n int) []odata.Entity {
	if t == nil || n <= 0 {
		return nil
	}

	out := make([]odata.Entity, 0, n)
	for i := 1; i <= n; i++ {
		e := make(odata.Entity, len(t.Properties))
		for _, p := range t.Properties {
			e[p.Name] = SampleValue(set, p, i)
		}
		out = append(out, e)
	}
	return out
}

// SampleValue returns the generated value of property p for entity i,
// in OData V2 JSON representation.
func SampleValue(set string, p odata.Property, i int) any {
	switch p.Type {
	case "Edm.Int16", "Edm.Int32", "Edm.Byte", "Edm.SByte":
		return i
	case "Edm.Int64":
		return strconv.Itoa(i)
	case "Edm.Decimal":
		return fmt.Sprintf("%d.%02d", i, i%100)
	case "Edm.Double", "Edm.Single":
		return float64(i) + 0.5
	case "Edm.Boolean":
		return i%2 == 0
	case "Edm.DateTime":
		return fmt.Sprintf("/Date(%d)/", generatorEpoch.AddDate(0, 0, i).UnixMilli())
	case "Edm.DateTimeOffset":
		return generatorEpoch.AddDate(0, 0, i).Format(time.RFC3339)
	case "Edm.Time":
		return fmt.Sprintf("PT%02dH%02dM00S", i%24, i%60)
	case "Edm.Guid":
		return StableGUID(set, p.Name, i)
	case "Edm.Binary":
		return ""
	default:
		s := p.Name + " " + strconv.Itoa(i)
		if p.MaxLength > 0 && len(s) > p.MaxLength {
			s = s[len(s)-p.MaxLength:]
		}
		return s
	}
}

// StableGUID derives a name-based UUID for a generated Edm.Guid value.
func StableGUID(set, property string, i int) string {
	name := strings.Join([]string{set, property, strconv.Itoa(i)}, "/")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// NewGUID returns a random UUID for entities created at runtime.
func NewGUID() string {
	return uuid.NewString()
}
