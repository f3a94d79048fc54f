package services

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/sophialabs/odatamock/internal/domain/odata"
)

// ErrInvalidQuery indicates a malformed system query option.
var ErrInvalidQuery = errors.New("invalid query option")

// MetadataProperty is the per-entity annotation added to OData V2 payloads.
const MetadataProperty = "__metadata"

// OrderClause is one $orderby item.
type OrderClause struct {
	Property   string
	Descending bool
}

// Query holds the parsed system query options of a collection request.
type Query struct {
	Filter      *Filter
	OrderBy     []OrderClause
	Skip        int
	Top         int // -1 when unset
	Select      []string
	InlineCount bool
}

// ParseQuery reads $filter, $orderby, $skip, $top, $select and $inlinecount.
// Other parameters are ignored.
func ParseQuery(values url.Values) (*Query, error) {
	q := &Query{Top: -1}

	if f := values.Get("$filter"); f != "" {
		filter, err := CompileFilter(f)
		if err != nil {
			return nil, err
		}
		q.Filter = filter
	}

	if ob := values.Get("$orderby"); ob != "" {
		for _, item := range strings.Split(ob, ",") {
			fields := strings.Fields(item)
			if len(fields) == 0 || len(fields) > 2 {
				return nil, fmt.Errorf("%w: $orderby %q", ErrInvalidQuery, item)
			}
			clause := OrderClause{Property: fields[0]}
			if len(fields) == 2 {
				switch strings.ToLower(fields[1]) {
				case "asc":
				case "desc":
					clause.Descending = true
				default:
					return nil, fmt.Errorf("%w: $orderby direction %q", ErrInvalidQuery, fields[1])
				}
			}
			q.OrderBy = append(q.OrderBy, clause)
		}
	}

	var err error
	if q.Skip, err = nonNegative(values, "$skip", 0); err != nil {
		return nil, err
	}
	if q.Top, err = nonNegative(values, "$top", -1); err != nil {
		return nil, err
	}

	if sel := values.Get("$select"); sel != "" && sel != "*" {
		for _, name := range strings.Split(sel, ",") {
			if name = strings.TrimSpace(name); name != "" {
				q.Select = append(q.Select, name)
			}
		}
	}

	switch strings.ToLower(values.Get("$inlinecount")) {
	case "", "none":
	case "allpages":
		q.InlineCount = true
	default:
		return nil, fmt.Errorf("%w: $inlinecount %q", ErrInvalidQuery, values.Get("$inlinecount"))
	}

	return q, nil
}

func nonNegative(values url.Values, name string, def int) (int, error) {
	v := values.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidQuery, name)
	}
	return n, nil
}

// Apply filters, sorts and pages items. It returns the page and the number
// of items that passed the filter. items is not modified.
func (q *Query) Apply(items []odata.Entity, t *odata.EntityType) ([]odata.Entity, int) {
	matched := make([]odata.Entity, 0, len(items))
	for _, e := range items {
		if q.Filter == nil || q.Filter.Match(e, t) {
			matched = append(matched, e)
		}
	}

	if len(q.OrderBy) > 0 {
		slices.SortStableFunc(matched, func(a, b odata.Entity) int {
			for _, c := range q.OrderBy {
				r := CompareValues(a[c.Property], b[c.Property])
				if c.Descending {
					r = -r
				}
				if r != 0 {
					return r
				}
			}
			return 0
		})
	}

	total := len(matched)
	offset := min(q.Skip, total)
	end := total
	if q.Top >= 0 {
		end = min(offset+q.Top, total)
	}

	return matched[offset:end], total
}

// Project returns a copy of e restricted to the selected properties.
// The __metadata annotation is always kept.
func (q *Query) Project(e odata.Entity) odata.Entity {
	if len(q.Select) == 0 {
		return e
	}
	out := make(odata.Entity, len(q.Select)+1)
	if md, ok := e[MetadataProperty]; ok {
		out[MetadataProperty] = md
	}
	for _, name := range q.Select {
		if v, ok := e[name]; ok {
			out[name] = v
		}
	}
	return out
}
