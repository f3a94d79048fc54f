package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/sophialabs/odatamock/internal/domain/odata"
	"github.com/sophialabs/odatamock/internal/domain/route"
	"github.com/sophialabs/odatamock/internal/infrastructure/services"
)

const (
	contentTypeJSON = "application/json;charset=utf-8"
	contentTypeXML  = "application/xml;charset=utf-8"

	headerDataServiceVersion = "DataServiceVersion"
	dataServiceVersion       = "2.0"
)

// buildRoutes returns the OData V2 routes for md, in match order: service
// document, $metadata, then per entity set $count, query, read, create,
// update (PUT, PATCH, MERGE) and delete.
func buildRoutes(md *odata.Metadata, st *store) []route.Route {
	routes := []route.Route{
		{
			Name:     "service document",
			Method:   http.MethodGet,
			Path:     regexp.MustCompile(`^$`),
			Response: serviceDocumentHandler(md),
		},
		{
			Name:     route.MetadataMarker,
			Method:   http.MethodGet,
			Path:     regexp.MustCompile(`^\$metadata$`),
			Response: metadataHandler(md.Raw),
		},
	}

	for _, es := range md.EntitySets {
		name := regexp.QuoteMeta(es.Name)
		collection := regexp.MustCompile(`^` + name + `(?:\(\))?$`)
		entity := regexp.MustCompile(`^` + name + `\((.+)\)$`)

		routes = append(routes,
			route.Route{
				Name:     es.Name + " count",
				Method:   http.MethodGet,
				Path:     regexp.MustCompile(`^` + name + `/\$count$`),
				Response: countHandler(st, es.Name),
			},
			route.Route{Name: es.Name + " query", Method: http.MethodGet, Path: collection, Response: queryHandler(st, es.Name)},
			route.Route{Name: es.Name + " read", Method: http.MethodGet, Path: entity, Response: readHandler(st, es.Name)},
			route.Route{Name: es.Name + " create", Method: http.MethodPost, Path: collection, Response: createHandler(st, es.Name)},
			route.Route{Name: es.Name + " update", Method: http.MethodPut, Path: entity, Response: updateHandler(st, es.Name)},
			route.Route{Name: es.Name + " update", Method: http.MethodPatch, Path: entity, Response: updateHandler(st, es.Name)},
			route.Route{Name: es.Name + " update", Method: "MERGE", Path: entity, Response: updateHandler(st, es.Name)},
			route.Route{Name: es.Name + " delete", Method: http.MethodDelete, Path: entity, Response: deleteHandler(st, es.Name)},
		)
	}

	return routes
}

func serviceDocumentHandler(md *odata.Metadata) route.Handler {
	names := make([]string, 0, len(md.EntitySets))
	for _, es := range md.EntitySets {
		names = append(names, es.Name)
	}
	return func(*route.Request) route.Response {
		return jsonResponse(http.StatusOK, map[string]any{
			"d": map[string]any{"EntitySets": names},
		})
	}
}

func metadataHandler(raw []byte) route.Handler {
	return func(*route.Request) route.Response {
		return route.Response{
			Status: http.StatusOK,
			Headers: map[string]string{
				"Content-Type":           contentTypeXML,
				headerDataServiceVersion: dataServiceVersion,
			},
			Body: raw,
		}
	}
}

func countHandler(st *store, set string) route.Handler {
	return func(req *route.Request) route.Response {
		t, items, q, err := prepareQuery(st, set, req)
		if err != nil {
			return errorResponse(err)
		}
		q.Skip, q.Top = 0, -1
		_, total := q.Apply(items, t)
		return route.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": route.PlainTextUTF8},
			Body:    []byte(strconv.Itoa(total)),
		}
	}
}

func queryHandler(st *store, set string) route.Handler {
	return func(req *route.Request) route.Response {
		t, items, q, err := prepareQuery(st, set, req)
		if err != nil {
			return errorResponse(err)
		}

		page, total := q.Apply(items, t)
		results := make([]odata.Entity, 0, len(page))
		for _, e := range page {
			results = append(results, q.Project(e))
		}

		d := map[string]any{"results": results}
		if q.InlineCount {
			d["__count"] = strconv.Itoa(total)
		}
		return jsonResponse(http.StatusOK, map[string]any{"d": d})
	}
}

func readHandler(st *store, set string) route.Handler {
	return func(req *route.Request) route.Response {
		key, err := requestKey(st, set, req)
		if err != nil {
			return errorResponse(err)
		}
		q, err := services.ParseQuery(req.Query)
		if err != nil {
			return errorResponse(err)
		}
		e, err := st.get(set, key)
		if err != nil {
			return errorResponse(err)
		}
		return jsonResponse(http.StatusOK, map[string]any{"d": q.Project(e)})
	}
}

func createHandler(st *store, set string) route.Handler {
	return func(req *route.Request) route.Response {
		fields, err := decodeEntity(req.Body)
		if err != nil {
			return errorResponse(err)
		}
		e, err := st.insert(set, fields)
		if err != nil {
			return errorResponse(err)
		}

		resp := jsonResponse(http.StatusCreated, map[string]any{"d": e})
		if md, ok := e[services.MetadataProperty].(map[string]any); ok {
			if uri, ok := md["uri"].(string); ok {
				resp.Headers["Location"] = uri
			}
		}
		return resp
	}
}

func updateHandler(st *store, set string) route.Handler {
	return func(req *route.Request) route.Response {
		key, err := requestKey(st, set, req)
		if err != nil {
			return errorResponse(err)
		}
		fields, err := decodeEntity(req.Body)
		if err != nil {
			return errorResponse(err)
		}
		if err := st.update(set, key, fields); err != nil {
			return errorResponse(err)
		}
		return noContent()
	}
}

func deleteHandler(st *store, set string) route.Handler {
	return func(req *route.Request) route.Response {
		key, err := requestKey(st, set, req)
		if err != nil {
			return errorResponse(err)
		}
		if err := st.remove(set, key); err != nil {
			return errorResponse(err)
		}
		return noContent()
	}
}

func prepareQuery(st *store, set string, req *route.Request) (*odata.EntityType, []odata.Entity, *services.Query, error) {
	t, err := st.entityType(set)
	if err != nil {
		return nil, nil, nil, err
	}
	q, err := services.ParseQuery(req.Query)
	if err != nil {
		return nil, nil, nil, err
	}
	items, err := st.list(set)
	if err != nil {
		return nil, nil, nil, err
	}
	return t, items, q, nil
}

func requestKey(st *store, set string, req *route.Request) (map[string]any, error) {
	if len(req.Params) == 0 {
		return nil, fmt.Errorf("%w: no key in %q", ErrInvalidKey, req.Path)
	}
	t, err := st.entityType(set)
	if err != nil {
		return nil, err
	}
	return ParseKey(req.Params[0], t)
}

var errInvalidBody = errors.New("request body must be a JSON object")

// decodeEntity accepts a bare object or the {"d":{...}} envelope.
func decodeEntity(body []byte) (odata.Entity, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, errInvalidBody
	}
	if d, ok := fields["d"].(map[string]any); ok && len(fields) == 1 {
		fields = d
	}
	return odata.Entity(fields), nil
}

func jsonResponse(status int, v any) route.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return route.ErrorHandler(http.StatusInternalServerError, err.Error())(nil)
	}
	return route.Response{
		Status: status,
		Headers: map[string]string{
			"Content-Type":           contentTypeJSON,
			headerDataServiceVersion: dataServiceVersion,
		},
		Body: body,
	}
}

func noContent() route.Response {
	return route.Response{
		Status:  http.StatusNoContent,
		Headers: map[string]string{headerDataServiceVersion: dataServiceVersion},
	}
}

// errorResponse renders err as an OData V2 error payload.
func errorResponse(err error) route.Response {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrEntityNotFound), errors.Is(err, ErrUnknownEntitySet):
		status = http.StatusNotFound
	case errors.Is(err, ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidKey), errors.Is(err, services.ErrInvalidQuery), errors.Is(err, errInvalidBody):
		status = http.StatusBadRequest
	}

	return jsonResponse(status, map[string]any{
		"error": map[string]any{
			"code": strconv.Itoa(status),
			"message": map[string]any{
				"lang":  "en",
				"value": err.Error(),
			},
		},
	})
}
