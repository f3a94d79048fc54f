package route

import (
	"net/url"
	"regexp"
	"strings"
)

// MetadataMarker identifies routes that serve the service metadata document.
const MetadataMarker = "$metadata"

// PlainTextUTF8 is the content type used for synthetic error responses.
const PlainTextUTF8 = "text/plain;charset=utf-8"

// Request is an intercepted request in domain terms, free of net/http.
// Path is relative to the backend root URI and has no leading slash.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	// Params holds the submatches of the route path expression.
	Params []string
}

// Response is what a route answers with.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// ContentType returns the Content-Type header of the response, if any.
func (r Response) ContentType() string {
	return r.Headers["Content-Type"]
}

// Handler produces the response for a matched request.
type Handler func(req *Request) Response

// Route is an intercepted request descriptor: a method, a path pattern
// relative to the root URI and its current response handler.
type Route struct {
	Name     string
	Method   string
	Path     *regexp.Regexp
	Response Handler
}

// Match reports whether the route accepts method and path, returning the
// path submatches on success.
func (r Route) Match(method, path string) ([]string, bool) {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return nil, false
	}
	m := r.Path.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	return m[1:], true
}

// IsMetadata reports whether the route path contains the metadata marker.
func (r Route) IsMetadata() bool {
	return strings.Contains(r.Path.String(), MetadataMarker)
}

// Pattern returns the path expression as a string.
func (r Route) Pattern() string {
	if r.Path == nil {
		return ""
	}
	return r.Path.String()
}

// ErrorHandler returns a handler that always answers with status and a
// plain-text body.
func ErrorHandler(status int, body string) Handler {
	return func(*Request) Response {
		return Response{
			Status:  status,
			Headers: map[string]string{"Content-Type": PlainTextUTF8},
			Body:    []byte(body),
		}
	}
}
