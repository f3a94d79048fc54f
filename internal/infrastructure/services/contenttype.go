package services

import (
	"bytes"
	"net/http"
)

// InferContentType returns explicit when set, otherwise a type guessed
// from the body. JSON and XML documents are recognized before falling back
// to http.DetectContentType.
func InferContentType(explicit string, body []byte) string {
	if explicit != "" {
		return explicit
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "application/octet-stream"
	}

	switch trimmed[0] {
	case '{', '[':
		return "application/json"
	case '<':
		if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.Contains(trimmed[:min(len(trimmed), 256)], []byte("edmx:")) {
			return "application/xml"
		}
	}

	return http.DetectContentType(body)
}
