package trace

import "time"

// Entry records one request that reached the mock backend.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Route       string    `json:"route,omitempty"`
	Matched     bool      `json:"matched"`
	Status      int       `json:"status"`
	DelayMs     int64     `json:"delay_ms"`
	RateLimited bool      `json:"rate_limited"`
}
