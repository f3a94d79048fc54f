package options

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Query parameters consulted when a caller leaves an option unset.
const (
	ParamServerDelay   = "serverDelay"
	ParamMetadataError = "metadataError"
	ParamErrorType     = "errorType"
)

// ErrorTypeBadRequest selects HTTP 400 for generic error simulation.
// Any other non-empty error type selects HTTP 500.
const ErrorTypeBadRequest = "badRequest"

// MetadataErrorBody is the body served by metadata routes when metadata
// error simulation is on.
const MetadataErrorBody = "metadata Error"

// DefaultDelay is the auto-respond delay used when neither the caller nor
// the ambient query sets one.
const DefaultDelay = 500 * time.Millisecond

// Options are the caller-facing mock server options. Nil fields are unset.
type Options struct {
	Delay         *time.Duration
	MetadataError *bool
	ErrorType     *string
}

// Resolved holds options after precedence has been applied.
type Resolved struct {
	Delay         time.Duration
	MetadataError bool
	ErrorType     string
}

// SimulatesError reports whether generic error simulation is on.
func (r Resolved) SimulatesError() bool {
	return r.ErrorType != ""
}

// ErrorStatus returns the status code served under generic error simulation.
func (r Resolved) ErrorStatus() int {
	if r.ErrorType == ErrorTypeBadRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// FromQuery maps a raw query string onto Options. Parameters that are absent
// stay unset.
func FromQuery(rawQuery string) (Options, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Options{}, fmt.Errorf("invalid query: %w", err)
	}
	return FromValues(values)
}

// FromValues is FromQuery over already parsed values.
func FromValues(values url.Values) (Options, error) {
	var opts Options

	if v := values.Get(ParamServerDelay); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Options{}, fmt.Errorf("%s must be a non-negative integer, got %q", ParamServerDelay, v)
		}
		d := time.Duration(ms) * time.Millisecond
		opts.Delay = &d
	}

	if v := values.Get(ParamMetadataError); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("%s must be a boolean, got %q", ParamMetadataError, v)
		}
		opts.MetadataError = &b
	}

	if v := values.Get(ParamErrorType); v != "" {
		opts.ErrorType = &v
	}

	return opts, nil
}

// Merge applies precedence caller > ambient > defaults.
func Merge(caller, ambient Options) Resolved {
	r := Resolved{Delay: DefaultDelay}

	switch {
	case caller.Delay != nil:
		r.Delay = *caller.Delay
	case ambient.Delay != nil:
		r.Delay = *ambient.Delay
	}
	if r.Delay < 0 {
		r.Delay = 0
	}

	switch {
	case caller.MetadataError != nil:
		r.MetadataError = *caller.MetadataError
	case ambient.MetadataError != nil:
		r.MetadataError = *ambient.MetadataError
	}

	switch {
	case caller.ErrorType != nil:
		r.ErrorType = *caller.ErrorType
	case ambient.ErrorType != nil:
		r.ErrorType = *ambient.ErrorType
	}

	return r
}

// Delay returns a pointer to d, for building Options literals.
func Delay(d time.Duration) *time.Duration { return &d }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }
