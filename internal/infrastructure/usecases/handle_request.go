package usecases

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sophialabs/odatamock/internal/domain/route"
	"github.com/sophialabs/odatamock/internal/domain/trace"
	"github.com/sophialabs/odatamock/internal/infrastructure/backend"
	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
	"github.com/sophialabs/odatamock/internal/infrastructure/services"
)

// IncomingRequest is an HTTP request in transport-neutral form.
type IncomingRequest struct {
	Method  string
	Path    string // absolute URL path
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// HandleRequestResult is the outcome of processing a mock request.
type HandleRequestResult struct {
	Matched     bool
	RateLimited bool
	// Cancelled is set when the client went away during the response delay.
	// The route handler did not run and Response is empty.
	Cancelled  bool
	Response   route.Response
	TraceEntry trace.Entry
}

// StatusClientClosedRequest is traced for requests abandoned before the
// route handler ran.
const StatusClientClosedRequest = 499

// HandleRequestUseCase answers requests addressed to the live backend.
type HandleRequestUseCase struct {
	holder      *backend.Holder
	clock       ports.Clock
	rateLimiter ports.RateLimiter
	logger      ports.Logger
	traceBuf    *trace.RingBuffer

	rate  float64
	burst int
}

// NewHandleRequestUseCase creates a new use case.
func NewHandleRequestUseCase(
	holder *backend.Holder,
	clock ports.Clock,
	rateLimiter ports.RateLimiter,
	logger ports.Logger,
	traceBuf *trace.RingBuffer,
) *HandleRequestUseCase {
	return &HandleRequestUseCase{
		holder:      holder,
		clock:       clock,
		rateLimiter: rateLimiter,
		logger:      logger,
		traceBuf:    traceBuf,
	}
}

// SetThrottle enables a per-route token bucket. A rate of zero disables it.
func (uc *HandleRequestUseCase) SetThrottle(rate float64, burst int) {
	uc.rate = rate
	uc.burst = max(burst, 1)
}

// Execute routes req through the backend. Unmatched requests, including
// every request while the backend is stopped, report Matched false.
func (uc *HandleRequestUseCase) Execute(ctx context.Context, req *IncomingRequest) HandleRequestResult {
	entry := trace.Entry{
		Timestamp: uc.clock.Now(),
		Method:    req.Method,
		Path:      req.Path,
	}
	result := HandleRequestResult{}

	srv := uc.holder.Current()
	if srv == nil {
		uc.logger.Debug("no mock server", "method", req.Method, "path", req.Path)
		return uc.finish(result, entry)
	}

	matched, params, ok := srv.Lookup(req.Method, req.Path)
	if !ok {
		uc.logger.Debug("no route matched", "method", req.Method, "path", req.Path)
		return uc.finish(result, entry)
	}
	result.Matched = true
	entry.Matched = true
	entry.Route = matched.Name

	if uc.rate > 0 && !uc.rateLimiter.Allow(ctx, matched.Name, uc.rate, uc.burst) {
		uc.logger.Debug("rate limited", "route", matched.Name)
		result.RateLimited = true
		entry.RateLimited = true
		result.Response = route.ErrorHandler(http.StatusTooManyRequests, "rate limit exceeded")(nil)
		entry.Status = result.Response.Status
		return uc.finish(result, entry)
	}

	// Auto-respond latency, cut short if the client goes away.
	if cfg := srv.Config(); cfg.AutoRespond && cfg.AutoRespondAfter > 0 {
		entry.DelayMs = cfg.AutoRespondAfter.Milliseconds()
		if err := uc.clock.SleepContext(ctx, cfg.AutoRespondAfter); err != nil {
			uc.logger.Debug("response delay cancelled", "route", matched.Name, "error", err)
			result.Cancelled = true
			entry.Status = StatusClientClosedRequest
			return uc.finish(result, entry)
		}
	}

	rel, _ := srv.Relative(req.Path)
	resp := matched.Response(&route.Request{
		Method:  req.Method,
		Path:    rel,
		Query:   req.Query,
		Headers: req.Headers,
		Body:    req.Body,
		Params:  params,
	})
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	if resp.ContentType() == "" && len(resp.Body) > 0 {
		resp.Headers["Content-Type"] = services.InferContentType("", resp.Body)
	}

	result.Response = resp
	entry.Status = resp.Status
	return uc.finish(result, entry)
}

func (uc *HandleRequestUseCase) finish(result HandleRequestResult, entry trace.Entry) HandleRequestResult {
	uc.traceBuf.Add(entry)
	result.TraceEntry = entry
	return result
}
