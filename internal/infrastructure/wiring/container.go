package wiring

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sophialabs/odatamock/internal/domain/options"
	"github.com/sophialabs/odatamock/internal/domain/trace"
	"github.com/sophialabs/odatamock/internal/infrastructure/backend"
	inboundhttp "github.com/sophialabs/odatamock/internal/infrastructure/inbound/http"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/document"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/template"
	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
	"github.com/sophialabs/odatamock/internal/infrastructure/usecases"
)

// Params holds the subset of configuration needed to construct infrastructure components.
type Params struct {
	ManifestURL      string
	DataSource       string
	MockdataDir      string
	GenerateMissing  bool
	GeneratedEntries int
	Ambient          options.Options

	TraceSize      int
	RateLimit      float64 // requests per second per route; 0 disables
	RateBurst      int
	RateLimiterTTL time.Duration
	Logger         ports.Logger
}

// Container owns the construction and lifecycle of all infrastructure components.
type Container struct {
	logger           ports.Logger
	server           *inboundhttp.Server
	initUC           *usecases.InitMockServerUseCase
	holder           *backend.Holder
	landing          *template.LandingPage
	rateLimiterStore *ratelimit.TokenBucketStore
	traceBuf         *trace.RingBuffer
	closeOnce        sync.Once
}

// New constructs all infrastructure components. Fallible operations run
// before goroutine-starting operations (rate limiter store) to avoid
// goroutine leaks on early failure.
func New(p Params) (*Container, error) {
	if p.ManifestURL == "" {
		return nil, errors.New("manifest location is required")
	}
	if p.TraceSize <= 0 {
		return nil, fmt.Errorf("trace size must be positive, got %d", p.TraceSize)
	}

	landing, err := template.NewLandingPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create landing page: %w", err)
	}

	// Start background goroutine only after all fallible ops succeed.
	rateLimiterStore := ratelimit.NewTokenBucketStore(p.RateLimiterTTL)

	clk := clock.New()
	traceBuf := trace.NewRingBuffer(p.TraceSize)
	holder := backend.NewHolder()
	fetcher := document.NewFetcher(nil)

	initUC := usecases.NewInitMockServerUseCase(
		usecases.InitMockServerConfig{
			ManifestURL:      p.ManifestURL,
			DataSource:       p.DataSource,
			MockdataDir:      p.MockdataDir,
			GenerateMissing:  p.GenerateMissing,
			GeneratedEntries: p.GeneratedEntries,
			Ambient:          p.Ambient,
		},
		document.NewManifestLoader(fetcher),
		document.NewODataSource(fetcher),
		holder,
		p.Logger,
	)
	handleReqUC := usecases.NewHandleRequestUseCase(holder, clk, rateLimiterStore, p.Logger, traceBuf)
	if p.RateLimit > 0 {
		handleReqUC.SetThrottle(p.RateLimit, p.RateBurst)
	}

	server := inboundhttp.NewServer(handleReqUC, initUC, holder, landing, landing, traceBuf, p.Logger)

	return &Container{
		logger:           p.Logger,
		server:           server,
		initUC:           initUC,
		holder:           holder,
		landing:          landing,
		rateLimiterStore: rateLimiterStore,
		traceBuf:         traceBuf,
	}, nil
}

// Close releases resources held by the container. It is idempotent.
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		c.rateLimiterStore.Stop()
		if srv := c.holder.Current(); srv != nil {
			srv.Stop()
		}
	})
}

// Logger returns the logger passed at construction time.
func (c *Container) Logger() ports.Logger {
	return c.logger
}

// Server returns the HTTP server.
func (c *Container) Server() *inboundhttp.Server {
	return c.server
}

// InitMockServerUseCase returns the configurator.
func (c *Container) InitMockServerUseCase() *usecases.InitMockServerUseCase {
	return c.initUC
}

// Holder returns the handle on the single backend instance.
func (c *Container) Holder() *backend.Holder {
	return c.holder
}

// Notifier returns the landing page, which displays initialization alerts.
func (c *Container) Notifier() ports.Notifier {
	return c.landing
}

// RateLimiterStore returns the token bucket store for rate limiting.
func (c *Container) RateLimiterStore() *ratelimit.TokenBucketStore {
	return c.rateLimiterStore
}

// TraceBuf returns the trace ring buffer.
func (c *Container) TraceBuf() *trace.RingBuffer {
	return c.traceBuf
}
