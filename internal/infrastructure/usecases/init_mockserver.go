package usecases

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
	"github.com/sophialabs/odatamock/internal/domain/odata"
	"github.com/sophialabs/odatamock/internal/domain/options"
	"github.com/sophialabs/odatamock/internal/domain/route"
	"github.com/sophialabs/odatamock/internal/infrastructure/backend"
	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
	"github.com/sophialabs/odatamock/internal/infrastructure/services"
)

// ManifestLoadErrorMessage is the message reported when the manifest
// cannot be fetched or parsed.
const ManifestLoadErrorMessage = "Failed to load the application manifest"

// RunningMessage is logged once the backend serves requests.
const RunningMessage = "Running the app with mock data"

// ManifestLoadError is returned when the application manifest cannot be
// loaded. The backend is not touched in that case.
type ManifestLoadError struct {
	URL string
	Err error
}

func (e *ManifestLoadError) Error() string { return ManifestLoadErrorMessage }
func (e *ManifestLoadError) Unwrap() error { return e.Err }

// Configuration steps reported by ConfigurationError.
const (
	StepResolve  = "resolve data source"
	StepMetadata = "load metadata"
	StepMockdata = "load mock data"
	StepSimulate = "simulate"
	StepStart    = "start"
)

// ConfigurationError is returned when the manifest loaded but the backend
// could not be configured. The backend is left stopped.
type ConfigurationError struct {
	Step string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("failed to configure mock server (%s): %v", e.Step, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// InitMockServerConfig holds the settings that do not vary per call.
type InitMockServerConfig struct {
	ManifestURL string
	// DataSource defaults to manifest.DefaultDataSource.
	DataSource string
	// MockdataDir overrides the mockdata folder next to the metadata document.
	MockdataDir string
	// GenerateMissing fills entity sets without a mock data file.
	GenerateMissing  bool
	GeneratedEntries int
	// Ambient options apply where the caller leaves an option unset, the way
	// page query parameters do.
	Ambient options.Options
}

// InitMockServerUseCase loads the manifest and (re)configures the single
// backend instance. Calls are serialized.
type InitMockServerUseCase struct {
	mu     sync.Mutex
	cfg    InitMockServerConfig
	loader manifest.Loader
	source odata.Source
	holder *backend.Holder
	logger ports.Logger

	last    options.Options
	hasLast bool
}

// NewInitMockServerUseCase creates a new use case.
func NewInitMockServerUseCase(
	cfg InitMockServerConfig,
	loader manifest.Loader,
	source odata.Source,
	holder *backend.Holder,
	logger ports.Logger,
) *InitMockServerUseCase {
	if cfg.GeneratedEntries <= 0 {
		cfg.GeneratedEntries = services.DefaultGeneratedEntries
	}
	return &InitMockServerUseCase{
		cfg:    cfg,
		loader: loader,
		source: source,
		holder: holder,
		logger: logger,
	}
}

// Execute initializes the mock backend with opts. It returns
// *ManifestLoadError or *ConfigurationError on failure.
func (uc *InitMockServerUseCase) Execute(ctx context.Context, opts options.Options) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.last, uc.hasLast = opts, true
	return uc.execute(ctx, opts)
}

// Reload re-runs the last Execute with the same options. Before the first
// Execute it uses empty options.
func (uc *InitMockServerUseCase) Reload(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	return uc.execute(ctx, uc.last)
}

// LastOptions returns the options of the most recent Execute.
func (uc *InitMockServerUseCase) LastOptions() (options.Options, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.last, uc.hasLast
}

func (uc *InitMockServerUseCase) execute(ctx context.Context, opts options.Options) error {
	m, err := uc.loader.Load(ctx, uc.cfg.ManifestURL)
	if err != nil {
		uc.logger.Error(ManifestLoadErrorMessage, "manifest", uc.cfg.ManifestURL, "error", err)
		return &ManifestLoadError{URL: uc.cfg.ManifestURL, Err: err}
	}

	ds, err := m.DataSource(uc.cfg.DataSource)
	if err != nil {
		return uc.fail(StepResolve, err)
	}
	rootURI, err := manifest.ResolveRootURI(ds.URI)
	if err != nil {
		return uc.fail(StepResolve, err)
	}
	metadataURL, err := manifest.ResolveReference(uc.cfg.ManifestURL, ds.LocalURI)
	if err != nil {
		return uc.fail(StepResolve, fmt.Errorf("metadata location: %w", err))
	}

	srv, created := uc.holder.Acquire(rootURI)
	if created {
		uc.logger.Info("created mock server", "root_uri", rootURI)
	} else {
		uc.logger.Info("stopped mock server for reconfiguration", "root_uri", rootURI)
	}

	resolved := options.Merge(opts, uc.cfg.Ambient)
	srv.Configure(backend.Config{
		AutoRespond:      true,
		AutoRespondAfter: resolved.Delay,
	})

	md, err := uc.source.LoadMetadata(ctx, metadataURL)
	if err != nil {
		return uc.fail(StepMetadata, err)
	}
	data, err := uc.loadMockdata(ctx, metadataURL, md)
	if err != nil {
		return uc.fail(StepMockdata, err)
	}
	if err := srv.Simulate(md, data); err != nil {
		return uc.fail(StepSimulate, err)
	}

	routes := srv.Routes()
	if resolved.MetadataError {
		for i := range routes {
			if routes[i].IsMetadata() {
				routes[i].Response = route.ErrorHandler(http.StatusInternalServerError, options.MetadataErrorBody)
			}
		}
	}
	// Generic error simulation runs last so it overrides the metadata error.
	if resolved.SimulatesError() {
		for i := range routes {
			routes[i].Response = route.ErrorHandler(resolved.ErrorStatus(), resolved.ErrorType)
		}
	}

	srv.SetRoutes(routes)
	if err := srv.Start(); err != nil {
		return uc.fail(StepStart, err)
	}

	uc.logger.Info(RunningMessage,
		"root_uri", rootURI,
		"routes", len(routes),
		"delay", resolved.Delay,
		"metadata_error", resolved.MetadataError,
		"error_type", resolved.ErrorType,
	)
	return nil
}

func (uc *InitMockServerUseCase) fail(step string, err error) error {
	if srv := uc.holder.Current(); srv != nil {
		srv.Stop()
	}
	uc.logger.Error("failed to configure mock server", "step", step, "error", err)
	return &ConfigurationError{Step: step, Err: err}
}

// loadMockdata reads <mockdata>/<EntitySet>.json for every entity set,
// generating entries for sets without a file when enabled.
func (uc *InitMockServerUseCase) loadMockdata(ctx context.Context, metadataURL string, md *odata.Metadata) (map[string][]odata.Entity, error) {
	base := uc.cfg.MockdataDir
	if base == "" {
		var err error
		if base, err = manifest.ResolveReference(metadataURL, "mockdata"); err != nil {
			return nil, err
		}
	}

	data := make(map[string][]odata.Entity, len(md.EntitySets))
	for _, es := range md.EntitySets {
		entities, err := uc.source.LoadEntities(ctx, base, es.Name)
		switch {
		case err == nil:
			uc.logger.Debug("loaded mock data", "entity_set", es.Name, "count", len(entities))
		case errors.Is(err, odata.ErrNoMockdata):
			if !uc.cfg.GenerateMissing {
				continue
			}
			entities = services.GenerateEntities(es.Name, md.TypeOf(es), uc.cfg.GeneratedEntries)
			uc.logger.Debug("generated mock data", "entity_set", es.Name, "count", len(entities))
		default:
			return nil, err
		}
		data[es.Name] = entities
	}
	return data, nil
}
