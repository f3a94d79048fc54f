package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
	"github.com/sophialabs/odatamock/internal/domain/options"
	"github.com/sophialabs/odatamock/internal/domain/route"
	"github.com/sophialabs/odatamock/internal/infrastructure/backend"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/document"
	"github.com/sophialabs/odatamock/internal/infrastructure/usecases"
	"github.com/sophialabs/odatamock/internal/testutil"
)

type initFixture struct {
	uc       *usecases.InitMockServerUseCase
	holder   *backend.Holder
	logger   *testutil.RecordingLogger
	manifest string
}

func newInitFixture(t *testing.T, mutate func(*usecases.InitMockServerConfig)) *initFixture {
	t.Helper()

	manifestPath := testutil.WriteSampleApp(t, t.TempDir())
	cfg := usecases.InitMockServerConfig{
		ManifestURL:      manifestPath,
		GenerateMissing:  true,
		GeneratedEntries: 5,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fetcher := document.NewFetcher(nil)
	holder := backend.NewHolder()
	logger := &testutil.RecordingLogger{}
	uc := usecases.NewInitMockServerUseCase(
		cfg,
		document.NewManifestLoader(fetcher),
		document.NewODataSource(fetcher),
		holder,
		logger,
	)
	return &initFixture{uc: uc, holder: holder, logger: logger, manifest: manifestPath}
}

func respond(t *testing.T, srv *backend.Server, method, path string) route.Response {
	t.Helper()
	r, params, ok := srv.Lookup(method, path)
	if !ok {
		t.Fatalf("no route for %s %s", method, path)
	}
	rel, _ := srv.Relative(path)
	return r.Response(&route.Request{Method: method, Path: rel, Params: params})
}

func TestInitMockServer_Defaults(t *testing.T) {
	f := newInitFixture(t, nil)

	if err := f.uc.Execute(context.Background(), options.Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	srv := f.holder.Current()
	if srv == nil || !srv.IsStarted() {
		t.Fatal("expected a started backend")
	}
	if srv.RootURI() != testutil.ServiceRoot {
		t.Errorf("RootURI = %q, want %q", srv.RootURI(), testutil.ServiceRoot)
	}
	cfg := srv.Config()
	if !cfg.AutoRespond || cfg.AutoRespondAfter != options.DefaultDelay {
		t.Errorf("config = %+v, want auto respond after %v", cfg, options.DefaultDelay)
	}

	resp := respond(t, srv, http.MethodGet, testutil.ServiceRoot+"$metadata")
	if resp.Status != http.StatusOK {
		t.Errorf("$metadata status = %d", resp.Status)
	}
	resp = respond(t, srv, http.MethodGet, testutil.ServiceRoot+"Products(1)")
	if resp.Status != http.StatusOK {
		t.Errorf("Products(1) status = %d", resp.Status)
	}

	if !f.logger.Contains("INFO", usecases.RunningMessage) {
		t.Errorf("expected %q to be logged, got %v", usecases.RunningMessage, f.logger.Messages())
	}
}

func TestInitMockServer_DelayPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		ambient options.Options
		caller  options.Options
		want    time.Duration
	}{
		{name: "default", want: 500 * time.Millisecond},
		{name: "ambient", ambient: options.Options{Delay: options.Delay(2 * time.Second)}, want: 2 * time.Second},
		{name: "caller wins", ambient: options.Options{Delay: options.Delay(2 * time.Second)}, caller: options.Options{Delay: options.Delay(10 * time.Millisecond)}, want: 10 * time.Millisecond},
		{name: "explicit zero", caller: options.Options{Delay: options.Delay(0)}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInitFixture(t, func(c *usecases.InitMockServerConfig) { c.Ambient = tt.ambient })
			if err := f.uc.Execute(context.Background(), tt.caller); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if got := f.holder.Current().Config().AutoRespondAfter; got != tt.want {
				t.Errorf("delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitMockServer_MetadataError(t *testing.T) {
	f := newInitFixture(t, nil)

	if err := f.uc.Execute(context.Background(), options.Options{MetadataError: options.Bool(true)}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	srv := f.holder.Current()

	resp := respond(t, srv, http.MethodGet, testutil.ServiceRoot+"$metadata")
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.Status)
	}
	if resp.ContentType() != route.PlainTextUTF8 || string(resp.Body) != "metadata Error" {
		t.Errorf("got %q %q", resp.ContentType(), resp.Body)
	}

	resp = respond(t, srv, http.MethodGet, testutil.ServiceRoot+"Products")
	if resp.Status != http.StatusOK {
		t.Errorf("non-metadata route status = %d, want 200", resp.Status)
	}
}

func TestInitMockServer_ErrorType(t *testing.T) {
	tests := []struct {
		errorType  string
		wantStatus int
	}{
		{errorType: "badRequest", wantStatus: http.StatusBadRequest},
		{errorType: "serverError", wantStatus: http.StatusInternalServerError},
		{errorType: "anythingElse", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.errorType, func(t *testing.T) {
			f := newInitFixture(t, nil)
			if err := f.uc.Execute(context.Background(), options.Options{ErrorType: options.String(tt.errorType)}); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}

			srv := f.holder.Current()
			for _, r := range srv.Routes() {
				resp := r.Response(&route.Request{})
				if resp.Status != tt.wantStatus || string(resp.Body) != tt.errorType {
					t.Errorf("route %s: got %d %q", r.Name, resp.Status, resp.Body)
				}
				if resp.ContentType() != route.PlainTextUTF8 {
					t.Errorf("route %s: content type %q", r.Name, resp.ContentType())
				}
			}
		})
	}
}

func TestInitMockServer_ErrorTypeOverridesMetadataError(t *testing.T) {
	f := newInitFixture(t, nil)

	opts := options.Options{
		MetadataError: options.Bool(true),
		ErrorType:     options.String("badRequest"),
	}
	if err := f.uc.Execute(context.Background(), opts); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	resp := respond(t, f.holder.Current(), http.MethodGet, testutil.ServiceRoot+"$metadata")
	if resp.Status != http.StatusBadRequest || string(resp.Body) != "badRequest" {
		t.Errorf("got %d %q, want 400 badRequest", resp.Status, resp.Body)
	}
}

func TestInitMockServer_AmbientErrorOptions(t *testing.T) {
	ambient, err := options.FromQuery("metadataError=true&errorType=badRequest")
	if err != nil {
		t.Fatal(err)
	}
	f := newInitFixture(t, func(c *usecases.InitMockServerConfig) { c.Ambient = ambient })

	if err := f.uc.Execute(context.Background(), options.Options{ErrorType: options.String("fatal")}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	resp := respond(t, f.holder.Current(), http.MethodGet, testutil.ServiceRoot+"$metadata")
	if resp.Status != http.StatusInternalServerError || string(resp.Body) != "fatal" {
		t.Errorf("caller errorType should win: got %d %q", resp.Status, resp.Body)
	}
}

func TestInitMockServer_ReinitKeepsSingleInstance(t *testing.T) {
	f := newInitFixture(t, nil)
	ctx := context.Background()

	if err := f.uc.Execute(ctx, options.Options{ErrorType: options.String("badRequest")}); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	first := f.holder.Current()

	if err := f.uc.Execute(ctx, options.Options{}); err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	second := f.holder.Current()

	if first != second {
		t.Fatal("re-init must reuse the backend instance")
	}
	if !second.IsStarted() {
		t.Error("backend should be running after re-init")
	}
	resp := respond(t, second, http.MethodGet, testutil.ServiceRoot+"Products")
	if resp.Status != http.StatusOK {
		t.Errorf("error simulation should be gone after re-init, got %d", resp.Status)
	}
	if got := len(second.Routes()); got != len(first.Routes()) {
		t.Errorf("routes accumulated: %d", got)
	}
}

func TestInitMockServer_ManifestFailure(t *testing.T) {
	loader := &testutil.StubManifestLoader{Err: errors.New("connection refused")}
	holder := backend.NewHolder()
	logger := &testutil.RecordingLogger{}
	uc := usecases.NewInitMockServerUseCase(
		usecases.InitMockServerConfig{ManifestURL: "http://localhost:1/manifest.json"},
		loader,
		document.NewODataSource(document.NewFetcher(nil)),
		holder,
		logger,
	)

	err := uc.Execute(context.Background(), options.Options{})

	var mle *usecases.ManifestLoadError
	if !errors.As(err, &mle) {
		t.Fatalf("expected ManifestLoadError, got %v", err)
	}
	if err.Error() != "Failed to load the application manifest" {
		t.Errorf("message = %q", err.Error())
	}
	if holder.Current() != nil {
		t.Error("no backend should be created when the manifest fails")
	}
	if loader.Calls() != 1 {
		t.Errorf("expected a single attempt, got %d", loader.Calls())
	}
	if !logger.Contains("ERROR", usecases.ManifestLoadErrorMessage) {
		t.Errorf("expected error log, got %v", logger.Messages())
	}
}

func TestInitMockServer_MissingManifestFile(t *testing.T) {
	f := newInitFixture(t, func(c *usecases.InitMockServerConfig) {
		c.ManifestURL = filepath.Join(t.TempDir(), "absent.json")
	})

	err := f.uc.Execute(context.Background(), options.Options{})
	var mle *usecases.ManifestLoadError
	if !errors.As(err, &mle) {
		t.Fatalf("expected ManifestLoadError, got %v", err)
	}
	if !errors.Is(err, document.ErrNotFound) {
		t.Errorf("cause should be ErrNotFound, got %v", mle.Err)
	}
}

func TestInitMockServer_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest *manifest.Manifest
		wantStep string
		wantErr  error
	}{
		{
			name:     "unknown data source",
			manifest: &manifest.Manifest{DataSources: map[string]manifest.DataSource{}},
			wantStep: usecases.StepResolve,
			wantErr:  manifest.ErrDataSourceNotFound,
		},
		{
			name: "no uri",
			manifest: &manifest.Manifest{DataSources: map[string]manifest.DataSource{
				"mainService": {LocalURI: "localService/metadata.xml"},
			}},
			wantStep: usecases.StepResolve,
		},
		{
			name: "metadata missing",
			manifest: &manifest.Manifest{DataSources: map[string]manifest.DataSource{
				"mainService": {URI: "/srv/", LocalURI: "missing/metadata.xml"},
			}},
			wantStep: usecases.StepMetadata,
			wantErr:  document.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			holder := backend.NewHolder()
			uc := usecases.NewInitMockServerUseCase(
				usecases.InitMockServerConfig{ManifestURL: filepath.Join(dir, "manifest.json")},
				&testutil.StubManifestLoader{Manifest: tt.manifest},
				document.NewODataSource(document.NewFetcher(nil)),
				holder,
				&testutil.NoopLogger{},
			)

			err := uc.Execute(context.Background(), options.Options{})

			var ce *usecases.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if ce.Step != tt.wantStep {
				t.Errorf("step = %q, want %q", ce.Step, tt.wantStep)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v in chain, got %v", tt.wantErr, err)
			}
			if srv := holder.Current(); srv != nil && srv.IsStarted() {
				t.Error("backend must be left stopped")
			}
		})
	}
}

func TestInitMockServer_FailedReinitStopsBackend(t *testing.T) {
	f := newInitFixture(t, nil)
	ctx := context.Background()

	if err := f.uc.Execute(ctx, options.Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	metadataPath := filepath.Join(filepath.Dir(f.manifest), "localService", "metadata.xml")
	if err := os.WriteFile(metadataPath, []byte("<not-edmx/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := f.uc.Execute(ctx, options.Options{})
	var ce *usecases.ConfigurationError
	if !errors.As(err, &ce) || ce.Step != usecases.StepMetadata {
		t.Fatalf("expected metadata ConfigurationError, got %v", err)
	}
	if f.holder.Current().IsStarted() {
		t.Error("backend should be stopped after a failed re-init")
	}
}

func TestInitMockServer_MockdataGeneration(t *testing.T) {
	f := newInitFixture(t, nil)
	if err := f.uc.Execute(context.Background(), options.Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	srv := f.holder.Current()
	var body struct {
		D struct {
			Results []map[string]any `json:"results"`
		} `json:"d"`
	}

	resp := respond(t, srv, http.MethodGet, testutil.ServiceRoot+"Products")
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.D.Results) != 3 {
		t.Errorf("Products should come from the mock data file, got %d", len(body.D.Results))
	}

	resp = respond(t, srv, http.MethodGet, testutil.ServiceRoot+"Categories")
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.D.Results) != 5 {
		t.Errorf("Categories should be generated, got %d", len(body.D.Results))
	}
}

func TestInitMockServer_NoGeneration(t *testing.T) {
	f := newInitFixture(t, func(c *usecases.InitMockServerConfig) { c.GenerateMissing = false })
	if err := f.uc.Execute(context.Background(), options.Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	resp := respond(t, f.holder.Current(), http.MethodGet, testutil.ServiceRoot+"Categories/$count")
	if string(resp.Body) != "0" {
		t.Errorf("$count = %q, want 0", resp.Body)
	}
}

func TestInitMockServer_MockdataDirOverride(t *testing.T) {
	alt := t.TempDir()
	if err := os.WriteFile(filepath.Join(alt, "Products.json"), []byte(`[{"ProductID": 42, "Name": "Override"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	f := newInitFixture(t, func(c *usecases.InitMockServerConfig) { c.MockdataDir = alt })
	if err := f.uc.Execute(context.Background(), options.Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	resp := respond(t, f.holder.Current(), http.MethodGet, testutil.ServiceRoot+"Products(42)")
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
}

func TestInitMockServer_ReloadUsesLastOptions(t *testing.T) {
	f := newInitFixture(t, nil)
	ctx := context.Background()

	if err := f.uc.Execute(ctx, options.Options{ErrorType: options.String("badRequest")}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := f.uc.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	resp := respond(t, f.holder.Current(), http.MethodGet, testutil.ServiceRoot+"Products")
	if resp.Status != http.StatusBadRequest {
		t.Errorf("reload should keep errorType, got %d", resp.Status)
	}
	last, ok := f.uc.LastOptions()
	if !ok || last.ErrorType == nil || *last.ErrorType != "badRequest" {
		t.Errorf("LastOptions = %+v, %v", last, ok)
	}
}
