//go:build e2e

package e2e_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sophialabs/odatamock/internal/domain/options"
	"github.com/sophialabs/odatamock/internal/domain/trace"
	"github.com/sophialabs/odatamock/internal/infrastructure/backend"
	inboundhttp "github.com/sophialabs/odatamock/internal/infrastructure/inbound/http"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/document"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/template"
	"github.com/sophialabs/odatamock/internal/infrastructure/usecases"
	"github.com/sophialabs/odatamock/internal/testutil"
)

func projectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	// file = <root>/test/e2e/testhelpers_test.go, go up 3 levels
	return filepath.Join(filepath.Dir(file), "..", "..")
}

// copyWebapp copies the sample webapp into a temp dir so tests can modify it.
func copyWebapp(t *testing.T) string {
	t.Helper()

	src := filepath.Join(projectRoot(), "webapp")
	dst := t.TempDir()
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		t.Fatalf("failed to copy webapp: %v", err)
	}
	return filepath.Join(dst, "manifest.json")
}

type e2eEnv struct {
	ts     *httptest.Server
	server *inboundhttp.Server
}

func setupE2EServer(t *testing.T, manifestURL string) *e2eEnv {
	t.Helper()

	logger := &testutil.NoopLogger{}
	fetcher := document.NewFetcher(nil)
	landing, err := template.NewLandingPage()
	if err != nil {
		t.Fatalf("failed to create landing page: %v", err)
	}
	clk := clock.New()
	rateLimiterStore := ratelimit.NewTokenBucketStore(10 * time.Minute)
	t.Cleanup(rateLimiterStore.Stop)
	traceBuf := trace.NewRingBuffer(100)
	holder := backend.NewHolder()

	initUC := usecases.NewInitMockServerUseCase(
		usecases.InitMockServerConfig{ManifestURL: manifestURL, GenerateMissing: true, GeneratedEntries: 3},
		document.NewManifestLoader(fetcher),
		document.NewODataSource(fetcher),
		holder,
		logger,
	)
	handleReqUC := usecases.NewHandleRequestUseCase(holder, clk, rateLimiterStore, logger, traceBuf)

	server := inboundhttp.NewServer(handleReqUC, initUC, holder, landing, landing, traceBuf, logger)
	if err := server.Initialize(context.Background(), options.Options{Delay: options.Delay(0)}); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return &e2eEnv{ts: ts, server: server}
}

// watch starts a watcher on the manifest directory that reloads env.server.
func watch(t *testing.T, env *e2eEnv, manifestURL string) {
	t.Helper()

	w, err := filesystem.NewWatcher(filepath.Dir(manifestURL), 50*time.Millisecond, nil, &testutil.NoopLogger{}, func() {
		_ = env.server.Reload(context.Background())
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	w.Start()
	t.Cleanup(w.Stop)
}
