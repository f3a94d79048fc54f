package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sophialabs/odatamock/internal/domain/options"
	"github.com/sophialabs/odatamock/internal/domain/trace"
	"github.com/sophialabs/odatamock/internal/infrastructure/backend"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/template"
	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
	"github.com/sophialabs/odatamock/internal/infrastructure/usecases"
)

const maxBodySize = 10 << 20 // 10 MB

// MethodMerge is the OData V2 partial update verb.
const MethodMerge = "MERGE"

func init() {
	chi.RegisterMethod(MethodMerge)
}

// Server is the HTTP front of the mock backend: admin API, landing page and
// the intercepted service routes.
type Server struct {
	router      atomic.Pointer[chi.Mux]
	rebuildMu   sync.Mutex
	handleReqUC *usecases.HandleRequestUseCase
	initUC      *usecases.InitMockServerUseCase
	holder      *backend.Holder
	notifier    ports.Notifier
	landing     *template.LandingPage
	traceBuf    *trace.RingBuffer
	logger      ports.Logger
}

// NewServer creates a new Server. Initialization failures are raised through
// notifier; landing renders the page at /. The router serves the admin API
// and landing page until the first Rebuild mounts the service routes.
func NewServer(
	handleReqUC *usecases.HandleRequestUseCase,
	initUC *usecases.InitMockServerUseCase,
	holder *backend.Holder,
	notifier ports.Notifier,
	landing *template.LandingPage,
	traceBuf *trace.RingBuffer,
	logger ports.Logger,
) *Server {
	s := &Server{
		handleReqUC: handleReqUC,
		initUC:      initUC,
		holder:      holder,
		notifier:    notifier,
		landing:     landing,
		traceBuf:    traceBuf,
		logger:      logger,
	}
	s.Rebuild()
	return s
}

// BuildRouter creates a new chi.Mux with admin routes and, when a backend
// exists, a catch-all under its root URI.
func (s *Server) BuildRouter(rootURI string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/__admin", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/routes", s.handleListRoutes)
		r.Get("/trace", s.handleGetTrace)
		r.Post("/init", s.handleInit)
		r.Post("/stop", s.handleStop)
		r.Post("/start", s.handleStart)
	})

	if rootURI != "" && rootURI != "/" {
		r.HandleFunc(strings.TrimSuffix(rootURI, "/"), s.mockHandler)
		r.HandleFunc(rootURI+"*", s.mockHandler)
	}

	r.Get("/", s.handleLanding)
	r.NotFound(s.notFoundHandler)

	return r
}

// Rebuild atomically swaps the router for the current backend root URI.
func (s *Server) Rebuild() {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	rootURI := ""
	if srv := s.holder.Current(); srv != nil {
		rootURI = srv.RootURI()
	}
	s.router.Store(s.BuildRouter(rootURI))
	s.logger.Info("router rebuilt", "root_uri", rootURI)
}

// ServeHTTP implements http.Handler using the atomic router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router := s.router.Load()
	if router == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	router.ServeHTTP(w, r)
}

// Initialize runs the configurator with opts. A failure is raised on the
// landing page and returned; the admin API and landing page keep serving.
func (s *Server) Initialize(ctx context.Context, opts options.Options) error {
	return s.reconfigure(func() error { return s.initUC.Execute(ctx, opts) })
}

// Reload re-runs the last initialization.
func (s *Server) Reload(ctx context.Context) error {
	return s.reconfigure(func() error { return s.initUC.Reload(ctx) })
}

func (s *Server) reconfigure(run func() error) error {
	err := run()
	if err != nil {
		s.logger.Error("mock server initialization failed", "error", err)
		s.notifier.Alert(err.Error())
	} else {
		s.notifier.Clear()
	}
	s.Rebuild()
	return err
}

func (s *Server) mockHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("request received", "method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery, "remote", r.RemoteAddr)

	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[http.CanonicalHeaderKey(k)] = r.Header.Get(k)
	}

	result := s.handleReqUC.Execute(r.Context(), &usecases.IncomingRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: headers,
		Body:    body,
	})

	if !result.Matched {
		s.notFoundHandler(w, r)
		return
	}
	if result.Cancelled {
		s.logger.Info("request abandoned", "method", r.Method, "path", r.URL.Path, "route", result.TraceEntry.Route)
		return
	}
	if result.RateLimited {
		w.Header().Set("Retry-After", "1")
	}

	resp := result.Response
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			s.logger.Debug("failed to write response body", "error", err)
		}
	}

	s.logger.Info("request served", "method", r.Method, "path", r.URL.Path, "route", result.TraceEntry.Route, "status", resp.Status)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("request received (no route)", "method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery, "remote", r.RemoteAddr)

	message := "No mock service is running"
	if srv := s.holder.Current(); srv != nil && srv.IsStarted() {
		message = "No simulated route matches this request under " + srv.RootURI()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]any{
		"error":   "no_match",
		"method":  r.Method,
		"path":    r.URL.Path,
		"message": message,
	})
}

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	view := template.LandingView{}
	if srv := s.holder.Current(); srv != nil {
		view.RootURI = srv.RootURI()
		view.Started = srv.IsStarted()
		view.DelayMs = srv.Config().AutoRespondAfter.Milliseconds()
		for _, rt := range srv.Routes() {
			view.Routes = append(view.Routes, template.RouteView{Name: rt.Name, Method: rt.Method, Pattern: rt.Pattern()})
		}
	}

	page, err := s.landing.Render(view)
	if err != nil {
		s.logger.Error("failed to render landing page", "error", err)
		http.Error(w, "landing page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"started": false,
	}
	if srv := s.holder.Current(); srv != nil {
		cfg := srv.Config()
		resp["started"] = srv.IsStarted()
		resp["root_uri"] = srv.RootURI()
		resp["auto_respond"] = cfg.AutoRespond
		resp["delay_ms"] = cfg.AutoRespondAfter.Milliseconds()
	}
	if alert := s.landing.ActiveAlert(); alert != "" {
		resp["alert"] = alert
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := []map[string]any{}
	if srv := s.holder.Current(); srv != nil {
		for _, rt := range srv.Routes() {
			routes = append(routes, map[string]any{
				"name":     rt.Name,
				"method":   rt.Method,
				"pattern":  rt.Pattern(),
				"metadata": rt.IsMetadata(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, routes)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	n := 10
	if lastParam := r.URL.Query().Get("last"); lastParam != "" {
		if parsed, err := strconv.Atoi(lastParam); err == nil && parsed > 0 {
			n = parsed
		}
	}

	entries := s.traceBuf.Last(n)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entries)
}

// initRequest is the optional JSON body of POST /__admin/init. Fields
// override the query parameters of the same request.
type initRequest struct {
	DelayMs       *int64  `json:"delay_ms"`
	MetadataError *bool   `json:"metadata_error"`
	ErrorType     *string `json:"error_type"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	opts, err := options.FromValues(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_options", err.Error())
		return
	}

	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		var req initRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_options", err.Error())
			return
		}
		if req.DelayMs != nil {
			if *req.DelayMs < 0 {
				writeError(w, http.StatusBadRequest, "invalid_options",
					fmt.Sprintf("delay_ms must be a non-negative integer, got %d", *req.DelayMs))
				return
			}
			opts.Delay = options.Delay(time.Duration(*req.DelayMs) * time.Millisecond)
		}
		if req.MetadataError != nil {
			opts.MetadataError = req.MetadataError
		}
		if req.ErrorType != nil {
			opts.ErrorType = req.ErrorType
		}
	}

	if err := s.Initialize(r.Context(), opts); err != nil {
		status := http.StatusInternalServerError
		code := "configuration_failed"
		var mle *usecases.ManifestLoadError
		if errors.As(err, &mle) {
			status = http.StatusBadGateway
			code = "manifest_load_failed"
		}
		writeError(w, status, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":  "ok",
		"message": usecases.RunningMessage,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	srv := s.holder.Current()
	if srv == nil {
		writeError(w, http.StatusConflict, "not_initialized", "mock server has not been initialized")
		return
	}
	srv.Stop()
	s.logger.Info("mock server stopped", "root_uri", srv.RootURI())

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok", "message": "mock server stopped"})
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	srv := s.holder.Current()
	if srv == nil {
		writeError(w, http.StatusConflict, "not_initialized", "mock server has not been initialized")
		return
	}
	if err := srv.Start(); err != nil {
		writeError(w, http.StatusConflict, "start_failed", err.Error())
		return
	}
	s.logger.Info("mock server started", "root_uri", srv.RootURI())

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok", "message": "mock server started"})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
