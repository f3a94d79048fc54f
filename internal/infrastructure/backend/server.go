package backend

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sophialabs/odatamock/internal/domain/odata"
	"github.com/sophialabs/odatamock/internal/domain/route"
)

// ErrNotSimulated is returned by Start when no service has been simulated
// since the server was created or last reset.
var ErrNotSimulated = errors.New("no simulated service to serve")

// Config controls how intercepted requests are answered.
type Config struct {
	// AutoRespond answers requests after AutoRespondAfter. When false,
	// requests are answered immediately.
	AutoRespond      bool
	AutoRespondAfter time.Duration
}

// Server is a simulated OData endpoint rooted at a URI path. It owns an
// ordered route list whose handlers may be replaced between Routes and
// SetRoutes.
type Server struct {
	mu       sync.RWMutex
	rootURI  string
	cfg      Config
	metadata *odata.Metadata
	store    *store
	routes   []route.Route
	started  bool
}

// NewServer creates a stopped server bound to rootURI.
func NewServer(rootURI string) *Server {
	return &Server{
		rootURI: rootURI,
		cfg:     Config{AutoRespond: true},
	}
}

// RootURI returns the absolute path prefix the server intercepts.
func (s *Server) RootURI() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootURI
}

// Reset stops the server, rebinds it to rootURI and drops the simulated
// service. Calling it on a stopped server is safe.
func (s *Server) Reset(rootURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.rootURI = rootURI
	s.metadata = nil
	s.store = nil
	s.routes = nil
}

// Configure replaces the response configuration.
func (s *Server) Configure(cfg Config) {
	if cfg.AutoRespondAfter < 0 {
		cfg.AutoRespondAfter = 0
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Config returns the current response configuration.
func (s *Server) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Simulate binds the server to md and its entity data, replacing the route
// list with the OData routes of every entity set.
func (s *Server) Simulate(md *odata.Metadata, data map[string][]odata.Entity) error {
	if md == nil {
		return errors.New("simulate: metadata is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.metadata = md
	s.store = newStore(s.rootURI, md, data)
	s.routes = buildRoutes(md, s.store)
	return nil
}

// Metadata returns the simulated service description, or nil.
func (s *Server) Metadata() *odata.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Routes returns a copy of the ordered route list.
func (s *Server) Routes() []route.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.routes)
}

// SetRoutes replaces the route list.
func (s *Server) SetRoutes(routes []route.Route) {
	s.mu.Lock()
	s.routes = slices.Clone(routes)
	s.mu.Unlock()
}

// Start begins intercepting requests under the root URI.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return ErrNotSimulated
	}
	s.started = true
	return nil
}

// Stop stops intercepting requests. It is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// IsStarted reports whether the server intercepts requests.
func (s *Server) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Relative strips the root URI from an absolute request path. The root
// without its trailing slash addresses the service document.
func (s *Server) Relative(path string) (string, bool) {
	s.mu.RLock()
	root := s.rootURI
	s.mu.RUnlock()

	if path+"/" == root {
		return "", true
	}
	if !strings.HasPrefix(path, root) {
		return "", false
	}
	return strings.TrimPrefix(path, root), true
}

// Lookup finds the first route accepting method and the absolute path.
// Nothing matches while the server is stopped.
func (s *Server) Lookup(method, path string) (route.Route, []string, bool) {
	rel, ok := s.Relative(path)
	if !ok {
		return route.Route{}, nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return route.Route{}, nil, false
	}
	for _, r := range s.routes {
		if params, ok := r.Match(method, rel); ok {
			return r, params, true
		}
	}
	return route.Route{}, nil, false
}
