package backend

import "sync"

// Holder owns the single live Server. It is created empty and handed to
// everything that needs the backend, in place of a package-level instance.
type Holder struct {
	mu      sync.Mutex
	current *Server
}

// NewHolder creates an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Current returns the live server, or nil before the first Acquire.
func (h *Holder) Current() *Server {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Acquire returns the live server bound to rootURI. The first call creates
// it; later calls reset the existing one instead of creating another.
// created reports which of the two happened.
func (h *Holder) Acquire(rootURI string) (srv *Server, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		h.current = NewServer(rootURI)
		return h.current, true
	}
	h.current.Reset(rootURI)
	return h.current, false
}
