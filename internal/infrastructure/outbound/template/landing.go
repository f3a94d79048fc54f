package template

import (
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/sophialabs/odatamock/internal/infrastructure/ports"
)

var _ ports.Notifier = (*LandingPage)(nil)

const landingSource = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{ title }}</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #32363a; }
.alert { background: #ffebeb; border: 1px solid #bb0000; color: #bb0000; padding: .75rem 1rem; margin-bottom: 1rem; }
.state { font-weight: bold; }
table { border-collapse: collapse; }
td, th { border-bottom: 1px solid #e5e5e5; padding: .25rem .75rem; text-align: left; }
code { font-size: .9em; }
</style>
</head>
<body>
<h1>{{ title }}</h1>
{% if alert %}<div class="alert" role="alert">{{ alert }}</div>{% endif %}
{% if root_uri %}
<p>Service root <code>{{ root_uri }}</code>: <span class="state">{% if started %}running{% else %}stopped{% endif %}</span>, responses after {{ delay_ms }} ms.</p>
<table>
<tr><th>Route</th><th>Method</th><th>Path</th></tr>
{% for r in routes %}<tr><td>{{ r.Name }}</td><td>{{ r.Method }}</td><td><code>{{ r.Pattern }}</code></td></tr>
{% endfor %}</table>
{% else %}
<p>No mock server configured.</p>
{% endif %}
</body>
</html>
`

// RouteView is one row of the route table.
type RouteView struct {
	Name    string
	Method  string
	Pattern string
}

// LandingView is the state shown on the landing page.
type LandingView struct {
	Title   string
	RootURI string
	Started bool
	DelayMs int64
	Routes  []RouteView
}

// LandingPage renders the status page served at "/" and doubles as the
// Notifier that surfaces initialization failures to the user.
type LandingPage struct {
	tpl *pongo2.Template

	mu    sync.RWMutex
	alert string
}

// NewLandingPage compiles the landing page template.
func NewLandingPage() (*LandingPage, error) {
	tpl, err := pongo2.FromString(landingSource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile landing page: %w", err)
	}
	return &LandingPage{tpl: tpl}, nil
}

// Alert shows message on every subsequent render until Clear.
func (p *LandingPage) Alert(message string) {
	p.mu.Lock()
	p.alert = message
	p.mu.Unlock()
}

// Clear removes the alert.
func (p *LandingPage) Clear() {
	p.mu.Lock()
	p.alert = ""
	p.mu.Unlock()
}

// ActiveAlert returns the current alert, or "".
func (p *LandingPage) ActiveAlert() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alert
}

// Render executes the template for view. Values are HTML-escaped.
func (p *LandingPage) Render(view LandingView) ([]byte, error) {
	title := view.Title
	if title == "" {
		title = "OData mock server"
	}

	out, err := p.tpl.ExecuteBytes(pongo2.Context{
		"title":    title,
		"alert":    p.ActiveAlert(),
		"root_uri": view.RootURI,
		"started":  view.Started,
		"delay_ms": view.DelayMs,
		"routes":   view.Routes,
	})
	if err != nil {
		return nil, fmt.Errorf("landing page render failed: %w", err)
	}
	return out, nil
}
