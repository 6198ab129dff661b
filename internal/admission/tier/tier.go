// Package tier classifies routes into quota tiers.
//
// The table is static configuration keyed by "METHOD pattern", where pattern
// is the chi route pattern ("/tokens/{id}"), not the concrete path. Routes not
// in the table are general. Sensitive routes are those that reach the
// network on the caller's behalf or manage credentials and accounts.
package tier

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"bookmarks/internal/ratelimit/models"
)

// Route is one table entry.
type Route struct {
	Method        string      `yaml:"method"`
	Pattern       string      `yaml:"pattern"`
	Tier          models.Tier `yaml:"tier"`
	ConsentExempt bool        `yaml:"consent_exempt"`
}

// Classification is what the admission layer needs to know about a route.
type Classification struct {
	Tier          models.Tier
	ConsentExempt bool
}

// Table is an immutable route table. Safe for concurrent use.
type Table struct {
	routes map[string]Classification
}

// DefaultRoutes are the routes classified out of the box.
func DefaultRoutes() []Route {
	return []Route{
		{Method: http.MethodGet, Pattern: "/bookmarks/fetch-metadata", Tier: models.TierSensitive},
		{Method: http.MethodPost, Pattern: "/tokens", Tier: models.TierSensitive},
		{Method: http.MethodDelete, Pattern: "/tokens/{id}", Tier: models.TierSensitive},
		{Method: http.MethodPatch, Pattern: "/users/me", Tier: models.TierSensitive, ConsentExempt: true},
		{Method: http.MethodDelete, Pattern: "/users/me", Tier: models.TierSensitive, ConsentExempt: true},
		{Method: http.MethodPost, Pattern: "/consent", Tier: models.TierSensitive, ConsentExempt: true},
		{Method: http.MethodGet, Pattern: "/me", Tier: models.TierGeneral, ConsentExempt: true},
	}
}

// Default returns the table built from DefaultRoutes.
func Default() *Table {
	t, err := New(DefaultRoutes())
	if err != nil {
		panic(fmt.Sprintf("default route table: %v", err))
	}
	return t
}

// New builds a table. Later entries for the same method and pattern win.
func New(routes []Route) (*Table, error) {
	t := &Table{routes: make(map[string]Classification, len(routes))}
	for i, r := range routes {
		method := strings.ToUpper(strings.TrimSpace(r.Method))
		pattern := strings.TrimSpace(r.Pattern)
		if method == "" || pattern == "" {
			return nil, fmt.Errorf("route %d: method and pattern are required", i)
		}
		if !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("route %d: pattern %q must start with /", i, pattern)
		}
		if !r.Tier.IsValid() {
			return nil, fmt.Errorf("route %d: unknown tier %q", i, r.Tier)
		}
		t.routes[routeKey(method, pattern)] = Classification{Tier: r.Tier, ConsentExempt: r.ConsentExempt}
	}
	return t, nil
}

type fileFormat struct {
	Routes []Route `yaml:"routes"`
}

// LoadFile reads a YAML route table and layers it over the defaults:
//
//	routes:
//	  - method: POST
//	    pattern: /imports
//	    tier: sensitive
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse route table %s: %w", path, err)
	}
	t, err := New(append(DefaultRoutes(), f.Routes...))
	if err != nil {
		return nil, fmt.Errorf("route table %s: %w", path, err)
	}
	return t, nil
}

// Classify looks up a method and route pattern.
func (t *Table) Classify(method, pattern string) Classification {
	if c, ok := t.routes[routeKey(strings.ToUpper(method), pattern)]; ok {
		return c
	}
	return Classification{Tier: models.TierGeneral}
}

// ClassifyRequest classifies by the chi route pattern once the router has
// matched, falling back to the raw path.
func (t *Table) ClassifyRequest(r *http.Request) Classification {
	pattern := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			pattern = p
		}
	}
	return t.Classify(r.Method, pattern)
}

// Len is the number of classified routes.
func (t *Table) Len() int {
	return len(t.routes)
}

func routeKey(method, pattern string) string {
	return method + " " + pattern
}
