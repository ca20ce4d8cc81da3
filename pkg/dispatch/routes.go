package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects the handler of a route.
type Kind string

const (
	KindSingleShot     Kind = "single_shot"
	KindConversational Kind = "conversational"
)

// Route binds an endpoint to a topic.
type Route struct {
	Method      string `yaml:"method" json:"method"`
	Path        string `yaml:"path" json:"path"`
	Topic       string `yaml:"topic" json:"topic"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// RoutesFile represents the structure of routes.yaml.
type RoutesFile struct {
	Routes []Route `yaml:"routes" json:"routes"`
}

type routeKey struct {
	method string
	path   string
}

// Table is an immutable route table.
type Table struct {
	routes []Route
	index  map[routeKey]Route
}

// NewTable validates routes and builds the lookup index.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{index: make(map[routeKey]Route, len(routes))}
	var errs []string
	for i, r := range routes {
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
		if r.Method == "" {
			r.Method = http.MethodPost
		}
		r.Path = normalizePath(r.Path)

		switch {
		case r.Path == "/":
			errs = append(errs, fmt.Sprintf("route %d: path is required", i))
			continue
		case strings.TrimSpace(r.Topic) == "":
			errs = append(errs, fmt.Sprintf("route %s %s: topic is required", r.Method, r.Path))
			continue
		case r.Kind != KindSingleShot && r.Kind != KindConversational:
			errs = append(errs, fmt.Sprintf("route %s %s: unknown kind %q", r.Method, r.Path, r.Kind))
			continue
		}

		key := routeKey{r.Method, r.Path}
		if _, dup := t.index[key]; dup {
			errs = append(errs, fmt.Sprintf("route %s %s: duplicate", r.Method, r.Path))
			continue
		}
		t.index[key] = r
		t.routes = append(t.routes, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("found %d errors:\n- %s", len(errs), strings.Join(errs, "\n- "))
	}
	sort.SliceStable(t.routes, func(i, j int) bool { return t.routes[i].Path < t.routes[j].Path })
	return t, nil
}

// Lookup finds the route of (method, path).
func (t *Table) Lookup(method, path string) (Route, bool) {
	r, ok := t.index[routeKey{strings.ToUpper(method), normalizePath(path)}]
	return r, ok
}

// Routes returns the routes sorted by path.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// DefaultRoutes is the built-in table used when no routes file is configured.
func DefaultRoutes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/coach/values", Topic: "values", Kind: KindConversational, Description: "Discover personal core values"},
		{Method: http.MethodPost, Path: "/coach/goals", Topic: "goals", Kind: KindConversational, Description: "Clarify goals for the next quarter"},
		{Method: http.MethodPost, Path: "/analyze/swot", Topic: "swot", Kind: KindSingleShot, Description: "SWOT analysis of a business description"},
		{Method: http.MethodPost, Path: "/analyze/mission", Topic: "mission", Kind: KindSingleShot, Description: "Critique of a mission statement"},
	}
}

// LoadRoutes reads a routes file (YAML or JSON). A missing file yields the default table.
func LoadRoutes(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewTable(DefaultRoutes()...)
		}
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	var f RoutesFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}
	return NewTable(f.Routes...)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = "/" + strings.Trim(p, "/")
	return p
}
