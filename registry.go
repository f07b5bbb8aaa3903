package kvrpc

import (
	"os"
	"sort"
	"sync"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// ServiceMethodID names a remote method. It is chosen by the developer
// and must stay stable for the lifetime of an agent.
type ServiceMethodID string

// Route binds a method id to a server path and HTTP method. Params is
// the number of arguments the method takes.
type Route struct {
	ID     ServiceMethodID `yaml:"id"`
	Path   string          `yaml:"route"`
	Method HTTPMethod      `yaml:"method"`
	Params int             `yaml:"params"`
}

// ServiceRegistry maps method ids to routes.
type ServiceRegistry struct {
	mu     sync.RWMutex
	routes map[ServiceMethodID]Route
}

// NewServiceRegistry builds a registry from an enumerable route list.
func NewServiceRegistry(routes ...Route) (*ServiceRegistry, error) {
	r := &ServiceRegistry{routes: make(map[ServiceMethodID]Route, len(routes))}
	for _, route := range routes {
		if err := r.Bind(route); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r, nil
}

// Bind adds a route. GET routes cannot take parameters.
func (r *ServiceRegistry) Bind(route Route) error {
	if route.ID == "" {
		return errors.NotValidf("route with empty id")
	}
	if route.Path == "" {
		return errors.NotValidf("route %q with empty path", route.ID)
	}
	if route.Params < 0 {
		return errors.NotValidf("route %q with %d params", route.ID, route.Params)
	}
	if route.Method == GET && route.Params > 0 {
		return errors.Annotatef(ErrGETWithParams, "route %q", route.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[route.ID]; exists {
		return errors.AlreadyExistsf("route %q", route.ID)
	}
	r.routes[route.ID] = route
	return nil
}

// Lookup returns the route bound to id.
func (r *ServiceRegistry) Lookup(id ServiceMethodID) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[id]
	return route, ok
}

// Routes returns every bound route ordered by id.
func (r *ServiceRegistry) Routes() []Route {
	r.mu.RLock()
	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type routeFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadRegistry reads a YAML route table:
//
//	routes:
//	  - id: greet
//	    route: /kv/greet
//	    method: POST
//	    params: 1
func LoadRegistry(path string) (*ServiceRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "cannot read route table")
	}
	return ParseRegistry(data)
}

// ParseRegistry parses a YAML route table. Environment variables in the
// form ${VAR} are expanded first.
func ParseRegistry(data []byte) (*ServiceRegistry, error) {
	var f routeFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, errors.Annotate(err, "cannot parse route table")
	}
	return NewServiceRegistry(f.Routes...)
}
