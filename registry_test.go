package kvrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
)

func TestRegistryBind(t *testing.T) {
	c := qt.New(t)
	r, err := NewServiceRegistry(
		Route{ID: "greet", Path: "/kv/greet", Method: POST, Params: 1},
		Route{ID: "now", Path: "/kv/now", Method: GET},
	)
	c.Assert(err, qt.IsNil)

	route, ok := r.Lookup("greet")
	c.Assert(ok, qt.IsTrue)
	c.Assert(route.Path, qt.Equals, "/kv/greet")

	_, ok = r.Lookup("missing")
	c.Assert(ok, qt.IsFalse)

	routes := r.Routes()
	c.Assert(routes, qt.HasLen, 2)
	c.Assert(routes[0].ID, qt.Equals, ServiceMethodID("greet"))
}

func TestRegistryBindRejects(t *testing.T) {
	tests := []struct {
		name  string
		route Route
		is    error
	}{
		{"get with params", Route{ID: "a", Path: "/a", Method: GET, Params: 1}, ErrGETWithParams},
		{"empty id", Route{Path: "/a"}, errors.NotValid},
		{"empty path", Route{ID: "a"}, errors.NotValid},
		{"negative params", Route{ID: "a", Path: "/a", Params: -1}, errors.NotValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			r, _ := NewServiceRegistry()
			c.Assert(r.Bind(tt.route), qt.ErrorIs, tt.is)
		})
	}
}

func TestRegistryBindGETMessage(t *testing.T) {
	c := qt.New(t)
	r, _ := NewServiceRegistry()
	err := r.Bind(Route{ID: "a", Path: "/a", Method: GET, Params: 2})
	c.Assert(err, qt.ErrorMatches, `route "a": GET method is only supported for methods without parameters`)
}

func TestRegistryDuplicate(t *testing.T) {
	c := qt.New(t)
	_, err := NewServiceRegistry(
		Route{ID: "a", Path: "/a"},
		Route{ID: "a", Path: "/b"},
	)
	c.Assert(err, qt.ErrorIs, errors.AlreadyExists)
}

const routeTable = `
routes:
  - id: greet
    route: ${KV_TEST_PREFIX}/greet
    method: post
    params: 1
  - id: now
    route: /kv/now
    method: GET
  - id: upper
    route: upper
`

func TestParseRegistry(t *testing.T) {
	c := qt.New(t)
	c.Setenv("KV_TEST_PREFIX", "/kv")
	r, err := ParseRegistry([]byte(routeTable))
	c.Assert(err, qt.IsNil)
	c.Assert(r.Routes(), qt.DeepEquals, []Route{
		{ID: "greet", Path: "/kv/greet", Method: POST, Params: 1},
		{ID: "now", Path: "/kv/now", Method: GET},
		{ID: "upper", Path: "upper", Method: POST},
	})
}

func TestParseRegistryBadMethod(t *testing.T) {
	c := qt.New(t)
	_, err := ParseRegistry([]byte("routes:\n  - id: a\n    route: /a\n    method: PATCH\n"))
	c.Assert(err, qt.ErrorMatches, `cannot parse route table: .*http method "PATCH" not valid`)
}

func TestParseRegistryGETWithParams(t *testing.T) {
	c := qt.New(t)
	_, err := ParseRegistry([]byte("routes:\n  - id: a\n    route: /a\n    method: GET\n    params: 1\n"))
	c.Assert(err, qt.ErrorIs, ErrGETWithParams)
}

func TestLoadRegistry(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "routes.yaml")
	c.Assert(os.WriteFile(path, []byte("routes:\n  - id: a\n    route: /a\n"), 0o600), qt.IsNil)
	r, err := LoadRegistry(path)
	c.Assert(err, qt.IsNil)
	_, ok := r.Lookup("a")
	c.Assert(ok, qt.IsTrue)

	_, err = LoadRegistry(filepath.Join(c.TempDir(), "missing.yaml"))
	c.Assert(err, qt.ErrorMatches, `cannot read route table: .*`)
}

func TestUnknownMethodMakesNoRequest(t *testing.T) {
	c := qt.New(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	r, _ := NewServiceRegistry(Route{ID: "greet", Path: "/kv/greet", Params: 1})
	agent := NewRemoteAgent(r, &DialOptions{BaseURL: srv.URL})

	_, err := Call[string](context.Background(), agent, "missing")
	c.Assert(err, qt.ErrorIs, ErrFunctionNotSpecified)
	c.Assert(err, qt.ErrorMatches, `"missing": Function not specified`)

	_, err = Call[string](context.Background(), agent, "greet")
	c.Assert(err, qt.ErrorIs, errors.NotValid)
	c.Assert(hits.Load(), qt.Equals, int32(0))
}
