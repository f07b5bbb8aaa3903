package kvrpc

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

func TestHTTPMethod(t *testing.T) {
	c := qt.New(t)
	var zero HTTPMethod
	c.Assert(zero, qt.Equals, POST)
	c.Assert(GET.String(), qt.Equals, "GET")
	c.Assert(HTTPMethod(42).String(), qt.Equals, "HTTPMethod(42)")

	for _, m := range []HTTPMethod{GET, POST, PUT, DELETE, OPTIONS} {
		parsed, err := ParseHTTPMethod(m.String())
		c.Assert(err, qt.IsNil)
		c.Assert(parsed, qt.Equals, m)
	}
	m, err := ParseHTTPMethod(" delete ")
	c.Assert(err, qt.IsNil)
	c.Assert(m, qt.Equals, DELETE)

	_, err = ParseHTTPMethod("PATCH")
	c.Assert(err, qt.ErrorIs, errors.NotValid)
}

func TestHTTPMethodYAML(t *testing.T) {
	c := qt.New(t)
	out, err := yaml.Marshal(Route{ID: "a", Path: "/a", Method: OPTIONS})
	c.Assert(err, qt.IsNil)
	c.Assert(string(out), qt.Contains, "method: OPTIONS")

	var r Route
	c.Assert(yaml.Unmarshal(out, &r), qt.IsNil)
	c.Assert(r.Method, qt.Equals, OPTIONS)
}

func TestEnvelopeJSON(t *testing.T) {
	c := qt.New(t)
	b, err := json.Marshal(&JSONRPCRequest{ID: 3, Method: "/kv/greet", Params: []*string{ptr(`"Alice"`), nil}})
	c.Assert(err, qt.IsNil)
	c.Assert(string(b), qt.Equals, `{"id":3,"method":"/kv/greet","params":["\"Alice\"",null]}`)

	var resp JSONRPCResponse
	err = json.Unmarshal([]byte(`{"id":1,"error":"boom","exceptionType":"x.Y","exceptionJson":"{}"}`), &resp)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Result, qt.IsNil)
	c.Assert(*resp.Error, qt.Equals, "boom")
	c.Assert(*resp.ExceptionType, qt.Equals, "x.Y")
	c.Assert(*resp.ExceptionJSON, qt.Equals, "{}")
}

func TestCallErrorMessage(t *testing.T) {
	c := qt.New(t)
	c.Assert((&CallError{Kind: KindHTTP, Message: "Not Found", Status: 404}).Error(), qt.Equals, "http error: Not Found")
	c.Assert((&CallError{Kind: KindSecurity}).Error(), qt.Equals, "security error")

	err := errors.Annotate(&CallError{Kind: KindSecurity}, "loading profile")
	c.Assert(IsSecurityError(err), qt.IsTrue)
	c.Assert(IsServiceError(err), qt.IsFalse)

	var payload struct{}
	c.Assert((&CallError{}).UnmarshalException(&payload), qt.ErrorIs, errors.NotFound)
	c.Assert((&CallError{ExceptionJSON: "{}"}).UnmarshalException(payload), qt.ErrorMatches, ".*expects a pointer.*")
}
