package kvrpc

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

/* =========================
   JSON-RPC envelopes
   ========================= */

const (
	// HTTPUnauthorized is the status that always maps to a security error.
	HTTPUnauthorized = http.StatusUnauthorized

	// ServiceExceptionType marks an error response carrying a service exception.
	ServiceExceptionType = "io.kvision.remote.ServiceException"

	// StreamRequestID is the fixed id of every frame on a streaming channel.
	StreamRequestID int64 = 0
)

// JSONRPCRequest is the request envelope. Params are pre-serialized
// values; a nil element is sent as JSON null.
type JSONRPCRequest struct {
	ID     int64     `json:"id"`
	Method string    `json:"method"` // route path
	Params []*string `json:"params"`
}

// JSONRPCResponse is the response envelope. A well-formed response has
// exactly one of Result and Error set.
type JSONRPCResponse struct {
	ID            int64   `json:"id"`
	Result        *string `json:"result,omitempty"`
	Error         *string `json:"error,omitempty"`
	ExceptionType *string `json:"exceptionType,omitempty"`
	ExceptionJSON *string `json:"exceptionJson,omitempty"`
}

// HTTPMethod is the closed set of methods a route can be bound to. The
// zero value is POST.
type HTTPMethod int

const (
	POST HTTPMethod = iota
	GET
	PUT
	DELETE
	OPTIONS
)

var httpMethodNames = [...]string{
	POST:    http.MethodPost,
	GET:     http.MethodGet,
	PUT:     http.MethodPut,
	DELETE:  http.MethodDelete,
	OPTIONS: http.MethodOptions,
}

func (m HTTPMethod) String() string {
	if m < 0 || int(m) >= len(httpMethodNames) {
		return "HTTPMethod(" + strconv.Itoa(int(m)) + ")"
	}
	return httpMethodNames[m]
}

// ParseHTTPMethod accepts a method name in any case.
func ParseHTTPMethod(s string) (HTTPMethod, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range httpMethodNames {
		if n == name {
			return HTTPMethod(i), nil
		}
	}
	return 0, errors.NotValidf("http method %q", s)
}

// UnmarshalYAML lets route tables spell methods as strings.
func (m *HTTPMethod) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Trace(err)
	}
	parsed, err := ParseHTTPMethod(s)
	if err != nil {
		return errors.Trace(err)
	}
	*m = parsed
	return nil
}

// MarshalYAML writes the method name.
func (m HTTPMethod) MarshalYAML() (any, error) {
	return m.String(), nil
}
