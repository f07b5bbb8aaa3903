package kvrpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

/* =========================
   Remote agent
   method id -> route -> serialized params -> call agent -> typed result
   ========================= */

type RemoteAgent struct {
	registry *ServiceRegistry
	agent    *CallAgent
	opts     *DialOptions
	filter   RequestFilter
}

func NewRemoteAgent(registry *ServiceRegistry, opts *DialOptions) *RemoteAgent {
	opt := opts.WithDefaults()
	return &RemoteAgent{
		registry: registry,
		agent:    NewCallAgent(opt),
		opts:     opt,
	}
}

// WithFilter returns a copy of the agent that applies filter to every
// call, after the agent-wide filter from the options.
func (r *RemoteAgent) WithFilter(filter RequestFilter) *RemoteAgent {
	cp := *r
	cp.filter = ChainFilters(r.filter, filter)
	return &cp
}

// CallAgent exposes the underlying transport, e.g. for RemoteCall.
func (r *RemoteAgent) CallAgent() *CallAgent { return r.agent }

// Registry returns the route table the agent resolves ids against.
func (r *RemoteAgent) Registry() *ServiceRegistry { return r.registry }

func (r *RemoteAgent) route(id ServiceMethodID) (Route, error) {
	if r.registry == nil {
		return Route{}, errors.Annotatef(ErrFunctionNotSpecified, "%q", id)
	}
	route, ok := r.registry.Lookup(id)
	if !ok {
		return Route{}, errors.Annotatef(ErrFunctionNotSpecified, "%q", id)
	}
	return route, nil
}

// CallRaw resolves id, serializes args in order and returns the raw
// result string.
func (r *RemoteAgent) CallRaw(ctx context.Context, id ServiceMethodID, args ...any) (string, error) {
	route, err := r.route(id)
	if err != nil {
		return "", err
	}
	if len(args) != route.Params {
		return "", errors.NotValidf("call to %q with %d arguments, route takes %d", id, len(args), route.Params)
	}
	params := make([]*string, len(args))
	for i, arg := range args {
		params[i] = Serialize(arg)
	}
	return r.agent.JSONRPCCall(ctx, route.Path, params, route.Method, r.filter)
}

// Call invokes a remote method returning a single value.
func Call[T any](ctx context.Context, r *RemoteAgent, id ServiceMethodID, args ...any) (T, error) {
	var zero T
	raw, err := r.CallRaw(ctx, id, args...)
	if err != nil {
		return zero, err
	}
	return Deserialize[T](raw)
}

// CallList invokes a remote method returning a list.
func CallList[T any](ctx context.Context, r *RemoteAgent, id ServiceMethodID, args ...any) ([]T, error) {
	raw, err := r.CallRaw(ctx, id, args...)
	if err != nil {
		return nil, err
	}
	return DeserializeList[T](raw)
}

// StreamURL is the websocket address of a streaming route.
func (r *RemoteAgent) StreamURL(route Route) string {
	base := r.opts.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	path := strings.TrimPrefix(strings.TrimPrefix(route.Path, "/"), "kvws/")
	return fmt.Sprintf("%s%s/kvws/%s", base, r.opts.URLPrefix, path)
}
