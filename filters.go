package kvrpc

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"golang.org/x/oauth2"
)

// ChainFilters runs filters in order, skipping nil ones.
func ChainFilters(filters ...RequestFilter) RequestFilter {
	var chain []RequestFilter
	for _, f := range filters {
		if f != nil {
			chain = append(chain, f)
		}
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return func(req *http.Request) error {
		for _, f := range chain {
			if err := f(req); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithRequestID tags every request with a fresh UUID in header
// (X-Request-ID when empty).
func WithRequestID(header string) RequestFilter {
	if header == "" {
		header = "X-Request-ID"
	}
	return func(req *http.Request) error {
		req.Header.Set(header, uuid.NewString())
		return nil
	}
}

// WithBearerToken authorizes every request with a token from ts.
func WithBearerToken(ts oauth2.TokenSource) RequestFilter {
	return func(req *http.Request) error {
		tok, err := ts.Token()
		if err != nil {
			return errors.Annotate(err, "cannot obtain token")
		}
		tok.SetAuthHeader(req)
		return nil
	}
}

// WithHeaders sets static headers on every request.
func WithHeaders(h http.Header) RequestFilter {
	h = h.Clone()
	return func(req *http.Request) error {
		for k, vs := range h {
			req.Header.Del(k)
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return nil
	}
}
