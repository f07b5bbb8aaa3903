package kvrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

/* =========================
   Call agent
   - one HTTP request per call, resolved or rejected once
   - request ids are owned by the agent
   - no retries
   ========================= */

type CallAgent struct {
	opts   *DialOptions
	client *http.Client

	seq atomic.Int64
}

func NewCallAgent(opts *DialOptions) *CallAgent {
	opt := opts.WithDefaults()
	return &CallAgent{opts: opt, client: opt.HTTPClient}
}

// Options returns the agent's effective options.
func (a *CallAgent) Options() *DialOptions { return a.opts }

// NextID returns the next request id. The first id is 1.
func (a *CallAgent) NextID() int64 {
	return a.seq.Add(1)
}

// URL returns the absolute address of route.
func (a *CallAgent) URL(route string) string {
	return a.opts.BaseURL + a.opts.URLPrefix + route
}

// JSONRPCCall performs one JSON-RPC call and returns the raw result
// string. Failures are always *CallError.
func (a *CallAgent) JSONRPCCall(ctx context.Context, route string, params []*string, method HTTPMethod, filter RequestFilter) (string, error) {
	id := a.NextID()
	target := a.URL(route)

	var body io.Reader
	if method == GET {
		q := url.Values{}
		q.Set("id", strconv.FormatInt(id, 10))
		for i, p := range params {
			v := ""
			if p != nil {
				v = *p
			}
			q.Set("p"+strconv.Itoa(i), v)
		}
		target = appendQuery(target, q)
	} else {
		if params == nil {
			params = []*string{}
		}
		b, err := json.Marshal(&JSONRPCRequest{ID: id, Method: route, Params: params})
		if err != nil {
			return "", &CallError{Kind: KindNetwork, Message: err.Error(), Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method.String(), target, body)
	if err != nil {
		return "", &CallError{Kind: KindNetwork, Message: err.Error(), Err: &TransportError{Op: "request", Err: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := a.prepare(req, filter); err != nil {
		return "", err
	}

	logger.Debugf("jsonrpc call id=%d %s %s", id, method, route)
	resp, err := a.client.Do(req)
	if err != nil {
		return "", networkError("request", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", contentTypeError(resp)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", networkError("read", err)
	}
	// the body must be exactly one envelope
	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(b, &rpcResp); err != nil {
		return "", newProtocolError(ErrInvalidResponse, err)
	}
	return a.result(&rpcResp, id, method)
}

// result validates a decoded envelope against the request id.
func (a *CallAgent) result(resp *JSONRPCResponse, id int64, method HTTPMethod) (string, error) {
	if resp.ID != id && !(method == GET && a.opts.RelaxedGETID) {
		logger.Debugf("response id %d does not match request id %d", resp.ID, id)
		return "", newProtocolError(ErrInvalidResponseID, nil)
	}
	switch {
	case resp.Error != nil && resp.Result == nil:
		return "", a.serviceError(resp)
	case resp.Result != nil && resp.Error == nil:
		return *resp.Result, nil
	}
	return "", newProtocolError(ErrInvalidResponse, nil)
}

func (a *CallAgent) serviceError(resp *JSONRPCResponse) *CallError {
	ce := &CallError{Kind: KindRemote, Message: *resp.Error, Status: http.StatusOK}
	if resp.ExceptionType != nil {
		ce.ExceptionType = *resp.ExceptionType
	}
	if resp.ExceptionJSON != nil {
		ce.ExceptionJSON = *resp.ExceptionJSON
	}
	if ce.ExceptionType == ServiceExceptionType {
		ce.Kind = KindService
		return ce
	}
	if ce.ExceptionJSON != "" && a.opts.ExceptionDecoder != nil {
		if typed, ok := a.opts.ExceptionDecoder(ce.ExceptionType, ce.ExceptionJSON); ok {
			ce.Kind = KindService
			ce.Err = typed
		}
	}
	return ce
}

/* =========================
   Plain REST calls
   ========================= */

// ResponseType selects how RemoteCall interprets a successful response.
type ResponseType int

const (
	ResponseJSON ResponseType = iota
	ResponseText
	// ResponseStream hands the open body to the caller.
	ResponseStream
)

type RemoteRequest struct {
	URL    string // absolute, or a route resolved against the agent's base
	Method HTTPMethod
	// Data is sent as query (GET, url.Values), form body
	// (application/x-www-form-urlencoded, url.Values), raw
	// (string / []byte) or JSON (anything else).
	Data         any
	ContentType  string
	ResponseType ResponseType
	Filter       RequestFilter
}

type RemoteResponse struct {
	Status int
	Header http.Header
	JSON   json.RawMessage
	Text   string
	// Body is set for ResponseStream; the caller must close it.
	Body io.ReadCloser
}

// RemoteCall performs a non JSON-RPC request with the same status
// classification as JSONRPCCall.
func (a *CallAgent) RemoteCall(ctx context.Context, r RemoteRequest) (*RemoteResponse, error) {
	target := r.URL
	if !strings.Contains(target, "://") {
		target = a.URL(target)
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	var body io.Reader
	switch data := r.Data.(type) {
	case nil:
	case url.Values:
		if r.Method == GET {
			target = appendQuery(target, data)
		} else {
			body = strings.NewReader(data.Encode())
		}
	case string:
		body = strings.NewReader(data)
	case []byte:
		body = bytes.NewReader(data)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, &CallError{Kind: KindNetwork, Message: err.Error(), Err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method.String(), target, body)
	if err != nil {
		return nil, &CallError{Kind: KindNetwork, Message: err.Error(), Err: &TransportError{Op: "request", Err: err}}
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if err := a.prepare(req, r.Filter); err != nil {
		return nil, err
	}

	logger.Debugf("remote call %s %s", r.Method, target)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, networkError("request", err)
	}
	out := &RemoteResponse{Status: resp.StatusCode, Header: resp.Header}
	if r.ResponseType == ResponseStream {
		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
		out.Body = resp.Body
		return out, nil
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	if r.ResponseType == ResponseJSON && !isJSON(resp.Header.Get("Content-Type")) {
		return nil, contentTypeError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError("read", err)
	}
	if r.ResponseType == ResponseJSON {
		if !json.Valid(b) {
			return nil, newProtocolError(ErrInvalidResponse, nil)
		}
		out.JSON = b
	} else {
		out.Text = string(b)
	}
	return out, nil
}

/* =========================
   helpers
   ========================= */

// prepare applies the standard headers and the filter chain.
func (a *CallAgent) prepare(req *http.Request, filter RequestFilter) error {
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	for k, vs := range a.opts.Headers {
		if http.CanonicalHeaderKey(k) == "Content-Type" {
			continue
		}
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, f := range []RequestFilter{a.opts.RequestFilter, filter} {
		if f == nil {
			continue
		}
		if err := f(req); err != nil {
			return &CallError{Kind: KindNetwork, Message: err.Error(), Err: &TransportError{Op: "filter", Err: err}}
		}
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	text := statusText(resp)
	if resp.StatusCode == HTTPUnauthorized {
		return &CallError{Kind: KindSecurity, Message: text, Status: resp.StatusCode}
	}
	return &CallError{Kind: KindHTTP, Message: text, Status: resp.StatusCode}
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func contentTypeError(resp *http.Response) *CallError {
	ct := resp.Header.Get("Content-Type")
	return &CallError{Kind: KindContentType, Message: "unexpected content type " + strconv.Quote(ct), Status: resp.StatusCode}
}

func networkError(op string, err error) *CallError {
	return &CallError{
		Kind:    KindNetwork,
		Message: err.Error(),
		Err:     &TransportError{Op: op, Err: err, Temporary: true},
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func appendQuery(target string, q url.Values) string {
	if len(q) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + q.Encode()
}
