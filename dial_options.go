package kvrpc

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/juju/clock"
	cookiejar "github.com/juju/persistent-cookiejar"
)

/* =========================
   Options and defaults
   ========================= */

// RequestFilter mutates an outgoing request before it is sent. It is the
// extension point for auth headers, tracing ids and the like.
type RequestFilter func(req *http.Request) error

// ExceptionDecoder rebuilds a typed application exception from the
// exceptionType / exceptionJson fields of an error response. It reports
// false when it does not know the type.
type ExceptionDecoder func(exceptionType, exceptionJSON string) (error, bool)

type DialOptions struct {
	// Common
	BaseURL        string // scheme://host[:port], empty for relative routes
	URLPrefix      string // prepended to every route
	Headers        http.Header
	AuthToken      string // optional: Bearer
	RequestTimeout time.Duration

	// Hooks
	RequestFilter      RequestFilter
	ExceptionDecoder   ExceptionDecoder
	OnMessage          func(msg string)                        // every inbound socket message
	OnReconnectAttempt func(attempt int, delay time.Duration) // every failed socket handshake

	// RelaxedGETID skips response id matching for GET calls.
	RelaxedGETID bool

	// TLS / HTTP
	InsecureSkipVerify bool
	HTTPClient         *http.Client
	// CookieFile persists the cookie jar between runs when set.
	CookieFile string

	// WebSocket
	RetryDelay       time.Duration // fixed delay between handshake attempts
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration

	Clock clock.Clock
}

func (o *DialOptions) WithDefaults() *DialOptions {
	if o == nil {
		o = &DialOptions{}
	}
	cp := *o
	if cp.RequestTimeout <= 0 {
		cp.RequestTimeout = 30 * time.Second
	}
	if cp.RetryDelay <= 0 {
		cp.RetryDelay = 5 * time.Second
	}
	if cp.HandshakeTimeout <= 0 {
		cp.HandshakeTimeout = 15 * time.Second
	}
	if cp.PingInterval <= 0 {
		cp.PingInterval = 20 * time.Second
	}
	if cp.PongWait <= 0 {
		cp.PongWait = 60 * time.Second
	}
	if cp.Clock == nil {
		cp.Clock = clock.WallClock
	}
	if cp.HTTPClient == nil {
		tr := &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cp.InsecureSkipVerify},
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2: true,
		}
		cp.HTTPClient = &http.Client{Transport: tr, Timeout: cp.RequestTimeout}
	}
	if cp.HTTPClient.Jar == nil {
		c := *cp.HTTPClient
		c.Jar = newCookieJar(cp.CookieFile)
		cp.HTTPClient = &c
	}
	if cp.Headers == nil {
		cp.Headers = make(http.Header)
	} else {
		cp.Headers = cp.Headers.Clone()
	}
	if cp.AuthToken != "" && cp.Headers.Get("Authorization") == "" {
		cp.Headers.Set("Authorization", "Bearer "+cp.AuthToken)
	}
	return &cp
}

func newCookieJar(file string) http.CookieJar {
	if file != "" {
		jar, err := cookiejar.New(&cookiejar.Options{Filename: file})
		if err == nil {
			return jar
		}
		logger.Warningf("cannot load cookie file %q, cookies will not persist: %v", file, err)
	}
	jar, _ := cookiejar.New(&cookiejar.Options{NoPersist: true})
	return jar
}

// SaveCookies writes the cookie jar to CookieFile, if one is configured.
func (o *DialOptions) SaveCookies() error {
	if o == nil || o.HTTPClient == nil || o.CookieFile == "" {
		return nil
	}
	if jar, ok := o.HTTPClient.Jar.(*cookiejar.Jar); ok {
		return jar.Save()
	}
	return nil
}
