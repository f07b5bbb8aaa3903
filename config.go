package kvrpc

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/juju/loggo"
)

// Config is everything a client process reads from its environment.
type Config struct {
	Options  *DialOptions
	Registry *ServiceRegistry
}

// LoadConfig loads the given .env files (or ./.env when none are given;
// a missing default file is not an error), then reads:
//
//	KV_BASE_URL         scheme://host[:port] of the service
//	KV_URL_PREFIX       prefix prepended to every route
//	KV_REQUEST_TIMEOUT  per-request timeout (Go duration)
//	KV_RETRY_DELAY      websocket handshake retry delay (Go duration)
//	KV_RELAXED_GET_ID   skip response id checks for GET calls
//	KV_COOKIE_FILE      persist cookies in this file
//	KV_AUTH_TOKEN       bearer token sent with every request
//	KV_ROUTES_FILE      YAML route table
//	KV_LOG_CONFIG       loggo configuration, e.g. "kvrpc=DEBUG"
//
// Variables already set in the process take precedence over .env files.
func LoadConfig(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
			logger.Debugf("no .env loaded: %v", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, errors.Annotate(err, "cannot load env files")
	}

	if logCfg := os.Getenv("KV_LOG_CONFIG"); logCfg != "" {
		if err := loggo.ConfigureLoggers(logCfg); err != nil {
			return nil, errors.Annotate(err, "invalid KV_LOG_CONFIG")
		}
	}

	opts := &DialOptions{
		BaseURL:      strings.TrimSuffix(envStr("KV_BASE_URL", ""), "/"),
		URLPrefix:    strings.TrimSuffix(envStr("KV_URL_PREFIX", ""), "/"),
		CookieFile:   envStr("KV_COOKIE_FILE", ""),
		AuthToken:    envStr("KV_AUTH_TOKEN", ""),
		RelaxedGETID: envBool("KV_RELAXED_GET_ID", false),
	}
	var err error
	if opts.RequestTimeout, err = envDuration("KV_REQUEST_TIMEOUT", 0); err != nil {
		return nil, errors.Trace(err)
	}
	if opts.RetryDelay, err = envDuration("KV_RETRY_DELAY", 0); err != nil {
		return nil, errors.Trace(err)
	}

	cfg := &Config{Options: opts.WithDefaults()}
	if path := envStr("KV_ROUTES_FILE", ""); path != "" {
		if cfg.Registry, err = LoadRegistry(path); err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		cfg.Registry, _ = NewServiceRegistry()
	}
	return cfg, nil
}

// NewRemoteAgent builds an agent from the loaded configuration.
func (c *Config) NewRemoteAgent() *RemoteAgent {
	return NewRemoteAgent(c.Registry, c.Options)
}

// EnvStr returns the value of k, or def when unset or empty.
func EnvStr(k, def string) string {
	return envStr(k, def)
}

func envStr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	}
	return def
}

func envDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	// bare numbers are seconds
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.NotValidf("%s=%q", k, v)
	}
	return time.Duration(n) * time.Second, nil
}
