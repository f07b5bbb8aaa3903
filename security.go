package kvrpc

import (
	"context"
	"net/url"

	"github.com/juju/errors"
)

// LoginFunc performs one login attempt. It reports false when the
// credentials were rejected.
type LoginFunc func(ctx context.Context) (bool, error)

// WithAuth runs block. When block fails with a security error, login is
// attempted until it succeeds and block is run exactly once more. Login
// is repeated only while it keeps being rejected; any other login error
// and cancellation of ctx end the loop.
func WithAuth(ctx context.Context, login LoginFunc, block func(ctx context.Context) error) error {
	err := block(ctx)
	if !IsSecurityError(err) {
		return err
	}
	logger.Debugf("security error, logging in: %v", err)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		ok, err := login(ctx)
		if err != nil && !IsSecurityError(err) {
			return errors.Annotate(err, "login failed")
		}
		if ok && err == nil {
			break
		}
		logger.Warningf("login attempt %d rejected", attempt)
	}
	return block(ctx)
}

// FormLogin returns a LoginFunc posting username and password as a form
// to loginURL. A 401 response counts as rejected credentials.
func FormLogin(agent *CallAgent, loginURL, username, password string) LoginFunc {
	return func(ctx context.Context) (bool, error) {
		_, err := agent.RemoteCall(ctx, RemoteRequest{
			URL:          loginURL,
			Method:       POST,
			Data:         url.Values{"username": {username}, "password": {password}},
			ContentType:  "application/x-www-form-urlencoded",
			ResponseType: ResponseText,
		})
		if IsSecurityError(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}
