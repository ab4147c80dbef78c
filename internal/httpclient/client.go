// Package httpclient builds the outbound HTTP clients used by the LLM oracle
// and the web tools.
package httpclient

import (
	"net/http"
	"time"

	agenterrors "republic/internal/errors"
	"republic/internal/logging"
)

const defaultTimeout = 30 * time.Second

// New returns an http.Client with its own transport clone. The client
// timeout is a backstop; callers bound each request with a context.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(logger),
	}
}

// Transport returns a clone of the default transport honouring the proxy
// environment.
func Transport(logger logging.Logger) *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		logging.OrNop(logger).Warn("default transport is %T, using a bare transport", http.DefaultTransport)
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	return base.Clone()
}

// StatusError converts a non-2xx response into an error the retry policy
// understands. The Retry-After header, when present, becomes the minimum
// backoff.
func StatusError(resp *http.Response, body []byte) error {
	if resp == nil {
		return nil
	}
	return &agenterrors.StatusError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		RetryAfter: agenterrors.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}
