package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	agenterrors "republic/internal/errors"
	"republic/internal/logging"
)

// breakerTransport trips after repeated upstream failures so a dead provider
// fails fast instead of eating the retry budget of every run.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *agenterrors.CircuitBreaker
}

// NewGuarded returns a client whose transport is fronted by a circuit
// breaker named after the upstream it talks to.
func NewGuarded(timeout time.Duration, logger logging.Logger, upstream string) *http.Client {
	client := New(timeout, logger)
	client.Transport = Guard(client.Transport, upstream, agenterrors.DefaultCircuitBreakerConfig())
	return client
}

// Guard wraps next with a breaker. A nil next uses the default transport.
func Guard(next http.RoundTripper, upstream string, cfg agenterrors.CircuitBreakerConfig) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if upstream == "" {
		upstream = "upstream"
	}
	return &breakerTransport{next: next, breaker: agenterrors.NewCircuitBreaker(upstream, cfg)}
}

func (b *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := b.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := b.next.RoundTrip(req)
	b.breaker.Mark(upstreamFault(req.Context(), resp, err))
	return resp, err
}

// upstreamFault decides whether an exchange counts against the upstream.
// Caller cancellation and client errors do not.
func upstreamFault(ctx context.Context, resp *http.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
			return nil
		}
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return nil
}
