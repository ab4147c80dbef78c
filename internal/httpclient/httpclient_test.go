package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "republic/internal/errors"
)

func TestReadBodyCaps(t *testing.T) {
	got, err := ReadBody(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = ReadBody(strings.NewReader("hello"), 4)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	got, err = ReadBody(strings.NewReader("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestStatusErrorCarriesRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"3"}}}
	err := StatusError(resp, []byte("slow down"))
	var status *agenterrors.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusTooManyRequests, status.StatusCode)
	assert.Equal(t, 3*time.Second, status.RetryAfter)
	assert.Nil(t, StatusError(nil, nil))
}

func TestGuardOpensAfterUpstreamFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := agenterrors.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	client := &http.Client{Transport: Guard(nil, "oracle-test", cfg)}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestGuardIgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := agenterrors.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	client := &http.Client{Transport: Guard(nil, "", cfg)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
}
