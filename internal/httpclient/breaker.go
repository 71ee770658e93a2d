package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	relayerrors "smsrelay/internal/errors"
)

// BreakerTransport fails fast once an upstream keeps answering with errors.
// Transport failures, 5xx and 429 count against the breaker; a cancelled
// request counts as neither success nor failure.
type BreakerTransport struct {
	base    http.RoundTripper
	breaker *relayerrors.CircuitBreaker
}

// NewBreakerTransport wraps base (http.DefaultTransport when nil).
func NewBreakerTransport(base http.RoundTripper, name string, cfg relayerrors.CircuitBreakerConfig) *BreakerTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == "" {
		name = "upstream"
	}
	return &BreakerTransport{base: base, breaker: relayerrors.NewCircuitBreaker(name, cfg)}
}

// NewWithCircuitBreaker returns a client for the named upstream using the
// default breaker thresholds.
func NewWithCircuitBreaker(timeout time.Duration, name string) *http.Client {
	return NewWithBreakerConfig(timeout, name, relayerrors.DefaultCircuitBreakerConfig())
}

// NewWithBreakerConfig is NewWithCircuitBreaker with explicit thresholds.
func NewWithBreakerConfig(timeout time.Duration, name string, cfg relayerrors.CircuitBreakerConfig) *http.Client {
	client := New(timeout)
	client.Transport = NewBreakerTransport(client.Transport, name, cfg)
	return client
}

// State reports the breaker position.
func (t *BreakerTransport) State() relayerrors.CircuitState {
	return t.breaker.State()
}

func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpclient: nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return nil, err
	case err != nil:
		t.breaker.Mark(err)
		return nil, err
	case countsAsFailure(resp.StatusCode):
		t.breaker.Mark(fmt.Errorf("upstream status %d", resp.StatusCode))
	default:
		t.breaker.Mark(nil)
	}
	return resp, nil
}

func countsAsFailure(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
