// Package errors classifies adapter failures so retry and circuit-breaking
// policy can be applied at the channel boundary.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err        error
	StatusCode int // HTTP status code if applicable
	RetryAfter int // seconds, from a Retry-After header
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// UnavailableError is returned while a circuit breaker is open.
type UnavailableError struct {
	Name string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Name)
}

// FromHTTPStatus classifies a non-2xx response. It returns nil for 2xx/3xx.
func FromHTTPStatus(status int, body string) error {
	if status < http.StatusBadRequest {
		return nil
	}
	err := fmt.Errorf("http status %d: %s", status, body)
	if isTransientHTTPStatus(status) {
		return &TransientError{Err: err, StatusCode: status}
	}
	return &PermanentError{Err: err, StatusCode: status}
}

// IsTransient checks if an error is retry-able
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return false
	}

	return isNetworkError(err) || isSyscallError(err)
}

// IsPermanent checks if an error is non-retry-able
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
