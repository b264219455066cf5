package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Gateway error codes the client reacts to.
const (
	CodeSystemBusy       = -1
	CodeInvalidToken     = 40014
	CodeTokenExpired     = 42001
	CodeMissingToken     = 41001
	CodeFrequencyLimited = 45009
)

// Error is a non-zero errcode returned in a 200 response.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway errcode %d: %s", e.Code, e.Message)
}

// Temporary reports whether the same request may succeed if retried.
func (e *Error) Temporary() bool {
	switch e.Code {
	case CodeSystemBusy, CodeFrequencyLimited, CodeInvalidToken, CodeTokenExpired, CodeMissingToken:
		return true
	}
	return false
}

func (e *Error) tokenRejected() bool {
	return e.Code == CodeInvalidToken || e.Code == CodeTokenExpired || e.Code == CodeMissingToken
}

// RateLimitError represents an HTTP 429 from the gateway.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("gateway rate limit exceeded (retry after %v)", e.RetryAfter)
}

func (e *RateLimitError) Temporary() bool { return true }

// ClientError represents an HTTP 4xx other than 429.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("gateway client error %d: %s", e.StatusCode, e.Message)
}

func (e *ClientError) Temporary() bool { return false }

// ServerError represents an HTTP 5xx.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("gateway server error %d: %s", e.StatusCode, e.Message)
}

func (e *ServerError) Temporary() bool { return true }

// IsBusinessError reports whether err is a definitive rejection of the
// request (bad recipient, bad payload) rather than gateway trouble. Business
// errors do not count against the circuit breaker.
func IsBusinessError(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return !gwErr.Temporary()
	}
	var clientErr *ClientError
	return errors.As(err, &clientErr)
}
