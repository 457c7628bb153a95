package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
)

// ErrorCategory is a stable label for error classification in metrics and replies.
type ErrorCategory string

// Error category constants used as metric labels (weatherBackendErrorsTotal, intentDispatchTotal).
const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryRejected    ErrorCategory = "rejected"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. Only typed errors are
// classified; anything else is ErrorCategoryUnknown whatever its message says.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	if errors.Is(err, ErrCircuitOpen) {
		return ErrorCategoryCircuitOpen
	}

	if errors.Is(err, ErrRateLimited) {
		return ErrorCategoryRateLimited
	}

	if errors.Is(err, ErrUpstreamFailure) {
		return ErrorCategoryUpstream5xx
	}

	if errors.Is(err, ErrRejected) {
		return ErrorCategoryRejected
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorCategoryNetwork
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}

// IsConnectivity reports whether err means an upstream could not be reached or refused
// the request, as opposed to a bug or bad data on our side.
func IsConnectivity(err error) bool {
	switch CategorizeError(err) {
	case ErrorCategoryTimeout, ErrorCategoryNetwork, ErrorCategoryRateLimited,
		ErrorCategoryUpstream5xx, ErrorCategoryRejected, ErrorCategoryCircuitOpen:
		return true
	}
	return false
}
