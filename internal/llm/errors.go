package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureKind classifies why a provider call did not produce an answer.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureRateLimited FailureKind = "rate_limited"
	FailureRejected    FailureKind = "rejected"
	FailureTransport   FailureKind = "transport"
	FailureUnavailable FailureKind = "unavailable"
	FailureUnsupported FailureKind = "unsupported"

	// FailureNotConfigured marks a built-in provider that has no API key.
	FailureNotConfigured FailureKind = "not_configured"
)

// APIError is returned by adapters when a provider answers with a
// non-success HTTP status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode), truncate(e.Body, 400))
}

// NewAPIError builds an APIError from a raw response body.
func NewAPIError(provider string, status int, body []byte) *APIError {
	return &APIError{Provider: provider, StatusCode: status, Body: string(body)}
}

// ErrUnsupportedProvider is returned when no adapter is registered for a kind.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ErrProviderNotConfigured is returned for a built-in provider that was not
// registered because its API key is empty.
var ErrProviderNotConfigured = errors.New("provider not configured")

// Classify maps any error from a provider call onto a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	if errors.Is(err, ErrUnsupportedProvider) {
		return FailureUnsupported
	}
	if errors.Is(err, ErrProviderNotConfigured) {
		return FailureNotConfigured
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return FailureRateLimited
		case http.StatusBadRequest, http.StatusForbidden, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return FailureRejected
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return FailureTransport
		default:
			return FailureUnavailable
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransport
	}

	return FailureUnavailable
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
