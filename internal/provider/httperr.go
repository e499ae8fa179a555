package provider

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"llmorch/internal/domain"
)

// mapHTTPError builds the unified error for a non-2xx HTTP response. body is
// the provider's raw error payload, kept as the message for diagnostics; each
// reference client is responsible for extracting a nicer message from its own
// error envelope before falling back to this.
func mapHTTPError(p domain.Provider, status int, body string, header http.Header) *domain.OrchestratorError {
	switch {
	case status == http.StatusUnauthorized:
		return domain.NewError(domain.ErrAuthError, body).WithProvider(p)
	case status == http.StatusForbidden:
		return domain.NewError(domain.ErrForbiddenError, body).WithProvider(p)
	case status == http.StatusBadRequest:
		return domain.NewError(domain.ErrInvalidRequestError, body).WithProvider(p)
	case status == http.StatusTooManyRequests:
		err := domain.NewError(domain.ErrRateLimit, body).WithProvider(p).WithRetryable(true)
		if secs := retryAfterSeconds(header); secs > 0 {
			err = err.WithRetryAfterSeconds(secs)
		}
		return err
	case status == 402 || status == 413:
		return domain.NewError(domain.ErrQuotaExceeded, body).WithProvider(p)
	case status >= 500:
		return domain.NewError(domain.ErrServerError, body).WithProvider(p).WithRetryable(true)
	default:
		return domain.NewError(domain.ErrProviderError, body).WithProvider(p)
	}
}

// mapTransportError classifies a transport-level failure (no HTTP response at
// all): context deadlines become TIMEOUT_ERROR, everything else reaching this
// far is a NETWORK_ERROR, both retryable.
func mapTransportError(p domain.Provider, err error) *domain.OrchestratorError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.ErrTimeoutError, err.Error()).WithProvider(p).WithRetryable(true).WithCause(err)
	}
	return domain.NewError(domain.ErrNetworkError, err.Error()).WithProvider(p).WithRetryable(true).WithCause(err)
}

// retryAfterSeconds parses a Retry-After header, which providers send either
// as an integer count of seconds or (rarely, for these reference clients
// never) an HTTP-date.
func retryAfterSeconds(header http.Header) float64 {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return secs
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d.Seconds()
		}
	}
	return 0
}
