package provider

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmorch/internal/domain"
)

func TestMapHTTPErrorStatusCodes(t *testing.T) {
	cases := []struct {
		status        int
		wantCode      domain.ErrorCode
		wantRetryable bool
	}{
		{http.StatusUnauthorized, domain.ErrAuthError, false},
		{http.StatusForbidden, domain.ErrForbiddenError, false},
		{http.StatusBadRequest, domain.ErrInvalidRequestError, false},
		{http.StatusTooManyRequests, domain.ErrRateLimit, true},
		{402, domain.ErrQuotaExceeded, false},
		{413, domain.ErrQuotaExceeded, false},
		{http.StatusInternalServerError, domain.ErrServerError, true},
		{http.StatusBadGateway, domain.ErrServerError, true},
		{http.StatusTeapot, domain.ErrProviderError, false},
	}

	for _, tc := range cases {
		err := mapHTTPError(domain.ProviderOpenAI, tc.status, "boom", http.Header{})
		assert.Equal(t, tc.wantCode, err.Code, "status %d", tc.status)
		assert.Equal(t, tc.wantRetryable, err.Retryable, "status %d", tc.status)
		assert.Equal(t, domain.ProviderOpenAI, err.Provider)
	}
}

func TestMapHTTPErrorRateLimitParsesRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")

	err := mapHTTPError(domain.ProviderAnthropic, http.StatusTooManyRequests, "slow down", h)
	assert.Equal(t, domain.ErrRateLimit, err.Code)
	assert.Equal(t, 5.0, err.RetryAfterSeconds)
}

func TestMapTransportErrorDeadlineExceeded(t *testing.T) {
	err := mapTransportError(domain.ProviderLocal, context.DeadlineExceeded)
	assert.Equal(t, domain.ErrTimeoutError, err.Code)
	assert.True(t, err.Retryable)
}

func TestMapTransportErrorOther(t *testing.T) {
	err := mapTransportError(domain.ProviderLocal, assert.AnError)
	assert.Equal(t, domain.ErrNetworkError, err.Code)
	assert.True(t, err.Retryable)
}

func TestRetryAfterSecondsParsesInteger(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "10")
	assert.Equal(t, 10.0, retryAfterSeconds(h))
}

func TestRetryAfterSecondsParsesHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second)
	h := http.Header{}
	h.Set("Retry-After", future.UTC().Format(http.TimeFormat))

	got := retryAfterSeconds(h)
	require.Greater(t, got, 0.0)
	assert.LessOrEqual(t, got, 31.0)
}

func TestRetryAfterSecondsMissingHeader(t *testing.T) {
	assert.Equal(t, 0.0, retryAfterSeconds(http.Header{}))
}
