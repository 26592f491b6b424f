package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFetchError_Retryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *FetchError
		retryable bool
		status    int
	}{
		{"not found", NotFound("missing"), false, http.StatusNotFound},
		{"forbidden", Forbidden(http.StatusForbidden, "denied"), false, http.StatusForbidden},
		{"rate limited", RateLimited(http.StatusForbidden, time.Second), true, http.StatusTooManyRequests},
		{"timeout", Timeout(context.DeadlineExceeded), true, http.StatusGatewayTimeout},
		{"transport", Transport("dial failed", nil), true, http.StatusBadGateway},
		{"server error", ServerError(http.StatusBadGateway), true, http.StatusBadGateway},
		{"validation", ValidationFailed("empty"), false, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.Retryable())
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	inner := NotFound("no such file").WithLocation("acme/prompts", "system/brief.md")
	wrapped := fmt.Errorf("failed to fetch prompt: %w", inner)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Contains(t, wrapped.Error(), "acme/prompts:system/brief.md")

	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))
}

func TestFetchError_Unwrap(t *testing.T) {
	err := Timeout(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", err.Kind.String())
}
