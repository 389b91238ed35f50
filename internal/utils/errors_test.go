package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorToHTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrNotFound:         http.StatusNotFound,
		ErrUserNotFound:     http.StatusNotFound,
		ErrJobNotFound:      http.StatusNotFound,
		ErrInvalidInput:     http.StatusBadRequest,
		ErrUnauthorized:     http.StatusUnauthorized,
		ErrInvalidToken:     http.StatusUnauthorized,
		ErrForbidden:        http.StatusForbidden,
		ErrTooManyRequests:  http.StatusTooManyRequests,
		ErrStoreUnavailable: http.StatusServiceUnavailable,
		ErrActorTimeout:     http.StatusInternalServerError,
		ErrInternal:         http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, AppErrorToHTTPStatus(code), code)
	}
}

func TestAsAppErrorUnwrapsChains(t *testing.T) {
	root := errors.New("connection refused")
	storeErr := NewStoreError("save message", root)
	wrapped := fmt.Errorf("sending: %w", storeErr)

	appErr, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrStoreUnavailable, appErr.Code)
	assert.True(t, errors.Is(wrapped, root))
	assert.True(t, IsErrorCode(wrapped, ErrStoreUnavailable))

	_, ok = AsAppError(root)
	assert.False(t, ok)
}

func TestErrorClassHelpers(t *testing.T) {
	assert.True(t, IsNotFound(NewUserNotFoundError("u999")))
	assert.True(t, IsNotFound(NewJobNotFoundError("j1")))
	assert.False(t, IsNotFound(NewValidationError("empty")))

	assert.True(t, IsAuthError(NewUnauthorizedError("no token")))
	assert.True(t, IsAuthError(NewForbiddenError("not a participant")))
	assert.False(t, IsAuthError(NewStoreError("ping", nil)))
}
