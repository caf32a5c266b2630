package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeHelpers_WrappedErrors(t *testing.T) {
	stale := NewStaleObject("products", "42")
	wrapped := fmt.Errorf("soft delete: %w", stale)

	assert.True(t, IsStaleObject(wrapped))
	assert.False(t, IsInvalidState(wrapped))
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(wrapped))

	appErr, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "products", appErr.Details["entity"])
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewDatabase("update products", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(err))
}

func TestGetHTTPStatus_PlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
	assert.False(t, IsAppError(errors.New("boom")))
}
