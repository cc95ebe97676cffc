package entity

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, NewAppError(ErrCodeRateLimited, "slow down").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, NewStoreUnavailableError(nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, NewConfigurationError("bad rule", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, NewAdminUnauthorizedError("").StatusCode)
	assert.Equal(t, http.StatusInternalServerError, NewAppError(ErrCodeInternal, "boom").StatusCode)
}

func TestAppErrorUnwrapChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreUnavailableError(cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsStoreUnavailable(err))
	assert.True(t, IsStoreUnavailable(fmt.Errorf("check failed: %w", err)))
	assert.False(t, IsStoreUnavailable(cause))
}

func TestGetAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidIdentity, "bad identity")

	appErr := GetAppError(fmt.Errorf("admin: %w", err))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeInvalidIdentity, appErr.Code)

	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestHasErrorCode(t *testing.T) {
	err := NewAdminUnauthorizedError("missing role")

	assert.True(t, HasErrorCode(err, ErrCodeAdminUnauthorized))
	assert.False(t, HasErrorCode(err, ErrCodeRateLimited))
	assert.Contains(t, err.Error(), "ADMIN_UNAUTHORIZED")
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "bad tier").
		WithContext("tier", "platinum")

	assert.Equal(t, "platinum", err.Context["tier"])
}
