package license

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, CodeOK},
		{ErrMalformedKey, CodeMalformedKey},
		{ErrLicenseNotFound, CodeNotFound},
		{ErrPluginNotFound, CodeNotFound},
		{ErrRevoked, CodeRevoked},
		{ErrExpired, CodeExpired},
		{&ShortfallError{Available: 1, Requested: 2}, CodeInsufficientTokens},
		{ErrTrialExists, CodeAlreadyEntitled},
		{ErrNoPluginVersion, CodeInvalidState},
		{fmt.Errorf("%w: %w", ErrInvalidState, ErrRevoked), CodeInvalidState},
		{ErrInvalidRequest, CodeInvalidRequest},
		{ErrRateLimited, CodeRateLimited},
		{storeError("op", errors.New("connection reset")), CodeTransient},
		{context.DeadlineExceeded, CodeTransient},
		{errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	assert.Nil(t, storeError("op", nil))

	err := storeError("load license", ErrLicenseNotFound)
	assert.Same(t, ErrLicenseNotFound, err)
	assert.False(t, IsRetryable(err))
	assert.True(t, IsNotFound(err))

	cause := errors.New("dial tcp: refused")
	err = storeError("load license", cause)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "load license")

	err = storeError("load license", context.Canceled)
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShortfallError(t *testing.T) {
	err := fmt.Errorf("decrement: %w", &ShortfallError{Available: 70, Requested: 80})

	assert.ErrorIs(t, err, ErrInsufficientTokens)
	assert.True(t, IsDomainError(err))

	var shortfall *ShortfallError
	assert.ErrorAs(t, err, &shortfall)
	assert.Equal(t, int64(70), shortfall.Available)
	assert.EqualError(t, shortfall, "insufficient tokens: available 70, requested 80")
}
