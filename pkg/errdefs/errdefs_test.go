package errdefs

import (
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKindOf tests kind extraction through wrapping layers
func TestKindOf(t *testing.T) {
	err := Wrap(KindQuotaExceeded, "provider.Launch", fmt.Errorf("limit hit"))
	wrapped := fmt.Errorf("failed to add workers: %w", err)

	assert.Equal(t, KindQuotaExceeded, KindOf(wrapped))
	assert.True(t, IsQuotaExceeded(wrapped))
	assert.False(t, IsSpotUnavailable(wrapped))
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain")))
}

// TestClassifyLaunch tests EC2 error code mapping
func TestClassifyLaunch(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected Kind
	}{
		{
			name:     "no spot capacity",
			code:     "InsufficientInstanceCapacity",
			expected: KindSpotUnavailable,
		},
		{
			name:     "spot price too low",
			code:     "SpotMaxPriceTooLow",
			expected: KindSpotUnavailable,
		},
		{
			name:     "instance limit",
			code:     "InstanceLimitExceeded",
			expected: KindQuotaExceeded,
		},
		{
			name:     "vcpu limit",
			code:     "VcpuLimitExceeded",
			expected: KindQuotaExceeded,
		},
		{
			name:     "unknown api error is transport",
			code:     "InternalError",
			expected: KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &smithy.GenericAPIError{Code: tt.code, Message: tt.name}
			err := ClassifyLaunch("provider.Launch", apiErr)
			require.Error(t, err)
			assert.Equal(t, tt.expected, KindOf(err))
		})
	}

	assert.NoError(t, ClassifyLaunch("provider.Launch", nil))
	assert.Equal(t, KindTransport, KindOf(ClassifyLaunch("provider.Launch", fmt.Errorf("dial tcp: timeout"))))
}

// TestClassifyConditional tests DynamoDB conditional-write mapping
func TestClassifyConditional(t *testing.T) {
	rejected := &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"}

	err := ClassifyConditional("statestore.AcquireLock", KindLockContended, rejected)
	assert.True(t, IsLockContended(err))

	err = ClassifyConditional("statestore.Update", KindStateConflict, rejected)
	assert.True(t, IsStateConflict(err))

	err = ClassifyConditional("statestore.Update", KindStateConflict, fmt.Errorf("dial tcp: refused"))
	assert.True(t, IsTransport(err))
}

// TestErrorMessage tests the operation prefix in rendered errors
func TestErrorMessage(t *testing.T) {
	err := Wrap(KindDrainTimeout, "drainer.drain", fmt.Errorf("2 pods remain"))
	assert.Contains(t, err.Error(), "drainer.drain")
	assert.Contains(t, err.Error(), "DRAIN_TIMEOUT")
}
