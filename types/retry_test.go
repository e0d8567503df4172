package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{TransientError, "transient error"},
		{ThrottlingError, "throttling error"},
		{ServerError, "server error"},
		{ClientError, "client error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestRetryKindAccessors(t *testing.T) {
	k := RetryKindError(ThrottlingError)
	kind, ok := k.ErrorKind()
	assert.True(t, ok)
	assert.Equal(t, ThrottlingError, kind)
	_, ok = k.ExplicitDelay()
	assert.False(t, ok)

	e := RetryKindExplicit(3 * time.Second)
	d, ok := e.ExplicitDelay()
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	assert.True(t, RetryKind{}.IsUnnecessary())
	assert.True(t, RetryKindUnnecessary().IsUnnecessary())
	assert.True(t, RetryKindUnretryableFailure().IsUnretryableFailure())
	assert.Equal(t, "error(throttling error)", k.String())
}

func TestIsTimeout(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", ErrTimedOut)
	assert.True(t, IsTimeout(wrapped))
	assert.False(t, IsTimeout(errors.New("timed out")))
	assert.False(t, IsTimeout(nil))
}
