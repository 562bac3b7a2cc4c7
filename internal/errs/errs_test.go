package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetryFatalVsNonFatal(t *testing.T) {
	assert.False(t, ShouldRetry(NewFatal(KindMedia, CodeBufferFull, nil)), "fatal error must not be retryable")
	assert.True(t, ShouldRetry(New(KindNetwork, CodeSegmentFetchFailed, nil)), "non-fatal error must be retryable")
}

func TestShouldRetryUnknownError(t *testing.T) {
	assert.True(t, ShouldRetry(fmt.Errorf("boom")), "an error outside the taxonomy should default to retryable")
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	inner := NewFatal(KindNetwork, CodeManifestFetchFailed, nil)
	wrapped := fmt.Errorf("context: %w", inner)

	var target *Error
	require.True(t, As(wrapped, &target), "expected As to find the wrapped *Error")
	assert.Same(t, inner, target)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	e := New(KindMedia, CodeBufferFull, fmt.Errorf("quota exceeded"))
	assert.Equal(t, "media/BUFFER_FULL: quota exceeded", e.Error())
}
