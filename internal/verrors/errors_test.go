package verrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New(KindTransientTransport, "store.WriteBatch", "retryable store error", cause)
	require.Contains(t, err.Error(), "transient_transport")
	require.Contains(t, err.Error(), "store.WriteBatch")
	require.Contains(t, err.Error(), "connection refused")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindProtocol, "decode", "malformed payload", cause)
	require.ErrorIs(t, err, cause)
}

func TestWithAttachesContext(t *testing.T) {
	err := New(KindCapacity, "pipeline.Enqueue", "queue full", nil).With("vote_account", "abc123")
	require.Equal(t, "abc123", err.Context["vote_account"])
}

func TestRetryableByKind(t *testing.T) {
	require.True(t, Retryable(New(KindTransientTransport, "op", "msg", nil)))
	require.True(t, Retryable(New(KindCapacity, "op", "msg", nil)))
	require.False(t, Retryable(New(KindProtocol, "op", "msg", nil)))
	require.False(t, Retryable(New(KindFatalRuntime, "op", "msg", nil)))
}

func TestRetryableFalseForPlainError(t *testing.T) {
	require.False(t, Retryable(errors.New("plain error")))
}

func TestAsErrorUnwrapsWrappedError(t *testing.T) {
	inner := New(KindConfiguration, "config.Validate", "bad url", nil)
	wrapped := fmtWrap(inner)

	var target *Error
	require.True(t, AsError(wrapped, &target))
	require.Equal(t, KindConfiguration, target.Kind)
}

func fmtWrap(err error) error {
	return &wrapper{err: err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
