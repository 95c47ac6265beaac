package herr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindExecutionError, cause, "writing snapshot")

	require.True(t, Is(err, KindExecutionError))
	require.False(t, Is(err, KindPlanError))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "disk full")
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestNewHasNoCause(t *testing.T) {
	err := New(KindSchemaMismatch, "column %q not found", "x")
	require.Nil(t, err.Unwrap())
	require.Equal(t, KindSchemaMismatch, err.Kind)
}
