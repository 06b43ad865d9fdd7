package errx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("sentinel failure")

func TestWrap_PreservesIs(t *testing.T) {
	cause := errors.New("underlying cause")
	err := Wrap(errSentinel, cause)
	require.ErrorIs(t, err, errSentinel)
	require.ErrorIs(t, err, cause)
}

func TestWrap_NilCauseReturnsSentinel(t *testing.T) {
	require.Equal(t, errSentinel, Wrap(errSentinel, nil))
}

func TestWith_FormatsMessage(t *testing.T) {
	err := With(errSentinel, ": port=%d", 8080)
	require.ErrorIs(t, err, errSentinel)
	require.Contains(t, err.Error(), "port=8080")
}
