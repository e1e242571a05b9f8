package hdbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeString(t *testing.T) {
	require.Equal(t, "FRAMING", CodeFraming.String())
	require.Equal(t, "COLLISION", CodeCollision.String())
	require.Equal(t, "OVERFLOW", CodeOverflow.String())
	require.Equal(t, "OUT_OF_RANGE", CodeOutOfRange.String())
	require.Equal(t, "GIVE_UP", CodeGiveUp.String())
	require.Equal(t, "UNKNOWN", Code(0).String())
}

func TestErrorIsMatchesByCodeNotMessage(t *testing.T) {
	err := FramingErrorF("echo timed out after %d bytes", 3)
	require.True(t, errors.Is(err, ErrFraming))
	require.False(t, errors.Is(err, ErrCollision))
}

func TestErrorConstructorsSetCode(t *testing.T) {
	require.Equal(t, CodeCollision, CollisionErrorF("x").Code())
	require.Equal(t, CodeOverflow, OverflowErrorF("x").Code())
	require.Equal(t, CodeOutOfRange, OutOfRangeErrorF("x").Code())
	require.Equal(t, CodeGiveUp, GiveUpErrorF("x").Code())
}
