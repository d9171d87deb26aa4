package aio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferLimitClampsToPlatformMax(t *testing.T) {
	require.Equal(t, maxBufferLen, BufferLimit(maxBufferLen+1))
	require.Equal(t, maxBufferLen, BufferLimit(maxBufferLen*2))
}

func TestBufferLimitPassesSmallSizesThrough(t *testing.T) {
	require.Equal(t, 0, BufferLimit(0))
	require.Equal(t, 4096, BufferLimit(4096))
}
