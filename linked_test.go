package aio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinkedCompletionFiresOnceAfterBothHalves(t *testing.T) {
	var lc LinkedCompletion[RecvResult]
	var got RecvResult
	var calls int
	lc.callback = func(r RecvResult) {
		calls++
		got = r
	}

	lc.fireMain(RecvResult{N: 10, Err: IOErrorNone})
	require.Equal(t, 0, calls, "must wait for the timeout half too")

	lc.fireTimeout(TimeoutResult{Err: IOErrorCanceled})
	require.Equal(t, 1, calls)
	require.Equal(t, RecvResult{N: 10, Err: IOErrorNone}, got)
}

func TestLinkedCompletionOrderIndependent(t *testing.T) {
	var lc LinkedCompletion[RecvResult]
	var calls int
	lc.callback = func(RecvResult) { calls++ }

	lc.fireTimeout(TimeoutResult{Err: IOErrorNone})
	require.Equal(t, 0, calls)
	lc.fireMain(RecvResult{Err: IOErrorCanceled})
	require.Equal(t, 1, calls)
}

func TestLinkedCompletionResetsAfterFiring(t *testing.T) {
	var lc LinkedCompletion[RecvResult]
	var calls int
	lc.callback = func(RecvResult) { calls++ }

	lc.fireMain(RecvResult{})
	lc.fireTimeout(TimeoutResult{})
	require.Equal(t, 1, calls)

	// a fresh round must require both halves again, not fire immediately
	lc.fireMain(RecvResult{})
	require.Equal(t, 1, calls)
	lc.fireTimeout(TimeoutResult{})
	require.Equal(t, 2, calls)
}
