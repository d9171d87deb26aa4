package aio

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyAcceptKnownErrnos(t *testing.T) {
	require.Equal(t, IOErrorAgain, classifyAccept(syscall.EAGAIN))
	require.Equal(t, IOErrorConnectionAborted, classifyAccept(syscall.ECONNABORTED))
	require.Equal(t, IOErrorCanceled, classifyAccept(syscall.ECANCELED))
	require.Equal(t, IOErrorUnexpected, classifyAccept(syscall.Errno(0xdead)))
}

func TestClassifyConnectKnownErrnos(t *testing.T) {
	require.Equal(t, IOErrorConnectionRefused, classifyConnect(syscall.ECONNREFUSED))
	require.Equal(t, IOErrorConnectionTimedOut, classifyConnect(syscall.ETIMEDOUT))
	require.Equal(t, IOErrorAlreadyConnected, classifyConnect(syscall.EISCONN))
}

func TestClassifyTimeoutTreatsETIMEAsSuccess(t *testing.T) {
	require.Equal(t, IOErrorNone, classifyTimeout(syscall.ETIME))
	require.Equal(t, IOErrorCanceled, classifyTimeout(syscall.ECANCELED))
}

func TestClassifyCancelAndCancelTimeout(t *testing.T) {
	require.Equal(t, IOErrorNotFound, classifyCancel(syscall.ENOENT))
	require.Equal(t, IOErrorAlreadyInProgress, classifyCancel(syscall.EALREADY))
	require.Equal(t, IOErrorCanceled, classifyCancelTimeout(syscall.ECANCELED))
}

func TestErrFromResSuccessAndFailure(t *testing.T) {
	n, kind := errFromRes(42, classifyRead)
	require.Equal(t, int32(42), n)
	require.Equal(t, IOErrorNone, kind)

	n, kind = errFromRes(-int32(syscall.EBADF), classifyRead)
	require.Equal(t, int32(0), n)
	require.Equal(t, IOErrorNotOpenForReading, kind)
}

func TestIOErrorStringNeverEmpty(t *testing.T) {
	for e := IOErrorNone; e <= IOErrorNotFound; e++ {
		require.NotEmpty(t, e.Error())
	}
}
