//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package aio

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineWriteFsyncReadRoundTrip(t *testing.T) {
	e, err := Init(8, 0)
	require.NoError(t, err)
	defer e.Deinit()

	f, err := os.CreateTemp(t.TempDir(), "engine-roundtrip")
	require.NoError(t, err)
	defer f.Close()
	fd := int(f.Fd())

	data := []byte("hello io engine")
	var writeC, fsyncC, readC Completion
	var readBuf [32]byte
	var readResult ReadResult
	var done bool

	e.Write(&writeC, fd, data, 0, func(_ *Completion, wr WriteResult) {
		require.Equal(t, IOErrorNone, wr.Err)
		require.Equal(t, len(data), wr.N)
		e.Fsync(&fsyncC, fd, func(_ *Completion, fr FsyncResult) {
			require.Equal(t, IOErrorNone, fr.Err)
			e.Read(&readC, fd, readBuf[:], 0, func(_ *Completion, rr ReadResult) {
				readResult = rr
				done = true
			})
		})
	})

	driveUntil(t, e, func() bool { return done })
	require.Equal(t, IOErrorNone, readResult.Err)
	require.Equal(t, data, readBuf[:readResult.N])
}

func TestEngineAcceptConnectSendRecv(t *testing.T) {
	e, err := Init(16, 0)
	require.NoError(t, err)
	defer e.Deinit()

	lfd, cfd, addr := tcpPair(t)

	var acceptC, connectC Completion
	var acceptResult AcceptResult
	var connectResult ConnectResult
	var acceptDone, connectDone bool

	e.Accept(&acceptC, lfd, func(_ *Completion, r AcceptResult) {
		acceptResult = r
		acceptDone = true
	})
	e.Connect(&connectC, cfd, sockaddrFor(addr), func(_ *Completion, r ConnectResult) {
		connectResult = r
		connectDone = true
	})

	driveUntil(t, e, func() bool { return acceptDone && connectDone })
	require.Equal(t, IOErrorNone, acceptResult.Err)
	require.Equal(t, IOErrorNone, connectResult.Err)
	require.Greater(t, acceptResult.Socket, 0)
	defer syscall.Close(acceptResult.Socket)

	var sendC, recvC Completion
	var recvResult RecvResult
	var recvBuf [16]byte
	var sendDone, recvDone bool

	payload := []byte("ping")
	e.Send(&sendC, cfd, payload, func(_ *Completion, r SendResult) {
		require.Equal(t, IOErrorNone, r.Err)
		require.Equal(t, len(payload), r.N)
		sendDone = true
	})
	e.Recv(&recvC, acceptResult.Socket, recvBuf[:], func(_ *Completion, r RecvResult) {
		recvResult = r
		recvDone = true
	})

	driveUntil(t, e, func() bool { return sendDone && recvDone })
	require.Equal(t, IOErrorNone, recvResult.Err)
	require.Equal(t, payload, recvBuf[:recvResult.N])
}

func TestEngineRecvWithTimeoutFiresWhenNoDataArrives(t *testing.T) {
	e, err := Init(16, 0)
	require.NoError(t, err)
	defer e.Deinit()

	lfd, cfd, addr := tcpPair(t)
	var acceptC, connectC Completion
	var acceptResult AcceptResult
	var acceptDone, connectDone bool
	e.Accept(&acceptC, lfd, func(_ *Completion, r AcceptResult) { acceptResult = r; acceptDone = true })
	e.Connect(&connectC, cfd, sockaddrFor(addr), func(_ *Completion, r ConnectResult) { connectDone = true })
	driveUntil(t, e, func() bool { return acceptDone && connectDone })
	defer syscall.Close(acceptResult.Socket)

	var lc LinkedCompletion[RecvResult]
	var buf [16]byte
	var result RecvResult
	var done bool
	e.RecvWithTimeout(&lc, acceptResult.Socket, buf[:], 20*1_000_000 /* 20ms */, func(r RecvResult) {
		result = r
		done = true
	})

	driveUntil(t, e, func() bool { return done })
	require.Equal(t, IOErrorCanceled, result.Err, "recv should be canceled by the deadline since no data ever arrives")
}

func TestEngineRecvWithTimeoutDataArrivesFirst(t *testing.T) {
	e, err := Init(16, 0)
	require.NoError(t, err)
	defer e.Deinit()

	lfd, cfd, addr := tcpPair(t)
	var acceptC, connectC Completion
	var acceptResult AcceptResult
	var acceptDone, connectDone bool
	e.Accept(&acceptC, lfd, func(_ *Completion, r AcceptResult) { acceptResult = r; acceptDone = true })
	e.Connect(&connectC, cfd, sockaddrFor(addr), func(_ *Completion, r ConnectResult) { connectDone = true })
	driveUntil(t, e, func() bool { return acceptDone && connectDone })
	defer syscall.Close(acceptResult.Socket)

	var lc LinkedCompletion[RecvResult]
	var buf [16]byte
	var result RecvResult
	var done bool
	e.RecvWithTimeout(&lc, acceptResult.Socket, buf[:], 5_000_000_000 /* 5s, effectively never */, func(r RecvResult) {
		result = r
		done = true
	})

	var sendC Completion
	payload := []byte("data")
	e.Send(&sendC, cfd, payload, func(_ *Completion, r SendResult) {
		require.Equal(t, IOErrorNone, r.Err)
	})

	driveUntil(t, e, func() bool { return done })
	require.Equal(t, IOErrorNone, result.Err)
	require.Equal(t, payload, buf[:result.N])
}

func TestEngineCancelInFlightRecv(t *testing.T) {
	e, err := Init(16, 0)
	require.NoError(t, err)
	defer e.Deinit()

	lfd, cfd, addr := tcpPair(t)
	var acceptC, connectC Completion
	var acceptResult AcceptResult
	var acceptDone, connectDone bool
	e.Accept(&acceptC, lfd, func(_ *Completion, r AcceptResult) { acceptResult = r; acceptDone = true })
	e.Connect(&connectC, cfd, sockaddrFor(addr), func(_ *Completion, r ConnectResult) { connectDone = true })
	driveUntil(t, e, func() bool { return acceptDone && connectDone })
	defer syscall.Close(acceptResult.Socket)
	_ = cfd

	var recvC, cancelC Completion
	var recvResult RecvResult
	var recvDone, cancelDone bool
	var buf [16]byte
	e.Recv(&recvC, acceptResult.Socket, buf[:], func(_ *Completion, r RecvResult) {
		recvResult = r
		recvDone = true
	})
	e.Cancel(&cancelC, &recvC, func(_ *Completion, r CancelResult) {
		require.Equal(t, IOErrorNone, r.Err)
		cancelDone = true
	})

	driveUntil(t, e, func() bool { return recvDone && cancelDone })
	require.Equal(t, IOErrorCanceled, recvResult.Err)
}

func TestEngineRunForNsWithPendingTimeouts(t *testing.T) {
	e, err := Init(4, 0)
	require.NoError(t, err)
	defer e.Deinit()

	const n = 10
	var completions [n]Completion
	var results [n]TimeoutResult
	for i := 0; i < n; i++ {
		i := i
		e.Timeout(&completions[i], 20*1_000_000, func(_ *Completion, r TimeoutResult) {
			results[i] = r
		})
	}

	require.NoError(t, e.RunForNs(200*1_000_000))
	for i := 0; i < n; i++ {
		require.Equal(t, IOErrorNone, results[i].Err, "timeout %d should have fired", i)
	}
}

func TestEngineCancelTimeoutBeforeItFires(t *testing.T) {
	e, err := Init(8, 0)
	require.NoError(t, err)
	defer e.Deinit()

	var timeoutC, cancelC Completion
	var timeoutResult CancelTimeoutResult
	var timeoutOwnResult TimeoutResult
	var timeoutFired, cancelDone bool
	e.Timeout(&timeoutC, 10_000_000_000 /* 10s, long enough to never fire naturally */, func(_ *Completion, r TimeoutResult) {
		timeoutOwnResult = r
		timeoutFired = true
	})
	e.CancelTimeout(&cancelC, &timeoutC, func(_ *Completion, r CancelTimeoutResult) {
		timeoutResult = r
		cancelDone = true
	})

	driveUntil(t, e, func() bool { return cancelDone && timeoutFired })
	require.Equal(t, IOErrorNone, timeoutResult.Err)
	require.Equal(t, IOErrorCanceled, timeoutOwnResult.Err, "the canceled timeout must report IOErrorCanceled, not a natural expiry")
}
