package aio

import (
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func rawFD(conn syscall.Conn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	err = sc.Control(func(f uintptr) { fd = int(f) })
	return fd, err
}

// driveUntil runs Tick in a bounded loop until done reports true or the
// iteration budget is exhausted, at which point the test fails rather than
// hanging forever on a completion that never arrives.
func driveUntil(t *testing.T, e *Engine, done func() bool) {
	t.Helper()
	for i := 0; i < 2_000_000 && !done(); i++ {
		require.NoError(t, e.Tick())
	}
	require.True(t, done(), "operation never completed")
}

// tcpPair sets up a listening socket (via net.Listen, so the test doesn't
// need its own bind/listen bookkeeping) and a non-blocking client socket,
// handing back both raw fds for the engine to drive directly.
func tcpPair(t *testing.T) (listenFD, clientFD int, addr *net.TCPAddr) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	lfd, err := rawFD(ln.(*net.TCPListener))
	require.NoError(t, err)

	cfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(cfd) })

	return lfd, cfd, ln.Addr().(*net.TCPAddr)
}

func sockaddrFor(addr *net.TCPAddr) syscall.Sockaddr {
	var a [4]byte
	copy(a[:], addr.IP.To4())
	return &syscall.SockaddrInet4{Port: addr.Port, Addr: a}
}
