//go:build linux

package aio

import (
	"syscall"
	"unsafe"
)

// encodeSockaddr writes sa's wire representation into buf (which must be at
// least 28 bytes, large enough for sockaddr_in6) and returns its length.
// giouring's PrepareConnect takes a raw pointer/length pair rather than the
// syscall.Sockaddr interface, and syscall.SockaddrInet4/6's own raw encoding
// is unexported, so the engine keeps its own copy of this translation using
// the completion's preallocated scratch buffer (no per-call allocation).
func encodeSockaddr(sa syscall.Sockaddr, buf *[28]byte) (uint32, error) {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		raw := (*syscall.RawSockaddrInet4)(unsafe.Pointer(buf))
		*raw = syscall.RawSockaddrInet4{}
		raw.Family = syscall.AF_INET
		raw.Port = htons(uint16(a.Port))
		raw.Addr = a.Addr
		return uint32(syscall.SizeofSockaddrInet4), nil
	case *syscall.SockaddrInet6:
		raw := (*syscall.RawSockaddrInet6)(unsafe.Pointer(buf))
		*raw = syscall.RawSockaddrInet6{}
		raw.Family = syscall.AF_INET6
		raw.Port = htons(uint16(a.Port))
		raw.Scope_id = a.ZoneId
		raw.Addr = a.Addr
		return uint32(syscall.SizeofSockaddrInet6), nil
	default:
		return 0, syscall.EAFNOSUPPORT
	}
}

func htons(port uint16) uint16 {
	return (port << 8) | (port >> 8)
}
