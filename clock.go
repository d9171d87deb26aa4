//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package aio

import "golang.org/x/sys/unix"

// clock is the monotonic nanosecond time source used to compute timeout
// deadlines. It reads CLOCK_MONOTONIC directly, rather than timestamping
// relative to when the engine started, because io_uring's IORING_TIMEOUT_ABS
// absolute timeouts are compared against the kernel's own CLOCK_MONOTONIC
// reading (time since boot): an engine-relative counter would already read
// as being in the past by that measure on any host with non-trivial uptime,
// firing the deadline on the very first submission. The kqueue backend only
// ever compares clock readings against each other, so it would have been
// fine either way, but both backends share this type for one coherent
// deadline source.
type clock struct{}

func newClock() clock {
	return clock{}
}

// now returns the current CLOCK_MONOTONIC reading in nanoseconds.
func (c clock) now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic("clock_gettime(CLOCK_MONOTONIC): " + err.Error())
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}
