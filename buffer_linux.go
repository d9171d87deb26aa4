//go:build linux

package aio

// Linux refuses reads/writes/sends/recvs longer than 0x7ffff000 bytes with
// EINVAL (see MAX_RW_COUNT in the kernel).
const maxBufferLen = 0x7ffff000
