// Package aio is a single-threaded, completion-based asynchronous I/O
// engine. It exposes POSIX-style file-descriptor operations (accept,
// connect, close, read, write, recv, send, recvmsg, sendmsg, fsync, openat,
// timeout, cancel) uniformly on top of two native backends: Linux io_uring
// and a BSD kqueue fallback.
//
// A caller fills a caller-owned Completion via one of the per-operation
// submitters on Engine, and the engine invokes the supplied callback once
// the kernel reports the operation finished. Submitters never allocate;
// Completion storage is the only per-operation memory and must stay stable
// (and any buffers it references valid) until the callback fires.
//
// The engine is driven by repeatedly calling Tick, or by RunForNs which
// drives Tick until a given duration has elapsed. Both are intended to be
// called from a single goroutine; nothing here is safe for concurrent use
// from multiple goroutines against the same Engine.
package aio
