package aio

import "syscall"

// Completion is caller-owned storage binding one in-flight operation to its
// callback. Its address must stay stable, and any buffers its Operation
// references must stay valid, until the callback fires. A Completion is
// never on more than one queue (an engine-internal fifo, or "submitted to
// the kernel") at a time, and is safe to resubmit from inside its own
// callback once that callback has been entered.
type Completion struct {
	next *Completion

	// linked marks that this completion must be submitted together with
	// the completion immediately following it in submission order as one
	// atomic linked pair (see LinkedCompletion). Set on the main half of
	// a linked pair, never on the timeout half.
	linked bool

	op Operation

	// dispatch is set by the submitter that populated op. It decodes the
	// raw kernel result into the operation's typed Result and invokes the
	// caller's typed callback. Keeping the callback a closure rather than
	// a (context pointer, thunk) pair lets it capture the caller's typed
	// state directly; Go closures already erase and recover the type for
	// us, so there is nothing additional to carry in the struct.
	dispatch func(c *Completion)

	// raw_result: a non-negative value is the operation's success value
	// (bytes, fd, socket); negative is -errno. The io_uring backend copies
	// res and flags from the CQE; the kqueue backend sets res itself after
	// running the operation's syscall inline (flags stays zero there).
	// Either way it is set before dispatch is called.
	res   int32
	flags uint32

	// kqueue-backend bookkeeping. Unused (zero value) when built against
	// the io_uring backend.
	connectInitiated bool   // set once connect() returned EINPROGRESS; write-readiness then goes to finishConnect, never back to connect()
	expires          uint64 // absolute monotonic deadline for KindTimeout / synthesized link timeouts
	canceled         bool   // not set or read by either backend; cancellation is reported through res as -ECANCELED

	// io_uring-backend scratch storage, part of this caller-owned record so
	// that preparing a connect/recvmsg/sendmsg SQE never allocates.
	// Unused by the kqueue backend.
	connAddr    [28]byte // raw-encoded sockaddr for connect's SQE
	connAddrLen uint32
	peerAddr    [28]byte // msghdr name buffer: filled by the kernel for recvmsg, copied from Operation.Name for sendmsg
	peerAddrLen uint32   // not used; accept is prepared without an address buffer, so no peer address is recorded
	msgIovec    [1]syscall.Iovec
	msgHdr      syscall.Msghdr
}

// Kind reports which operation this completion is bound to.
func (c *Completion) Kind() Kind { return c.op.Kind }
