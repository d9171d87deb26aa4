//go:build linux

package aio

import (
	"log/slog"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

const cqeBatchSize = 128

// Engine drives one io_uring instance. It must only ever be used from the
// goroutine that called Init; nothing here is safe for concurrent use.
type Engine struct {
	ring *giouring.Ring
	clk  clock

	// unqueued holds completions (and, for linked pairs, both halves kept
	// adjacent) that couldn't get an SQE the first time; they're retried at
	// the start of every Tick and again after its callbacks have run. A new
	// submission that finds a free SQE is prepared directly, without waiting
	// behind them.
	unqueued fifo

	// completed holds completions whose CQE has been harvested but whose
	// callback hasn't run yet. Kept separate from dispatch so a callback
	// that resubmits never feeds back into the same sweep.
	completed fifo
}

// Init creates a new engine backed by a ring of the given submission queue
// depth. flags are forwarded to the kernel's io_uring_setup.
func Init(entries uint32, flags uint32) (*Engine, error) {
	ring, err := giouring.CreateRingParams(entries, &giouring.IOUringParams{Flags: flags})
	if err != nil {
		return nil, err
	}
	return &Engine{ring: ring, clk: newClock()}, nil
}

// Deinit tears down the ring. Any completions still in-flight or unqueued
// are abandoned; the caller is responsible for having drained them first.
func (e *Engine) Deinit() {
	e.ring.QueueExit()
}

// Tick submits whatever is pending without waiting for any completion, and
// dispatches everything that's already complete.
func (e *Engine) Tick() error {
	return e.tick(0)
}

func (e *Engine) tick(waitNr uint32) error {
	e.processUnqueued()
	for {
		_, err := e.ring.SubmitAndWait(waitNr)
		if err != nil {
			if isTemporary(err) {
				continue
			}
			return err
		}
		break
	}
	e.harvest()
	e.dispatchSnapshot()
	e.processUnqueued()
	return nil
}

// RunForNs blocks the calling goroutine, servicing the ring, until at least
// ns nanoseconds have elapsed on the engine's monotonic clock. It never
// returns early and never busy-spins: the wait is satisfied by the kernel
// via a single absolute timeout submitted for the deadline.
func (e *Engine) RunForNs(ns uint64) error {
	deadline := e.clk.now() + ns
	var done bool
	var c Completion
	c.op = Operation{Kind: KindTimeout, Nsec: deadline, Abs: true}
	c.dispatch = func(c *Completion) {
		done = true
	}
	e.enqueue(&c)
	for !done {
		if err := e.tick(1); err != nil {
			return err
		}
	}
	return nil
}

func isTemporary(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return os.IsTimeout(err)
	}
	return errno == syscall.EINTR || errno == syscall.EAGAIN
}

// enqueue submits c if an SQE is free, or defers it to the unqueued fifo
// for the next Tick to retry.
func (e *Engine) enqueue(c *Completion) {
	sqe := e.ring.GetSQE()
	if sqe == nil {
		e.unqueued.push(c)
		return
	}
	e.fillSQE(sqe, c)
}

// enqueueLinked submits main and its timeout half as one IOSQE_IO_LINK
// pair. Both SQEs are acquired before either is written, so a shortage of
// ring space never splits the pair across two flushes: either both go in
// together now, or both wait together in unqueued.
func (e *Engine) enqueueLinked(main, timeout *Completion) {
	main.linked = true
	if e.ring.SQSpaceLeft() < 2 {
		e.unqueued.push(main)
		e.unqueued.push(timeout)
		return
	}
	mainSQE := e.ring.GetSQE()
	timeoutSQE := e.ring.GetSQE()
	e.fillSQE(mainSQE, main)
	mainSQE.Flags |= giouring.SqeIOLink
	e.fillSQE(timeoutSQE, timeout)
}

// processUnqueued retries completions (and linked pairs, kept together) that
// couldn't get an SQE earlier. It stops the moment ring space runs out again
// rather than partially submitting a linked pair.
func (e *Engine) processUnqueued() {
	for {
		head := e.unqueued.peek()
		if head == nil {
			return
		}
		if head.linked {
			if e.ring.SQSpaceLeft() < 2 {
				return
			}
			main := e.unqueued.pop()
			timeout := e.unqueued.pop()
			mainSQE := e.ring.GetSQE()
			timeoutSQE := e.ring.GetSQE()
			e.fillSQE(mainSQE, main)
			mainSQE.Flags |= giouring.SqeIOLink
			e.fillSQE(timeoutSQE, timeout)
			continue
		}
		if e.ring.SQSpaceLeft() < 1 {
			return
		}
		e.fillSQE(e.ring.GetSQE(), e.unqueued.pop())
	}
}

func (e *Engine) harvest() {
	var cqes [cqeBatchSize]*giouring.CompletionQueueEvent
	for {
		n := e.ring.PeekBatchCQE(cqes[:])
		for _, cqe := range cqes[:n] {
			if cqe.UserData == 0 {
				slog.Debug("cqe without userdata", "res", cqe.Res, "flags", cqe.Flags)
				continue
			}
			c := (*Completion)(unsafe.Pointer(uintptr(cqe.UserData)))
			c.res = cqe.Res
			c.flags = cqe.Flags
			e.completed.push(c)
		}
		e.ring.CQAdvance(n)
		if n < uint32(len(cqes)) {
			return
		}
	}
}

// dispatchSnapshot drains completed and runs each callback. Draining first
// means a callback that resubmits a completion never has that resubmission
// observed within the same sweep.
func (e *Engine) dispatchSnapshot() {
	c := e.completed.drain()
	for c != nil {
		next := c.next
		c.next = nil
		c.dispatch(c)
		c = next
	}
}

func (e *Engine) fillSQE(sqe *giouring.SubmissionQueueEntry, c *Completion) {
	switch c.op.Kind {
	case KindAccept:
		sqe.PrepareAccept(c.op.FD, 0, 0, 0)
	case KindConnect:
		addrLen, err := encodeSockaddr(c.op.Addr, &c.connAddr)
		if err != nil {
			c.res = -int32(syscall.EAFNOSUPPORT)
			sqe.PrepareNop()
			sqe.UserData = 0
			e.completed.push(c)
			return
		}
		c.connAddrLen = addrLen
		sqe.PrepareConnect(c.op.FD, uintptr(unsafe.Pointer(&c.connAddr[0])), uint64(c.connAddrLen))
	case KindClose:
		sqe.PrepareClose(c.op.FD)
	case KindRead:
		sqe.PrepareRead(c.op.FD, uintptr(unsafe.Pointer(&c.op.Buffer[0])), uint32(len(c.op.Buffer)), uint64(c.op.Offset))
	case KindWrite:
		sqe.PrepareWrite(c.op.FD, uintptr(unsafe.Pointer(&c.op.Buffer[0])), uint32(len(c.op.Buffer)), uint64(c.op.Offset))
	case KindRecv:
		sqe.PrepareRecv(c.op.FD, uintptr(unsafe.Pointer(&c.op.Buffer[0])), uint32(len(c.op.Buffer)), c.op.MsgFlags)
	case KindSend:
		sqe.PrepareSend(c.op.FD, uintptr(unsafe.Pointer(&c.op.Buffer[0])), uint32(len(c.op.Buffer)), c.op.MsgFlags)
	case KindRecvMsg:
		c.msgIovec[0] = syscall.Iovec{Base: &c.op.Buffer[0]}
		c.msgIovec[0].SetLen(len(c.op.Buffer))
		c.msgHdr = syscall.Msghdr{
			Iov:     &c.msgIovec[0],
			Iovlen:  1,
			Name:    (*byte)(unsafe.Pointer(&c.peerAddr[0])),
			Namelen: uint32(len(c.peerAddr)),
		}
		sqe.PrepareRecvmsg(c.op.FD, uintptr(unsafe.Pointer(&c.msgHdr)), c.op.MsgFlags)
	case KindSendMsg:
		c.msgIovec[0] = syscall.Iovec{Base: &c.op.Buffer[0]}
		c.msgIovec[0].SetLen(len(c.op.Buffer))
		c.msgHdr = syscall.Msghdr{Iov: &c.msgIovec[0], Iovlen: 1}
		if len(c.op.Name) > 0 {
			copy(c.peerAddr[:], c.op.Name)
			c.msgHdr.Name = (*byte)(unsafe.Pointer(&c.peerAddr[0]))
			c.msgHdr.Namelen = uint32(len(c.op.Name))
		}
		sqe.PrepareSendmsg(c.op.FD, uintptr(unsafe.Pointer(&c.msgHdr)), c.op.MsgFlags)
	case KindFsync:
		sqe.PrepareFsync(c.op.FD, 0)
	case KindOpenAt:
		sqe.PrepareOpenat(c.op.Dirfd, c.op.Path, uint32(c.op.Flags), c.op.Mode)
	case KindTimeout:
		ts := syscall.NsecToTimespec(int64(c.op.Nsec))
		var flags uint32
		if c.op.Abs {
			flags = giouring.IOringTimeoutAbs
		}
		sqe.PrepareTimeout(&giouring.Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}, 0, flags)
	case KindLinkTimeout:
		ts := syscall.NsecToTimespec(int64(c.op.Nsec))
		sqe.PrepareLinkTimeout(&giouring.Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}, 0)
	case KindCancel:
		sqe.PrepareAsyncCancel(uint64(uintptr(unsafe.Pointer(c.op.Target))), 0)
	case KindCancelTimeout:
		sqe.PrepareTimeoutRemove(uint64(uintptr(unsafe.Pointer(c.op.Target))), 0)
	}
	sqe.UserData = uint64(uintptr(unsafe.Pointer(c)))
}

// --- per-operation submitters ---

func (e *Engine) Accept(c *Completion, fd int, cb AcceptCallback) {
	c.op = Operation{Kind: KindAccept, FD: fd}
	c.dispatch = func(c *Completion) {
		n, kind := errFromRes(c.res, classifyAccept)
		cb(c, AcceptResult{Socket: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Connect(c *Completion, fd int, addr syscall.Sockaddr, cb ConnectCallback) {
	c.op = Operation{Kind: KindConnect, FD: fd, Addr: addr}
	c.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyConnect)
		cb(c, ConnectResult{Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Close(c *Completion, fd int, cb CloseCallback) {
	c.op = Operation{Kind: KindClose, FD: fd}
	c.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyClose)
		cb(c, CloseResult{Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Read(c *Completion, fd int, buf []byte, offset int64, cb ReadCallback) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	c.op = Operation{Kind: KindRead, FD: fd, Buffer: buf, Offset: offset}
	c.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifyRead)
		cb(c, ReadResult{N: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Write(c *Completion, fd int, buf []byte, offset int64, cb WriteCallback) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	c.op = Operation{Kind: KindWrite, FD: fd, Buffer: buf, Offset: offset}
	c.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifyWrite)
		cb(c, WriteResult{N: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Recv(c *Completion, fd int, buf []byte, cb RecvCallback) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	c.op = Operation{Kind: KindRecv, FD: fd, Buffer: buf}
	c.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifyRecv)
		cb(c, RecvResult{N: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Send(c *Completion, fd int, buf []byte, cb SendCallback) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	c.op = Operation{Kind: KindSend, FD: fd, Buffer: buf}
	c.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifySend)
		cb(c, SendResult{N: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) RecvMsg(c *Completion, fd int, buf []byte, cb RecvMsgCallback) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	c.op = Operation{Kind: KindRecvMsg, FD: fd, Buffer: buf}
	c.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifyRecv)
		cb(c, RecvMsgResult{N: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) SendMsg(c *Completion, fd int, buf []byte, name []byte, cb SendMsgCallback) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	c.op = Operation{Kind: KindSendMsg, FD: fd, Buffer: buf, Name: name}
	c.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifySend)
		cb(c, SendMsgResult{N: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Fsync(c *Completion, fd int, cb FsyncCallback) {
	c.op = Operation{Kind: KindFsync, FD: fd}
	c.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyFsync)
		cb(c, FsyncResult{Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) OpenAt(c *Completion, dirfd int, path string, flags int, mode uint32, cb OpenAtCallback) {
	c.op = Operation{Kind: KindOpenAt, Dirfd: dirfd, Path: path, Flags: flags, Mode: mode}
	c.dispatch = func(c *Completion) {
		n, kind := errFromRes(c.res, classifyOpenAt)
		cb(c, OpenAtResult{FD: int(n), Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Timeout(c *Completion, nsec uint64, cb TimeoutCallback) {
	c.op = Operation{Kind: KindTimeout, Nsec: nsec}
	c.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyTimeout)
		cb(c, TimeoutResult{Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) Cancel(c *Completion, target *Completion, cb CancelCallback) {
	c.op = Operation{Kind: KindCancel, Target: target}
	c.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyCancel)
		cb(c, CancelResult{Err: kind})
	}
	e.enqueue(c)
}

func (e *Engine) CancelTimeout(c *Completion, target *Completion, cb CancelTimeoutCallback) {
	c.op = Operation{Kind: KindCancelTimeout, Target: target}
	c.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyCancelTimeout)
		cb(c, CancelTimeoutResult{Err: kind})
	}
	e.enqueue(c)
}

// --- linked composite submitters ---
//
// Each of these submits two completions as one IOSQE_IO_LINK pair: the main
// operation, and a relative timeout linked to it. If the timeout fires
// first, the kernel cancels the main operation and reports -ECANCELED on
// it; if the main operation finishes first, the kernel cancels the linked
// timeout and reports -ECANCELED on that instead. Exactly one composite
// callback invocation follows, carrying the main operation's result.

func (e *Engine) ConnectWithTimeout(lc *LinkedCompletion[ConnectResult], fd int, addr syscall.Sockaddr, nsec uint64, cb func(ConnectResult)) {
	lc.callback = cb
	lc.Main.op = Operation{Kind: KindConnect, FD: fd, Addr: addr}
	lc.Main.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyConnect)
		lc.fireMain(ConnectResult{Err: kind})
	}
	lc.Timeout.op = Operation{Kind: KindLinkTimeout, Nsec: nsec}
	lc.Timeout.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyTimeout)
		lc.fireTimeout(TimeoutResult{Err: kind})
	}
	e.enqueueLinked(&lc.Main, &lc.Timeout)
}

func (e *Engine) RecvWithTimeout(lc *LinkedCompletion[RecvResult], fd int, buf []byte, nsec uint64, cb func(RecvResult)) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	lc.callback = cb
	lc.Main.op = Operation{Kind: KindRecv, FD: fd, Buffer: buf}
	lc.Main.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifyRecv)
		lc.fireMain(RecvResult{N: int(n), Err: kind})
	}
	lc.Timeout.op = Operation{Kind: KindLinkTimeout, Nsec: nsec}
	lc.Timeout.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyTimeout)
		lc.fireTimeout(TimeoutResult{Err: kind})
	}
	e.enqueueLinked(&lc.Main, &lc.Timeout)
}

func (e *Engine) RecvMsgWithTimeout(lc *LinkedCompletion[RecvMsgResult], fd int, buf []byte, nsec uint64, cb func(RecvMsgResult)) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	lc.callback = cb
	lc.Main.op = Operation{Kind: KindRecvMsg, FD: fd, Buffer: buf}
	lc.Main.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifyRecv)
		lc.fireMain(RecvMsgResult{N: int(n), Err: kind})
	}
	lc.Timeout.op = Operation{Kind: KindLinkTimeout, Nsec: nsec}
	lc.Timeout.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyTimeout)
		lc.fireTimeout(TimeoutResult{Err: kind})
	}
	e.enqueueLinked(&lc.Main, &lc.Timeout)
}

func (e *Engine) SendWithTimeout(lc *LinkedCompletion[SendResult], fd int, buf []byte, nsec uint64, cb func(SendResult)) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	lc.callback = cb
	lc.Main.op = Operation{Kind: KindSend, FD: fd, Buffer: buf}
	lc.Main.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifySend)
		lc.fireMain(SendResult{N: int(n), Err: kind})
	}
	lc.Timeout.op = Operation{Kind: KindLinkTimeout, Nsec: nsec}
	lc.Timeout.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyTimeout)
		lc.fireTimeout(TimeoutResult{Err: kind})
	}
	e.enqueueLinked(&lc.Main, &lc.Timeout)
}

func (e *Engine) SendMsgWithTimeout(lc *LinkedCompletion[SendMsgResult], fd int, buf []byte, name []byte, nsec uint64, cb func(SendMsgResult)) {
	buf = buf[:BufferLimit(len(buf))]
	var pinner runtime.Pinner
	pinner.Pin(&buf[0])
	lc.callback = cb
	lc.Main.op = Operation{Kind: KindSendMsg, FD: fd, Buffer: buf, Name: name}
	lc.Main.dispatch = func(c *Completion) {
		pinner.Unpin()
		n, kind := errFromRes(c.res, classifySend)
		lc.fireMain(SendMsgResult{N: int(n), Err: kind})
	}
	lc.Timeout.op = Operation{Kind: KindLinkTimeout, Nsec: nsec}
	lc.Timeout.dispatch = func(c *Completion) {
		_, kind := errFromRes(c.res, classifyTimeout)
		lc.fireTimeout(TimeoutResult{Err: kind})
	}
	e.enqueueLinked(&lc.Main, &lc.Timeout)
}
