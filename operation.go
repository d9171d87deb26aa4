package aio

import "syscall"

// Kind tags which operation an Operation / Completion describes.
type Kind int

const (
	KindAccept Kind = iota
	KindCancel
	KindCancelTimeout
	KindClose
	KindConnect
	KindFsync
	KindLinkTimeout
	KindOpenAt
	KindRead
	KindRecv
	KindRecvMsg
	KindSend
	KindSendMsg
	KindTimeout
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindCancel:
		return "cancel"
	case KindCancelTimeout:
		return "cancel_timeout"
	case KindClose:
		return "close"
	case KindConnect:
		return "connect"
	case KindFsync:
		return "fsync"
	case KindLinkTimeout:
		return "link_timeout"
	case KindOpenAt:
		return "openat"
	case KindRead:
		return "read"
	case KindRecv:
		return "recv"
	case KindRecvMsg:
		return "recvmsg"
	case KindSend:
		return "send"
	case KindSendMsg:
		return "sendmsg"
	case KindTimeout:
		return "timeout"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Operation is the tagged union of every operation the engine supports.
// Only the fields relevant to Kind are populated by a given submitter; the
// rest stay zero. This mirrors a union sized to its largest payload instead
// of a boxed interface per tag, so submitting an operation never allocates.
type Operation struct {
	Kind Kind

	FD     int
	Offset int64 // read/write

	Buffer []byte // read/write/recv/send/recvmsg/sendmsg

	Addr     syscall.Sockaddr // connect target
	Name     []byte           // sendmsg destination address bytes; recvmsg does not set or fill it
	MsgFlags int32            // recv/recvmsg/send/sendmsg flags

	Dirfd int    // openat directory fd
	Path  string // openat path
	Flags int    // openat flags
	Mode  uint32 // openat mode

	Nsec uint64 // timeout/link_timeout duration in nanoseconds (or absolute deadline if Abs)
	Abs  bool   // Nsec is an absolute monotonic deadline rather than a relative duration; only RunForNs's internal timeout sets this

	Target *Completion // cancel/cancel_timeout target identity
}
