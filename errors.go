package aio

import "syscall"

// IOError is the closed set of error kinds a completion's result can carry.
// Each operation only ever produces a subset of these (see the classify*
// functions below, one per operation, mirroring the tables in the engine's
// specification); IOErrorNone means the operation succeeded.
type IOError int

const (
	IOErrorNone IOError = iota
	IOErrorAgain
	IOErrorCanceled
	IOErrorUnexpected

	IOErrorFileDescriptorInvalid
	IOErrorFileDescriptorNotASocket
	IOErrorPermissionDenied
	IOErrorSystemResources
	IOErrorProcessFdQuotaExceeded
	IOErrorSystemFdQuotaExceeded

	// accept
	IOErrorConnectionAborted
	IOErrorSocketNotListening
	IOErrorOperationNotSupported
	IOErrorProtocolFailure

	// connect
	IOErrorAccessDenied
	IOErrorAddressInUse
	IOErrorAddressNotAvailable
	IOErrorAddressFamilyNotSupported
	IOErrorOpenAlreadyInProgress
	IOErrorConnectionRefused
	IOErrorAlreadyConnected
	IOErrorNetworkUnreachable
	IOErrorFileNotFound
	IOErrorProtocolNotSupported
	IOErrorConnectionTimedOut

	// close / fsync / write
	IOErrorDiskQuota
	IOErrorInputOutput
	IOErrorNoSpaceLeft

	// read
	IOErrorNotOpenForReading
	IOErrorAlignment
	IOErrorIsDir
	IOErrorUnseekable

	// write
	IOErrorNotOpenForWriting
	IOErrorNotConnected
	IOErrorFileTooBig
	IOErrorBrokenPipe

	// recv / recvmsg
	IOErrorSocketNotConnected
	IOErrorConnectionResetByPeer

	// send / sendmsg
	IOErrorFastOpenAlreadyInProgress
	IOErrorMessageTooBig

	// fsync
	IOErrorArgumentsInvalid
	IOErrorReadOnlyFileSystem

	// openat
	IOErrorDeviceBusy
	IOErrorPathAlreadyExists
	IOErrorSymLinkLoop
	IOErrorNameTooLong
	IOErrorNoDevice
	IOErrorNotDir
	IOErrorFileLocksNotSupported

	// cancel / cancel_timeout
	IOErrorAlreadyInProgress
	IOErrorNotFound
)

func (e IOError) Error() string {
	switch e {
	case IOErrorNone:
		return "success"
	case IOErrorAgain:
		return "resource temporarily unavailable"
	case IOErrorCanceled:
		return "operation canceled"
	case IOErrorFileDescriptorInvalid:
		return "file descriptor invalid"
	case IOErrorFileDescriptorNotASocket:
		return "file descriptor is not a socket"
	case IOErrorPermissionDenied:
		return "permission denied"
	case IOErrorSystemResources:
		return "insufficient system resources"
	case IOErrorProcessFdQuotaExceeded:
		return "process file descriptor quota exceeded"
	case IOErrorSystemFdQuotaExceeded:
		return "system file descriptor quota exceeded"
	case IOErrorConnectionAborted:
		return "connection aborted"
	case IOErrorSocketNotListening:
		return "socket not listening"
	case IOErrorOperationNotSupported:
		return "operation not supported"
	case IOErrorProtocolFailure:
		return "protocol failure"
	case IOErrorAccessDenied:
		return "access denied"
	case IOErrorAddressInUse:
		return "address in use"
	case IOErrorAddressNotAvailable:
		return "address not available"
	case IOErrorAddressFamilyNotSupported:
		return "address family not supported"
	case IOErrorOpenAlreadyInProgress:
		return "open already in progress"
	case IOErrorConnectionRefused:
		return "connection refused"
	case IOErrorAlreadyConnected:
		return "already connected"
	case IOErrorNetworkUnreachable:
		return "network unreachable"
	case IOErrorFileNotFound:
		return "file not found"
	case IOErrorProtocolNotSupported:
		return "protocol not supported"
	case IOErrorConnectionTimedOut:
		return "connection timed out"
	case IOErrorDiskQuota:
		return "disk quota exceeded"
	case IOErrorInputOutput:
		return "input/output error"
	case IOErrorNoSpaceLeft:
		return "no space left on device"
	case IOErrorNotOpenForReading:
		return "not open for reading"
	case IOErrorAlignment:
		return "alignment error"
	case IOErrorIsDir:
		return "is a directory"
	case IOErrorUnseekable:
		return "file descriptor is not seekable"
	case IOErrorNotOpenForWriting:
		return "not open for writing"
	case IOErrorNotConnected:
		return "not connected"
	case IOErrorFileTooBig:
		return "file too big"
	case IOErrorBrokenPipe:
		return "broken pipe"
	case IOErrorSocketNotConnected:
		return "socket not connected"
	case IOErrorConnectionResetByPeer:
		return "connection reset by peer"
	case IOErrorFastOpenAlreadyInProgress:
		return "fast open already in progress"
	case IOErrorMessageTooBig:
		return "message too big"
	case IOErrorArgumentsInvalid:
		return "arguments invalid"
	case IOErrorReadOnlyFileSystem:
		return "read-only file system"
	case IOErrorDeviceBusy:
		return "device busy"
	case IOErrorPathAlreadyExists:
		return "path already exists"
	case IOErrorSymLinkLoop:
		return "symlink loop"
	case IOErrorNameTooLong:
		return "name too long"
	case IOErrorNoDevice:
		return "no such device"
	case IOErrorNotDir:
		return "not a directory"
	case IOErrorFileLocksNotSupported:
		return "file locks not supported"
	case IOErrorAlreadyInProgress:
		return "already in progress"
	case IOErrorNotFound:
		return "not found"
	default:
		return "unexpected error"
	}
}

// classifyAccept maps errno onto the closed set accept can report.
func classifyAccept(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EAGAIN, syscall.EWOULDBLOCK:
		return IOErrorAgain
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.ECONNABORTED:
		return IOErrorConnectionAborted
	case syscall.EINVAL:
		return IOErrorSocketNotListening
	case syscall.EMFILE:
		return IOErrorProcessFdQuotaExceeded
	case syscall.ENFILE:
		return IOErrorSystemFdQuotaExceeded
	case syscall.ENOBUFS, syscall.ENOMEM:
		return IOErrorSystemResources
	case syscall.ENOTSOCK:
		return IOErrorFileDescriptorNotASocket
	case syscall.EOPNOTSUPP:
		return IOErrorOperationNotSupported
	case syscall.EPERM:
		return IOErrorPermissionDenied
	case syscall.EPROTO:
		return IOErrorProtocolFailure
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyConnect(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EACCES:
		return IOErrorAccessDenied
	case syscall.EADDRINUSE:
		return IOErrorAddressInUse
	case syscall.EADDRNOTAVAIL:
		return IOErrorAddressNotAvailable
	case syscall.EAFNOSUPPORT:
		return IOErrorAddressFamilyNotSupported
	case syscall.EAGAIN:
		return IOErrorAgain
	case syscall.EALREADY:
		return IOErrorOpenAlreadyInProgress
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.ECONNREFUSED:
		return IOErrorConnectionRefused
	case syscall.EISCONN:
		return IOErrorAlreadyConnected
	case syscall.ENETUNREACH:
		return IOErrorNetworkUnreachable
	case syscall.ENOENT:
		return IOErrorFileNotFound
	case syscall.ENOTSOCK:
		return IOErrorFileDescriptorNotASocket
	case syscall.EPERM:
		return IOErrorPermissionDenied
	case syscall.EPROTOTYPE:
		return IOErrorProtocolNotSupported
	case syscall.ETIMEDOUT:
		return IOErrorConnectionTimedOut
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyClose(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.EDQUOT:
		return IOErrorDiskQuota
	case syscall.EIO:
		return IOErrorInputOutput
	case syscall.ENOSPC:
		return IOErrorNoSpaceLeft
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyRead(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EBADF, syscall.EINVAL:
		return IOErrorNotOpenForReading
	case syscall.EIO:
		return IOErrorInputOutput
	case syscall.EISDIR:
		return IOErrorIsDir
	case syscall.ENOBUFS, syscall.ENOMEM:
		return IOErrorSystemResources
	case syscall.ESPIPE:
		return IOErrorUnseekable
	case syscall.EAGAIN:
		return IOErrorAgain
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyWrite(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EBADF:
		return IOErrorNotOpenForWriting
	case syscall.EDQUOT:
		return IOErrorDiskQuota
	case syscall.EFBIG:
		return IOErrorFileTooBig
	case syscall.EIO:
		return IOErrorInputOutput
	case syscall.ENOSPC:
		return IOErrorNoSpaceLeft
	case syscall.ENOBUFS, syscall.ENOMEM:
		return IOErrorSystemResources
	case syscall.ESPIPE:
		return IOErrorUnseekable
	case syscall.EPIPE:
		return IOErrorBrokenPipe
	case syscall.EPERM, syscall.EACCES:
		return IOErrorAccessDenied
	case syscall.ENOTCONN:
		return IOErrorNotConnected
	case syscall.EAGAIN:
		return IOErrorAgain
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyRecv(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EAGAIN, syscall.EWOULDBLOCK:
		return IOErrorAgain
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.ECONNREFUSED:
		return IOErrorConnectionRefused
	case syscall.ENOBUFS, syscall.ENOMEM:
		return IOErrorSystemResources
	case syscall.ENOTCONN:
		return IOErrorSocketNotConnected
	case syscall.ENOTSOCK:
		return IOErrorFileDescriptorNotASocket
	case syscall.ECONNRESET:
		return IOErrorConnectionResetByPeer
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifySend(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EACCES:
		return IOErrorAccessDenied
	case syscall.EAGAIN, syscall.EWOULDBLOCK:
		return IOErrorAgain
	case syscall.EALREADY:
		return IOErrorFastOpenAlreadyInProgress
	case syscall.EAFNOSUPPORT:
		return IOErrorAddressFamilyNotSupported
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.ECONNRESET:
		return IOErrorConnectionResetByPeer
	case syscall.EMSGSIZE:
		return IOErrorMessageTooBig
	case syscall.ENOBUFS, syscall.ENOMEM:
		return IOErrorSystemResources
	case syscall.ENOTCONN:
		return IOErrorSocketNotConnected
	case syscall.ENOTSOCK:
		return IOErrorFileDescriptorNotASocket
	case syscall.EOPNOTSUPP:
		return IOErrorOperationNotSupported
	case syscall.EPIPE:
		return IOErrorBrokenPipe
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyFsync(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.EDQUOT:
		return IOErrorDiskQuota
	case syscall.EINVAL:
		return IOErrorArgumentsInvalid
	case syscall.EIO:
		return IOErrorInputOutput
	case syscall.ENOSPC:
		return IOErrorNoSpaceLeft
	case syscall.EROFS:
		return IOErrorReadOnlyFileSystem
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyOpenAt(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EACCES:
		return IOErrorAccessDenied
	case syscall.EBADF:
		return IOErrorFileDescriptorInvalid
	case syscall.EBUSY:
		return IOErrorDeviceBusy
	case syscall.EEXIST:
		return IOErrorPathAlreadyExists
	case syscall.EFBIG, syscall.EOVERFLOW:
		return IOErrorFileTooBig
	case syscall.EINVAL:
		return IOErrorArgumentsInvalid
	case syscall.EISDIR:
		return IOErrorIsDir
	case syscall.ELOOP:
		return IOErrorSymLinkLoop
	case syscall.EMFILE:
		return IOErrorProcessFdQuotaExceeded
	case syscall.ENAMETOOLONG:
		return IOErrorNameTooLong
	case syscall.ENFILE:
		return IOErrorSystemFdQuotaExceeded
	case syscall.ENODEV:
		return IOErrorNoDevice
	case syscall.ENOENT:
		return IOErrorFileNotFound
	case syscall.ENOMEM:
		return IOErrorSystemResources
	case syscall.ENOSPC:
		return IOErrorNoSpaceLeft
	case syscall.ENOTDIR:
		return IOErrorNotDir
	case syscall.EAGAIN:
		return IOErrorAgain
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}

func classifyTimeout(errno syscall.Errno) IOError {
	switch errno {
	case syscall.ECANCELED:
		return IOErrorCanceled
	case syscall.ETIME:
		return IOErrorNone // the expected "successful" expiry indication on io_uring
	default:
		return IOErrorUnexpected
	}
}

func classifyCancel(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EALREADY:
		return IOErrorAlreadyInProgress
	case syscall.ENOENT:
		return IOErrorNotFound
	default:
		return IOErrorUnexpected
	}
}

// errFromRes converts a raw syscall-style result (non-negative value on
// success, -errno on failure) into (value, IOError) using classify for
// anything negative. Both backends represent a completion's raw result this
// way: the io_uring backend copies it straight from the CQE, the kqueue
// backend fills it in itself after running the syscall inline.
func errFromRes(res int32, classify func(syscall.Errno) IOError) (int32, IOError) {
	if res >= 0 {
		return res, IOErrorNone
	}
	return 0, classify(syscall.Errno(-res))
}

func classifyCancelTimeout(errno syscall.Errno) IOError {
	switch errno {
	case syscall.EALREADY:
		return IOErrorAlreadyInProgress
	case syscall.ENOENT:
		return IOErrorNotFound
	case syscall.ECANCELED:
		return IOErrorCanceled
	default:
		return IOErrorUnexpected
	}
}
