package aio

// Each operation's result carries exactly the success payload that
// operation can produce, plus an IOError restricted to that operation's
// closed error-kind set (IOErrorNone on success).

type AcceptResult struct {
	Socket int
	Err    IOError
}

type ConnectResult struct {
	Err IOError
}

type CloseResult struct {
	Err IOError
}

type ReadResult struct {
	N   int
	Err IOError
}

type WriteResult struct {
	N   int
	Err IOError
}

type RecvResult struct {
	N   int
	Err IOError
}

type RecvMsgResult struct {
	N   int
	Err IOError
}

type SendResult struct {
	N   int
	Err IOError
}

type SendMsgResult struct {
	N   int
	Err IOError
}

type FsyncResult struct {
	Err IOError
}

type OpenAtResult struct {
	FD  int
	Err IOError
}

type TimeoutResult struct {
	Err IOError
}

type CancelResult struct {
	Err IOError
}

type CancelTimeoutResult struct {
	Err IOError
}

type (
	AcceptCallback        func(completion *Completion, result AcceptResult)
	ConnectCallback       func(completion *Completion, result ConnectResult)
	CloseCallback         func(completion *Completion, result CloseResult)
	ReadCallback          func(completion *Completion, result ReadResult)
	WriteCallback         func(completion *Completion, result WriteResult)
	RecvCallback          func(completion *Completion, result RecvResult)
	RecvMsgCallback       func(completion *Completion, result RecvMsgResult)
	SendCallback          func(completion *Completion, result SendResult)
	SendMsgCallback       func(completion *Completion, result SendMsgResult)
	FsyncCallback         func(completion *Completion, result FsyncResult)
	OpenAtCallback        func(completion *Completion, result OpenAtResult)
	TimeoutCallback       func(completion *Completion, result TimeoutResult)
	CancelCallback        func(completion *Completion, result CancelResult)
	CancelTimeoutCallback func(completion *Completion, result CancelTimeoutResult)
)
