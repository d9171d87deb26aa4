package aio

// LinkedCompletion is a pair of completions submitted together so that one
// (Timeout) can cancel the other (Main) if the deadline fires first, and so
// the main operation's own completion cancels Timeout if it finishes first.
// M is the main operation's result type (ConnectResult, RecvResult,
// RecvMsgResult, SendResult, or SendMsgResult).
//
// The composite user callback fires exactly once, after both halves have
// reported, with the main operation's result. Exactly one of the following
// holds: the main operation finished before the deadline and Timeout's own
// result is IOErrorCanceled, or the deadline fired first and Main's own
// result is IOErrorCanceled.
type LinkedCompletion[M any] struct {
	Main    Completion
	Timeout Completion

	mainResult    M
	mainSet       bool
	timeoutResult TimeoutResult
	timeoutSet    bool

	callback func(M)
}

// fireMain records the main half's result and dispatches the composite
// callback once both halves are in.
func (lc *LinkedCompletion[M]) fireMain(result M) {
	lc.mainResult = result
	lc.mainSet = true
	lc.maybeFire()
}

func (lc *LinkedCompletion[M]) fireTimeout(result TimeoutResult) {
	lc.timeoutResult = result
	lc.timeoutSet = true
	lc.maybeFire()
}

func (lc *LinkedCompletion[M]) maybeFire() {
	if !lc.mainSet || !lc.timeoutSet {
		return
	}
	cb := lc.callback
	result := lc.mainResult
	// Clear before invoking so a callback that resubmits through the same
	// LinkedCompletion storage starts from a clean slate.
	lc.mainSet, lc.timeoutSet = false, false
	cb(result)
}
