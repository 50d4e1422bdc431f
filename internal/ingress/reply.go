package ingress

import "sync/atomic"

// replyHandle is the single-shot resolver behind domain.ReplyHandle for
// one HTTP session. The writer and the soft-ack timer race to call
// Resolve; only the first call's (status, body) is ever written, guarded by an
// atomic compare-and-swap rather than a strand, since each request is
// handled by exactly one goroutine plus one timer goroutine and neither
// touches the ResponseWriter except through this handle.
type replyHandle struct {
	resolved atomic.Bool
	result   chan result
}

type result struct {
	status int
	body   string
}

func newReplyHandle() *replyHandle {
	return &replyHandle{result: make(chan result, 1)}
}

// Resolve implements domain.ReplyHandle. Only the first caller's value is
// delivered; later callers are silent no-ops.
func (r *replyHandle) Resolve(status int, body string) {
	if !r.resolved.CompareAndSwap(false, true) {
		return
	}
	r.result <- result{status: status, body: body}
}
