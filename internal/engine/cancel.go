package engine

import (
	"context"
	"sync/atomic"
)

// CancellationToken is a one-way stop flag shared by every task of a
// search. The attached context is cancelled when the flag is set so that
// blocked waits can select on Done.
type CancellationToken struct {
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCancellationToken returns a token that also trips when parent is done.
func NewCancellationToken(parent context.Context) *CancellationToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancellationToken{ctx: ctx, cancel: cancel}
}

// RequestStop sets the flag. Calling it more than once has no further
// effect.
func (t *CancellationToken) RequestStop() {
	if t.stopped.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// IsStopRequested reports whether the search should stop expanding work.
func (t *CancellationToken) IsStopRequested() bool {
	if t.stopped.Load() {
		return true
	}
	select {
	case <-t.ctx.Done():
		t.stopped.Store(true)
		return true
	default:
		return false
	}
}

// Done is closed once a stop has been requested.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns the context that is cancelled with the token.
func (t *CancellationToken) Context() context.Context {
	return t.ctx
}
