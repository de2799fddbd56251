// Package timer provides the single-shot, cancellable timeout used by
// medium reads and the CSMA/CA sender. Per the redesign note in the
// simulator's design notes, it leans on context's native deadline support
// (the idiom already used in internal/transport.AsyncTx for
// cancellation) rather than a dedicated
// OS-signal-driven timer thread.
package timer

import (
	"context"
	"time"
)

// Timer arms a cancellable, one-shot deadline for a single waiter.
type Timer struct{}

// New returns a ready-to-use Timer.
func New() *Timer { return &Timer{} }

// Start arms an alarm of duration d rooted at parent. The returned context's
// Done channel closes (waking the owner) either when d elapses — Err()
// reports context.DeadlineExceeded, the "timed out" signal — or when the
// returned cancel func is called, or when parent itself is cancelled (e.g.
// a station kill). Cancel is always safe to call and idempotent.
func (t *Timer) Start(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// TimedOut reports whether ctx (as returned by Start) ended because its
// deadline elapsed, as opposed to being cancelled for another reason.
func TimedOut(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}
