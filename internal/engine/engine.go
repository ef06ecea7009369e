package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fieldsync/internal/transport"
)

// classifyAggregate wraps a part-level failure summary with the sentinel that
// matches the worst individual outcome, so item state derives the right
// retryability.
func classifyAggregate(permanent bool, format string, args ...any) error {
	sentinel := transport.ErrTransient
	if permanent {
		sentinel = transport.ErrPermanent
	}
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// ErrSyncRunning is returned by operations that cannot run while a sync pass
// holds the queue.
var ErrSyncRunning = errors.New("sync already running")

// ErrItemBusy is returned when a mutation targets an item that is currently
// mid-operation.
var ErrItemBusy = errors.New("item is being synced")

// ErrInvalidState is returned when an operation does not apply to the
// item's current lifecycle state.
var ErrInvalidState = errors.New("operation not valid in current state")

// runGuard enforces the single-flight rule: at most one sync pass per queue
// family at any time.
type runGuard struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// begin claims the guard. It returns false when a pass already holds it.
// The returned finish function releases the guard and must be called exactly
// once by the pass that claimed it.
func (g *runGuard) begin(parent context.Context) (context.Context, func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done != nil {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	g.cancel = cancel
	g.done = done

	finish := func() {
		cancel()
		g.mu.Lock()
		g.cancel = nil
		g.done = nil
		g.mu.Unlock()
		close(done)
	}
	return ctx, finish, true
}

// interrupt cancels the running pass, if any.
func (g *runGuard) interrupt() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// wait blocks until the running pass, if any, finishes.
func (g *runGuard) wait() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}

// running reports whether a pass currently holds the guard.
func (g *runGuard) running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done != nil
}

// permanentFailure reports whether err should freeze the item until a manual
// retry. Anything not explicitly rejected by the backend, including context
// cancellation, stays eligible for automatic retry.
func permanentFailure(err error) bool {
	return errors.Is(err, transport.ErrPermanent)
}
