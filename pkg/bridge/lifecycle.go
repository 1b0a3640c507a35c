package bridge

import (
	"context"
	"sync"

	"github.com/polisai/polis-broker/pkg/automation"
)

// Closer releases an engine handle.
type Closer interface {
	Close(ctx context.Context, h automation.Handle)
}

// Lifecycle ties one engine handle to one subscription and closes it at most
// once, whichever of consumer cancel, context end, or a failed open gets
// there first.
type Lifecycle struct {
	closer Closer
	ctx    context.Context

	mu       sync.Mutex
	handle   automation.Handle
	attached bool
	closed   bool
}

// NewLifecycle creates a controller. Values carried by ctx (trace spans) are
// kept for the eventual close; its cancellation is not.
func NewLifecycle(ctx context.Context, closer Closer) *Lifecycle {
	return &Lifecycle{
		closer: closer,
		ctx:    context.WithoutCancel(ctx),
	}
}

// Attach stores h. If Teardown already ran, h is closed immediately and
// Attach returns false.
func (l *Lifecycle) Attach(h automation.Handle) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.closer.Close(l.ctx, h)
		return false
	}
	l.handle = h
	l.attached = true
	l.mu.Unlock()
	return true
}

// Teardown closes the attached handle. Only the first call has an effect;
// if nothing is attached yet, the handle is closed by Attach instead.
func (l *Lifecycle) Teardown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	h, attached := l.handle, l.attached
	l.mu.Unlock()

	if attached {
		l.closer.Close(l.ctx, h)
	}
}

// Closed reports whether Teardown has run.
func (l *Lifecycle) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
