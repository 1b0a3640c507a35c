package broker

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrConcurrentNext is returned when Next is called while another Next call
// on the same iterator is still suspended.
var ErrConcurrentNext = errors.New("broker: concurrent Next on iterator")

// Iterator is the pull side of one subscription.
type Iterator[T any] struct {
	broker    *Broker[T]
	channelID string

	mu        sync.Mutex
	queue     Queue[T]
	waiter    chan T // set while a Next call is suspended
	running   bool
	teardowns []func()
	done      chan struct{}
}

func newIterator[T any](b *Broker[T], channelID string, queue Queue[T]) *Iterator[T] {
	return &Iterator[T]{
		broker:    b,
		channelID: channelID,
		queue:     queue,
		running:   true,
		done:      make(chan struct{}),
	}
}

// ChannelID returns the channel this iterator is subscribed to.
func (it *Iterator[T]) ChannelID() string {
	return it.channelID
}

// Next returns the next event. It blocks while the queue is empty and the
// subscription is running. It returns ok=false once the iterator has been
// cancelled. If ctx ends first, Next returns ctx.Err() and the subscription
// stays active.
func (it *Iterator[T]) Next(ctx context.Context) (event T, ok bool, err error) {
	var zero T

	it.mu.Lock()
	if v, ok := it.queue.Pop(); ok {
		it.mu.Unlock()
		return v, true, nil
	}
	if !it.running {
		it.mu.Unlock()
		return zero, false, nil
	}
	if it.waiter != nil {
		it.mu.Unlock()
		return zero, false, ErrConcurrentNext
	}
	w := make(chan T, 1)
	it.waiter = w
	it.mu.Unlock()

	select {
	case v, ok := <-w:
		return v, ok, nil
	case <-ctx.Done():
		it.mu.Lock()
		if it.waiter == w {
			it.waiter = nil
			it.mu.Unlock()
			return zero, false, ctx.Err()
		}
		it.mu.Unlock()
		// The waiter was resolved concurrently; w is either filled or closed.
		v, ok := <-w
		return v, ok, nil
	}
}

// All returns a range-over-func sequence of events. Iteration ends when the
// iterator is cancelled or ctx ends. Breaking out of the loop does not cancel
// the subscription.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok, err := it.Next(ctx)
			if err != nil || !ok {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// OnCancel registers fn to run once when the iterator is cancelled. If the
// iterator is already cancelled, fn runs immediately.
func (it *Iterator[T]) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	it.mu.Lock()
	if it.running {
		it.teardowns = append(it.teardowns, fn)
		it.mu.Unlock()
		return
	}
	it.mu.Unlock()
	fn()
}

// Cancel stops the subscription. It is safe to call more than once and from
// any goroutine; only the first call has an effect.
func (it *Iterator[T]) Cancel() {
	it.mu.Lock()
	if !it.running {
		it.mu.Unlock()
		return
	}
	it.running = false
	it.queue.Clear()
	w := it.waiter
	it.waiter = nil
	teardowns := it.teardowns
	it.teardowns = nil
	it.mu.Unlock()

	if w != nil {
		close(w)
	}
	it.broker.unregister(it)

	for _, fn := range teardowns {
		fn()
	}
	close(it.done)
}

// Close cancels the iterator. It always returns nil.
func (it *Iterator[T]) Close() error {
	it.Cancel()
	return nil
}

// Done returns a channel closed once cancellation has completed, after the
// channel was unregistered and teardown callbacks returned.
func (it *Iterator[T]) Done() <-chan struct{} {
	return it.done
}

// Running reports whether the iterator has not been cancelled.
func (it *Iterator[T]) Running() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.running
}

// Pending returns the number of queued events.
func (it *Iterator[T]) Pending() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.queue.Len()
}

// push hands v to a suspended Next call or queues it.
func (it *Iterator[T]) push(v T) (Outcome, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if !it.running {
		return OutcomeDropped, false
	}
	if it.waiter != nil {
		// Buffered with capacity one and used once, so this never blocks.
		it.waiter <- v
		it.waiter = nil
		return OutcomeDelivered, false
	}
	evicted := it.queue.Push(v)
	return OutcomeQueued, evicted
}

func (it *Iterator[T]) suspended() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.waiter != nil
}
