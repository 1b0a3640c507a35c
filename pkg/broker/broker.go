package broker

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Outcome describes what happened to a published event for one subscriber.
type Outcome string

const (
	// OutcomeDelivered means the event was handed to a suspended Next call.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeQueued means the event was appended to the subscriber's queue.
	OutcomeQueued Outcome = "queued"
	// OutcomeDropped means no running subscriber received the event.
	OutcomeDropped Outcome = "dropped"
)

// Observer receives registry notifications. Implementations must be safe for
// concurrent use and must not call back into the Broker.
type Observer interface {
	ChannelOpened()
	ChannelClosed()
	EventPublished(outcome Outcome)
	EventEvicted()
}

type noopObserver struct{}

func (noopObserver) ChannelOpened()         {}
func (noopObserver) ChannelClosed()         {}
func (noopObserver) EventPublished(Outcome) {}
func (noopObserver) EventEvicted()          {}

// Broker is the registry of active channels. The zero value is not usable;
// create one with New.
type Broker[T any] struct {
	mu       sync.RWMutex
	channels map[string][]*Iterator[T]
	newQueue QueueFactory[T]
	observer Observer
	logger   *slog.Logger
}

// Option configures a Broker.
type Option[T any] func(*Broker[T])

// WithQueueFactory sets the queue used by new subscriptions.
func WithQueueFactory[T any](factory QueueFactory[T]) Option[T] {
	return func(b *Broker[T]) {
		if factory != nil {
			b.newQueue = factory
		}
	}
}

// WithObserver sets the registry observer.
func WithObserver[T any](observer Observer) Option[T] {
	return func(b *Broker[T]) {
		if observer != nil {
			b.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(b *Broker[T]) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty broker. Subscriptions use unbounded queues unless a
// QueueFactory option says otherwise.
func New[T any](opts ...Option[T]) *Broker[T] {
	b := &Broker[T]{
		channels: make(map[string][]*Iterator[T]),
		newQueue: NewUnboundedQueue[T],
		observer: noopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewChannelID returns a fresh, process-unique channel identifier.
func NewChannelID() string {
	return uuid.NewString()
}

// SetQueueFactory replaces the queue factory for subscriptions created after
// the call. Existing iterators keep their queues.
func (b *Broker[T]) SetQueueFactory(factory QueueFactory[T]) {
	if factory == nil {
		return
	}
	b.mu.Lock()
	b.newQueue = factory
	b.mu.Unlock()
}

// Subscribe registers a new subscriber sink under channelID and returns the
// iterator that owns it.
func (b *Broker[T]) Subscribe(channelID string) *Iterator[T] {
	b.mu.Lock()
	it := newIterator(b, channelID, b.newQueue())
	sinks := b.channels[channelID]
	b.channels[channelID] = append(sinks, it)
	opened := len(sinks) == 0
	b.mu.Unlock()

	if opened {
		b.observer.ChannelOpened()
		b.logger.Debug("Channel opened", "channel_id", channelID)
	}
	return it
}

// Publish delivers event to every subscriber of channelID. Publishing to a
// channel without subscribers is a no-op.
func (b *Broker[T]) Publish(channelID string, event T) {
	b.mu.RLock()
	sinks := slices.Clone(b.channels[channelID])
	b.mu.RUnlock()

	if len(sinks) == 0 {
		b.observer.EventPublished(OutcomeDropped)
		return
	}

	for _, it := range sinks {
		outcome, evicted := it.push(event)
		b.observer.EventPublished(outcome)
		if evicted {
			b.observer.EventEvicted()
		}
	}
}

// HasChannel reports whether channelID has at least one subscriber.
func (b *Broker[T]) HasChannel(channelID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.channels[channelID]
	return ok
}

// Subscribers returns the number of subscribers registered on channelID.
func (b *Broker[T]) Subscribers(channelID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channelID])
}

// Channels returns the number of active channels.
func (b *Broker[T]) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// unregister removes it from its channel, deleting the channel entry when it
// was the last subscriber.
func (b *Broker[T]) unregister(it *Iterator[T]) {
	b.mu.Lock()
	sinks := b.channels[it.channelID]
	idx := slices.Index(sinks, it)
	if idx < 0 {
		b.mu.Unlock()
		return
	}
	sinks = slices.Delete(sinks, idx, idx+1)
	closed := len(sinks) == 0
	if closed {
		delete(b.channels, it.channelID)
	} else {
		b.channels[it.channelID] = sinks
	}
	b.mu.Unlock()

	if closed {
		b.observer.ChannelClosed()
		b.logger.Debug("Channel closed", "channel_id", it.channelID)
	}
}
