package broker

// Queue is the pending-event buffer behind an Iterator. Implementations are
// not safe for concurrent use; the owning Iterator serializes access.
type Queue[T any] interface {
	// Push appends v. It returns true if an older element was evicted to
	// make room.
	Push(v T) bool

	// Pop removes and returns the oldest element.
	Pop() (T, bool)

	// Len returns the number of queued elements.
	Len() int

	// Clear drops every queued element.
	Clear()
}

// QueueFactory creates the queue for a new subscription.
type QueueFactory[T any] func() Queue[T]

// QueueFactoryFor returns a factory for bounded queues of the given capacity,
// or unbounded queues when capacity is zero or negative.
func QueueFactoryFor[T any](capacity int) QueueFactory[T] {
	if capacity <= 0 {
		return NewUnboundedQueue[T]
	}
	return func() Queue[T] {
		return NewBoundedQueue[T](capacity)
	}
}

// unboundedQueue is a slice-backed FIFO that never evicts.
type unboundedQueue[T any] struct {
	items []T
	head  int
}

// NewUnboundedQueue creates a FIFO queue without an upper bound.
func NewUnboundedQueue[T any]() Queue[T] {
	return &unboundedQueue[T]{}
}

func (q *unboundedQueue[T]) Push(v T) bool {
	q.items = append(q.items, v)
	return false
}

func (q *unboundedQueue[T]) Pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

func (q *unboundedQueue[T]) Len() int {
	return len(q.items) - q.head
}

func (q *unboundedQueue[T]) Clear() {
	clear(q.items)
	q.items = nil
	q.head = 0
}

// defaultBoundedCapacity applies when NewBoundedQueue gets a non-positive size.
const defaultBoundedCapacity = 100

// ringQueue is a fixed-size circular buffer with oldest-first eviction.
// Pop reads at head and Push writes at tail; both wrap at capacity.
type ringQueue[T any] struct {
	items    []T
	head     int
	tail     int
	size     int
	capacity int
}

// NewBoundedQueue creates a circular queue holding at most capacity elements.
// Pushing into a full queue evicts the oldest element.
func NewBoundedQueue[T any](capacity int) Queue[T] {
	if capacity <= 0 {
		capacity = defaultBoundedCapacity
	}
	return &ringQueue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

func (q *ringQueue[T]) Push(v T) bool {
	evicted := false

	q.items[q.tail] = v
	q.tail = (q.tail + 1) % q.capacity

	if q.size < q.capacity {
		q.size++
	} else {
		// Buffer is full, advance head to evict oldest
		q.head = (q.head + 1) % q.capacity
		evicted = true
	}

	return evicted
}

func (q *ringQueue[T]) Pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.size--
	return v, true
}

func (q *ringQueue[T]) Len() int {
	return q.size
}

func (q *ringQueue[T]) Clear() {
	clear(q.items)
	q.head = 0
	q.tail = 0
	q.size = 0
}
