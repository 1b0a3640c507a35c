// Package broker turns push-style callbacks into pull-style iteration.
//
// A Broker owns the registry of ephemeral channels. Each subscription creates
// its own channel and receives an Iterator; publishers push events into the
// channel by identifier, and the iterator's consumer pulls them with Next.
//
// Delivery rules:
//
//   - Events on one channel are delivered in publish order.
//   - Publishing to a channel without subscribers drops the event.
//   - An event published while the consumer is suspended in Next is handed
//     to it directly; otherwise it is queued.
//   - Cancel is idempotent. It wakes a suspended Next with Done, removes the
//     channel once its last subscriber leaves, and runs the registered
//     teardown callbacks exactly once.
//
// The queue behind each iterator is unbounded by default. A bounded,
// oldest-first evicting queue can be selected through a QueueFactory without
// changing publishers.
package broker
