// Package subscription provides the entry points a transport calls to start a
// streaming feed. Each entry point validates its request, opens the engine
// connection through a bridge and returns a ready iterator. Cancelling the
// iterator, or the context passed to the entry point, closes the engine
// connection exactly once and removes the channel.
package subscription
