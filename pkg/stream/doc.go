// Package stream adapts feed iterators to transports: Server-Sent Events over
// HTTP, and JSON-lines or CBOR-sequence encoders for byte streams.
package stream
