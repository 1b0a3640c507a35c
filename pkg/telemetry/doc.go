// Package telemetry wires OpenTelemetry tracing and meters for the broker.
//
// It centralises trace provider setup, exposes the tracer used for
// subscription and bridge spans, and records enrichment lookup metrics so
// operators can see when tag feeds are degrading to partial data.
package telemetry
