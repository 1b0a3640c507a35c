// Package domain defines the core types shared by the subscription broker.
//
// This package contains pure domain types with ZERO external dependencies
// outside the Go standard library:
//
//   - Event variants delivered to streaming consumers (names, query, tags)
//   - The result table shape produced by engine queries
//   - The error taxonomy surfaced by subscription entry points
//
// Other packages (broker, bridge, subscription, stream) depend on these types.
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
