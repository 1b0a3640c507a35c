// Package automation defines the contract of the automation engine push API
// consumed by the bridges, and provides Simulator, an in-memory engine used by
// the CLI and by tests.
//
// The engine reports changes through callbacks. Callbacks for one handle are
// never invoked concurrently, and no callback for a handle is invoked after
// Close for that handle has returned.
package automation
