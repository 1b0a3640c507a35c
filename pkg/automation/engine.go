package automation

import (
	"context"
	"errors"
	"time"

	"github.com/polisai/polis-broker/pkg/domain"
)

// Handle identifies an open engine subscription. Zero and negative values are
// invalid and never refer to a live subscription.
type Handle int64

// Valid reports whether the engine returned a usable handle.
func (h Handle) Valid() bool { return h > 0 }

// Update types reported by name-list callbacks.
const (
	UpdateTypeSnapshot = "snapshot"
	UpdateTypeChange   = "update"
)

// ChangeFunc receives a name-list change set. names and values are parallel
// slices; err is an in-band engine error for this batch.
type ChangeFunc func(names []string, values []any, updateType string, err error)

// TableFunc receives a query result table.
type TableFunc func(table domain.Table, err error)

// Engine is the push API of the automation engine.
type Engine interface {
	// OpenNames subscribes to changes of the named items. With snapshot set,
	// fn is first invoked with the current values.
	OpenNames(ctx context.Context, names []string, snapshot bool, fn ChangeFunc) (Handle, error)

	// OpenQueryLatest subscribes to a query and reports only the rows of the
	// most recent change.
	OpenQueryLatest(ctx context.Context, query, window string, fn TableFunc) (Handle, error)

	// OpenQueryCumulative subscribes to a query and reports every row matched
	// since the subscription was opened.
	OpenQueryCumulative(ctx context.Context, query, window string, fn TableFunc) (Handle, error)

	// Close releases a subscription.
	Close(ctx context.Context, h Handle) error
}

// Enricher answers per-item metadata lookups for the tag feed.
type Enricher interface {
	Timestamp(ctx context.Context, name string) (time.Time, error)
	Status(ctx context.Context, name string) (string, error)
}

// Errors returned by Simulator.
var (
	ErrUnknownTag    = errors.New("unknown tag")
	ErrUnknownHandle = errors.New("unknown handle")
	ErrEmptyQuery    = errors.New("empty query")
	ErrClosed        = errors.New("engine closed")
)

// QueryColumns is the column layout of query result tables.
var QueryColumns = []string{"name", "value", "timestamp", "status"}
