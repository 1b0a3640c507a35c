package bridge

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/domain"
)

// TagsSpec selects the items of a tag feed.
type TagsSpec struct {
	Names []string
}

// TagBridge connects a tag feed to the engine. Each reported item is enriched
// with its timestamp and status; a failed lookup leaves that field nil and
// never drops the batch.
//
// Enrichment runs inside the engine callback, so the engine's dispatch for
// that batch waits for it. An engine that serializes all callbacks, as the
// simulator does, is held for up to one lookup timeout per wave of lookups.
type TagBridge struct {
	*connector
	enricher    automation.Enricher
	lookups     LookupRecorder
	timeout     time.Duration
	concurrency int
	snapshot    bool
}

// NewTagBridge creates a tag bridge.
func NewTagBridge(engine automation.Engine, enricher automation.Enricher, cfg Config, opts ...Option) *TagBridge {
	o := buildOptions(opts)
	defaults := DefaultConfig()
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaults.LookupTimeout
	}
	concurrency := cfg.LookupConcurrency
	if concurrency <= 0 {
		concurrency = defaults.LookupConcurrency
	}
	return &TagBridge{
		connector:   newConnector(domain.KindTags, engine, o),
		enricher:    enricher,
		lookups:     o.lookups,
		timeout:     timeout,
		concurrency: concurrency,
		snapshot:    cfg.SnapshotOnOpen,
	}
}

// Open subscribes to spec.Names and emits an enriched TagEvent for every
// engine callback. Lookups run detached from ctx cancellation so a batch in
// flight while the consumer disconnects still completes.
func (b *TagBridge) Open(ctx context.Context, spec TagsSpec, emit EmitFunc) (automation.Handle, error) {
	base := context.WithoutCancel(ctx)
	h, err := b.engine.OpenNames(ctx, spec.Names, b.snapshot, func(names []string, values []any, updateType string, err error) {
		emit(&domain.TagEvent{
			Tags:  b.enrich(base, names, values),
			Type:  updateType,
			Error: domain.ErrorString(err),
		})
	})
	return b.track(ctx, h, err)
}

// enrich pairs names with values, truncating to the shorter slice, and
// resolves timestamp and status for every item with at most b.concurrency
// lookups in flight.
func (b *TagBridge) enrich(ctx context.Context, names []string, values []any) []domain.Tag {
	n := min(len(names), len(values))
	if len(names) != len(values) {
		b.log.LogMismatch(ctx, b.kind, len(names), len(values))
	}

	tags := make([]domain.Tag, n)
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i := range n {
		t := &tags[i]
		t.Name = names[i]
		t.Value = values[i]

		g.Go(func() error {
			if ts, err := lookup(b, ctx, t.Name, string(automation.FieldTimestamp), b.enricher.Timestamp); err == nil {
				t.Timestamp = &ts
			}
			return nil
		})
		g.Go(func() error {
			if status, err := lookup(b, ctx, t.Name, string(automation.FieldStatus), b.enricher.Status); err == nil {
				t.Status = &status
			}
			return nil
		})
	}
	// Lookup failures degrade single fields and are never returned.
	_ = g.Wait()
	return tags
}

// lookup runs fn bounded by the bridge's lookup timeout. An enricher that
// ignores ctx is abandoned when the timeout expires; its call then no longer
// counts against the concurrency limit.
func lookup[V any](b *TagBridge, ctx context.Context, name, field string, fn func(context.Context, string) (V, error)) (V, error) {
	lctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		v   V
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fn(lctx, name)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-lctx.Done():
		r.err = lctx.Err()
	}
	elapsed := time.Since(start)

	if b.lookups != nil {
		b.lookups.RecordLookup(ctx, field, elapsed, r.err)
	}
	if r.err != nil {
		b.log.LogLookupFailure(ctx, &domain.LookupError{Name: name, Field: field, Err: r.err}, elapsed)
	}
	return r.v, r.err
}
