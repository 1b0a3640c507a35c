package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/domain"
)

const tracerName = "github.com/polisai/polis-broker/pkg/bridge"

// EmitFunc publishes an event produced by an engine callback.
type EmitFunc func(domain.Event)

// Observer receives connection lifecycle notifications. Implementations must
// be safe for concurrent use.
type Observer interface {
	ConnectionOpened(kind domain.Kind)
	ConnectionFailed(kind domain.Kind)
	ConnectionClosed(kind domain.Kind, err error)
}

// LookupRecorder receives the outcome of every enrichment lookup.
type LookupRecorder interface {
	RecordLookup(ctx context.Context, field string, elapsed time.Duration, err error)
}

// Option configures a bridge.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
	lookups  LookupRecorder
	tracer   trace.Tracer
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver sets the connection observer.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithLookupRecorder sets the recorder for enrichment lookups.
func WithLookupRecorder(r LookupRecorder) Option {
	return func(o *options) { o.lookups = r }
}

// WithTracer sets the tracer used for close spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// connector holds what every bridge variant shares: the engine, the set of
// handles it opened and not yet closed, and the ambient instrumentation.
type connector struct {
	kind     domain.Kind
	engine   automation.Engine
	log      *StructuredLogger
	observer Observer
	tracer   trace.Tracer

	mu   sync.Mutex
	open map[automation.Handle]struct{}
}

func newConnector(kind domain.Kind, engine automation.Engine, o options) *connector {
	return &connector{
		kind:     kind,
		engine:   engine,
		log:      NewStructuredLogger(o.logger.With("component", "bridge")),
		observer: o.observer,
		tracer:   o.tracer,
		open:     make(map[automation.Handle]struct{}),
	}
}

// track validates the result of an engine open and records the handle.
func (c *connector) track(ctx context.Context, h automation.Handle, err error) (automation.Handle, error) {
	if err == nil && !h.Valid() {
		err = &InvalidHandleError{Handle: h}
	}
	if err != nil {
		if c.observer != nil {
			c.observer.ConnectionFailed(c.kind)
		}
		c.log.LogConnection(ctx, "open_failed", c.kind, h, err)
		return 0, &domain.ConnectionError{Kind: c.kind, Err: err}
	}

	c.mu.Lock()
	c.open[h] = struct{}{}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ConnectionOpened(c.kind)
	}
	c.log.LogConnection(ctx, "opened", c.kind, h, nil)
	return h, nil
}

// Close releases h. Closing a handle that is not open is a no-op, so a
// second Close never reaches the engine. Engine failures are logged and
// swallowed.
func (c *connector) Close(ctx context.Context, h automation.Handle) {
	c.mu.Lock()
	if _, ok := c.open[h]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.open, h)
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "bridge.close", trace.WithAttributes(
		attribute.String("subscription.kind", string(c.kind)),
		attribute.Int64("engine.handle", int64(h)),
	))
	defer span.End()

	if err := c.engine.Close(ctx, h); err != nil {
		terr := &domain.TeardownError{Kind: c.kind, Handle: int64(h), Err: err}
		span.RecordError(terr)
		span.SetStatus(codes.Error, terr.Error())
		c.log.LogTeardownFailure(ctx, terr)
		if c.observer != nil {
			c.observer.ConnectionClosed(c.kind, terr)
		}
		return
	}

	if c.observer != nil {
		c.observer.ConnectionClosed(c.kind, nil)
	}
	c.log.LogConnection(ctx, "closed", c.kind, h, nil)
}

// OpenHandles returns the number of handles opened and not yet closed.
func (c *connector) OpenHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// Kind returns the subscription kind this bridge serves.
func (c *connector) Kind() domain.Kind {
	return c.kind
}
