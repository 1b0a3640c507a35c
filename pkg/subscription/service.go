package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/bridge"
	"github.com/polisai/polis-broker/pkg/broker"
	"github.com/polisai/polis-broker/pkg/domain"
)

const tracerName = "github.com/polisai/polis-broker/pkg/subscription"

// Subscribe request outcomes reported to a RequestObserver.
const (
	StatusOK        = "ok"
	StatusInvalid   = "invalid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Iterator is the consumer side of a feed.
type Iterator = broker.Iterator[domain.Event]

// RequestObserver receives one notification per subscribe call.
type RequestObserver interface {
	SubscribeRequest(kind domain.Kind, status string)
}

// NamesRequest opens a name-list feed.
type NamesRequest struct {
	Names []string `json:"names"`
}

// QueryRequest opens a query feed. Window is passed to the engine unchanged.
type QueryRequest struct {
	Query  string `json:"query"`
	Window string `json:"window,omitempty"`
}

// TagsRequest opens an enriched tag feed.
type TagsRequest struct {
	Names []string `json:"names"`
}

// Option configures a Service.
type Option func(*Service)

// WithBroker sets the channel registry. By default the service creates its own.
func WithBroker(b *broker.Broker[domain.Event]) Option {
	return func(s *Service) {
		if b != nil {
			s.broker = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequestObserver sets the subscribe request observer.
func WithRequestObserver(o RequestObserver) Option {
	return func(s *Service) { s.requests = o }
}

// WithTracer sets the tracer used for open spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithBridgeOptions passes options to every bridge the service creates.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(s *Service) { s.bridgeOpts = append(s.bridgeOpts, opts...) }
}

// Service hands out feeds backed by one engine.
type Service struct {
	broker     *broker.Broker[domain.Event]
	logger     *slog.Logger
	requests   RequestObserver
	tracer     trace.Tracer
	bridgeOpts []bridge.Option

	names  *bridge.NamesBridge
	latest *bridge.QueryBridge
	all    *bridge.QueryBridge
	tags   *bridge.TagBridge
}

// NewService creates a service. enricher may be nil when the tag feed is not
// used; SubscribeTags then fails with a connection error.
func NewService(engine automation.Engine, enricher automation.Enricher, cfg bridge.Config, opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = broker.New(broker.WithLogger[domain.Event](s.logger))
	}

	bopts := append([]bridge.Option{bridge.WithLogger(s.logger)}, s.bridgeOpts...)
	s.names = bridge.NewNamesBridge(engine, cfg, bopts...)
	s.latest = bridge.NewQueryLatestBridge(engine, bopts...)
	s.all = bridge.NewQueryAllBridge(engine, bopts...)
	if enricher != nil {
		s.tags = bridge.NewTagBridge(engine, enricher, cfg, bopts...)
	}
	return s
}

// Broker returns the channel registry.
func (s *Service) Broker() *broker.Broker[domain.Event] {
	return s.broker
}

// SetQueueCapacity switches the queue used by subscriptions opened after the
// call: bounded with oldest-first eviction when capacity is positive,
// unbounded otherwise.
func (s *Service) SetQueueCapacity(capacity int) {
	s.broker.SetQueueFactory(broker.QueueFactoryFor[domain.Event](capacity))
}

// SubscribeNames opens a name-list feed.
func (s *Service) SubscribeNames(ctx context.Context, req NamesRequest) (*Iterator, error) {
	if err := validateNames(req.Names); err != nil {
		return nil, s.rejected(domain.KindNames, err)
	}
	spec := bridge.NamesSpec{Names: req.Names}
	return open(ctx, s, domain.KindNames, s.names, spec, s.names.Open)
}

// SubscribeQueryLatest opens a query feed carrying the latest result table.
func (s *Service) SubscribeQueryLatest(ctx context.Context, req QueryRequest) (*Iterator, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, s.rejected(domain.KindQueryLatest, err)
	}
	spec := bridge.QuerySpec{Query: req.Query, Window: req.Window}
	return open(ctx, s, domain.KindQueryLatest, s.latest, spec, s.latest.Open)
}

// SubscribeQueryAll opens a query feed carrying the cumulative result table.
func (s *Service) SubscribeQueryAll(ctx context.Context, req QueryRequest) (*Iterator, error) {
	if err := validateQuery(req.Query); err != nil {
		return nil, s.rejected(domain.KindQueryAll, err)
	}
	spec := bridge.QuerySpec{Query: req.Query, Window: req.Window}
	return open(ctx, s, domain.KindQueryAll, s.all, spec, s.all.Open)
}

// SubscribeTags opens an enriched tag feed.
func (s *Service) SubscribeTags(ctx context.Context, req TagsRequest) (*Iterator, error) {
	if err := validateNames(req.Names); err != nil {
		return nil, s.rejected(domain.KindTags, err)
	}
	if s.tags == nil {
		s.report(domain.KindTags, StatusFailed)
		return nil, &domain.ConnectionError{Kind: domain.KindTags, Err: fmt.Errorf("no enricher configured")}
	}
	spec := bridge.TagsSpec{Names: req.Names}
	return open(ctx, s, domain.KindTags, s.tags, spec, s.tags.Open)
}

type openFunc[S any] func(ctx context.Context, spec S, emit bridge.EmitFunc) (automation.Handle, error)

// open wires channel, bridge and lifecycle for one feed.
func open[S any](ctx context.Context, s *Service, kind domain.Kind, closer bridge.Closer, spec S, openBridge openFunc[S]) (*Iterator, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.open",
		trace.WithAttributes(attribute.String("subscription.kind", string(kind))))
	defer span.End()

	fail := func(status string, err error) (*Iterator, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.report(kind, status)
		s.logger.Debug("Subscription open failed", "kind", kind, "error", err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(StatusCancelled, fmt.Errorf("subscribe %s: %w", kind, err))
	}

	channelID := broker.NewChannelID()
	span.SetAttributes(attribute.String("subscription.channel_id", channelID))

	it := s.broker.Subscribe(channelID)
	lc := bridge.NewLifecycle(ctx, closer)
	it.OnCancel(lc.Teardown)
	stop := context.AfterFunc(ctx, it.Cancel)

	h, err := openBridge(ctx, spec, func(ev domain.Event) {
		s.broker.Publish(channelID, ev)
	})
	if err != nil {
		stop()
		it.Cancel()
		return fail(StatusFailed, err)
	}

	if !lc.Attach(h) || ctx.Err() != nil {
		stop()
		it.Cancel()
		return fail(StatusCancelled, fmt.Errorf("subscribe %s cancelled during open: %w", kind, context.Cause(ctx)))
	}
	it.OnCancel(func() { stop() })

	s.report(kind, StatusOK)
	s.logger.Debug("Subscription opened",
		"kind", kind,
		"channel_id", channelID,
		"handle", int64(h))
	return it, nil
}

func (s *Service) rejected(kind domain.Kind, err error) error {
	s.report(kind, StatusInvalid)
	return err
}

func (s *Service) report(kind domain.Kind, status string) {
	if s.requests != nil {
		s.requests.SubscribeRequest(kind, status)
	}
}

func validateNames(names []string) error {
	if len(names) == 0 {
		return domain.NewParameterError("names", "must not be empty")
	}
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			return domain.NewParameterError(fmt.Sprintf("names[%d]", i), "must not be blank")
		}
	}
	return nil
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return domain.NewParameterError("query", "must not be empty")
	}
	return nil
}
