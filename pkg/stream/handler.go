package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-broker/pkg/domain"
	"github.com/polisai/polis-broker/pkg/subscription"
	"github.com/polisai/polis-broker/pkg/telemetry"
)

// OpenFunc opens a feed for an HTTP request. The request context bounds the
// subscription, so a client disconnect cancels it.
type OpenFunc func(r *http.Request) (*subscription.Iterator, error)

// EventObserver is notified for every event written to a client.
type EventObserver interface {
	RecordStreamedEvent(kind domain.Kind)
}

// HandlerOption configures an SSE handler.
type HandlerOption func(*sseHandler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *sseHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithEventObserver sets the streamed event observer.
func WithEventObserver(o EventObserver) HandlerOption {
	return func(h *sseHandler) { h.observer = o }
}

// WithHeartbeat sets the idle interval after which a keepalive comment is
// written. Zero disables keepalives.
func WithHeartbeat(d time.Duration) HandlerOption {
	return func(h *sseHandler) { h.heartbeat = d }
}

type sseHandler struct {
	open      OpenFunc
	logger    *slog.Logger
	observer  EventObserver
	heartbeat time.Duration
}

// Handler returns an http.Handler that opens a feed per request and drains it
// to the client as Server-Sent Events.
func Handler(open OpenFunc, opts ...HandlerOption) http.Handler {
	h := &sseHandler{
		open:      open,
		logger:    slog.Default(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	it, err := h.open(r)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	defer it.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("SSE stream started", "channel_id", it.ChannelID(), "path", r.URL.Path)
	sent := h.drain(r.Context(), w, flusher, it)
	h.logger.Debug("SSE stream ended", "channel_id", it.ChannelID(), "events", sent)
}

// drain writes events until the feed ends, the client goes away or a write
// fails. It returns the number of events written.
func (h *sseHandler) drain(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, it *subscription.Iterator) uint64 {
	span := trace.SpanFromContext(ctx)
	var seq uint64

	for {
		ev, ok, err := h.next(ctx, it)
		switch {
		case errors.Is(err, errIdle):
			if _, werr := w.Write(SerializeSSEComment("keepalive")); werr != nil {
				return seq
			}
			flusher.Flush()
			continue
		case err != nil:
			return seq
		case !ok:
			return seq
		}

		seq++
		msg, err := NewSSEEvent(seq, ev)
		if err != nil {
			h.logger.Warn("Dropping unencodable event", "channel_id", it.ChannelID(), "error", err)
			continue
		}
		if _, err := w.Write(SerializeSSEEvent(msg)); err != nil {
			h.logger.Debug("SSE write failed", "channel_id", it.ChannelID(), "error", err)
			return seq
		}
		flusher.Flush()

		telemetry.RecordStreamEvent(span, ev)
		if h.observer != nil {
			h.observer.RecordStreamedEvent(ev.Kind())
		}
	}
}

var errIdle = errors.New("stream idle")

func (h *sseHandler) next(ctx context.Context, it *subscription.Iterator) (domain.Event, bool, error) {
	if h.heartbeat <= 0 {
		return it.Next(ctx)
	}
	waitCtx, cancel := context.WithTimeoutCause(ctx, h.heartbeat, errIdle)
	defer cancel()
	ev, ok, err := it.Next(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(waitCtx), errIdle) {
		return nil, false, errIdle
	}
	return ev, ok, err
}

func statusFor(err error) int {
	switch {
	case domain.IsParameterError(err):
		return http.StatusBadRequest
	case domain.IsConnectionError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
