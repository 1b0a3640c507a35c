package automation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-broker/pkg/domain"
)

type namesCall struct {
	names      []string
	values     []any
	updateType string
}

type namesRecorder struct {
	mu    sync.Mutex
	calls []namesCall
}

func (r *namesRecorder) fn(names []string, values []any, updateType string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, namesCall{names, values, updateType})
}

func (r *namesRecorder) snapshot() []namesCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]namesCall(nil), r.calls...)
}

func fixedClock() func() time.Time {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return ts }
}

// openHook runs fn when the simulator logs a names subscription open, which
// happens after registration and before the snapshot is dispatched.
type openHook struct {
	fn func()
}

func (h *openHook) Enabled(context.Context, slog.Level) bool { return true }
func (h *openHook) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h *openHook) WithGroup(string) slog.Handler           { return h }

func (h *openHook) Handle(_ context.Context, r slog.Record) error {
	if r.Message == "Names subscription opened" && h.fn != nil {
		h.fn()
	}
	return nil
}

func TestSimulatorSnapshotPrecedesConcurrentChange(t *testing.T) {
	wrote := make(chan struct{})
	hook := &openHook{}
	sim := NewSimulator(WithSimulatorLogger(slog.New(hook)))
	sim.Define("a", 1.0)

	hook.fn = func() {
		hook.fn = nil
		go func() {
			defer close(wrote)
			sim.Write("a", 2.0)
		}()
		// Give the writer time to reach dispatch.
		time.Sleep(20 * time.Millisecond)
	}

	rec := &namesRecorder{}
	_, err := sim.OpenNames(context.Background(), []string{"a"}, true, rec.fn)
	require.NoError(t, err)

	select {
	case <-wrote:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent write did not complete")
	}

	calls := rec.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, UpdateTypeSnapshot, calls[0].updateType)
	assert.Equal(t, []any{1.0}, calls[0].values)
	assert.Equal(t, UpdateTypeChange, calls[1].updateType)
	assert.Equal(t, []any{2.0}, calls[1].values)
}

func TestSimulatorOpenNamesSnapshot(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 1.0)
	sim.Define("b", "on")

	rec := &namesRecorder{}
	h, err := sim.OpenNames(context.Background(), []string{"b", "a"}, true, rec.fn)
	require.NoError(t, err)
	assert.True(t, h.Valid())

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"b", "a"}, calls[0].names)
	assert.Equal(t, []any{"on", 1.0}, calls[0].values)
	assert.Equal(t, UpdateTypeSnapshot, calls[0].updateType)
}

func TestSimulatorOpenNamesUnknownTag(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 1)

	_, err := sim.OpenNames(context.Background(), []string{"a", "missing"}, false, (&namesRecorder{}).fn)
	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.Equal(t, 0, sim.OpenHandles())
}

func TestSimulatorWriteFansOutToCoveringSubscriptions(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 0)
	sim.Define("b", 0)

	recA := &namesRecorder{}
	recAB := &namesRecorder{}
	_, err := sim.OpenNames(context.Background(), []string{"a"}, false, recA.fn)
	require.NoError(t, err)
	_, err = sim.OpenNames(context.Background(), []string{"b", "a"}, false, recAB.fn)
	require.NoError(t, err)

	sim.WriteMany(map[string]any{"a": 1, "b": 2})
	sim.Write("b", 3)

	assert.Equal(t, []namesCall{{[]string{"a"}, []any{1}, UpdateTypeChange}}, recA.snapshot())
	assert.Equal(t, []namesCall{
		{[]string{"b", "a"}, []any{2, 1}, UpdateTypeChange},
		{[]string{"b"}, []any{3}, UpdateTypeChange},
	}, recAB.snapshot())
}

func TestSimulatorQueryLatestAndCumulative(t *testing.T) {
	sim := NewSimulator(WithClock(fixedClock()))
	sim.Define("line1/temp", 0.0)
	sim.Define("line1/pressure", 0.0)
	sim.Define("line2/temp", 0.0)

	var mu sync.Mutex
	var latest, cumulative []domain.Table
	_, err := sim.OpenQueryLatest(context.Background(), "line1/*", "", func(tbl domain.Table, err error) {
		mu.Lock()
		defer mu.Unlock()
		latest = append(latest, tbl)
	})
	require.NoError(t, err)
	_, err = sim.OpenQueryCumulative(context.Background(), "*/temp", "1h", func(tbl domain.Table, err error) {
		mu.Lock()
		defer mu.Unlock()
		cumulative = append(cumulative, tbl)
	})
	require.NoError(t, err)

	sim.Write("line1/temp", 20.5)
	sim.Write("line2/temp", 30.0)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, latest, 1)
	assert.Equal(t, QueryColumns, latest[0].Columns)
	assert.Equal(t, 1, latest[0].Len())
	assert.Equal(t, "line1/temp", latest[0].Rows[0][0])
	assert.Equal(t, 20.5, latest[0].Rows[0][1])

	require.Len(t, cumulative, 2)
	assert.Equal(t, 1, cumulative[0].Len())
	assert.Equal(t, 2, cumulative[1].Len())
	assert.Equal(t, "line2/temp", cumulative[1].Rows[1][0])
}

func TestSimulatorQueryValidation(t *testing.T) {
	sim := NewSimulator()
	noop := func(domain.Table, error) {}

	_, err := sim.OpenQueryLatest(context.Background(), "", "", noop)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = sim.OpenQueryLatest(context.Background(), "line1/[", "", noop)
	assert.Error(t, err)
}

func TestSimulatorCloseStopsCallbacks(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 0)
	rec := &namesRecorder{}
	h, err := sim.OpenNames(context.Background(), []string{"a"}, false, rec.fn)
	require.NoError(t, err)

	require.NoError(t, sim.Close(context.Background(), h))
	sim.Write("a", 1)
	assert.Empty(t, rec.snapshot())

	err = sim.Close(context.Background(), h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestSimulatorFaultInjection(t *testing.T) {
	sim := NewSimulator(WithClock(fixedClock()))
	sim.Define("a", 0)
	ctx := context.Background()
	boom := errors.New("boom")

	sim.FailOpen(boom)
	_, err := sim.OpenNames(ctx, []string{"a"}, false, (&namesRecorder{}).fn)
	assert.ErrorIs(t, err, boom)
	sim.FailOpen(nil)

	h, err := sim.OpenNames(ctx, []string{"a"}, false, (&namesRecorder{}).fn)
	require.NoError(t, err)
	sim.FailClose(boom)
	assert.ErrorIs(t, sim.Close(ctx, h), boom)
	assert.Equal(t, 0, sim.OpenHandles(), "failed close still releases the subscription")

	sim.FailLookup(FieldStatus, "a", boom)
	ts, err := sim.Timestamp(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, fixedClock()(), ts)
	_, err = sim.Status(ctx, "a")
	assert.ErrorIs(t, err, boom)

	sim.FailLookup(FieldStatus, "a", nil)
	status, err := sim.Status(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusGood, status)
}

func TestSimulatorSetStatus(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 5)
	rec := &namesRecorder{}
	_, err := sim.OpenNames(context.Background(), []string{"a"}, false, rec.fn)
	require.NoError(t, err)

	require.NoError(t, sim.SetStatus("a", StatusBad))
	status, err := sim.Status(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, StatusBad, status)
	assert.Equal(t, []namesCall{{[]string{"a"}, []any{5}, UpdateTypeChange}}, rec.snapshot())

	assert.ErrorIs(t, sim.SetStatus("missing", StatusBad), ErrUnknownTag)
}

func TestSimulatorDrive(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 0.0)
	sim.Define("label", "text")

	rec := &namesRecorder{}
	_, err := sim.OpenNames(context.Background(), []string{"a", "label"}, false, rec.fn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Drive(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	for _, call := range rec.snapshot() {
		assert.Equal(t, []string{"a"}, call.names, "non-numeric tags are not driven")
	}
}

func TestSimulatorShutdown(t *testing.T) {
	sim := NewSimulator()
	sim.Define("a", 0)
	_, err := sim.OpenNames(context.Background(), []string{"a"}, false, (&namesRecorder{}).fn)
	require.NoError(t, err)

	sim.Shutdown()
	assert.Equal(t, 0, sim.OpenHandles())
	_, err = sim.OpenNames(context.Background(), []string{"a"}, false, (&namesRecorder{}).fn)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHandleValid(t *testing.T) {
	assert.False(t, Handle(0).Valid())
	assert.False(t, Handle(-1).Valid())
	assert.True(t, Handle(1).Valid())
}
