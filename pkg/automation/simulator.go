package automation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/polisai/polis-broker/pkg/domain"
)

// Tag statuses reported by Simulator.
const (
	StatusGood      = "good"
	StatusUncertain = "uncertain"
	StatusBad       = "bad"
)

// LookupField selects which enrichment lookup a fault applies to.
type LookupField string

const (
	FieldTimestamp LookupField = "timestamp"
	FieldStatus    LookupField = "status"
)

type tagState struct {
	value     any
	timestamp time.Time
	status    string
}

type subscription struct {
	names      map[string]struct{}
	order      []string
	onChange   ChangeFunc
	pattern    glob.Glob
	query      string
	window     string
	cumulative bool
	rows       [][]any
	onTable    TableFunc
}

func (s *subscription) matches(name string) bool {
	if s.pattern != nil {
		return s.pattern.Match(name)
	}
	_, ok := s.names[name]
	return ok
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithClock sets the time source used for tag timestamps.
func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSimulatorLogger sets the logger.
func WithSimulatorLogger(logger *slog.Logger) SimulatorOption {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Simulator is an in-memory Engine and Enricher. Tag paths use '/' as the
// separator; queries are glob patterns over tag paths, so "line1/*" matches
// the direct children of line1 and "line1/**" every descendant.
type Simulator struct {
	mu     sync.RWMutex
	tags   map[string]*tagState
	subs   map[Handle]*subscription
	next   Handle
	closed bool

	openErr   error
	closeErr  error
	lookupErr map[LookupField]map[string]error

	// dispatchMu serializes callbacks across all subscriptions.
	dispatchMu sync.Mutex

	now    func() time.Time
	logger *slog.Logger
}

var (
	_ Engine   = (*Simulator)(nil)
	_ Enricher = (*Simulator)(nil)
)

// NewSimulator creates an empty simulator.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		tags:      make(map[string]*tagState),
		subs:      make(map[Handle]*subscription),
		lookupErr: make(map[LookupField]map[string]error),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Define creates or resets a tag without notifying subscribers.
func (s *Simulator) Define(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[name] = &tagState{value: value, timestamp: s.now(), status: StatusGood}
}

// Tags returns the defined tag names in sorted order.
func (s *Simulator) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.tags))
}

// Write sets a tag value, defining the tag if needed, and notifies every
// subscription that covers it.
func (s *Simulator) Write(name string, value any) {
	s.WriteMany(map[string]any{name: value})
}

// WriteMany applies several writes as one change batch.
func (s *Simulator) WriteMany(values map[string]any) {
	s.update(values, nil)
}

// SetStatus changes a tag's status. Subscribers see it as a change with the
// current value.
func (s *Simulator) SetStatus(name, status string) error {
	s.mu.RLock()
	st, ok := s.tags[name]
	var value any
	if ok {
		value = st.value
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, name)
	}
	s.update(map[string]any{name: value}, map[string]string{name: status})
	return nil
}

// FailOpen makes every subsequent open fail with err. A nil err clears the
// fault.
func (s *Simulator) FailOpen(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

// FailClose makes every subsequent Close fail with err after releasing the
// subscription. A nil err clears the fault.
func (s *Simulator) FailClose(err error) {
	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
}

// FailLookup makes the given lookup for name fail with err. A nil err clears
// the fault.
func (s *Simulator) FailLookup(field LookupField, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	faults := s.lookupErr[field]
	if faults == nil {
		faults = make(map[string]error)
		s.lookupErr[field] = faults
	}
	if err == nil {
		delete(faults, name)
		return
	}
	faults[name] = err
}

// OpenHandles returns the number of live subscriptions.
func (s *Simulator) OpenHandles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// OpenNames implements Engine. Every name must refer to a defined tag.
func (s *Simulator) OpenNames(ctx context.Context, names []string, snapshot bool, fn ChangeFunc) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, fmt.Errorf("nil callback")
	}

	sub := &subscription{
		names:    make(map[string]struct{}, len(names)),
		order:    slices.Clone(names),
		onChange: fn,
	}
	for _, n := range names {
		sub.names[n] = struct{}{}
	}

	// With a snapshot, dispatch stays locked from registration until the
	// snapshot callback returns, so no change can overtake it.
	if snapshot {
		s.dispatchMu.Lock()
		defer s.dispatchMu.Unlock()
	}

	s.mu.Lock()
	if err := s.openCheckLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	var values []any
	for _, n := range names {
		st, ok := s.tags[n]
		if !ok {
			s.mu.Unlock()
			return 0, fmt.Errorf("%w: %s", ErrUnknownTag, n)
		}
		values = append(values, st.value)
	}
	h := s.registerLocked(sub)
	s.mu.Unlock()

	s.logger.Debug("Names subscription opened", "handle", int64(h), "names", len(names))

	if snapshot {
		fn(slices.Clone(names), values, UpdateTypeSnapshot, nil)
	}
	return h, nil
}

// OpenQueryLatest implements Engine.
func (s *Simulator) OpenQueryLatest(ctx context.Context, query, window string, fn TableFunc) (Handle, error) {
	return s.openQuery(ctx, query, window, false, fn)
}

// OpenQueryCumulative implements Engine.
func (s *Simulator) OpenQueryCumulative(ctx context.Context, query, window string, fn TableFunc) (Handle, error) {
	return s.openQuery(ctx, query, window, true, fn)
}

func (s *Simulator) openQuery(ctx context.Context, query, window string, cumulative bool, fn TableFunc) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, fmt.Errorf("nil callback")
	}
	if query == "" {
		return 0, ErrEmptyQuery
	}
	pattern, err := glob.Compile(query, '/')
	if err != nil {
		return 0, fmt.Errorf("compile query %q: %w", query, err)
	}

	sub := &subscription{
		pattern:    pattern,
		query:      query,
		window:     window,
		cumulative: cumulative,
		onTable:    fn,
	}

	s.mu.Lock()
	if err := s.openCheckLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	h := s.registerLocked(sub)
	s.mu.Unlock()

	s.logger.Debug("Query subscription opened",
		"handle", int64(h),
		"query", query,
		"window", window,
		"cumulative", cumulative)
	return h, nil
}

// Close implements Engine. Closing an unknown or already closed handle
// returns ErrUnknownHandle.
func (s *Simulator) Close(ctx context.Context, h Handle) error {
	// Wait for an in-flight dispatch so no callback runs after Close returns.
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[h]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	delete(s.subs, h)
	s.logger.Debug("Subscription closed", "handle", int64(h))
	return s.closeErr
}

// Shutdown closes every subscription and rejects further opens.
func (s *Simulator) Shutdown() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.subs)
}

// Timestamp implements Enricher.
func (s *Simulator) Timestamp(ctx context.Context, name string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.lookupErr[FieldTimestamp][name]; err != nil {
		return time.Time{}, err
	}
	st, ok := s.tags[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownTag, name)
	}
	return st.timestamp, nil
}

// Status implements Enricher.
func (s *Simulator) Status(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.lookupErr[FieldStatus][name]; err != nil {
		return "", err
	}
	st, ok := s.tags[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTag, name)
	}
	return st.status, nil
}

// Drive performs a random walk over numeric tags every interval until ctx
// ends. Occasionally a tag's status flips away from good and back.
func (s *Simulator) Drive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid drive interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Simulator) step() {
	values := make(map[string]any)
	statuses := make(map[string]string)

	s.mu.RLock()
	for name, st := range s.tags {
		v, ok := st.value.(float64)
		if !ok {
			continue
		}
		values[name] = v + rand.NormFloat64()
		switch r := rand.Float64(); {
		case r < 0.02:
			statuses[name] = StatusBad
		case r < 0.05:
			statuses[name] = StatusUncertain
		case st.status != StatusGood:
			statuses[name] = StatusGood
		}
	}
	s.mu.RUnlock()

	if len(values) > 0 {
		s.update(values, statuses)
	}
}

type delivery struct {
	sub    *subscription
	names  []string
	values []any
	table  domain.Table
}

// update applies a change batch and dispatches callbacks.
func (s *Simulator) update(values map[string]any, statuses map[string]string) {
	names := slices.Sorted(maps.Keys(values))

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	now := s.now()
	rows := make(map[string][]any, len(names))
	for _, name := range names {
		st, ok := s.tags[name]
		if !ok {
			st = &tagState{status: StatusGood}
			s.tags[name] = st
		}
		st.value = values[name]
		st.timestamp = now
		if status, ok := statuses[name]; ok {
			st.status = status
		}
		rows[name] = []any{name, st.value, st.timestamp, st.status}
	}

	var deliveries []delivery
	for _, h := range slices.Sorted(maps.Keys(s.subs)) {
		sub := s.subs[h]
		d := delivery{sub: sub}
		if sub.pattern == nil {
			for _, name := range sub.order {
				if _, changed := values[name]; changed {
					d.names = append(d.names, name)
					d.values = append(d.values, values[name])
				}
			}
			if len(d.names) == 0 {
				continue
			}
		} else {
			var matched [][]any
			for _, name := range names {
				if sub.matches(name) {
					matched = append(matched, rows[name])
				}
			}
			if len(matched) == 0 {
				continue
			}
			if sub.cumulative {
				sub.rows = append(sub.rows, matched...)
				matched = slices.Clone(sub.rows)
			}
			d.table = domain.Table{Columns: slices.Clone(QueryColumns), Rows: matched}
		}
		deliveries = append(deliveries, d)
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		if d.sub.onChange != nil {
			d.sub.onChange(d.names, d.values, UpdateTypeChange, nil)
		} else {
			d.sub.onTable(d.table, nil)
		}
	}
}

func (s *Simulator) openCheckLocked() error {
	if s.closed {
		return ErrClosed
	}
	return s.openErr
}

func (s *Simulator) registerLocked(sub *subscription) Handle {
	s.next++
	s.subs[s.next] = sub
	return s.next
}
