package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/bridge"
	"github.com/polisai/polis-broker/pkg/domain"
	"github.com/polisai/polis-broker/pkg/subscription"
)

type kindCounter struct {
	mu     sync.Mutex
	counts map[domain.Kind]int
}

func (k *kindCounter) RecordStreamedEvent(kind domain.Kind) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.counts == nil {
		k.counts = make(map[domain.Kind]int)
	}
	k.counts[kind]++
}

func (k *kindCounter) count(kind domain.Kind) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.counts[kind]
}

func newFeedServer(t *testing.T, opts ...HandlerOption) (*httptest.Server, *subscription.Service, *automation.Simulator) {
	t.Helper()
	sim := automation.NewSimulator()
	sim.Define("line1/temp", 20.0)
	sim.Define("line1/flow", 3)

	cfg := bridge.Config{LookupTimeout: time.Second, SnapshotOnOpen: true}
	svc := subscription.NewService(sim, sim, cfg)

	mux := http.NewServeMux()
	Mount(mux, svc, opts...)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc, sim
}

func openStream(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func nextSSE(t *testing.T, events <-chan *SSEEvent) *SSEEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream ended")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHandlerStreamsNamesFeed(t *testing.T) {
	counter := &kindCounter{}
	srv, svc, sim := newFeedServer(t, WithEventObserver(counter))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, srv.URL+PathNames+"?name=line1/temp,line1/flow")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	events := ParseSSEStream(resp.Body)

	snapshot := nextSSE(t, events)
	assert.Equal(t, "names", snapshot.Event)
	assert.Equal(t, "1", snapshot.ID)
	assert.JSONEq(t, `{"names":["line1/temp","line1/flow"],"values":[20,3],"type":"snapshot","error":null}`, string(snapshot.Data))

	sim.Write("line1/flow", 4)
	change := nextSSE(t, events)
	assert.Equal(t, "2", change.ID)
	assert.JSONEq(t, `{"names":["line1/flow"],"values":[4],"type":"update","error":null}`, string(change.Data))
	require.Eventually(t, func() bool { return counter.count(domain.KindNames) == 2 }, time.Second, 5*time.Millisecond)

	// Client disconnect tears the feed down.
	cancel()
	require.Eventually(t, func() bool {
		return svc.Broker().Channels() == 0 && sim.OpenHandles() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandlerStreamsQueryFeed(t *testing.T) {
	srv, _, sim := newFeedServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, srv.URL+PathQueryAll+"?query=line1/*")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := ParseSSEStream(resp.Body)
	sim.Write("line1/temp", 21.0)
	ev := nextSSE(t, events)
	assert.Equal(t, "query_all", ev.Event)
	assert.Contains(t, string(ev.Data), `"line1/temp"`)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	srv, svc, _ := newFeedServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"missing names", http.MethodGet, PathNames, http.StatusBadRequest},
		{"blank names", http.MethodGet, PathTags + "?name=,,", http.StatusBadRequest},
		{"empty query", http.MethodGet, PathQueryLatest + "?query=", http.StatusBadRequest},
		{"unknown tag", http.MethodGet, PathNames + "?name=nope", http.StatusBadGateway},
		{"wrong method", http.MethodPost, PathNames + "?name=line1/temp", http.StatusMethodNotAllowed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}

	assert.Equal(t, 0, svc.Broker().Channels())
}

func TestHandlerWritesKeepalives(t *testing.T) {
	srv, _, _ := newFeedServer(t, WithHeartbeat(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, srv.URL+PathNames+"?name=line1/temp")
	defer resp.Body.Close()

	found := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), ": keepalive") {
				close(found)
				return
			}
		}
	}()

	select {
	case <-found:
	case <-time.After(5 * time.Second):
		t.Fatal("no keepalive written")
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.NewParameterError("names", "empty")))
	assert.Equal(t, http.StatusBadGateway, statusFor(&domain.ConnectionError{Kind: domain.KindNames, Err: assert.AnError}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
