package stream

import (
	"net/http"
	"strings"

	"github.com/polisai/polis-broker/pkg/subscription"
)

// Feed paths served by Mount.
const (
	PathNames       = "/feeds/names"
	PathTags        = "/feeds/tags"
	PathQueryLatest = "/feeds/query/latest"
	PathQueryAll    = "/feeds/query/all"
)

// Mount registers one SSE endpoint per feed kind on mux.
//
// Name feeds take names as repeated or comma-separated "name" parameters.
// Query feeds take "query" and an optional "window".
func Mount(mux *http.ServeMux, svc *subscription.Service, opts ...HandlerOption) {
	mux.Handle(PathNames, Handler(func(r *http.Request) (*subscription.Iterator, error) {
		return svc.SubscribeNames(r.Context(), subscription.NamesRequest{Names: namesParam(r)})
	}, opts...))

	mux.Handle(PathTags, Handler(func(r *http.Request) (*subscription.Iterator, error) {
		return svc.SubscribeTags(r.Context(), subscription.TagsRequest{Names: namesParam(r)})
	}, opts...))

	mux.Handle(PathQueryLatest, Handler(func(r *http.Request) (*subscription.Iterator, error) {
		return svc.SubscribeQueryLatest(r.Context(), queryParam(r))
	}, opts...))

	mux.Handle(PathQueryAll, Handler(func(r *http.Request) (*subscription.Iterator, error) {
		return svc.SubscribeQueryAll(r.Context(), queryParam(r))
	}, opts...))
}

func namesParam(r *http.Request) []string {
	var names []string
	for _, v := range r.URL.Query()["name"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	return names
}

func queryParam(r *http.Request) subscription.QueryRequest {
	q := r.URL.Query()
	return subscription.QueryRequest{Query: q.Get("query"), Window: q.Get("window")}
}
