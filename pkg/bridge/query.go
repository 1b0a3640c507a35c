package bridge

import (
	"context"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/domain"
)

// QuerySpec describes a query feed. Window is passed to the engine unchanged.
type QuerySpec struct {
	Query  string
	Window string
}

// QueryBridge connects a query feed to the engine. A cumulative bridge
// reports every row matched since open; otherwise only the latest rows.
type QueryBridge struct {
	*connector
	cumulative bool
}

// NewQueryLatestBridge creates a bridge reporting the latest result table.
func NewQueryLatestBridge(engine automation.Engine, opts ...Option) *QueryBridge {
	return &QueryBridge{
		connector: newConnector(domain.KindQueryLatest, engine, buildOptions(opts)),
	}
}

// NewQueryAllBridge creates a bridge reporting the cumulative result table.
func NewQueryAllBridge(engine automation.Engine, opts ...Option) *QueryBridge {
	return &QueryBridge{
		connector:  newConnector(domain.KindQueryAll, engine, buildOptions(opts)),
		cumulative: true,
	}
}

// Open subscribes to spec.Query and emits a QueryEvent for every result.
func (b *QueryBridge) Open(ctx context.Context, spec QuerySpec, emit EmitFunc) (automation.Handle, error) {
	fn := func(table domain.Table, err error) {
		emit(&domain.QueryEvent{
			Values:     table,
			Type:       domain.UpdateTypeUpdate,
			Error:      domain.ErrorString(err),
			Cumulative: b.cumulative,
		})
	}

	var (
		h   automation.Handle
		err error
	)
	if b.cumulative {
		h, err = b.engine.OpenQueryCumulative(ctx, spec.Query, spec.Window, fn)
	} else {
		h, err = b.engine.OpenQueryLatest(ctx, spec.Query, spec.Window, fn)
	}
	return b.track(ctx, h, err)
}
