package bridge

import (
	"context"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/domain"
)

// NamesSpec selects the items of a name-list feed.
type NamesSpec struct {
	Names []string
}

// NamesBridge connects a name-list feed to the engine.
type NamesBridge struct {
	*connector
	snapshot bool
}

// NewNamesBridge creates a name-list bridge.
func NewNamesBridge(engine automation.Engine, cfg Config, opts ...Option) *NamesBridge {
	return &NamesBridge{
		connector: newConnector(domain.KindNames, engine, buildOptions(opts)),
		snapshot:  cfg.SnapshotOnOpen,
	}
}

// Open subscribes to spec.Names and emits a NamesEvent for every engine
// callback.
func (b *NamesBridge) Open(ctx context.Context, spec NamesSpec, emit EmitFunc) (automation.Handle, error) {
	h, err := b.engine.OpenNames(ctx, spec.Names, b.snapshot, func(names []string, values []any, updateType string, err error) {
		emit(&domain.NamesEvent{
			Names:  names,
			Values: values,
			Type:   updateType,
			Error:  domain.ErrorString(err),
		})
	})
	return b.track(ctx, h, err)
}
