package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-broker/pkg/domain"
	"github.com/polisai/polis-broker/pkg/logging"
	"github.com/polisai/polis-broker/pkg/stream"
	"github.com/polisai/polis-broker/pkg/subscription"
)

// watchOptions holds the parsed watch flags
type watchOptions struct {
	kind     domain.Kind
	names    []string
	query    string
	window   string
	format   stream.Format
	count    int
	interval time.Duration
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe in-process and print events to stdout",
		Long: `Open one feed against the built-in simulator and write every event to
stdout as JSON lines or a CBOR sequence.

Example:
  polis-broker watch --kind tags --name line1/temp --name line1/state
  polis-broker watch --kind query_all --query 'line1/*' --format cbor --count 10`,
		RunE: runWatch,
	}
	cmd.Flags().String("kind", string(domain.KindNames), "Feed kind (names, tags, query_latest, query_all)")
	cmd.Flags().StringSlice("name", nil, "Tag name to subscribe to (repeatable)")
	cmd.Flags().String("query", "", "Query pattern for query feeds")
	cmd.Flags().String("window", "", "Query window passed to the engine")
	cmd.Flags().String("format", string(stream.FormatJSON), "Output format (json, cbor)")
	cmd.Flags().Int("count", 0, "Stop after this many events (0 runs until interrupted)")
	cmd.Flags().Duration("interval", 0, "Simulator update interval (overrides simulator.interval)")
	return cmd
}

// parseWatchOptions parses command line flags into watchOptions
func parseWatchOptions(cmd *cobra.Command) (*watchOptions, error) {
	flags := cmd.Flags()
	kind, err := flags.GetString("kind")
	if err != nil {
		return nil, fmt.Errorf("failed to get kind flag: %w", err)
	}
	names, err := flags.GetStringSlice("name")
	if err != nil {
		return nil, fmt.Errorf("failed to get name flag: %w", err)
	}
	query, err := flags.GetString("query")
	if err != nil {
		return nil, fmt.Errorf("failed to get query flag: %w", err)
	}
	window, err := flags.GetString("window")
	if err != nil {
		return nil, fmt.Errorf("failed to get window flag: %w", err)
	}
	formatName, err := flags.GetString("format")
	if err != nil {
		return nil, fmt.Errorf("failed to get format flag: %w", err)
	}
	format, err := stream.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	count, err := flags.GetInt("count")
	if err != nil {
		return nil, fmt.Errorf("failed to get count flag: %w", err)
	}
	interval, err := flags.GetDuration("interval")
	if err != nil {
		return nil, fmt.Errorf("failed to get interval flag: %w", err)
	}

	switch domain.Kind(kind) {
	case domain.KindNames, domain.KindTags, domain.KindQueryLatest, domain.KindQueryAll:
	default:
		return nil, fmt.Errorf("unknown feed kind %q", kind)
	}

	return &watchOptions{
		kind:     domain.Kind(kind),
		names:    names,
		query:    query,
		window:   window,
		format:   format,
		count:    count,
		interval: interval,
	}, nil
}

// subscribe opens the feed selected by opts
func subscribe(ctx context.Context, svc *subscription.Service, opts *watchOptions) (*subscription.Iterator, error) {
	switch opts.kind {
	case domain.KindTags:
		return svc.SubscribeTags(ctx, subscription.TagsRequest{Names: opts.names})
	case domain.KindQueryLatest:
		return svc.SubscribeQueryLatest(ctx, subscription.QueryRequest{Query: opts.query, Window: opts.window})
	case domain.KindQueryAll:
		return svc.SubscribeQueryAll(ctx, subscription.QueryRequest{Query: opts.query, Window: opts.window})
	default:
		return svc.SubscribeNames(ctx, subscription.NamesRequest{Names: opts.names})
	}
}

// runWatch is the main entry point for the watch command
func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := parseWatchOptions(cmd)
	if err != nil {
		return err
	}
	if opts.interval > 0 {
		cfg.Simulator.Interval = opts.interval
	}

	a := newApp(cfg, logging.Config{Pretty: true, Output: cmd.ErrOrStderr()})
	defer a.sim.Shutdown()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	it, err := subscribe(ctx, a.svc, opts)
	if err != nil {
		return err
	}
	defer it.Cancel()

	enc, err := stream.NewEncoder(cmd.OutOrStdout(), opts.format)
	if err != nil {
		return err
	}

	go func() {
		if err := a.sim.Drive(ctx, cfg.Simulator.Interval); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Simulator stopped", "error", err)
		}
	}()

	for written := 0; opts.count == 0 || written < opts.count; written++ {
		ev, ok, err := it.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}
