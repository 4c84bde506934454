package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mw-bridge/event"
	"mw-bridge/pb"
)

// eventPrinter writes one "Kind JSON" line per event and closes done once
// limit events have been written. A limit of zero or less never closes it.
type eventPrinter struct {
	out   io.Writer
	limit int64
	seen  atomic.Int64
	done  chan struct{}
}

func newEventPrinter(out io.Writer, limit int) *eventPrinter {
	return &eventPrinter{out: out, limit: int64(limit), done: make(chan struct{})}
}

func (p *eventPrinter) print(ev *pb.Event) error {
	n := p.seen.Add(1)
	if p.limit > 0 && n > p.limit {
		return nil
	}
	body, err := json.Marshal(ev.Message)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "%s %s\n", event.KindOf(ev), body)
	if n == p.limit {
		close(p.done)
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print events pushed by the middleware until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cli, cleanup, err := dial(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			printer := newEventPrinter(cmd.OutOrStdout(), limit)
			unsubscribe := cli.Events().Subscribe(printer.print)
			defer unsubscribe()

			select {
			case <-ctx.Done():
			case <-printer.done:
			}
			stats := cli.Events().Stats()
			logger.Debug("watch finished", zap.Uint64("routed", stats.Routed), zap.Uint64("dropped", stats.Dropped))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "count", "n", 0, "exit after this many events, 0 runs until interrupted")
	return cmd
}
