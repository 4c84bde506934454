package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mw-bridge/registry"
	"mw-bridge/service"
)

func newInstancesCmd() *cobra.Command {
	var (
		watch   bool
		updates int
	)
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "List middleware instances registered in service discovery",
		Long: `List the middleware instances registered in etcd. With --watch, keep
printing the instance set every time it changes.

  mwbridge instances --etcd 127.0.0.1:2379 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg, err := openRegistry()
			if err != nil {
				return err
			}
			if reg == nil {
				return errors.New("no registry configured, pass --etcd")
			}
			defer reg.Close()
			return listInstances(ctx, cmd.OutOrStdout(), reg, watch, updates)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing changes")
	cmd.Flags().IntVarP(&updates, "count", "n", 0, "with --watch, exit after this many changes")
	return cmd
}

// listInstances prints the current instances, then, when watch is set, each
// change until ctx ends or updates changes have been printed.
func listInstances(ctx context.Context, out io.Writer, reg registry.Registry, watch bool, updates int) error {
	var changes <-chan []registry.ServiceInstance
	if watch {
		// Subscribe before reading the current set so no change falls between.
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		changes = reg.Watch(wctx, service.ServiceName)
	}

	current, err := reg.Discover(ctx, service.ServiceName)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return err
	}
	printInstances(out, current)
	if !watch {
		return nil
	}

	for n := 0; updates <= 0 || n < updates; n++ {
		select {
		case <-ctx.Done():
			return nil
		case list, ok := <-changes:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, "--")
			printInstances(out, list)
		}
	}
	return nil
}

func printInstances(out io.Writer, list []registry.ServiceInstance) {
	if len(list) == 0 {
		fmt.Fprintln(out, "no instances")
		return
	}
	for _, inst := range list {
		line := fmt.Sprintf("%s %s weight=%d version=%s", inst.NetworkOrDefault(), inst.Addr, inst.Weight, inst.Version)
		if inst.GRPCAddr != "" {
			line += " grpc=" + inst.GRPCAddr
		}
		fmt.Fprintln(out, line)
	}
}
