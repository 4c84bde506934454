package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mw-bridge/client"
	"mw-bridge/event"
	"mw-bridge/pb"
	"mw-bridge/service"
)

func newPingCmd() *cobra.Command {
	var (
		index  int32
		events int32
		count  int
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the middleware and print the events it pushes back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, cleanup, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			cli.Events().Subscribe(event.Handlers{
				OnPing: func(p *pb.Ping) error {
					_, err := fmt.Fprintf(out, "  event ping index=%d\n", p.Index)
					return err
				},
			}.Subscriber())

			for i := 0; i < count; i++ {
				start := time.Now()
				resp, err := client.Call(cmd.Context(), cli.Dispatcher, service.Ping, &pb.PingRequest{
					Index:                index + int32(i),
					NumberOfEventsToSend: events,
				})
				if err != nil {
					return err
				}
				if resp.Error.Failed() {
					return resp.Error
				}
				fmt.Fprintf(out, "ping index=%d events=%d time=%s\n", resp.Index, resp.NumberOfEventsToSend, time.Since(start).Round(time.Microsecond))
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&index, "index", 1, "index echoed back by the middleware")
	cmd.Flags().Int32Var(&events, "events", 0, "number of ping events to request")
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of pings to send")
	return cmd
}
