package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mw-bridge/client"
	"mw-bridge/pb"
	"mw-bridge/server"
	"mw-bridge/service"
)

func newVersionCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the mwbridge version, and the middleware's with --remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mwbridge %s\n", server.Version)
			if !remote {
				return nil
			}

			cli, cleanup, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := client.Call(cmd.Context(), cli.Dispatcher, service.GetVersion, &pb.GetVersionRequest{})
			if err != nil {
				return err
			}
			if resp.Error.Failed() {
				return resp.Error
			}
			fmt.Fprintf(out, "middleware %s\n", resp.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also ask the middleware for its version")
	return cmd
}
