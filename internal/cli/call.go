package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mw-bridge/client"
	"mw-bridge/service"
)

// invoker calls one command with a JSON-encoded request.
type invoker func(ctx context.Context, d *client.Dispatcher, in []byte) (any, error)

func jsonInvoker[Req, Resp any](m service.Method[*Req, Resp]) invoker {
	return func(ctx context.Context, d *client.Dispatcher, in []byte) (any, error) {
		req := new(Req)
		if len(in) > 0 {
			if err := json.Unmarshal(in, req); err != nil {
				return nil, fmt.Errorf("parse request for %s: %w", m.Name, err)
			}
		}
		return client.Call(ctx, d, m, req)
	}
}

var invokers = map[string]invoker{
	service.Ping.Name:           jsonInvoker(service.Ping),
	service.WalletCreate.Name:   jsonInvoker(service.WalletCreate),
	service.WalletRecover.Name:  jsonInvoker(service.WalletRecover),
	service.AccountCreate.Name:  jsonInvoker(service.AccountCreate),
	service.AccountRecover.Name: jsonInvoker(service.AccountRecover),
	service.AccountSelect.Name:  jsonInvoker(service.AccountSelect),
	service.ImageGetBlob.Name:   jsonInvoker(service.ImageGetBlob),
	service.GetVersion.Name:     jsonInvoker(service.GetVersion),
	service.Log.Name:            jsonInvoker(service.Log),
}

// commandNames lists the logical command names in declaration order.
func commandNames() []string {
	methods := service.Methods()
	names := make([]string, 0, len(methods))
	for _, d := range methods {
		names = append(names, d.Name)
	}
	return names
}

// lookupInvoker accepts a logical name ("walletCreate") or a wire name
// ("WalletCreate").
func lookupInvoker(name string) (invoker, bool) {
	d, ok := service.Lookup(name)
	if !ok {
		return nil, false
	}
	inv, ok := invokers[d.Name]
	return inv, ok
}

func newCallCmd() *cobra.Command {
	var request string
	cmd := &cobra.Command{
		Use:   "call <command>",
		Short: "Invoke any command with a JSON request and print the JSON response",
		Long: fmt.Sprintf(`Invoke a command by its logical or wire name. The request is JSON using
the Go field names of the request message; an omitted request is the empty
message.

Commands: %v`, commandNames()),
		Args:      cobra.ExactArgs(1),
		ValidArgs: commandNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, ok := lookupInvoker(args[0])
			if !ok {
				return fmt.Errorf("unknown command %q, expected one of %v", args[0], commandNames())
			}

			cli, cleanup, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := inv(cmd.Context(), cli.Dispatcher, []byte(request))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&request, "json", "", `request body, e.g. '{"Index": 1}'`)
	return cmd
}
