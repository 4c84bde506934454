// Package cli implements the mwbridge command: a middleware server and a set
// of client commands that talk to it.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mw-bridge/client"
	"mw-bridge/config"
	"mw-bridge/logging"
	"mw-bridge/registry"
	"mw-bridge/telemetry"
	"mw-bridge/transport"
)

var (
	cfg        = config.DefaultConfig()
	configPath string
	logger     = zap.NewNop()
)

func newRootCmd() *cobra.Command {
	cfg = config.DefaultConfig()
	configPath = ""

	cmd := &cobra.Command{
		Use:   "mwbridge",
		Short: "mwbridge - command bridge to the wallet middleware",
		Long: `mwbridge serves the wallet middleware commands over a framed stream, gRPC
or a pair of named pipes, and talks to a running middleware as a client.

  mwbridge serve --grpc-listen 127.0.0.1:31008
  mwbridge ping --events 3
  mwbridge call walletCreate --json '{"RootPath": "/tmp/wallet"}'
  mwbridge watch`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or TOML configuration file")
	cfg.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPingCmd())
	cmd.AddCommand(newCallCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newInstancesCmd())
	return cmd
}

// Execute runs the mwbridge command line.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads --config when given and reapplies explicit flags over it.
func loadConfig(cmd *cobra.Command) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Overlay(cmd.Flags()); err != nil {
			return fmt.Errorf("apply flags: %w", err)
		}
		*cfg = *loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// openRegistry connects to etcd when endpoints are configured. It returns a
// nil registry otherwise.
func openRegistry() (registry.Registry, error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return nil, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return reg, nil
}

// dial connects a client as configured. The returned cleanup closes the
// client, the registry and the telemetry exporters.
func dial(ctx context.Context) (*client.Client, func(), error) {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: %w", err)
	}

	opts := []client.DialOption{client.WithDialLogger(logger)}
	reg, err := openRegistry()
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, nil, err
	}
	if reg != nil {
		opts = append(opts, client.WithRegistry(reg))
	}
	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig()
		opts = append(opts, client.WithTransportWrapper(func(t transport.Transport) transport.Transport {
			return telemetry.Instrument(t, tcfg)
		}))
	}

	cli, err := client.Dial(ctx, cfg.Client, opts...)
	if err != nil {
		if reg != nil {
			_ = reg.Close()
		}
		_ = shutdownTelemetry(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		if err := cli.Close(); err != nil {
			logger.Debug("close client", zap.Error(err))
		}
		if reg != nil {
			_ = reg.Close()
		}
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	return cli, cleanup, nil
}
