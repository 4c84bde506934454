package config

import (
	"errors"

	"github.com/spf13/pflag"
)

// BindFlags registers command line overrides for the settings people change
// most. Flags write straight into c, so bind after loading the file and
// parse afterwards.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Client.Transport, "transport", c.Client.Transport, "client transport: stream, grpc or fifo")
	fs.StringVar(&c.Client.Network, "network", c.Client.Network, "client network: tcp or unix")
	fs.StringVar(&c.Client.Address, "address", c.Client.Address, "middleware address for the stream transport")
	fs.StringVar(&c.Client.GRPCAddress, "grpc-address", c.Client.GRPCAddress, "middleware address for the grpc transport")
	fs.DurationVar(&c.Client.CallTimeout, "timeout", c.Client.CallTimeout, "per-call timeout, 0 waits forever")
	fs.StringVar(&c.Client.Codec, "codec", c.Client.Codec, "frame envelope codec: binary or json")

	fs.StringVar(&c.Server.Listen, "listen", c.Server.Listen, "server listen address")
	fs.StringVar(&c.Server.GRPCListen, "grpc-listen", c.Server.GRPCListen, "server gRPC listen address, empty disables")
	fs.StringVar(&c.Server.Advertise, "advertise", c.Server.Advertise, "address registered for discovery")

	fs.StringSliceVar(&c.Registry.Endpoints, "etcd", c.Registry.Endpoints, "etcd endpoints for service discovery")

	fs.StringVar(&c.Logging.Level, "log-level", c.Logging.Level, "log level: debug, info, warn, error")
	fs.StringVar(&c.Logging.Format, "log-format", c.Logging.Format, "log format: json or console")
	fs.BoolVar(&c.Telemetry.Enabled, "telemetry", c.Telemetry.Enabled, "export traces and metrics to stdout")
}

// Overlay copies every flag that was set on fs onto c. Commands parse flags
// against the defaults, load the file, then overlay, so flags win.
func (c *Config) Overlay(fs *pflag.FlagSet) error {
	target := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	c.BindFlags(target)

	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		dst := target.Lookup(f.Name)
		if dst == nil {
			return
		}
		if src, ok := f.Value.(pflag.SliceValue); ok {
			if dv, ok := dst.Value.(pflag.SliceValue); ok {
				errs = append(errs, dv.Replace(src.GetSlice()))
				return
			}
		}
		errs = append(errs, dst.Value.Set(f.Value.String()))
	})
	return errors.Join(errs...)
}
