package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mw-bridge/backend"
	"mw-bridge/middleware"
	"mw-bridge/registry"
	"mw-bridge/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory middleware",
		Long: `Run the in-memory middleware and serve its commands on the configured
stream listener, plus gRPC and a named pipe pair when configured. With
registry endpoints the instance is announced in etcd until shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

// newServer builds the server with its middleware chain and the backend
// installed.
func newServer() *server.Server {
	sc := cfg.Server
	svr := server.NewServer(
		server.WithLogger(logger),
		server.WithServiceName(sc.ServiceName),
		server.WithWeight(sc.Weight),
		server.WithMaxBodySize(cfg.Client.MaxMessageSize),
		server.WithCompressThreshold(cfg.Client.CompressThreshold),
	)

	// Recover sits inside the timeout, on the goroutine that runs the
	// handler. Retry only sees rejections from the rate limiter.
	svr.Use(middleware.LoggingMiddleware(logger))
	if sc.Retries > 0 {
		retryable := middleware.OnlyMethods(middleware.TransientFailure, sc.RetryMethods...)
		svr.Use(middleware.RetryMiddleware(sc.Retries, sc.RetryBackoff, retryable, logger))
	}
	if sc.RatePerMethod {
		svr.Use(middleware.PerMethodRateLimitMiddleware(sc.RateLimit, sc.RateBurst))
	} else {
		svr.Use(middleware.RateLimitMiddleware(sc.RateLimit, sc.RateBurst))
	}
	svr.Use(middleware.TimeOutMiddleware(sc.HandlerTimeout))
	svr.Use(middleware.RecoverMiddleware(logger))

	backend.New(svr,
		backend.WithLogger(logger),
		backend.WithVersion(server.Version),
		backend.WithDataDir(sc.DataDir),
	).Install(svr)
	return svr
}

func runServer(ctx context.Context) error {
	sc := cfg.Server
	svr := newServer()
	logger.Info("commands installed", zap.Strings("commands", svr.Methods()))

	listener, err := net.Listen(sc.Network, sc.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sc.Listen, err)
	}
	errCh := make(chan error, 3)

	inst := registry.ServiceInstance{
		Network: sc.Network,
		Addr:    sc.Advertise,
	}
	if inst.Addr == "" {
		inst.Addr = listener.Addr().String()
	}

	if sc.GRPCListen != "" {
		gl, err := net.Listen("tcp", sc.GRPCListen)
		if err != nil {
			listener.Close()
			return fmt.Errorf("listen grpc %s: %w", sc.GRPCListen, err)
		}
		inst.GRPCAddr = gl.Addr().String()
		gs := server.NewGRPCServer(svr)
		go func() {
			logger.Info("serving gRPC", zap.Stringer("addr", gl.Addr()))
			errCh <- gs.Serve(gl)
		}()
	}

	if sc.FIFORequest != "" && sc.FIFOResponse != "" {
		go serveFIFO(svr, sc.FIFORequest, sc.FIFOResponse)
	}

	reg, err := openRegistry()
	if err != nil {
		listener.Close()
		return err
	}
	if reg != nil {
		defer reg.Close()
		if err := svr.RegisterWith(ctx, reg, inst, cfg.Registry.TTL); err != nil {
			listener.Close()
			return err
		}
		logger.Info("registered", zap.String("service", sc.ServiceName), zap.String("addr", inst.Addr))
	}

	go func() { errCh <- svr.ServeListener(listener) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.Duration("grace", sc.ShutdownGrace))
	case err := <-errCh:
		if err != nil {
			logger.Error("listener failed", zap.Error(err))
		}
	}
	return svr.Shutdown(sc.ShutdownGrace)
}

// serveFIFO serves one pipe client after another until the server shuts
// down.
func serveFIFO(svr *server.Server, requestPath, responsePath string) {
	for {
		err := svr.ServeFIFO(requestPath, responsePath)
		if errors.Is(err, server.ErrServerClosed) {
			return
		}
		if err != nil {
			logger.Error("fifo", zap.Error(err))
			return
		}
	}
}
