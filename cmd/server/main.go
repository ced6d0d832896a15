package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/teamchat/internal/access"
	"github.com/Tyrowin/teamchat/internal/logging"
	"github.com/Tyrowin/teamchat/internal/metrics"
	"github.com/Tyrowin/teamchat/internal/realtime"
	"github.com/Tyrowin/teamchat/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:          "teamchat-realtime",
		Short:        "Realtime channel fan-out server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var port, logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.Load()
			if err != nil {
				return err
			}
			if err := cfg.ApplyOverrides(port, logLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen address, overrides PORT")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	return cmd
}

func run(ctx context.Context, cfg *server.Config) error {
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting teamchat realtime server", "port", cfg.Port)

	promRegistry := metrics.NewRegistry()
	registry := realtime.NewRegistry(
		realtime.WithLogger(logging.WithComponent(logger, "realtime")),
		realtime.WithObserver(metrics.NewFanoutMetrics(promRegistry)),
		realtime.WithSendTimeout(cfg.SendTimeout),
	)
	metrics.RegisterRegistryGauges(promRegistry, registry)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := access.Connect(dialCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	verifier := access.NewCoalescingVerifier(
		access.NewBreakerVerifier(access.NewPostgresVerifier(pool), access.BreakerSettings{}, logging.WithComponent(logger, "access")),
		0)

	handler := server.NewHandler(registry, verifier, cfg, server.WithHandlerLogger(logging.WithComponent(logger, "server")))
	var publisher *server.Publisher
	if cfg.PublishToken != "" {
		publisher = server.NewPublisher(registry, cfg.PublishToken, logging.WithComponent(logger, "publish"))
	} else {
		logger.Warn("PUBLISH_TOKEN not set; event publishing endpoint disabled")
	}

	routes := server.SetupRoutes(handler, publisher, metrics.Handler(promRegistry))
	httpServer := server.CreateServer(cfg.Port, routes)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		// Upgraded connections are hijacked, so the HTTP server does not wait
		// for them; the handler closes and drains them.
		var errs []error
		if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		if err := handler.Shutdown(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("realtime shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}
	logger.Info("Server stopped")
	return nil
}
