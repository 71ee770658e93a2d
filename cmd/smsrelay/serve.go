package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"smsrelay/internal/config"
	"smsrelay/internal/di"
	"smsrelay/internal/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, Slack ingress and task workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, meta, err := c.load(cmd)
			if err != nil {
				return err
			}
			logger := logging.NewComponentLogger("Main")
			logger.Info("Starting smsrelay %s (port=%d from %s)", version, cfg.Server.Port, meta.Source("server.port"))

			ctx := cmd.Context()
			container, err := di.BuildContainer(ctx, cfg)
			if err != nil {
				return fmt.Errorf("build container: %w", err)
			}
			defer func() {
				cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := container.Cleanup(cleanupCtx); err != nil {
					logger.Warn("Cleanup: %v", err)
				}
			}()
			return serve(ctx, container, cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 0, "HTTP listen port")
	flags.String("queue-driver", "", "task queue (inline, asynq)")
	flags.String("redis-url", "", "redis url for the asynq queue")
	flags.Bool("socket-mode", false, "receive Slack events over Socket Mode")
	c.bind(cmd, "port", "server.port")
	c.bind(cmd, "queue-driver", "queue.driver")
	c.bind(cmd, "redis-url", "queue.redis_url")
	c.bind(cmd, "socket-mode", "slack.socket_mode")
	return cmd
}

// serve runs every long-lived component until ctx is cancelled or one fails.
func serve(ctx context.Context, c *di.Container, cfg config.RuntimeConfig, logger logging.Logger) error {
	n, err := c.Engine.Rebuild(ctx)
	if err != nil {
		// Without the directory every thread reply would be ignored.
		return fmt.Errorf("initial directory rebuild: %w", err)
	}
	logger.Info("Loaded %d threaded conversations", n)

	g, gctx := errgroup.WithContext(ctx)
	if c.Reconciler != nil {
		if err := c.Reconciler.Start(gctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           c.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	g.Go(func() error {
		logger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if c.Socket != nil {
		g.Go(func() error { return c.Socket.Run(gctx) })
	}
	if c.Worker != nil {
		g.Go(func() error { return c.Worker.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}
