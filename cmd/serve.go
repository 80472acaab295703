package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlie-wiebe/market-sizing-tool/internal/api"
	"github.com/charlie-wiebe/market-sizing-tool/internal/sizing"
)

const (
	serverShutdownTimeout = 10 * time.Second
	jobsShutdownTimeout   = 30 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		manager := sizing.NewManager(env.Runner, env.Store, env.stopSignal(), cfg.Jobs.MaxConcurrent)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), jobsShutdownTimeout)
			defer cancel()
			if err := manager.Shutdown(sctx); err != nil {
				zap.L().Warn("job manager shutdown", zap.Error(err))
			}
		}()

		if n, err := manager.Resume(ctx); err != nil {
			zap.L().Warn("resume pending jobs", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("resumed pending jobs", zap.Int("count", n))
		}

		reconciler := sizing.NewReconciler(env.Store, manager, time.Duration(cfg.Jobs.StaleAfterMins)*time.Minute)
		if err := reconciler.Start(ctx, cfg.Jobs.ReconcileSpec); err != nil {
			return err
		}
		defer reconciler.Stop()

		opts := []api.Option{
			api.WithSuggester(env.Gateway),
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
			api.WithSampleSize(cfg.Jobs.PreviewSampleSize),
			api.WithDefaultPolicy(defaultPolicy()),
		}
		if env.Signal != nil {
			opts = append(opts, api.WithProgressReader(env.Signal))
		}
		handler := api.New(env.Store, manager, env.Runner, opts...).Handler()

		return startServer(ctx, handler, resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler on port until ctx ends, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	<-done
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
