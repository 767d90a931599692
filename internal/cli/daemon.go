package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expense_sync/internal/app"
	"expense_sync/internal/config"
	"expense_sync/internal/httpapi"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep the queue drained and serve the status API",
		Long: `Run until interrupted: watch connectivity, drain the queue on start, on every
poll tick, whenever connectivity comes back and on manual triggers, and serve
the local status API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				rootOpts.Config.HTTP.Addr = addr
			}
			return runDaemon(commandContext(cmd), rootOpts.Config)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "status API listen address (default $"+config.EnvHTTPAddr+", empty disables)")
	return cmd
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, config.InfiniteResilienceConfig)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	defer closeApp(a)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Monitor.Run(gctx)
	})
	g.Go(func() error {
		return a.Engine.Run(gctx, a.Monitor.Restored())
	})

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: httpapi.NewRouter(httpapi.Params{
				Store:    a.Store,
				Queue:    a.Queue,
				Engine:   a.Engine,
				Registry: a.Registry,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("Status API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Msg("Daemon started")
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "daemon stopped", err)
	}
	log.Info().Msg("Daemon stopped")
	return nil
}
